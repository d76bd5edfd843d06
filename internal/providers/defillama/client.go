// Package defillama retrieves the public DeFiLlama yields catalog and
// per-pool APY history.
package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/httpx"
	"github.com/ggonzalez94/defi-advisor/internal/model"
)

const DefaultBaseURL = "https://yields.llama.fi"

// ErrInsufficientData marks a pool whose history endpoint answered
// successfully but carried no usable points.
var ErrInsufficientData = apperrors.New(apperrors.CodeUnavailable, "not enough historical data for this pool")

type Client struct {
	BaseURL string
	http    *httpx.Client
}

func New(http *httpx.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), http: http}
}

type poolsResponse struct {
	Status string      `json:"status"`
	Data   []poolEntry `json:"data"`
}

type poolEntry struct {
	Pool     string   `json:"pool"`
	Symbol   string   `json:"symbol"`
	Project  string   `json:"project"`
	Chain    string   `json:"chain"`
	APY      *float64 `json:"apy"`
	TVLUSD   *float64 `json:"tvlUsd"`
	Exposure string   `json:"exposure"`
	ILRisk   string   `json:"ilRisk"`
}

// Pools fetches the full yields catalog. Entries with missing numeric
// fields are kept with zero values rather than dropped, so downstream
// threshold filters treat them as zero-yield pools.
func (c *Client) Pools(ctx context.Context) ([]model.YieldPool, error) {
	var resp poolsResponse
	if err := c.http.GetJSON(ctx, c.BaseURL+"/pools", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, apperrors.New(apperrors.CodeUnavailable, fmt.Sprintf("defillama pools: status %q", resp.Status))
	}

	pools := make([]model.YieldPool, 0, len(resp.Data))
	for _, entry := range resp.Data {
		if entry.Pool == "" {
			continue
		}
		pools = append(pools, model.YieldPool{
			PoolID:   entry.Pool,
			Symbol:   entry.Symbol,
			Project:  entry.Project,
			Chain:    entry.Chain,
			APY:      numOrZero(entry.APY),
			TVLUSD:   numOrZero(entry.TVLUSD),
			Exposure: exposureKind(entry.Exposure),
			ILRisk:   entry.ILRisk,
		})
	}
	return pools, nil
}

type chartResponse struct {
	Status string       `json:"status"`
	Data   []chartPoint `json:"data"`
}

type chartPoint struct {
	Timestamp json.RawMessage `json:"timestamp"`
	APY       *float64        `json:"apy"`
}

// Chart returns the APY history for one pool, oldest first. Points whose
// timestamp cannot be decoded are dropped; an empty history is
// ErrInsufficientData.
func (c *Client) Chart(ctx context.Context, poolID string) ([]model.SeriesPoint, error) {
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return nil, apperrors.New(apperrors.CodeUsage, "pool id is required")
	}

	var resp chartResponse
	if err := c.http.GetJSON(ctx, c.BaseURL+"/chart/"+poolID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, apperrors.New(apperrors.CodeUnavailable, fmt.Sprintf("defillama chart: status %q", resp.Status))
	}

	points := make([]model.SeriesPoint, 0, len(resp.Data))
	for _, point := range resp.Data {
		ts, ok := parseTimestamp(point.Timestamp)
		if !ok {
			continue
		}
		points = append(points, model.SeriesPoint{Timestamp: ts, APY: numOrZero(point.APY)})
	}
	if len(points) == 0 {
		return nil, ErrInsufficientData
	}
	return points, nil
}

// The chart endpoint has shipped timestamps both as epoch seconds and as
// RFC3339 strings over time; accept either.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		return time.Unix(int64(epoch), 0).UTC(), true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func exposureKind(raw string) model.ExposureKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single":
		return model.ExposureYield
	case "multi":
		return model.ExposureLP
	default:
		return model.ExposureNone
	}
}

func numOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
