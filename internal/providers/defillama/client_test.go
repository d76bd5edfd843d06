package defillama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/httpx"
	"github.com/ggonzalez94/defi-advisor/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	return New(httpx.New(2*time.Second, 0), server.URL), server.Close
}

func TestPoolsMapsCatalog(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":[
			{"pool":"p1","symbol":"USDC","project":"aave-v3","chain":"Ethereum","apy":3.1,"tvlUsd":1000000,"exposure":"single","ilRisk":"no"},
			{"pool":"p2","symbol":"WETH-USDC","project":"uniswap-v3","chain":"Arbitrum","apy":null,"tvlUsd":null,"exposure":"multi","ilRisk":"yes"},
			{"pool":"","symbol":"GHOST","project":"x","chain":"y"}
		]}`))
	})
	defer done()

	pools, err := client.Pools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools (id-less entry dropped), got %d", len(pools))
	}
	if pools[0].Exposure != model.ExposureYield || pools[1].Exposure != model.ExposureLP {
		t.Fatalf("unexpected exposure mapping: %+v", pools)
	}
	if pools[1].APY != 0 || pools[1].TVLUSD != 0 {
		t.Fatalf("null numerics should map to zero: %+v", pools[1])
	}
}

func TestPoolsNonSuccessStatus(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":[]}`))
	})
	defer done()

	_, err := client.Pools(context.Background())
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestChartAcceptsMixedTimestamps(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart/p1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","data":[
			{"timestamp":1700000000,"apy":2.5},
			{"timestamp":"2023-11-15T00:00:00.000Z","apy":2.7},
			{"timestamp":"not-a-time","apy":9.9}
		]}`))
	})
	defer done()

	points, err := client.Chart(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected unparseable timestamp dropped, got %d points", len(points))
	}
	if points[0].APY != 2.5 || points[1].APY != 2.7 {
		t.Fatalf("unexpected apy values: %+v", points)
	}
	if points[0].Timestamp.Unix() != 1700000000 {
		t.Fatalf("unexpected epoch decode: %v", points[0].Timestamp)
	}
}

func TestChartEmptyHistoryIsSentinel(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":[{"timestamp":"bogus","apy":1}]}`))
	})
	defer done()

	_, err := client.Chart(context.Background(), "p1")
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected insufficient data sentinel, got %v", err)
	}
}

func TestChartRequiresPoolID(t *testing.T) {
	client := New(httpx.New(time.Second, 0), "http://unused")
	_, err := client.Chart(context.Background(), "  ")
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}
