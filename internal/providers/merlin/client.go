// Package merlin fetches raw wallet DeFi positions from the Merlin
// aggregation API.
package merlin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/httpx"
)

const DefaultBaseURL = "https://api-v1.mymerlin.io/api/merlin/public/userDeFiPositions/all"

type Client struct {
	BaseURL string
	APIKey  string
	http    *httpx.Client
}

func New(http *httpx.Client, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, http: http}
}

// Positions returns the raw position payload for one wallet. The API
// answers with a JSON list on success, or an {"error": ...} object which
// is surfaced as an upstream failure. The payload is returned undecoded:
// flattening it is the normalizer's job.
func (c *Client) Positions(ctx context.Context, address string) (json.RawMessage, error) {
	if c.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "merlin api key is not configured")
	}

	url := fmt.Sprintf("%s/%s", c.BaseURL, address)
	headers := map[string]string{"Authorization": c.APIKey}

	var payload json.RawMessage
	if err := c.http.GetJSON(ctx, url, headers, &payload); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error != "" {
			return nil, apperrors.New(apperrors.CodeUnavailable, "merlin: "+envelope.Error)
		}
		return nil, apperrors.New(apperrors.CodeUnavailable, "merlin: unexpected response shape")
	}
	return payload, nil
}
