// Package market fetches candles and tickers from the market-data
// sidecar and derives per-symbol snapshots from them.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tendrel/signalforge/internal/evidence"
)

type ClientConfig struct {
	ServiceURL string
	APIKey     string
	Timeout    time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServiceURL: "http://localhost:3001",
		Timeout:    30 * time.Second,
	}
}

// Client talks to the market-data service over HTTP. It satisfies the
// candle source used by the technical provider and the price provider
// used by the outcome cycle.
type Client struct {
	serviceURL string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.ServiceURL == "" {
		cfg = DefaultClientConfig()
	}
	return &Client{
		serviceURL: cfg.ServiceURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Candles returns up to limit OHLCV bars for the symbol, oldest first.
func (c *Client) Candles(ctx context.Context, symbol string, limit int) ([]evidence.Candle, error) {
	endpoint := fmt.Sprintf("%s/api/ohlcv?symbol=%s&limit=%d",
		c.serviceURL, url.QueryEscape(symbol), limit)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ohlcv fetch failed with status: %d", resp.StatusCode)
	}

	// CCXT-shaped payload: [[timestamp, open, high, low, close, volume], ...]
	var result struct {
		Candles [][]float64 `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	candles := make([]evidence.Candle, 0, len(result.Candles))
	for _, row := range result.Candles {
		if len(row) < 6 {
			return nil, fmt.Errorf("malformed candle row with %d fields", len(row))
		}
		candles = append(candles, evidence.Candle{
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	return candles, nil
}

// CurrentPrice returns the last traded price for the symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := c.serviceURL + "/api/ticker/" + url.PathEscape(symbol)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ticker fetch failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Last json.Number `json:"last"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	last, err := strconv.ParseFloat(result.Last.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last price %q: %w", result.Last, err)
	}
	if last <= 0 {
		return 0, fmt.Errorf("non-positive last price %v for %s", last, symbol)
	}
	return last, nil
}
