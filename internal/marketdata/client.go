package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// ClientConfig holds the data vendor endpoint and rate budget
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`   // Vendor request budget per second
	Burst   int           `yaml:"burst"` // Token bucket burst capacity
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 5 * time.Second,
		RPS:     4.0,
		Burst:   8,
	}
}

// Client pulls reference data from the vendor REST API behind a token
// bucket, so a screening sweep over many symbols cannot exceed the vendor
// rate budget.
type Client struct {
	config  ClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(config ClientConfig) *Client {
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
	}
}

// Tokens reports the current bucket level, for ops introspection
func (c *Client) Tokens() float64 {
	return c.limiter.Tokens()
}

func (c *Client) Underlying(ctx context.Context, symbol string) (domain.Underlying, error) {
	var out domain.Underlying
	if err := c.getJSON(ctx, "/v1/underlying/"+symbol, &out); err != nil {
		return domain.Underlying{}, err
	}
	return out, nil
}

func (c *Client) Chain(ctx context.Context, symbol string) ([]domain.OptionContract, error) {
	var out struct {
		Contracts []domain.OptionContract `json:"contracts"`
	}
	if err := c.getJSON(ctx, "/v1/chain/"+symbol, &out); err != nil {
		return nil, err
	}
	return out.Contracts, nil
}

func (c *Client) VIX(ctx context.Context) (float64, error) {
	var out struct {
		Level float64 `json:"level"`
	}
	if err := c.getJSON(ctx, "/v1/vix", &out); err != nil {
		return 0, err
	}
	return out.Level, nil
}

func (c *Client) EarningsDate(ctx context.Context, symbol string) (time.Time, error) {
	var out struct {
		Next string `json:"next"` // "2006-01-02", empty when none scheduled
	}
	if err := c.getJSON(ctx, "/v1/earnings/"+symbol, &out); err != nil {
		return time.Time{}, err
	}
	if out.Next == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", out.Next)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing earnings date %q: %w", out.Next, err)
	}
	return d, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w: %v", path, domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: status %d: %w", path, resp.StatusCode, domain.ErrDataUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w: %v", path, domain.ErrDataUnavailable, err)
	}
	return nil
}
