package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

func vendorFor(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.RPS = 1000 // Tests exercise routing, not the bucket
	cfg.Burst = 1000
	return NewClient(cfg)
}

func TestClient_Underlying(t *testing.T) {
	c := vendorFor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/underlying/KO", r.URL.Path)
		json.NewEncoder(w).Encode(domain.Underlying{Symbol: "KO", Sector: "consumer_staples", Price: 42.0})
	})

	u, err := c.Underlying(context.Background(), "KO")
	require.NoError(t, err)
	assert.Equal(t, "KO", u.Symbol)
	assert.Equal(t, 42.0, u.Price)
}

func TestClient_Chain(t *testing.T) {
	c := vendorFor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chain/KO", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"contracts": []domain.OptionContract{
				{Symbol: "KO", Strike: 40.0, Type: domain.Put},
				{Symbol: "KO", Strike: 42.5, Type: domain.Put},
			},
		})
	})

	chain, err := c.Chain(context.Background(), "KO")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 40.0, chain[0].Strike)
}

func TestClient_EarningsDate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Time
	}{
		{"scheduled", `{"next":"2026-04-22"}`, time.Date(2026, 4, 22, 0, 0, 0, 0, time.UTC)},
		{"none scheduled", `{"next":""}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := vendorFor(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			d, err := c.EarningsDate(context.Background(), "KO")
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestClient_VendorErrorIsDataUnavailable(t *testing.T) {
	c := vendorFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.VIX(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestClient_RateLimiterBlocksBeyondBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"level": 18.0})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.RPS = 1.0
	cfg.Burst = 2
	c := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Burst drains after two calls; the third hits the bucket and the
	// context expires before a token refills.
	for i := 0; i < 2; i++ {
		_, err := c.VIX(ctx)
		require.NoError(t, err)
	}
	_, err := c.VIX(ctx)
	assert.Error(t, err)
}
