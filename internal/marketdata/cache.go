package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// CacheConfig holds redis connection settings and per-kind TTLs. Quotes go
// stale fast; reference data and earnings calendars survive much longer.
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	UnderlyingTTL time.Duration `yaml:"underlying_ttl"`
	ChainTTL      time.Duration `yaml:"chain_ttl"`
	VIXTTL        time.Duration `yaml:"vix_ttl"`
	EarningsTTL   time.Duration `yaml:"earnings_ttl"`

	// StaleFor extends how long an expired entry stays usable as a
	// fallback when the vendor is down.
	StaleFor time.Duration `yaml:"stale_for"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:          "localhost:6379",
		UnderlyingTTL: 5 * time.Minute,
		ChainTTL:      1 * time.Minute,
		VIXTTL:        1 * time.Minute,
		EarningsTTL:   12 * time.Hour,
		StaleFor:      1 * time.Hour,
	}
}

// CachedProvider decorates a Provider with a redis read-through cache.
// Cache failures degrade to a direct vendor pull, never to a hard error,
// and a vendor outage falls back to the last cached value for up to
// StaleFor past its TTL.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	config CacheConfig
	now    func() time.Time
}

// NewCachedProvider connects to redis and wraps the given provider
func NewCachedProvider(inner Provider, config CacheConfig) (*CachedProvider, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &CachedProvider{inner: inner, client: rdb, config: config, now: time.Now}, nil
}

// newCachedProviderWith injects a pre-built client, used by tests
func newCachedProviderWith(inner Provider, client *redis.Client, config CacheConfig) *CachedProvider {
	return &CachedProvider{inner: inner, client: client, config: config, now: time.Now}
}

func (p *CachedProvider) Underlying(ctx context.Context, symbol string) (domain.Underlying, error) {
	var out domain.Underlying
	err := p.through(ctx, "md:underlying:"+symbol, p.config.UnderlyingTTL, &out, func() (interface{}, error) {
		return p.inner.Underlying(ctx, symbol)
	})
	return out, err
}

func (p *CachedProvider) Chain(ctx context.Context, symbol string) ([]domain.OptionContract, error) {
	var out []domain.OptionContract
	err := p.through(ctx, "md:chain:"+symbol, p.config.ChainTTL, &out, func() (interface{}, error) {
		return p.inner.Chain(ctx, symbol)
	})
	return out, err
}

func (p *CachedProvider) VIX(ctx context.Context) (float64, error) {
	var out float64
	err := p.through(ctx, "md:vix", p.config.VIXTTL, &out, func() (interface{}, error) {
		return p.inner.VIX(ctx)
	})
	return out, err
}

func (p *CachedProvider) EarningsDate(ctx context.Context, symbol string) (time.Time, error) {
	var out time.Time
	err := p.through(ctx, "md:earnings:"+symbol, p.config.EarningsTTL, &out, func() (interface{}, error) {
		return p.inner.EarningsDate(ctx, symbol)
	})
	return out, err
}

// cacheEntry wraps a cached payload with its write time. Entries live in
// redis for ttl+StaleFor so an expired payload can still back a vendor
// outage.
type cacheEntry struct {
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// through implements the read-through: cached JSON on a fresh hit, vendor
// pull plus cache fill on a miss, and the stale entry when the pull fails.
func (p *CachedProvider) through(ctx context.Context, key string, ttl time.Duration, out interface{}, pull func() (interface{}, error)) error {
	var entry cacheEntry
	haveEntry := false
	val, err := p.client.Get(ctx, key).Result()
	if err == nil {
		if uerr := json.Unmarshal([]byte(val), &entry); uerr == nil && len(entry.Payload) > 0 {
			haveEntry = true
		} else {
			log.Warn().Str("key", key).Msg("Corrupt cache entry, repulling")
		}
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, pulling direct")
	}

	now := p.now()
	if haveEntry && now.Sub(entry.StoredAt) <= ttl {
		return json.Unmarshal(entry.Payload, out)
	}

	fresh, err := pull()
	if err != nil {
		if haveEntry {
			log.Warn().
				Err(err).
				Str("key", key).
				Time("stored_at", entry.StoredAt).
				Msg("Vendor pull failed, serving stale cache entry")
			return json.Unmarshal(entry.Payload, out)
		}
		return err
	}

	payload, err := json.Marshal(fresh)
	if err != nil {
		return fmt.Errorf("marshaling %s for cache: %w", key, err)
	}
	buf, err := json.Marshal(cacheEntry{StoredAt: now, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshaling %s cache entry: %w", key, err)
	}
	if serr := p.client.Set(ctx, key, buf, ttl+p.config.StaleFor).Err(); serr != nil {
		log.Warn().Err(serr).Str("key", key).Msg("Cache write failed")
	}
	return json.Unmarshal(payload, out)
}
