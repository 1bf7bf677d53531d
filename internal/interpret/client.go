package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// NeutralScore is substituted on the 0-10 scale when no live assessment is
// available. A neutral input never approves a candidate on its own; degraded
// assessments route the decision to manual review.
const NeutralScore = 5.0

// Assessment is a qualitative judgment of one candidate: news flow,
// narrative risk, thesis strength. Produced outside the engine.
type Assessment struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"` // 0-10
	Rationale   string  `json:"rationale"`
	Degraded    bool    `json:"degraded"` // True when the score is a fallback, not a live read
	Source      string  `json:"source"`
}

// Assessor produces interpretive assessments for screened candidates
type Assessor interface {
	Assess(ctx context.Context, candidate domain.Candidate, regime catalyst.Context) (Assessment, error)
}

// Config holds the interpretive service endpoint and degradation bounds
type Config struct {
	BaseURL             string        `yaml:"base_url"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryBase           time.Duration `yaml:"retry_base"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	BreakerInterval     time.Duration `yaml:"breaker_interval"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:             2 * time.Second,
		MaxRetries:          2,
		RetryBase:           200 * time.Millisecond,
		ConsecutiveFailures: 3,
		ErrorRateThreshold:  0.5,
		BreakerInterval:     60 * time.Second,
		BreakerTimeout:      60 * time.Second,
	}
}

// Client calls the interpretive scoring service over HTTP behind a circuit
// breaker. Failures, timeouts, and an open breaker all degrade to the
// neutral score rather than failing the pipeline.
type Client struct {
	config  Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(config Config) *Client {
	settings := gobreaker.Settings{
		Name:     "interpretive",
		Interval: config.BreakerInterval,
		Timeout:  config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= config.ConsecutiveFailures {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > config.ErrorRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Interpretive breaker state change")
		},
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type assessRequest struct {
	CandidateID string  `json:"candidate_id"`
	Symbol      string  `json:"symbol"`
	Strategy    string  `json:"strategy"`
	Strike      float64 `json:"strike"`
	Expiration  string  `json:"expiration"`
	Regime      string  `json:"regime"`
	VIX         float64 `json:"vix"`
}

// assessResponse is the service's wire shape. The service scores on
// [0, 1] with 0.5 neutral; the client rescales to the engine's 0-10.
type assessResponse struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Assess requests a live assessment, degrading to the neutral score when
// the service is slow, failing, or the breaker is open. Transient failures
// are retried a bounded number of times with exponential backoff and
// jitter before degrading. The returned error is always nil: degradation
// is signaled through Assessment.Degraded so the scorer can cap the
// outcome at manual review.
func (c *Client) Assess(ctx context.Context, candidate domain.Candidate, regime catalyst.Context) (Assessment, error) {
	attempt := func() (interface{}, error) {
		return c.breaker.Execute(func() (interface{}, error) {
			return c.call(ctx, candidate, regime)
		})
	}

	result, err := attempt()
	for retry := 0; err != nil && retry < c.config.MaxRetries; retry++ {
		if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
			break
		}
		backoff := c.config.RetryBase << retry
		backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			result, err = attempt()
		}
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("candidate", candidate.ID()).
			Msg("Interpretive assessment degraded to neutral")
		return Assessment{
			CandidateID: candidate.ID(),
			Score:       NeutralScore,
			Rationale:   "interpretive service unavailable",
			Degraded:    true,
			Source:      "fallback",
		}, nil
	}
	return result.(Assessment), nil
}

func (c *Client) call(ctx context.Context, candidate domain.Candidate, regime catalyst.Context) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(assessRequest{
		CandidateID: candidate.ID(),
		Symbol:      candidate.Contract.Symbol,
		Strategy:    string(candidate.Strategy),
		Strike:      candidate.Contract.Strike,
		Expiration:  candidate.Contract.Expiration.Format("2006-01-02"),
		Regime:      regime.Regime.String(),
		VIX:         regime.VIX,
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("marshaling assess request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/assess", bytes.NewReader(payload))
	if err != nil {
		return Assessment{}, fmt.Errorf("building assess request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("interpretive call: %w: %v", domain.ErrInterpretiveTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Assessment{}, fmt.Errorf("interpretive service returned %d", resp.StatusCode)
	}

	var body assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Assessment{}, fmt.Errorf("decoding assess response: %w", err)
	}
	if body.Score < 0 || body.Score > 1 {
		return Assessment{}, fmt.Errorf("interpretive score %.2f outside [0, 1]", body.Score)
	}

	return Assessment{
		CandidateID: candidate.ID(),
		Score:       body.Score * 10,
		Rationale:   body.Rationale,
		Source:      "live",
	}, nil
}
