package risk

import (
	"math"
	"sync"
	"time"
)

// Matrix is a symmetric correlation matrix over a fixed symbol order
type Matrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the correlation between two symbols, falling back to the
// given default when either symbol is untracked.
func (m *Matrix) At(a, b string, fallback float64) float64 {
	if a == b {
		return 1.0
	}
	ia, ib := -1, -1
	for i, s := range m.Symbols {
		if s == a {
			ia = i
		}
		if s == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return fallback
	}
	return m.Values[ia][ib]
}

// CorrelationTracker maintains rolling daily-return windows per symbol and
// produces the correlation matrix consumed by the loss model. Refreshed
// monthly on schedule, or immediately on demand during a stress recompute.
type CorrelationTracker struct {
	mu          sync.Mutex
	window      int
	returns     map[string][]float64
	cached      *Matrix
	lastRefresh time.Time
}

// NewCorrelationTracker creates a tracker with the given rolling window
func NewCorrelationTracker(window int) *CorrelationTracker {
	if window <= 0 {
		window = 63 // One quarter of trading days
	}
	return &CorrelationTracker{
		window:  window,
		returns: make(map[string][]float64),
	}
}

// Observe appends a daily return observation for a symbol, trimming the
// window from the front.
func (ct *CorrelationTracker) Observe(symbol string, dailyReturn float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	rs := append(ct.returns[symbol], dailyReturn)
	if len(rs) > ct.window {
		rs = rs[len(rs)-ct.window:]
	}
	ct.returns[symbol] = rs
	ct.cached = nil
}

// RefreshDue reports whether the scheduled monthly refresh is owed
func (ct *CorrelationTracker) RefreshDue(now time.Time) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.lastRefresh.IsZero() || now.Sub(ct.lastRefresh) >= 30*24*time.Hour
}

// Refresh recomputes the matrix for the given symbols and caches it.
// Pairs without enough overlapping observations fall back to zero and are
// handled by the loss model's default correlation.
func (ct *CorrelationTracker) Refresh(symbols []string, now time.Time) *Matrix {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	n := len(symbols)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1.0
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := pearson(ct.returns[symbols[i]], ct.returns[symbols[j]])
			values[i][j] = c
			values[j][i] = c
		}
	}

	m := &Matrix{Symbols: append([]string(nil), symbols...), Values: values}
	ct.cached = m
	ct.lastRefresh = now
	return m
}

// Current returns the cached matrix, recomputing when invalidated
func (ct *CorrelationTracker) Current(symbols []string, now time.Time) *Matrix {
	ct.mu.Lock()
	cached := ct.cached
	ct.mu.Unlock()

	if cached != nil && sameSymbols(cached.Symbols, symbols) {
		return cached
	}
	return ct.Refresh(symbols, now)
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pearson computes the correlation of the overlapping tail of two series,
// returning 0 when fewer than 10 overlapping points exist.
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 10 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
