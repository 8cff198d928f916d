// Package tokens tracks per-session token consumption and computed cost.
package tokens

import (
	"sync"

	"github.com/elisa-build/elisa/pkg/models"
)

// price holds per-million-token USD rates for one model family.
type price struct {
	input  float64
	output float64
	cached float64
}

// prices maps model-id prefixes to rates. Longest-prefix match; unknown
// models fall back to the default rate so cost is never silently zero.
var prices = map[string]price{
	"gpt-5":   {input: 1.25, output: 10.0, cached: 0.125},
	"gpt-4.1": {input: 2.0, output: 8.0, cached: 0.5},
	"gpt-4o":  {input: 2.5, output: 10.0, cached: 1.25},
}

var defaultPrice = price{input: 2.0, output: 8.0, cached: 0.5}

// Tracker accumulates token counters for one session. Safe for concurrent
// use by parallel task workers.
type Tracker struct {
	mu sync.Mutex

	inputTokens       int
	outputTokens      int
	cachedInputTokens int
	reasoningTokens   int
	costUSD           float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Usage is one LLM call's token accounting.
type Usage struct {
	Model             string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ReasoningTokens   int
}

// Add records usage from one API call and accrues its cost.
func (t *Tracker) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inputTokens += u.InputTokens
	t.outputTokens += u.OutputTokens
	t.cachedInputTokens += u.CachedInputTokens
	t.reasoningTokens += u.ReasoningTokens
	t.costUSD += CostUSD(u)
}

// Snapshot returns a point-in-time copy of the counters.
func (t *Tracker) Snapshot() models.TokenSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return models.TokenSnapshot{
		InputTokens:       t.inputTokens,
		OutputTokens:      t.outputTokens,
		CachedInputTokens: t.cachedInputTokens,
		ReasoningTokens:   t.reasoningTokens,
		TotalTokens:       t.inputTokens + t.outputTokens,
		CostUSD:           t.costUSD,
	}
}

// CostUSD computes the cost of a single call. Cached input tokens are
// billed at the cached rate and excluded from the full-price input count.
func CostUSD(u Usage) float64 {
	p := priceFor(u.Model)
	fullInput := u.InputTokens - u.CachedInputTokens
	if fullInput < 0 {
		fullInput = 0
	}
	const million = 1_000_000
	return float64(fullInput)*p.input/million +
		float64(u.CachedInputTokens)*p.cached/million +
		float64(u.OutputTokens)*p.output/million
}

func priceFor(model string) price {
	best := ""
	for prefix := range prices {
		if len(prefix) > len(best) && hasPrefix(model, prefix) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPrice
	}
	return prices[best]
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
