package engine

import "time"

// Options configures the retrieval engine. Zero values take documented
// fallbacks; deployments are expected to supply tuned values through the
// config surface.
type Options struct {
	// SemanticTimeout bounds the vector-store branch of one retrieval.
	SemanticTimeout time.Duration
	// AssociativeTimeout bounds the graph branch of one retrieval.
	AssociativeTimeout time.Duration
	// GraceMargin pads the outer retrieval deadline beyond the branch budgets.
	GraceMargin time.Duration
	// TokenBudget caps the rendered context block per turn.
	TokenBudget int
	// TopK semantic fragments requested from the vector store.
	TopK int
	// MaxHops bounds graph traversal from the extracted seed entities.
	MaxHops int
	// Clock is injectable for tests.
	Clock func() time.Time
	// Counter measures rendered tokens. Defaults to a tiktoken counter with a
	// whitespace approximation fallback.
	Counter TokenCounter
}

// DefaultOptions returns the documented fallbacks.
func DefaultOptions() Options {
	return Options{
		SemanticTimeout:    2 * time.Second,
		AssociativeTimeout: 2 * time.Second,
		GraceMargin:        500 * time.Millisecond,
		TokenBudget:        1024,
		TopK:               8,
		MaxHops:            1,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.SemanticTimeout <= 0 {
		o.SemanticTimeout = defaults.SemanticTimeout
	}
	if o.AssociativeTimeout <= 0 {
		o.AssociativeTimeout = defaults.AssociativeTimeout
	}
	if o.GraceMargin <= 0 {
		o.GraceMargin = defaults.GraceMargin
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = defaults.TokenBudget
	}
	if o.TopK <= 0 {
		o.TopK = defaults.TopK
	}
	if o.MaxHops <= 0 {
		o.MaxHops = defaults.MaxHops
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Counter == nil {
		o.Counter = NewTokenCounter()
	}
	return o
}

// outerBudget is the whole-call deadline: both branch budgets plus grace.
// A retrieval exceeding it is cancelled and returns fully degraded.
func (o Options) outerBudget() time.Duration {
	return o.SemanticTimeout + o.AssociativeTimeout + o.GraceMargin
}
