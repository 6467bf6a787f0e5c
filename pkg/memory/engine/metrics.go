package engine

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	retrievals          atomic.Int64
	fragmentsReturned   atomic.Int64
	factsReturned       atomic.Int64
	semanticDegraded    atomic.Int64
	associativeDegraded atomic.Int64
	turnsObserved       atomic.Int64
	tokensRendered      atomic.Int64
}

func (m *Metrics) IncRetrievals()          { m.retrievals.Add(1) }
func (m *Metrics) IncFragments(n int)      { m.fragmentsReturned.Add(int64(n)) }
func (m *Metrics) IncFacts(n int)          { m.factsReturned.Add(int64(n)) }
func (m *Metrics) IncSemanticDegraded()    { m.semanticDegraded.Add(1) }
func (m *Metrics) IncAssociativeDegraded() { m.associativeDegraded.Add(1) }
func (m *Metrics) IncTurnsObserved()       { m.turnsObserved.Add(1) }
func (m *Metrics) AddTokensRendered(n int) { m.tokensRendered.Add(int64(n)) }

// MetricsSnapshot holds current counter values for reporting/logging.
type MetricsSnapshot struct {
	Retrievals          int64 `json:"retrievals"`
	FragmentsReturned   int64 `json:"fragments_returned"`
	FactsReturned       int64 `json:"facts_returned"`
	SemanticDegraded    int64 `json:"semantic_degraded"`
	AssociativeDegraded int64 `json:"associative_degraded"`
	TurnsObserved       int64 `json:"turns_observed"`
	TokensRendered      int64 `json:"tokens_rendered"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Retrievals:          m.retrievals.Load(),
		FragmentsReturned:   m.fragmentsReturned.Load(),
		FactsReturned:       m.factsReturned.Load(),
		SemanticDegraded:    m.semanticDegraded.Load(),
		AssociativeDegraded: m.associativeDegraded.Load(),
		TurnsObserved:       m.turnsObserved.Load(),
		TokensRendered:      m.tokensRendered.Load(),
	}
}
