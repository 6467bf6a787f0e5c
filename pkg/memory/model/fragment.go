package model

import "time"

// Kind marks the lifecycle stage of a memory fragment.
type Kind string

const (
	// KindRaw is a fragment written directly from a conversation turn.
	KindRaw Kind = "raw"
	// KindConsolidated marks a raw fragment that has been summarized into a
	// golden record, or the summary fragment itself.
	KindConsolidated Kind = "consolidated"
)

// MemoryFragment is a unit of semantic recall. Fragments are immutable once
// written; consolidation flips Kind on the sources but never deletes them.
type MemoryFragment struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding"`
	SourceTurnID string    `json:"source_turn_id"`
	Kind         Kind      `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`

	// Score is populated by semantic search and never persisted.
	Score float64 `json:"score,omitempty"`
}

// GoldenRecord is a consolidated summary covering a window of raw fragments.
// Only the consolidation worker creates these.
type GoldenRecord struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	SummaryText       string    `json:"summary_text"`
	SourceFragmentIDs []string  `json:"source_fragment_ids"`
	CreatedAt         time.Time `json:"created_at"`
}

// Degraded reports which memory sources were unavailable for a retrieval.
type Degraded struct {
	Semantic    bool `json:"semantic"`
	Associative bool `json:"associative"`
}

// RetrievalResult is the per-turn outcome of hybrid retrieval. It is never
// persisted; it exists for the duration of one chat turn.
type RetrievalResult struct {
	Fragments  []MemoryFragment `json:"fragments"`
	Facts      []Relation       `json:"facts"`
	Context    string           `json:"context"`
	TokensUsed int              `json:"tokens_used"`
	Degraded   Degraded         `json:"degraded"`
}

// Empty reports whether the retrieval produced no usable memory.
func (r RetrievalResult) Empty() bool {
	return len(r.Fragments) == 0 && len(r.Facts) == 0
}
