package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// ErrStoreUnavailable marks network or timeout failures at the adapter
// boundary. Callers test for it with errors.Is and degrade instead of failing
// the chat turn.
var ErrStoreUnavailable = errors.New("memory store unavailable")

// SemanticStore is the contract for embedding-indexed fragment recall.
// Every operation is scoped by owner at the store boundary; implementations
// must never filter after the fact.
type SemanticStore interface {
	// Query returns up to topK fragments ranked by similarity to the
	// embedding, most similar first.
	Query(ctx context.Context, ownerID string, embedding []float32, topK int) ([]model.MemoryFragment, error)
	// Write persists a fragment and returns it with its assigned ID.
	Write(ctx context.Context, frag model.MemoryFragment) (model.MemoryFragment, error)
	// ListUnconsolidated returns raw fragments created before olderThan,
	// oldest first, capped at limit.
	ListUnconsolidated(ctx context.Context, ownerID string, olderThan time.Time, limit int) ([]model.MemoryFragment, error)
	// MarkConsolidated flips the named fragments to the consolidated kind.
	MarkConsolidated(ctx context.Context, ownerID string, ids []string) error
	// Owners lists every owner with at least one fragment.
	Owners(ctx context.Context) ([]string, error)
	// Count reports the number of fragments held for the owner.
	Count(ctx context.Context, ownerID string) (int, error)
}

// GoldenRecorder is implemented by semantic stores that can persist
// consolidation summaries alongside fragments.
type GoldenRecorder interface {
	WriteGoldenRecord(ctx context.Context, rec model.GoldenRecord) error
	GoldenRecords(ctx context.Context, ownerID string) ([]model.GoldenRecord, error)
}

// AssociativeStore is the contract for the owner-scoped entity graph.
type AssociativeStore interface {
	// QueryByEntities expands from the named entities up to maxHops and
	// returns the relations encountered.
	QueryByEntities(ctx context.Context, ownerID string, names []string, maxHops int) ([]model.Relation, error)
	// UpsertEntity merges the mention into the owner's graph: an existing
	// entity gains a mention and a fresher last-seen timestamp.
	UpsertEntity(ctx context.Context, ownerID, name string, typ model.EntityType, seenAt time.Time) (model.Entity, error)
	// UpsertRelation records a typed edge. Relations below the store's
	// confidence admission threshold are silently dropped.
	UpsertRelation(ctx context.Context, ownerID string, rel model.Relation) error
	// Entities lists every entity known for the owner.
	Entities(ctx context.Context, ownerID string) ([]model.Entity, error)
}

// SchemaInitializer allows stores to expose optional bootstrap routines.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context) error
}

// asUnavailable converts transport-level failures into ErrStoreUnavailable
// while leaving logic errors untouched.
func asUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
