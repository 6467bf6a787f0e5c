package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testWorker(semantic store.SemanticStore, graph store.AssociativeStore, now time.Time) *Worker {
	return NewWorker(semantic, graph, nil, Options{
		Staleness: 10 * time.Minute,
		Clock:     fixedClock(now),
	})
}

func seedRaw(t *testing.T, s store.SemanticStore, ownerID string, createdAt time.Time, texts ...string) {
	t.Helper()
	for i, text := range texts {
		_, err := s.Write(context.Background(), model.MemoryFragment{
			OwnerID:      ownerID,
			Text:         text,
			SourceTurnID: fmt.Sprintf("turn-%d", i),
			Kind:         model.KindRaw,
			CreatedAt:    createdAt.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed write failed: %v", err)
		}
	}
}

func TestConsolidateOwnerRollover(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)

	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("note number %d about nothing much", i)
	}
	seedRaw(t, semantic, "u", now.Add(-time.Hour), texts...)

	w := testWorker(semantic, graph, now)
	result, err := w.ConsolidateOwner(context.Background(), "u")
	if err != nil {
		t.Fatalf("ConsolidateOwner returned error: %v", err)
	}
	if result.FragmentsScanned != 50 {
		t.Fatalf("expected 50 fragments scanned, got %d", result.FragmentsScanned)
	}
	if result.GoldenRecords != 1 {
		t.Fatalf("expected exactly 1 golden record, got %d", result.GoldenRecords)
	}

	records, err := semantic.GoldenRecords(context.Background(), "u")
	if err != nil {
		t.Fatalf("GoldenRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 stored golden record, got %d", len(records))
	}
	if len(records[0].SourceFragmentIDs) != 50 {
		t.Fatalf("expected 50 sources, got %d", len(records[0].SourceFragmentIDs))
	}

	pending, err := semantic.ListUnconsolidated(context.Background(), "u", now, 100)
	if err != nil {
		t.Fatalf("ListUnconsolidated returned error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected all sources marked consolidated, %d still pending", len(pending))
	}
}

func TestConsolidateOwnerIdempotent(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)
	seedRaw(t, semantic, "u", now.Add(-time.Hour), "a memorable thing happened")

	w := testWorker(semantic, graph, now)
	if _, err := w.ConsolidateOwner(context.Background(), "u"); err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	second, err := w.ConsolidateOwner(context.Background(), "u")
	if err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if second.FragmentsScanned != 0 || second.GoldenRecords != 0 {
		t.Fatalf("second pass should find nothing eligible, got %+v", second)
	}

	records, err := semantic.GoldenRecords(context.Background(), "u")
	if err != nil {
		t.Fatalf("GoldenRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 golden record after both passes, got %d", len(records))
	}
}

func TestConsolidateOwnerRespectsStaleness(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)
	// One old fragment, one still fresh.
	seedRaw(t, semantic, "u", now.Add(-time.Hour), "old news")
	seedRaw(t, semantic, "u", now.Add(-time.Minute), "still being discussed")

	w := testWorker(semantic, graph, now)
	result, err := w.ConsolidateOwner(context.Background(), "u")
	if err != nil {
		t.Fatalf("ConsolidateOwner returned error: %v", err)
	}
	if result.FragmentsScanned != 1 {
		t.Fatalf("expected only the stale fragment, got %d", result.FragmentsScanned)
	}

	pending, err := semantic.ListUnconsolidated(context.Background(), "u", now.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("ListUnconsolidated returned error: %v", err)
	}
	if len(pending) != 1 || pending[0].Text != "still being discussed" {
		t.Fatalf("fresh fragment should remain raw, got %#v", pending)
	}
}

func TestConsolidateOwnerConflict(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	w := testWorker(semantic, store.NewMemoryGraphStore(0), now)

	if !w.acquire("u") {
		t.Fatalf("first acquire should succeed")
	}
	_, err := w.ConsolidateOwner(context.Background(), "u")
	if !errors.Is(err, ErrConsolidationConflict) {
		t.Fatalf("expected ErrConsolidationConflict, got %v", err)
	}
	w.release("u")

	if _, err := w.ConsolidateOwner(context.Background(), "u"); err != nil {
		t.Fatalf("pass after release returned error: %v", err)
	}
}

func TestConsolidateOwnerMergesRepeatedEntities(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)
	seedRaw(t, semantic, "u", now.Add(-time.Hour),
		"Alice mentioned her new job",
		"Alice seemed happy about it",
	)

	w := testWorker(semantic, graph, now)
	if _, err := w.ConsolidateOwner(context.Background(), "u"); err != nil {
		t.Fatalf("ConsolidateOwner returned error: %v", err)
	}

	entities, err := graph.Entities(context.Background(), "u")
	if err != nil {
		t.Fatalf("Entities returned error: %v", err)
	}
	var alice *model.Entity
	for i := range entities {
		if entities[i].Name == "Alice" {
			alice = &entities[i]
		}
	}
	if alice == nil {
		t.Fatalf("expected Alice entity, got %#v", entities)
	}
	if alice.MentionCount != 2 {
		t.Fatalf("expected mention count 2 for Alice, got %d", alice.MentionCount)
	}
}

func TestConsolidateOwnerWritesConsolidatedFragment(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	seedRaw(t, semantic, "u", now.Add(-time.Hour), "Dmitri moved to Lisbon")

	w := testWorker(semantic, store.NewMemoryGraphStore(0), now)
	if _, err := w.ConsolidateOwner(context.Background(), "u"); err != nil {
		t.Fatalf("ConsolidateOwner returned error: %v", err)
	}

	count, err := semantic.Count(context.Background(), "u")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	// Raw source plus the consolidated summary fragment.
	if count != 2 {
		t.Fatalf("expected 2 fragments after the pass, got %d", count)
	}
}

// noRecorderStore hides the golden-record capability of the wrapped store.
type noRecorderStore struct {
	store.SemanticStore
}

func TestConsolidateOwnerKeepsSourcesWithoutRecorder(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	inner := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)
	seedRaw(t, inner, "u", now.Add(-time.Hour), "one", "two", "three")

	w := testWorker(noRecorderStore{SemanticStore: inner}, graph, now)
	result, err := w.ConsolidateOwner(context.Background(), "u")
	if err != nil {
		t.Fatalf("ConsolidateOwner returned error: %v", err)
	}
	if result.GoldenRecords != 0 {
		t.Fatalf("reported %d golden records without a recorder", result.GoldenRecords)
	}

	// Without a persisted record the sources must stay raw.
	pending, err := inner.ListUnconsolidated(context.Background(), "u", now, 100)
	if err != nil {
		t.Fatalf("ListUnconsolidated returned error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 fragments still pending, got %d", len(pending))
	}
	records, err := inner.GoldenRecords(context.Background(), "u")
	if err != nil {
		t.Fatalf("GoldenRecords returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no golden records, got %d", len(records))
	}
}

func TestRunOncePassesAcrossOwners(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	graph := store.NewMemoryGraphStore(0)
	for _, owner := range []string{"alice", "bob", "carol"} {
		seedRaw(t, semantic, owner, now.Add(-time.Hour), "something about "+owner)
	}

	w := testWorker(semantic, graph, now)
	w.RunOnce(context.Background())

	for _, owner := range []string{"alice", "bob", "carol"} {
		records, err := semantic.GoldenRecords(context.Background(), owner)
		if err != nil {
			t.Fatalf("GoldenRecords returned error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 golden record for %s, got %d", owner, len(records))
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	seedRaw(t, semantic, "u", now.Add(-time.Hour), "background pass payload")

	w := NewWorker(semantic, store.NewMemoryGraphStore(0), nil, Options{
		Interval:  10 * time.Millisecond,
		Staleness: 10 * time.Minute,
		Clock:     fixedClock(now),
	})
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := semantic.GoldenRecords(context.Background(), "u")
		if err != nil {
			t.Fatalf("GoldenRecords returned error: %v", err)
		}
		if len(records) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background worker never consolidated")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
}

func TestConcurrentPassesStayExclusive(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	semantic := store.NewInMemorySemanticStore()
	seedRaw(t, semantic, "u", now.Add(-time.Hour), "only once please")
	w := testWorker(semantic, store.NewMemoryGraphStore(0), now)

	var wg sync.WaitGroup
	conflicts := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.ConsolidateOwner(context.Background(), "u"); err != nil {
				conflicts <- err
			}
		}()
	}
	wg.Wait()
	close(conflicts)

	for err := range conflicts {
		if !errors.Is(err, ErrConsolidationConflict) {
			t.Fatalf("unexpected error from concurrent pass: %v", err)
		}
	}

	records, err := semantic.GoldenRecords(context.Background(), "u")
	if err != nil {
		t.Fatalf("GoldenRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 golden record, got %d", len(records))
	}
}
