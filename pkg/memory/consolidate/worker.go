// Package consolidate runs the background summarization pipeline: raw turn
// fragments are periodically rolled up into golden records and the graph is
// enriched from their text. The worker never shares a call path with live
// retrieval; it talks to the same stores through their persisted state only.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/embed"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/engine"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/extract"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/store"
)

// ErrConsolidationConflict is returned when a pass is already running for the
// same owner. The later caller aborts and waits for the next schedule.
var ErrConsolidationConflict = errors.New("consolidation pass already running for owner")

// Options tunes the worker schedule and batch shape.
type Options struct {
	// Interval between scheduled passes over all owners.
	Interval time.Duration
	// Staleness is how old a raw fragment must be before it is eligible.
	// Too small a value consolidates turns still part of a live conversation;
	// tune against real traffic rather than trusting the fallback.
	Staleness time.Duration
	// BatchSize caps fragments consumed by one pass per owner.
	BatchSize int
	// MaxParallelOwners bounds concurrent per-owner passes.
	MaxParallelOwners int
	// PassTimeout bounds one full scheduled sweep.
	PassTimeout time.Duration
	// WriteRetries bounds retry attempts for consolidation-critical writes.
	WriteRetries uint64
	// Clock is injectable for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.Staleness <= 0 {
		o.Staleness = 30 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxParallelOwners <= 0 {
		o.MaxParallelOwners = 4
	}
	if o.PassTimeout <= 0 {
		o.PassTimeout = 2 * time.Minute
	}
	if o.WriteRetries == 0 {
		o.WriteRetries = 3
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Result reports what one per-owner pass did.
type Result struct {
	FragmentsScanned int `json:"fragments_scanned"`
	GoldenRecords    int `json:"golden_records"`
	EntitiesWritten  int `json:"entities_written"`
	RelationsWritten int `json:"relations_written"`
}

// Worker is the long-lived scheduled consolidation process.
type Worker struct {
	semantic   store.SemanticStore
	graph      store.AssociativeStore
	summarizer engine.Summarizer
	embedder   embed.Embedder
	extractor  extract.Extractor
	opts       Options
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker builds a worker over the two stores. The summarizer defaults to
// the deterministic heuristic and the embedder to the dummy provider.
func NewWorker(semantic store.SemanticStore, graph store.AssociativeStore, summarizer engine.Summarizer, opts Options) *Worker {
	if summarizer == nil {
		summarizer = engine.HeuristicSummarizer{}
	}
	return &Worker{
		semantic:   semantic,
		graph:      graph,
		summarizer: summarizer,
		embedder:   embed.DummyEmbedder{},
		extractor:  extract.NewHeuristicExtractor(),
		opts:       opts.withDefaults(),
		logger:     zap.NewNop(),
		active:     make(map[string]struct{}),
		stopCh:     make(chan struct{}),
	}
}

// WithLogger replaces the worker logger.
func (w *Worker) WithLogger(logger *zap.Logger) *Worker {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithEmbedder replaces the embedder used for consolidated summaries.
func (w *Worker) WithEmbedder(e embed.Embedder) *Worker {
	if e != nil {
		w.embedder = e
	}
	return w
}

// WithExtractor replaces the entity extractor.
func (w *Worker) WithExtractor(x extract.Extractor) *Worker {
	if x != nil {
		w.extractor = x
	}
	return w
}

// Start begins the scheduled loop. Call Stop to halt it.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()

		w.logger.Info("consolidation worker started",
			zap.Duration("interval", w.opts.Interval),
			zap.Duration("staleness", w.opts.Staleness))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), w.opts.PassTimeout)
				w.RunOnce(ctx)
				cancel()
			case <-w.stopCh:
				w.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

// Stop halts the scheduled loop and waits for the in-flight pass.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// RunOnce sweeps every owner with pending fragments. Owners run in parallel
// up to the configured pool size; per-owner passes stay exclusive.
func (w *Worker) RunOnce(ctx context.Context) {
	owners, err := w.semantic.Owners(ctx)
	if err != nil {
		w.logger.Error("owner scan failed", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.MaxParallelOwners)
	for _, ownerID := range owners {
		ownerID := ownerID
		g.Go(func() error {
			result, err := w.ConsolidateOwner(gctx, ownerID)
			switch {
			case errors.Is(err, ErrConsolidationConflict):
				w.logger.Debug("pass skipped, owner busy", zap.String("owner_id", ownerID))
			case err != nil:
				// Retried on the next schedule; persistent failures surface
				// through logs for the operational alerting layer.
				w.logger.Error("consolidation pass failed",
					zap.String("owner_id", ownerID),
					zap.Error(err))
			case result.GoldenRecords > 0:
				w.logger.Info("consolidation pass complete",
					zap.String("owner_id", ownerID),
					zap.Int("fragments", result.FragmentsScanned),
					zap.Int("entities", result.EntitiesWritten),
					zap.Int("relations", result.RelationsWritten))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ConsolidateOwner runs one exclusive pass for a single owner:
// scan eligible raw fragments, summarize, write the golden record and the
// consolidated fragment, then mark the sources. Marking happens last so an
// interruption can at worst duplicate a record, never lose one.
func (w *Worker) ConsolidateOwner(ctx context.Context, ownerID string) (Result, error) {
	if !w.acquire(ownerID) {
		return Result{}, ErrConsolidationConflict
	}
	defer w.release(ownerID)

	now := w.opts.Clock().UTC()
	olderThan := now.Add(-w.opts.Staleness)

	frags, err := w.semantic.ListUnconsolidated(ctx, ownerID, olderThan, w.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("scan fragments: %w", err)
	}
	if len(frags) == 0 {
		return Result{}, nil
	}
	result := Result{FragmentsScanned: len(frags)}

	summary, err := w.summarizer.Summarize(ctx, frags)
	if err != nil {
		return result, fmt.Errorf("summarize: %w", err)
	}

	entities, relations := w.enrichGraph(ctx, ownerID, frags)
	result.EntitiesWritten = entities
	result.RelationsWritten = relations

	record := model.GoldenRecord{
		OwnerID:           ownerID,
		PeriodStart:       frags[0].CreatedAt,
		PeriodEnd:         frags[len(frags)-1].CreatedAt,
		SummaryText:       summary,
		SourceFragmentIDs: fragmentIDs(frags),
		CreatedAt:         now,
	}
	if recorder, ok := w.semantic.(store.GoldenRecorder); ok {
		if err := w.retryWrite(ctx, func() error {
			return recorder.WriteGoldenRecord(ctx, record)
		}); err != nil {
			return result, fmt.Errorf("write golden record: %w", err)
		}
		result.GoldenRecords = 1
	} else {
		// Without a persisted record the sources must stay raw, or the
		// audit trail would vanish on such stores.
		w.logger.Warn("semantic store cannot persist golden records, skipping pass",
			zap.String("owner_id", ownerID))
		return result, nil
	}

	vector, err := w.embedder.Embed(ctx, summary)
	if err != nil {
		w.logger.Warn("summary embedding failed, storing without vector",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		vector = nil
	}
	if err := w.retryWrite(ctx, func() error {
		_, writeErr := w.semantic.Write(ctx, model.MemoryFragment{
			OwnerID:   ownerID,
			Text:      summary,
			Embedding: vector,
			Kind:      model.KindConsolidated,
			CreatedAt: now,
		})
		return writeErr
	}); err != nil {
		return result, fmt.Errorf("write consolidated fragment: %w", err)
	}

	if err := w.retryWrite(ctx, func() error {
		return w.semantic.MarkConsolidated(ctx, ownerID, record.SourceFragmentIDs)
	}); err != nil {
		return result, fmt.Errorf("mark sources consolidated: %w", err)
	}
	return result, nil
}

// enrichGraph extracts entities and relations from each fragment and upserts
// them. Extraction and graph trouble is logged and skipped; it never fails the
// pass.
func (w *Worker) enrichGraph(ctx context.Context, ownerID string, frags []model.MemoryFragment) (entities, relations int) {
	for _, frag := range frags {
		extraction, err := w.extractor.Extract(frag.Text)
		if err != nil {
			w.logger.Debug("fragment extraction failed",
				zap.String("owner_id", ownerID),
				zap.String("fragment_id", frag.ID),
				zap.Error(err))
			continue
		}
		for _, candidate := range extraction.Entities {
			if _, err := w.graph.UpsertEntity(ctx, ownerID, candidate.Name, candidate.Type, frag.CreatedAt); err != nil {
				w.logger.Warn("entity upsert failed",
					zap.String("owner_id", ownerID),
					zap.String("entity", candidate.Name),
					zap.Error(err))
				continue
			}
			entities++
		}
		for _, rel := range extraction.Relations {
			rel.OwnerID = ownerID
			rel.EvidenceTurnID = frag.SourceTurnID
			rel.CreatedAt = frag.CreatedAt
			if err := w.graph.UpsertRelation(ctx, ownerID, rel); err != nil {
				w.logger.Warn("relation upsert failed",
					zap.String("owner_id", ownerID),
					zap.String("relation", rel.Key()),
					zap.Error(err))
				continue
			}
			relations++
		}
	}
	return entities, relations
}

// retryWrite wraps consolidation-critical writes with exponential backoff.
// Correctness beats latency on this path, so it retries harder than the
// retrieval-side degradation policy.
func (w *Worker) retryWrite(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.opts.WriteRetries), ctx)
	return backoff.Retry(op, policy)
}

func (w *Worker) acquire(ownerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[ownerID]; busy {
		return false
	}
	w.active[ownerID] = struct{}{}
	return true
}

func (w *Worker) release(ownerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, ownerID)
}

func fragmentIDs(frags []model.MemoryFragment) []string {
	ids := make([]string, 0, len(frags))
	for _, frag := range frags {
		ids = append(ids, frag.ID)
	}
	return ids
}
