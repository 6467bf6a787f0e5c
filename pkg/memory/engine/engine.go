// Package engine implements the per-turn hybrid retrieval path: semantic
// recall and associative facts fetched in parallel, merged under a token
// budget, with store failures degrading the result instead of failing the
// turn.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/degrade"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/embed"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/extract"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/store"
)

// observeTimeout bounds the background write of one observed turn.
const observeTimeout = 10 * time.Second

// Engine is the synchronous-path retriever plus the turn-observation intake.
type Engine struct {
	semantic    store.SemanticStore
	associative store.AssociativeStore
	embedder    embed.Embedder
	extractor   extract.Extractor
	guard       *degrade.Controller
	opts        Options
	metrics     *Metrics
	logger      *zap.Logger

	wg sync.WaitGroup
}

// New builds an engine over the two stores. Both stores are required; the
// embedder defaults to the deterministic dummy when nil.
func New(semantic store.SemanticStore, associative store.AssociativeStore, embedder embed.Embedder, opts Options) *Engine {
	if embedder == nil {
		embedder = embed.DummyEmbedder{}
	}
	opts = opts.withDefaults()
	return &Engine{
		semantic:    semantic,
		associative: associative,
		embedder:    embedder,
		extractor:   extract.NewHeuristicExtractor(),
		guard:       degrade.NewController(degrade.Config{CallTimeout: opts.SemanticTimeout}, nil),
		opts:        opts,
		metrics:     &Metrics{},
		logger:      zap.NewNop(),
	}
}

// WithLogger replaces the engine logger.
func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithMetrics shares a metrics collector with the caller.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// WithExtractor replaces the query-side entity extractor.
func (e *Engine) WithExtractor(x extract.Extractor) *Engine {
	if x != nil {
		e.extractor = x
	}
	return e
}

// WithController replaces the degradation controller guarding store calls.
func (e *Engine) WithController(c *degrade.Controller) *Engine {
	if c != nil {
		e.guard = c
	}
	return e
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

// Healthy reports the breaker state for one store.
func (e *Engine) Healthy(s degrade.Store) bool { return e.guard.Healthy(s) }

// Retrieve runs one hybrid retrieval for an owner's turn. It never fails on
// store trouble: a branch that errors or times out comes back empty with its
// degraded flag set. The whole call is bounded by both branch budgets plus a
// grace margin; exceeding that returns a fully degraded empty result.
func (e *Engine) Retrieve(ctx context.Context, ownerID, queryText string, tokenBudget int) (model.RetrievalResult, error) {
	if ownerID == "" {
		return model.RetrievalResult{}, errors.New("retrieve: owner id is required")
	}
	if tokenBudget <= 0 {
		tokenBudget = e.opts.TokenBudget
	}
	e.metrics.IncRetrievals()

	outerCtx, cancel := context.WithTimeout(ctx, e.opts.outerBudget())
	defer cancel()

	var (
		wg        sync.WaitGroup
		fragments []model.MemoryFragment
		facts     []model.Relation
		mentions  map[string]int
		degraded  model.Degraded
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fragments, degraded.Semantic = e.semanticBranch(outerCtx, ownerID, queryText)
	}()
	go func() {
		defer wg.Done()
		facts, mentions, degraded.Associative = e.associativeBranch(outerCtx, ownerID, queryText)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-outerCtx.Done():
		e.logger.Warn("retrieval exceeded outer budget",
			zap.String("owner_id", ownerID),
			zap.Duration("budget", e.opts.outerBudget()))
		e.metrics.IncSemanticDegraded()
		e.metrics.IncAssociativeDegraded()
		return model.RetrievalResult{Degraded: model.Degraded{Semantic: true, Associative: true}}, nil
	}

	if degraded.Semantic {
		e.metrics.IncSemanticDegraded()
	}
	if degraded.Associative {
		e.metrics.IncAssociativeDegraded()
	}

	ranked := rankFragments(fragments)
	rankedFacts := rankFacts(facts, mentions)
	rendered, tokens, keptFrags, keptFacts := renderContext(ranked, rankedFacts, tokenBudget, e.opts.Counter)

	e.metrics.IncFragments(len(keptFrags))
	e.metrics.IncFacts(len(keptFacts))
	e.metrics.AddTokensRendered(tokens)

	return model.RetrievalResult{
		Fragments:  keptFrags,
		Facts:      keptFacts,
		Context:    rendered,
		TokensUsed: tokens,
		Degraded:   degraded,
	}, nil
}

// semanticBranch embeds the query and searches the vector store. Any failure,
// including the embedding call, degrades the branch.
func (e *Engine) semanticBranch(ctx context.Context, ownerID, queryText string) ([]model.MemoryFragment, bool) {
	embedCtx, cancel := context.WithTimeout(ctx, e.opts.SemanticTimeout)
	vector, err := e.embedder.Embed(embedCtx, queryText)
	cancel()
	if err != nil || len(vector) == 0 {
		e.logger.Warn("query embedding failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, true
	}

	var fragments []model.MemoryFragment
	err = e.guard.CallWithTimeout(ctx, degrade.StoreSemantic, e.opts.SemanticTimeout, func(callCtx context.Context) error {
		var queryErr error
		fragments, queryErr = e.semantic.Query(callCtx, ownerID, vector, e.opts.TopK)
		return queryErr
	})
	if err != nil {
		e.logger.Warn("semantic branch degraded",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, true
	}
	return fragments, false
}

// associativeBranch extracts seed entities from the query and expands the
// graph around them. Extraction trouble yields no seeds, not a degraded
// branch; only store failures degrade.
func (e *Engine) associativeBranch(ctx context.Context, ownerID, queryText string) ([]model.Relation, map[string]int, bool) {
	extraction, err := e.extractor.Extract(queryText)
	if err != nil {
		e.logger.Debug("query extraction failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, nil, false
	}
	names := extraction.EntityNames()
	if len(names) == 0 {
		return nil, nil, false
	}

	var (
		facts    []model.Relation
		entities []model.Entity
	)
	err = e.guard.CallWithTimeout(ctx, degrade.StoreAssociative, e.opts.AssociativeTimeout, func(callCtx context.Context) error {
		var queryErr error
		facts, queryErr = e.associative.QueryByEntities(callCtx, ownerID, names, e.opts.MaxHops)
		if queryErr != nil {
			return queryErr
		}
		// Mention counts only shape ranking; their absence is not a failure.
		entities, _ = e.associative.Entities(callCtx, ownerID)
		return nil
	})
	if err != nil {
		e.logger.Warn("associative branch degraded",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, nil, true
	}
	return facts, mentionIndex(entities), false
}

// ObserveTurn queues a completed chat turn for memory intake. The write is
// fire-and-forget from the chat path; failures are logged and the raw turn is
// simply absent until a later turn covers the same ground.
func (e *Engine) ObserveTurn(ownerID, turnID, text string) {
	if ownerID == "" || text == "" {
		return
	}
	e.metrics.IncTurnsObserved()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
		defer cancel()

		vector, err := e.embedder.Embed(ctx, text)
		if err != nil {
			e.logger.Warn("turn embedding failed, storing without vector",
				zap.String("owner_id", ownerID),
				zap.String("turn_id", turnID),
				zap.Error(err))
			vector = nil
		}
		frag := model.MemoryFragment{
			OwnerID:      ownerID,
			Text:         text,
			Embedding:    vector,
			SourceTurnID: turnID,
			Kind:         model.KindRaw,
			CreatedAt:    e.opts.Clock().UTC(),
		}
		if _, err := e.semantic.Write(ctx, frag); err != nil {
			e.logger.Error("turn write failed",
				zap.String("owner_id", ownerID),
				zap.String("turn_id", turnID),
				zap.Error(err))
		}
	}()
}

// Drain blocks until all queued turn writes have finished. Call on shutdown
// and in tests.
func (e *Engine) Drain() { e.wg.Wait() }
