package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// InMemorySemanticStore implements SemanticStore for tests and lightweight
// deployments.
type InMemorySemanticStore struct {
	mu        sync.RWMutex
	fragments map[string]map[string]model.MemoryFragment // owner -> id -> fragment
	golden    map[string][]model.GoldenRecord
}

var (
	_ SemanticStore  = (*InMemorySemanticStore)(nil)
	_ GoldenRecorder = (*InMemorySemanticStore)(nil)
)

func NewInMemorySemanticStore() *InMemorySemanticStore {
	return &InMemorySemanticStore{
		fragments: make(map[string]map[string]model.MemoryFragment),
		golden:    make(map[string][]model.GoldenRecord),
	}
}

func (s *InMemorySemanticStore) Write(_ context.Context, frag model.MemoryFragment) (model.MemoryFragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = time.Now().UTC()
	}
	if frag.Kind == "" {
		frag.Kind = model.KindRaw
	}
	owner := s.fragments[frag.OwnerID]
	if owner == nil {
		owner = make(map[string]model.MemoryFragment)
		s.fragments[frag.OwnerID] = owner
	}
	frag.Embedding = append([]float32(nil), frag.Embedding...)
	owner[frag.ID] = frag
	return frag, nil
}

func (s *InMemorySemanticStore) Query(_ context.Context, ownerID string, embedding []float32, topK int) ([]model.MemoryFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		return nil, nil
	}
	owner := s.fragments[ownerID]
	scored := make([]model.MemoryFragment, 0, len(owner))
	for _, frag := range owner {
		frag.Score = model.CosineSimilarity(embedding, frag.Embedding)
		scored = append(scored, frag)
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *InMemorySemanticStore) ListUnconsolidated(_ context.Context, ownerID string, olderThan time.Time, limit int) ([]model.MemoryFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MemoryFragment
	for _, frag := range s.fragments[ownerID] {
		if frag.Kind != model.KindRaw {
			continue
		}
		if !frag.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, frag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemorySemanticStore) MarkConsolidated(_ context.Context, ownerID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.fragments[ownerID]
	for _, id := range ids {
		if frag, ok := owner[id]; ok {
			frag.Kind = model.KindConsolidated
			owner[id] = frag
		}
	}
	return nil
}

func (s *InMemorySemanticStore) Owners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.fragments))
	for owner, frags := range s.fragments {
		if len(frags) > 0 {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *InMemorySemanticStore) Count(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments[ownerID]), nil
}

func (s *InMemorySemanticStore) WriteGoldenRecord(_ context.Context, rec model.GoldenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.golden[rec.OwnerID] = append(s.golden[rec.OwnerID], rec)
	return nil
}

func (s *InMemorySemanticStore) GoldenRecords(_ context.Context, ownerID string) ([]model.GoldenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.GoldenRecord(nil), s.golden[ownerID]...), nil
}
