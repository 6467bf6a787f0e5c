package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// ownerGraph is the per-owner adjacency structure shared by the in-process
// graph stores.
type ownerGraph struct {
	Entities  map[string]model.Entity `json:"entities"` // keyed by lowercased name
	Relations []model.Relation        `json:"relations"`
}

func newOwnerGraph() *ownerGraph {
	return &ownerGraph{Entities: make(map[string]model.Entity)}
}

func (g *ownerGraph) upsertEntity(ownerID, name string, typ model.EntityType, seenAt time.Time) model.Entity {
	key := strings.ToLower(strings.TrimSpace(name))
	ent, ok := g.Entities[key]
	if !ok {
		ent = model.Entity{
			OwnerID:     ownerID,
			Name:        strings.TrimSpace(name),
			Type:        typ,
			FirstSeenAt: seenAt,
		}
	}
	ent.MentionCount++
	if seenAt.After(ent.LastSeenAt) {
		ent.LastSeenAt = seenAt
	}
	if ent.Type == "" {
		ent.Type = typ
	}
	g.Entities[key] = ent
	return ent
}

func (g *ownerGraph) upsertRelation(rel model.Relation) {
	key := rel.Key()
	for i, existing := range g.Relations {
		if existing.Key() == key {
			// Re-observation refreshes evidence and keeps the higher confidence.
			if rel.Confidence > existing.Confidence {
				existing.Confidence = rel.Confidence
			}
			existing.EvidenceTurnID = rel.EvidenceTurnID
			g.Relations[i] = existing
			return
		}
	}
	g.Relations = append(g.Relations, rel)
}

// traverse expands outward from the seed names up to maxHops and returns every
// relation touched, nearest hops first.
func (g *ownerGraph) traverse(names []string, maxHops int) []model.Relation {
	if len(names) == 0 || maxHops <= 0 {
		return nil
	}
	frontier := make(map[string]struct{}, len(names))
	visited := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := g.Entities[key]; ok {
			frontier[key] = struct{}{}
			visited[key] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var out []model.Relation
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := make(map[string]struct{})
		for _, rel := range g.Relations {
			from := strings.ToLower(rel.FromEntity)
			to := strings.ToLower(rel.ToEntity)
			_, fromHit := frontier[from]
			_, toHit := frontier[to]
			if !fromHit && !toHit {
				continue
			}
			if _, dup := seen[rel.Key()]; !dup {
				seen[rel.Key()] = struct{}{}
				out = append(out, rel)
			}
			for _, neighbor := range []string{from, to} {
				if _, ok := visited[neighbor]; !ok {
					visited[neighbor] = struct{}{}
					next[neighbor] = struct{}{}
				}
			}
		}
		frontier = next
	}
	return out
}

// MemoryGraphStore implements AssociativeStore in process, for tests and
// single-node deployments.
type MemoryGraphStore struct {
	mu            sync.RWMutex
	graphs        map[string]*ownerGraph
	minConfidence float64
}

var _ AssociativeStore = (*MemoryGraphStore)(nil)

// NewMemoryGraphStore returns an in-process graph store admitting relations at
// or above minConfidence.
func NewMemoryGraphStore(minConfidence float64) *MemoryGraphStore {
	return &MemoryGraphStore{
		graphs:        make(map[string]*ownerGraph),
		minConfidence: minConfidence,
	}
}

func (s *MemoryGraphStore) graph(ownerID string) *ownerGraph {
	g, ok := s.graphs[ownerID]
	if !ok {
		g = newOwnerGraph()
		s.graphs[ownerID] = g
	}
	return g
}

func (s *MemoryGraphStore) UpsertEntity(_ context.Context, ownerID, name string, typ model.EntityType, seenAt time.Time) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph(ownerID).upsertEntity(ownerID, name, typ, seenAt), nil
}

func (s *MemoryGraphStore) UpsertRelation(_ context.Context, ownerID string, rel model.Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	if rel.Confidence < s.minConfidence {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rel.OwnerID = ownerID
	s.graph(ownerID).upsertRelation(rel)
	return nil
}

func (s *MemoryGraphStore) QueryByEntities(_ context.Context, ownerID string, names []string, maxHops int) ([]model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[ownerID]
	if !ok {
		return nil, nil
	}
	return g.traverse(names, maxHops), nil
}

func (s *MemoryGraphStore) Entities(_ context.Context, ownerID string) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[ownerID]
	if !ok {
		return nil, nil
	}
	out := make([]model.Entity, 0, len(g.Entities))
	for _, ent := range g.Entities {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
