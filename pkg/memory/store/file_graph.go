package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// FileGraphStore implements AssociativeStore over one JSON document per
// owner. Writes take a per-owner lock and land via temp-file rename, so an
// interrupted process never leaves a partially written graph behind.
type FileGraphStore struct {
	dir           string
	minConfidence float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ AssociativeStore = (*FileGraphStore)(nil)

// NewFileGraphStore creates the backing directory if needed.
func NewFileGraphStore(dir string, minConfidence float64) (*FileGraphStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("graph store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}
	return &FileGraphStore{
		dir:           dir,
		minConfidence: minConfidence,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// ownerLock returns the write lock for one owner, creating it on first use.
func (s *FileGraphStore) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[ownerID] = lock
	}
	return lock
}

// path encodes the owner ID injectively, so distinct owners can never share
// a file regardless of which characters their IDs carry.
func (s *FileGraphStore) path(ownerID string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(ownerID))+".json")
}

func (s *FileGraphStore) load(ownerID string) (*ownerGraph, error) {
	data, err := os.ReadFile(s.path(ownerID))
	if errors.Is(err, os.ErrNotExist) {
		return newOwnerGraph(), nil
	}
	if err != nil {
		return nil, asUnavailable(err)
	}
	g := newOwnerGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode graph for %s: %w", ownerID, err)
	}
	if g.Entities == nil {
		g.Entities = make(map[string]model.Entity)
	}
	return g, nil
}

func (s *FileGraphStore) save(ownerID string, g *ownerGraph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	target := s.path(ownerID)
	tmp, err := os.CreateTemp(s.dir, "graph-*.tmp")
	if err != nil {
		return asUnavailable(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return asUnavailable(err)
	}
	if err := tmp.Close(); err != nil {
		return asUnavailable(err)
	}
	return asUnavailable(os.Rename(tmp.Name(), target))
}

func (s *FileGraphStore) UpsertEntity(ctx context.Context, ownerID, name string, typ model.EntityType, seenAt time.Time) (model.Entity, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return model.Entity{}, asUnavailable(err)
	}
	g, err := s.load(ownerID)
	if err != nil {
		return model.Entity{}, err
	}
	ent := g.upsertEntity(ownerID, name, typ, seenAt)
	if err := s.save(ownerID, g); err != nil {
		return model.Entity{}, err
	}
	return ent, nil
}

func (s *FileGraphStore) UpsertRelation(ctx context.Context, ownerID string, rel model.Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	if rel.Confidence < s.minConfidence {
		return nil
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return asUnavailable(err)
	}
	g, err := s.load(ownerID)
	if err != nil {
		return err
	}
	rel.OwnerID = ownerID
	g.upsertRelation(rel)
	return s.save(ownerID, g)
}

func (s *FileGraphStore) QueryByEntities(ctx context.Context, ownerID string, names []string, maxHops int) ([]model.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, asUnavailable(err)
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	g, err := s.load(ownerID)
	if err != nil {
		return nil, err
	}
	return g.traverse(names, maxHops), nil
}

func (s *FileGraphStore) Entities(ctx context.Context, ownerID string) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, asUnavailable(err)
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	g, err := s.load(ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(g.Entities))
	for _, ent := range g.Entities {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
