package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

func TestFileGraphStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	s, err := NewFileGraphStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	if _, err := s.UpsertEntity(ctx, "u", "Springfield", model.EntityPlace, now); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	rel := model.Relation{FromEntity: "Springfield", ToEntity: "Ohio", Type: model.RelationLocatedIn, Confidence: 0.8}
	if err := s.UpsertRelation(ctx, "u", rel); err != nil {
		t.Fatalf("UpsertRelation returned error: %v", err)
	}

	reopened, err := NewFileGraphStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	entities, err := reopened.Entities(ctx, "u")
	if err != nil {
		t.Fatalf("Entities returned error: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Springfield" {
		t.Fatalf("unexpected entities after reopen: %#v", entities)
	}
	rels, err := reopened.QueryByEntities(ctx, "u", []string{"springfield"}, 1)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(rels) != 1 || rels[0].ToEntity != "Ohio" {
		t.Fatalf("unexpected relations after reopen: %#v", rels)
	}
}

func TestFileGraphStoreMergesMentions(t *testing.T) {
	s, err := NewFileGraphStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	if _, err := s.UpsertEntity(ctx, "u", "Sarah", model.EntityPerson, base); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	ent, err := s.UpsertEntity(ctx, "u", "SARAH", model.EntityPerson, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	if ent.MentionCount != 2 {
		t.Fatalf("expected mention count 2, got %d", ent.MentionCount)
	}
}

func TestFileGraphStoreKeepsOwnersInSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileGraphStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.UpsertEntity(ctx, "alice", "Tea", model.EntityConcept, now); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	if _, err := s.UpsertEntity(ctx, "bob", "Coffee", model.EntityConcept, now); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected one file per owner, got %d", len(entries))
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			t.Fatalf("unexpected file %q", entry.Name())
		}
	}

	got, err := s.Entities(ctx, "alice")
	if err != nil {
		t.Fatalf("Entities returned error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Tea" {
		t.Fatalf("owner files leaked entities: %#v", got)
	}
}

func TestFileGraphStoreDistinguishesPunctuatedOwners(t *testing.T) {
	s, err := NewFileGraphStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	// Owner IDs that only differ in punctuation must never share a file.
	if _, err := s.UpsertEntity(ctx, "acct:7", "Secret", model.EntityConcept, now); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	if err := s.UpsertRelation(ctx, "acct:7", model.Relation{
		FromEntity: "Secret", ToEntity: "Vault", Type: model.RelationRelatedTo, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("UpsertRelation returned error: %v", err)
	}

	entities, err := s.Entities(ctx, "acct_7")
	if err != nil {
		t.Fatalf("Entities returned error: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("owner acct_7 read acct:7's entities: %#v", entities)
	}
	rels, err := s.QueryByEntities(ctx, "acct_7", []string{"secret"}, 1)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(rels) != 0 {
		t.Fatalf("owner acct_7 read acct:7's relations: %#v", rels)
	}
}

func TestFileGraphStoreSanitizesOwnerPath(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileGraphStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileGraphStore returned error: %v", err)
	}
	if _, err := s.UpsertEntity(context.Background(), "../evil", "X", model.EntityConcept, time.Now()); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() == "evil.json" {
			t.Fatalf("owner id escaped the store directory")
		}
	}
}
