package store

import (
	"context"
	"testing"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

func TestMemoryGraphStoreEntityMerge(t *testing.T) {
	s := NewMemoryGraphStore(0)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if _, err := s.UpsertEntity(ctx, "u", "Globex", model.EntityOrganization, first); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	ent, err := s.UpsertEntity(ctx, "u", "globex", model.EntityOrganization, second)
	if err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}

	if ent.MentionCount != 2 {
		t.Fatalf("expected mention count 2 after merge, got %d", ent.MentionCount)
	}
	if !ent.FirstSeenAt.Equal(first) {
		t.Fatalf("first seen drifted: %v", ent.FirstSeenAt)
	}
	if !ent.LastSeenAt.Equal(second) {
		t.Fatalf("last seen not updated: %v", ent.LastSeenAt)
	}

	all, err := s.Entities(ctx, "u")
	if err != nil {
		t.Fatalf("Entities returned error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single merged entity, got %d", len(all))
	}
}

func TestMemoryGraphStoreRelationDedupeKeepsHigherConfidence(t *testing.T) {
	s := NewMemoryGraphStore(0)
	ctx := context.Background()

	rel := model.Relation{FromEntity: "Sarah", ToEntity: "Globex", Type: model.RelationWorksAt, EvidenceTurnID: "t1", Confidence: 0.5}
	if err := s.UpsertRelation(ctx, "u", rel); err != nil {
		t.Fatalf("UpsertRelation returned error: %v", err)
	}
	rel.EvidenceTurnID = "t2"
	rel.Confidence = 0.9
	if err := s.UpsertRelation(ctx, "u", rel); err != nil {
		t.Fatalf("UpsertRelation returned error: %v", err)
	}

	// Traversal seeds on known entities, so the endpoint has to be observed.
	if _, err := s.UpsertEntity(ctx, "u", "Sarah", model.EntityPerson, time.Now()); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	got, err := s.QueryByEntities(ctx, "u", []string{"Sarah"}, 1)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 deduped relation, got %d", len(got))
	}
	if got[0].Confidence != 0.9 {
		t.Fatalf("expected higher confidence kept, got %f", got[0].Confidence)
	}
	if got[0].EvidenceTurnID != "t2" {
		t.Fatalf("expected latest evidence, got %s", got[0].EvidenceTurnID)
	}
}

func TestMemoryGraphStoreConfidenceThreshold(t *testing.T) {
	s := NewMemoryGraphStore(0.4)
	ctx := context.Background()

	weak := model.Relation{FromEntity: "a", ToEntity: "b", Type: model.RelationKnows, Confidence: 0.2}
	if err := s.UpsertRelation(ctx, "u", weak); err != nil {
		t.Fatalf("UpsertRelation returned error: %v", err)
	}
	if _, err := s.UpsertEntity(ctx, "u", "a", model.EntityPerson, time.Now()); err != nil {
		t.Fatalf("UpsertEntity returned error: %v", err)
	}
	got, err := s.QueryByEntities(ctx, "u", []string{"a"}, 2)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("low confidence relation should have been dropped, got %d", len(got))
	}
}

func TestMemoryGraphStoreRejectsInvalidRelation(t *testing.T) {
	s := NewMemoryGraphStore(0)
	err := s.UpsertRelation(context.Background(), "u", model.Relation{FromEntity: "a", ToEntity: "a", Type: model.RelationKnows, Confidence: 1})
	if err == nil {
		t.Fatalf("expected validation error for self relation")
	}
}

func TestMemoryGraphStoreTraversalRespectsHops(t *testing.T) {
	s := NewMemoryGraphStore(0)
	ctx := context.Background()
	now := time.Now()

	// sarah -> globex -> springfield, plus an unrelated chain.
	entities := []string{"Sarah", "Globex", "Springfield", "Lone"}
	for _, name := range entities {
		if _, err := s.UpsertEntity(ctx, "u", name, model.EntityConcept, now); err != nil {
			t.Fatalf("UpsertEntity returned error: %v", err)
		}
	}
	rels := []model.Relation{
		{FromEntity: "Sarah", ToEntity: "Globex", Type: model.RelationWorksAt, Confidence: 0.9},
		{FromEntity: "Globex", ToEntity: "Springfield", Type: model.RelationLocatedIn, Confidence: 0.8},
	}
	for _, rel := range rels {
		if err := s.UpsertRelation(ctx, "u", rel); err != nil {
			t.Fatalf("UpsertRelation returned error: %v", err)
		}
	}

	oneHop, err := s.QueryByEntities(ctx, "u", []string{"Sarah"}, 1)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(oneHop) != 1 {
		t.Fatalf("expected 1 relation at hop 1, got %d", len(oneHop))
	}
	twoHop, err := s.QueryByEntities(ctx, "u", []string{"Sarah"}, 2)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(twoHop) != 2 {
		t.Fatalf("expected 2 relations at hop 2, got %d", len(twoHop))
	}

	other, err := s.QueryByEntities(ctx, "other-owner", []string{"Sarah"}, 2)
	if err != nil {
		t.Fatalf("QueryByEntities returned error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("graph leaked across owners: %d relations", len(other))
	}
}
