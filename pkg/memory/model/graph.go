package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntityType classifies a node in the associative graph.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityPlace        EntityType = "place"
	EntityConcept      EntityType = "concept"
)

// Entity is a named concept node, unique per owner by name. Re-extraction of
// the same name merges mention counts instead of duplicating the node.
type Entity struct {
	OwnerID      string     `json:"owner_id"`
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	FirstSeenAt  time.Time  `json:"first_seen_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	MentionCount int        `json:"mention_count"`
}

// RelationType enumerates supported edge semantics between entities.
type RelationType string

const (
	RelationWorksAt   RelationType = "works_at"
	RelationLocatedIn RelationType = "located_in"
	RelationKnows     RelationType = "knows"
	RelationLikes     RelationType = "likes"
	RelationDislikes  RelationType = "dislikes"
	RelationOwns      RelationType = "owns"
	RelationRelatedTo RelationType = "related_to"
	RelationMentioned RelationType = "mentioned_with"
	RelationDerivedOf RelationType = "derived_from"
)

var validRelationTypes = map[RelationType]struct{}{
	RelationWorksAt:   {},
	RelationLocatedIn: {},
	RelationKnows:     {},
	RelationLikes:     {},
	RelationDislikes:  {},
	RelationOwns:      {},
	RelationRelatedTo: {},
	RelationMentioned: {},
	RelationDerivedOf: {},
}

// Relation is a directed, typed edge between two entities of the same owner.
// Multiple relations may exist between the same pair with different types;
// growth is monotonic and pruning is an external concern.
type Relation struct {
	OwnerID        string       `json:"owner_id"`
	FromEntity     string       `json:"from_entity"`
	ToEntity       string       `json:"to_entity"`
	Type           RelationType `json:"type"`
	EvidenceTurnID string       `json:"evidence_turn_id"`
	Confidence     float64      `json:"confidence"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Validate ensures the relation is usable before it reaches a store.
func (r Relation) Validate() error {
	if strings.TrimSpace(r.FromEntity) == "" || strings.TrimSpace(r.ToEntity) == "" {
		return errors.New("relation endpoints must be named")
	}
	if strings.EqualFold(r.FromEntity, r.ToEntity) {
		return errors.New("relation endpoints must differ")
	}
	if _, ok := validRelationTypes[r.Type]; !ok {
		return fmt.Errorf("unsupported relation type %q", r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("relation confidence %.2f out of range", r.Confidence)
	}
	return nil
}

// Key identifies the logical edge for upsert purposes.
func (r Relation) Key() string {
	return strings.ToLower(r.FromEntity) + "␟" + strings.ToLower(r.ToEntity) + "␟" + string(r.Type)
}
