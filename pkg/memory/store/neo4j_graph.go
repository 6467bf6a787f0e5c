package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of session configuration we
// require.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the driver capabilities used by the store so tests can
// provide lightweight fakes.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jGraphStore implements AssociativeStore against a Neo4j database.
// Entities are nodes keyed by owner and lowercased name; relations are typed
// edges between them.
type Neo4jGraphStore struct {
	driver        neo4jDriver
	database      string
	minConfidence float64
	nowFn         func() time.Time
}

var _ AssociativeStore = (*Neo4jGraphStore)(nil)

// ErrNeo4jUnavailable is returned when graph operations are attempted without
// a configured driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// NewNeo4jGraphStore constructs a graph store over the provided driver.
func NewNeo4jGraphStore(driver neo4jDriver, database string, minConfidence float64) (*Neo4jGraphStore, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jGraphStore{
		driver:        driver,
		database:      database,
		minConfidence: minConfidence,
		nowFn:         time.Now,
	}, nil
}

// CreateSchema ensures graph constraints and indexes are present.
func (s *Neo4jGraphStore) CreateSchema(ctx context.Context) error {
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return asUnavailable(fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (e:Entity) REQUIRE (e.owner_id, e.name_key) IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (e:Entity) ON (e.owner_id)",
		"CREATE INDEX IF NOT EXISTS FOR ()-[r:FACT]-() ON (r.relation_type)",
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

func (s *Neo4jGraphStore) UpsertEntity(ctx context.Context, ownerID, name string, typ model.EntityType, seenAt time.Time) (model.Entity, error) {
	if s.driver == nil {
		return model.Entity{}, ErrNeo4jUnavailable
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return model.Entity{}, asUnavailable(fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	params := map[string]any{
		"owner_id": ownerID,
		"name_key": strings.ToLower(strings.TrimSpace(name)),
		"name":     strings.TrimSpace(name),
		"type":     string(typ),
		"seen_at":  seenAt.UTC().Format(time.RFC3339Nano),
	}
	result, err := session.Run(ctx, neo4jUpsertEntityCypher, params)
	if err != nil {
		return model.Entity{}, asUnavailable(fmt.Errorf("neo4j upsert entity: %w", err))
	}
	defer result.Close(ctx)
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return model.Entity{}, err
		}
		return model.Entity{}, errors.New("neo4j upsert entity returned no row")
	}
	return entityFromNeo4jRecord(result.Record()), nil
}

func (s *Neo4jGraphStore) UpsertRelation(ctx context.Context, ownerID string, rel model.Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	if rel.Confidence < s.minConfidence {
		return nil
	}
	if s.driver == nil {
		return ErrNeo4jUnavailable
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return asUnavailable(fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return asUnavailable(fmt.Errorf("neo4j begin tx: %w", err))
	}
	defer tx.Close(ctx)
	now := s.now()
	createdAt := rel.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	params := map[string]any{
		"owner_id":         ownerID,
		"from_key":         strings.ToLower(rel.FromEntity),
		"to_key":           strings.ToLower(rel.ToEntity),
		"from_name":        rel.FromEntity,
		"to_name":          rel.ToEntity,
		"relation_type":    string(rel.Type),
		"evidence_turn_id": rel.EvidenceTurnID,
		"confidence":       rel.Confidence,
		"created_at":       createdAt.UTC().Format(time.RFC3339Nano),
	}
	res, err := tx.Run(ctx, neo4jUpsertRelationCypher, params)
	if err != nil {
		tx.Rollback(ctx)
		return asUnavailable(fmt.Errorf("neo4j upsert relation: %w", err))
	}
	if res != nil {
		_ = res.Close(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return asUnavailable(fmt.Errorf("neo4j commit: %w", err))
	}
	return nil
}

func (s *Neo4jGraphStore) QueryByEntities(ctx context.Context, ownerID string, names []string, maxHops int) ([]model.Relation, error) {
	if s.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	if len(names) == 0 || maxHops <= 0 {
		return nil, nil
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeRead, DatabaseName: s.database})
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, strings.ToLower(strings.TrimSpace(name)))
	}
	params := map[string]any{
		"owner_id": ownerID,
		"keys":     keys,
		"hops":     maxHops,
	}
	result, err := session.Run(ctx, neo4jFactsCypher, params)
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("neo4j facts: %w", err))
	}
	defer result.Close(ctx)
	var relations []model.Relation
	for result.Next(ctx) {
		relations = append(relations, relationFromNeo4jRecord(ownerID, result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return relations, nil
}

func (s *Neo4jGraphStore) Entities(ctx context.Context, ownerID string) ([]model.Entity, error) {
	if s.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeRead, DatabaseName: s.database})
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	result, err := session.Run(ctx, neo4jEntitiesCypher, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("neo4j entities: %w", err))
	}
	defer result.Close(ctx)
	var entities []model.Entity
	for result.Next(ctx) {
		entities = append(entities, entityFromNeo4jRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

// Close releases the driver.
func (s *Neo4jGraphStore) Close() error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

func (s *Neo4jGraphStore) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

const (
	neo4jUpsertEntityCypher = `
MERGE (e:Entity {owner_id: $owner_id, name_key: $name_key})
ON CREATE SET e.name = $name,
    e.type = $type,
    e.first_seen_at = $seen_at,
    e.mention_count = 0
SET e.mention_count = e.mention_count + 1,
    e.last_seen_at = CASE
        WHEN e.last_seen_at IS NULL OR e.last_seen_at < $seen_at THEN $seen_at
        ELSE e.last_seen_at
    END,
    e.type = COALESCE(e.type, $type)
RETURN e.owner_id AS owner_id,
       e.name AS name,
       e.type AS type,
       e.first_seen_at AS first_seen_at,
       e.last_seen_at AS last_seen_at,
       e.mention_count AS mention_count
`
	neo4jUpsertRelationCypher = `
MERGE (from:Entity {owner_id: $owner_id, name_key: $from_key})
ON CREATE SET from.name = $from_name, from.mention_count = 0, from.first_seen_at = $created_at
MERGE (to:Entity {owner_id: $owner_id, name_key: $to_key})
ON CREATE SET to.name = $to_name, to.mention_count = 0, to.first_seen_at = $created_at
MERGE (from)-[r:FACT {relation_type: $relation_type}]->(to)
ON CREATE SET r.created_at = $created_at, r.confidence = $confidence
SET r.evidence_turn_id = $evidence_turn_id,
    r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END
`
	neo4jFactsCypher = `
MATCH (start:Entity {owner_id: $owner_id})
WHERE start.name_key IN $keys
MATCH path=(start)-[:FACT*1..$hops]-(:Entity {owner_id: $owner_id})
UNWIND relationships(path) AS r
WITH DISTINCT r, startNode(r) AS from, endNode(r) AS to
RETURN from.name AS from_entity,
       to.name AS to_entity,
       r.relation_type AS relation_type,
       r.evidence_turn_id AS evidence_turn_id,
       r.confidence AS confidence,
       r.created_at AS created_at
`
	neo4jEntitiesCypher = `
MATCH (e:Entity {owner_id: $owner_id})
RETURN e.owner_id AS owner_id,
       e.name AS name,
       e.type AS type,
       e.first_seen_at AS first_seen_at,
       e.last_seen_at AS last_seen_at,
       e.mention_count AS mention_count
ORDER BY e.name ASC
`
)

func entityFromNeo4jRecord(rec neo4jRecord) model.Entity {
	if rec == nil {
		return model.Entity{}
	}
	var ent model.Entity
	if v, ok := rec.Get("owner_id"); ok {
		ent.OwnerID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("name"); ok {
		ent.Name = model.StringFromAny(v)
	}
	if v, ok := rec.Get("type"); ok {
		ent.Type = model.EntityType(model.StringFromAny(v))
	}
	if v, ok := rec.Get("first_seen_at"); ok {
		ent.FirstSeenAt = model.TimeFromAny(v)
	}
	if v, ok := rec.Get("last_seen_at"); ok {
		ent.LastSeenAt = model.TimeFromAny(v)
	}
	if v, ok := rec.Get("mention_count"); ok {
		ent.MentionCount = model.IntFromAny(v)
	}
	return ent
}

func relationFromNeo4jRecord(ownerID string, rec neo4jRecord) model.Relation {
	if rec == nil {
		return model.Relation{}
	}
	rel := model.Relation{OwnerID: ownerID}
	if v, ok := rec.Get("from_entity"); ok {
		rel.FromEntity = model.StringFromAny(v)
	}
	if v, ok := rec.Get("to_entity"); ok {
		rel.ToEntity = model.StringFromAny(v)
	}
	if v, ok := rec.Get("relation_type"); ok {
		rel.Type = model.RelationType(model.StringFromAny(v))
	}
	if v, ok := rec.Get("evidence_turn_id"); ok {
		rel.EvidenceTurnID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("confidence"); ok {
		rel.Confidence = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("created_at"); ok {
		rel.CreatedAt = model.TimeFromAny(v)
	}
	return rel
}
