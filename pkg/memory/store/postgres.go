package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// PostgresSemanticStore implements SemanticStore using Postgres + pgvector.
type PostgresSemanticStore struct {
	DB *pgxpool.Pool
}

var (
	_ SemanticStore     = (*PostgresSemanticStore)(nil)
	_ GoldenRecorder    = (*PostgresSemanticStore)(nil)
	_ SchemaInitializer = (*PostgresSemanticStore)(nil)
)

// NewPostgresSemanticStore connects to Postgres.
func NewPostgresSemanticStore(ctx context.Context, connStr string) (*PostgresSemanticStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", asUnavailable(err))
	}
	return &PostgresSemanticStore{DB: db}, nil
}

func (ps *PostgresSemanticStore) Write(ctx context.Context, frag model.MemoryFragment) (model.MemoryFragment, error) {
	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = time.Now().UTC()
	}
	if frag.Kind == "" {
		frag.Kind = model.KindRaw
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO memory_fragments (id, owner_id, text, embedding, source_turn_id, kind, created_at)
                VALUES ($1, $2, $3, $4::vector, $5, $6, $7)
        `, frag.ID, frag.OwnerID, frag.Text, vectorLiteral(frag.Embedding), frag.SourceTurnID, string(frag.Kind), frag.CreatedAt)
	if err != nil {
		return model.MemoryFragment{}, asUnavailable(err)
	}
	return frag, nil
}

func (ps *PostgresSemanticStore) Query(ctx context.Context, ownerID string, embedding []float32, topK int) ([]model.MemoryFragment, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := ps.DB.Query(ctx, `
        SELECT id, owner_id, text, source_turn_id, kind, created_at, embedding::text,
               (embedding <-> $2::vector) AS distance
        FROM memory_fragments
        WHERE owner_id = $1
        ORDER BY embedding <-> $2::vector, created_at DESC
        LIMIT $3;
        `, ownerID, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer rows.Close()

	var fragments []model.MemoryFragment
	for rows.Next() {
		var frag model.MemoryFragment
		var kind, embeddingText string
		var distance float64
		if err := rows.Scan(&frag.ID, &frag.OwnerID, &frag.Text, &frag.SourceTurnID, &kind, &frag.CreatedAt, &embeddingText, &distance); err != nil {
			return nil, err
		}
		frag.Kind = model.Kind(kind)
		frag.Embedding = parseVector(embeddingText)
		frag.Score = 1 - distance
		fragments = append(fragments, frag)
	}
	return fragments, asUnavailable(rows.Err())
}

func (ps *PostgresSemanticStore) ListUnconsolidated(ctx context.Context, ownerID string, olderThan time.Time, limit int) ([]model.MemoryFragment, error) {
	rows, err := ps.DB.Query(ctx, `
        SELECT id, owner_id, text, source_turn_id, kind, created_at, embedding::text
        FROM memory_fragments
        WHERE owner_id = $1 AND kind = $2 AND created_at < $3
        ORDER BY created_at ASC
        LIMIT $4;
        `, ownerID, string(model.KindRaw), olderThan, limit)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer rows.Close()
	var fragments []model.MemoryFragment
	for rows.Next() {
		var frag model.MemoryFragment
		var kind, embeddingText string
		if err := rows.Scan(&frag.ID, &frag.OwnerID, &frag.Text, &frag.SourceTurnID, &kind, &frag.CreatedAt, &embeddingText); err != nil {
			return nil, err
		}
		frag.Kind = model.Kind(kind)
		frag.Embedding = parseVector(embeddingText)
		fragments = append(fragments, frag)
	}
	return fragments, asUnavailable(rows.Err())
}

func (ps *PostgresSemanticStore) MarkConsolidated(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ps.DB.Exec(ctx, `
                UPDATE memory_fragments SET kind = $3
                WHERE owner_id = $1 AND id = ANY($2)
        `, ownerID, ids, string(model.KindConsolidated))
	return asUnavailable(err)
}

func (ps *PostgresSemanticStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := ps.DB.Query(ctx, `SELECT DISTINCT owner_id FROM memory_fragments ORDER BY owner_id`)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, asUnavailable(rows.Err())
}

func (ps *PostgresSemanticStore) Count(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := ps.DB.QueryRow(ctx, `SELECT COUNT(*) FROM memory_fragments WHERE owner_id = $1`, ownerID).Scan(&count)
	return count, asUnavailable(err)
}

func (ps *PostgresSemanticStore) WriteGoldenRecord(ctx context.Context, rec model.GoldenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	sources, _ := json.Marshal(rec.SourceFragmentIDs)
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO golden_records (id, owner_id, period_start, period_end, summary_text, source_fragment_ids, created_at)
                VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
        `, rec.ID, rec.OwnerID, rec.PeriodStart, rec.PeriodEnd, rec.SummaryText, string(sources), rec.CreatedAt)
	return asUnavailable(err)
}

func (ps *PostgresSemanticStore) GoldenRecords(ctx context.Context, ownerID string) ([]model.GoldenRecord, error) {
	rows, err := ps.DB.Query(ctx, `
        SELECT id, owner_id, period_start, period_end, summary_text, source_fragment_ids::text, created_at
        FROM golden_records
        WHERE owner_id = $1
        ORDER BY created_at ASC
        `, ownerID)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer rows.Close()
	var records []model.GoldenRecord
	for rows.Next() {
		var rec model.GoldenRecord
		var sources string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.PeriodStart, &rec.PeriodEnd, &rec.SummaryText, &sources, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &rec.SourceFragmentIDs); err != nil {
			return nil, fmt.Errorf("decode golden record sources: %w", err)
		}
		records = append(records, rec)
	}
	return records, asUnavailable(rows.Err())
}

// CreateSchema ensures the pgvector extension and fragment tables exist.
func (ps *PostgresSemanticStore) CreateSchema(ctx context.Context) error {
	_, err := ps.DB.Exec(ctx, postgresSchema)
	if err != nil {
		return fmt.Errorf("execute schema: %w", asUnavailable(err))
	}
	return nil
}

// Close releases the connection pool.
func (ps *PostgresSemanticStore) Close() error {
	if ps != nil && ps.DB != nil {
		ps.DB.Close()
	}
	return nil
}

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_fragments (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding vector(768),
    source_turn_id TEXT DEFAULT '',
    kind TEXT NOT NULL DEFAULT 'raw',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS fragment_owner_idx ON memory_fragments (owner_id, kind, created_at);
CREATE INDEX IF NOT EXISTS fragment_embedding_idx ON memory_fragments USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS golden_records (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    period_start TIMESTAMPTZ NOT NULL,
    period_end TIMESTAMPTZ NOT NULL,
    summary_text TEXT NOT NULL,
    source_fragment_ids JSONB NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS golden_owner_idx ON golden_records (owner_id, created_at);
`

func vectorLiteral(embedding []float32) string {
	jsonEmbed, _ := json.Marshal(embedding)
	return fmt.Sprintf("[%s]", strings.Trim(string(jsonEmbed), "[]"))
}

func parseVector(text string) []float32 {
	text = strings.Trim(text, "[]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}
