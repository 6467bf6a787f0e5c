package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// MongoSemanticStore implements SemanticStore on MongoDB. Similarity is
// scored client-side over the owner's fragments, which keeps the store usable
// outside Atlas deployments that lack $vectorSearch.
type MongoSemanticStore struct {
	client    *mongo.Client
	fragments *mongo.Collection
	golden    *mongo.Collection
}

var (
	_ SemanticStore  = (*MongoSemanticStore)(nil)
	_ GoldenRecorder = (*MongoSemanticStore)(nil)
)

const mongoCloseTimeout = 5 * time.Second

type mongoFragmentDoc struct {
	ID           string    `bson:"_id"`
	OwnerID      string    `bson:"owner_id"`
	Text         string    `bson:"text"`
	Embedding    []float64 `bson:"embedding"`
	SourceTurnID string    `bson:"source_turn_id"`
	Kind         string    `bson:"kind"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d mongoFragmentDoc) toFragment() model.MemoryFragment {
	embedding := make([]float32, len(d.Embedding))
	for i, f := range d.Embedding {
		embedding[i] = float32(f)
	}
	return model.MemoryFragment{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Text:         d.Text,
		Embedding:    embedding,
		SourceTurnID: d.SourceTurnID,
		Kind:         model.Kind(d.Kind),
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type mongoGoldenDoc struct {
	ID                string    `bson:"_id"`
	OwnerID           string    `bson:"owner_id"`
	PeriodStart       time.Time `bson:"period_start"`
	PeriodEnd         time.Time `bson:"period_end"`
	SummaryText       string    `bson:"summary_text"`
	SourceFragmentIDs []string  `bson:"source_fragment_ids"`
	CreatedAt         time.Time `bson:"created_at"`
}

// NewMongoSemanticStore connects and pings the deployment.
func NewMongoSemanticStore(ctx context.Context, uri, database string) (*MongoSemanticStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, asUnavailable(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, asUnavailable(err)
	}
	db := client.Database(database)
	return &MongoSemanticStore{
		client:    client,
		fragments: db.Collection("memory_fragments"),
		golden:    db.Collection("golden_records"),
	}, nil
}

func (ms *MongoSemanticStore) Write(ctx context.Context, frag model.MemoryFragment) (model.MemoryFragment, error) {
	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = time.Now().UTC()
	}
	if frag.Kind == "" {
		frag.Kind = model.KindRaw
	}
	embedding := make([]float64, len(frag.Embedding))
	for i, f := range frag.Embedding {
		embedding[i] = float64(f)
	}
	doc := mongoFragmentDoc{
		ID:           frag.ID,
		OwnerID:      frag.OwnerID,
		Text:         frag.Text,
		Embedding:    embedding,
		SourceTurnID: frag.SourceTurnID,
		Kind:         string(frag.Kind),
		CreatedAt:    frag.CreatedAt,
	}
	if _, err := ms.fragments.InsertOne(ctx, doc); err != nil {
		return model.MemoryFragment{}, asUnavailable(err)
	}
	return frag, nil
}

func (ms *MongoSemanticStore) Query(ctx context.Context, ownerID string, embedding []float32, topK int) ([]model.MemoryFragment, error) {
	if topK <= 0 {
		return nil, nil
	}
	cursor, err := ms.fragments.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer cursor.Close(ctx)

	var scored []model.MemoryFragment
	for cursor.Next(ctx) {
		var doc mongoFragmentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		frag := doc.toFragment()
		frag.Score = model.CosineSimilarity(embedding, frag.Embedding)
		scored = append(scored, frag)
	}
	if err := cursor.Err(); err != nil {
		return nil, asUnavailable(err)
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

func (ms *MongoSemanticStore) ListUnconsolidated(ctx context.Context, ownerID string, olderThan time.Time, limit int) ([]model.MemoryFragment, error) {
	filter := bson.M{
		"owner_id":   ownerID,
		"kind":       string(model.KindRaw),
		"created_at": bson.M{"$lt": olderThan},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := ms.fragments.Find(ctx, filter, opts)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer cursor.Close(ctx)
	var fragments []model.MemoryFragment
	for cursor.Next(ctx) {
		var doc mongoFragmentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		fragments = append(fragments, doc.toFragment())
	}
	return fragments, asUnavailable(cursor.Err())
}

func (ms *MongoSemanticStore) MarkConsolidated(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ms.fragments.UpdateMany(ctx,
		bson.M{"owner_id": ownerID, "_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"kind": string(model.KindConsolidated)}},
	)
	return asUnavailable(err)
}

func (ms *MongoSemanticStore) Owners(ctx context.Context) ([]string, error) {
	raw, err := ms.fragments.Distinct(ctx, "owner_id", bson.M{})
	if err != nil {
		return nil, asUnavailable(err)
	}
	owners := make([]string, 0, len(raw))
	for _, v := range raw {
		if owner := model.StringFromAny(v); owner != "" {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (ms *MongoSemanticStore) Count(ctx context.Context, ownerID string) (int, error) {
	n, err := ms.fragments.CountDocuments(ctx, bson.M{"owner_id": ownerID})
	return int(n), asUnavailable(err)
}

func (ms *MongoSemanticStore) WriteGoldenRecord(ctx context.Context, rec model.GoldenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	doc := mongoGoldenDoc{
		ID:                rec.ID,
		OwnerID:           rec.OwnerID,
		PeriodStart:       rec.PeriodStart,
		PeriodEnd:         rec.PeriodEnd,
		SummaryText:       rec.SummaryText,
		SourceFragmentIDs: rec.SourceFragmentIDs,
		CreatedAt:         rec.CreatedAt,
	}
	_, err := ms.golden.InsertOne(ctx, doc)
	return asUnavailable(err)
}

func (ms *MongoSemanticStore) GoldenRecords(ctx context.Context, ownerID string) ([]model.GoldenRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := ms.golden.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, asUnavailable(err)
	}
	defer cursor.Close(ctx)
	var records []model.GoldenRecord
	for cursor.Next(ctx) {
		var doc mongoGoldenDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, model.GoldenRecord{
			ID:                doc.ID,
			OwnerID:           doc.OwnerID,
			PeriodStart:       doc.PeriodStart.UTC(),
			PeriodEnd:         doc.PeriodEnd.UTC(),
			SummaryText:       doc.SummaryText,
			SourceFragmentIDs: doc.SourceFragmentIDs,
			CreatedAt:         doc.CreatedAt.UTC(),
		})
	}
	return records, asUnavailable(cursor.Err())
}

// Close disconnects from the deployment.
func (ms *MongoSemanticStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
