// Package memory is the import surface for the hybrid long-term memory
// engine. It re-exports the subpackage types so callers can wire an engine,
// stores, and the consolidation worker from a single import.
package memory

import (
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/consolidate"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/degrade"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/embed"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/engine"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/extract"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/store"
)

// Core domain types.
type (
	MemoryFragment  = model.MemoryFragment
	GoldenRecord    = model.GoldenRecord
	Entity          = model.Entity
	Relation        = model.Relation
	RetrievalResult = model.RetrievalResult
	Degraded        = model.Degraded
	Kind            = model.Kind
	EntityType      = model.EntityType
	RelationType    = model.RelationType
)

const (
	KindRaw          = model.KindRaw
	KindConsolidated = model.KindConsolidated

	EntityPerson       = model.EntityPerson
	EntityOrganization = model.EntityOrganization
	EntityPlace        = model.EntityPlace
	EntityConcept      = model.EntityConcept

	RelationWorksAt   = model.RelationWorksAt
	RelationLocatedIn = model.RelationLocatedIn
	RelationKnows     = model.RelationKnows
	RelationLikes     = model.RelationLikes
	RelationDislikes  = model.RelationDislikes
	RelationOwns      = model.RelationOwns
	RelationRelatedTo = model.RelationRelatedTo
	RelationMentioned = model.RelationMentioned
	RelationDerivedOf = model.RelationDerivedOf
)

// Engine and retrieval surface.
type (
	Engine          = engine.Engine
	Options         = engine.Options
	Metrics         = engine.Metrics
	MetricsSnapshot = engine.MetricsSnapshot
	TokenCounter    = engine.TokenCounter
	Summarizer      = engine.Summarizer
)

var (
	NewEngine              = engine.New
	DefaultOptions         = engine.DefaultOptions
	NewTokenCounter        = engine.NewTokenCounter
	NewAnthropicSummarizer = engine.NewAnthropicSummarizer
	NewOpenAISummarizer    = engine.NewOpenAISummarizer
)

// Stores.
type (
	SemanticStore     = store.SemanticStore
	AssociativeStore  = store.AssociativeStore
	GoldenRecorder    = store.GoldenRecorder
	SchemaInitializer = store.SchemaInitializer
)

var (
	ErrStoreUnavailable = store.ErrStoreUnavailable

	NewInMemorySemanticStore = store.NewInMemorySemanticStore
	NewPostgresSemanticStore = store.NewPostgresSemanticStore
	NewQdrantSemanticStore   = store.NewQdrantSemanticStore
	NewMongoSemanticStore    = store.NewMongoSemanticStore
	NewMemoryGraphStore      = store.NewMemoryGraphStore
	NewFileGraphStore        = store.NewFileGraphStore
	NewNeo4jGraphStore       = store.NewNeo4jGraphStore
	DialNeo4j                = store.DialNeo4j
	WrapNeo4jDriver          = store.WrapNeo4jDriver
)

// Embedding.
type Embedder = embed.Embedder

var (
	AutoEmbedder      = embed.AutoEmbedder
	NewOpenAIEmbedder = embed.NewOpenAIEmbedder
	NewGeminiEmbedder = embed.NewGeminiEmbedder
	NewOllamaEmbedder = embed.NewOllamaEmbedder
	NewVoyageEmbedder = embed.NewVoyageEmbedder
)

// Extraction.
type (
	Extractor  = extract.Extractor
	Extraction = extract.Extraction
)

var NewHeuristicExtractor = extract.NewHeuristicExtractor

// Degradation control.
type DegradeConfig = degrade.Config

var NewDegradeController = degrade.NewController

// Consolidation.
type (
	Worker               = consolidate.Worker
	ConsolidationOptions = consolidate.Options
	ConsolidationResult  = consolidate.Result
)

var (
	NewWorker                = consolidate.NewWorker
	ErrConsolidationConflict = consolidate.ErrConsolidationConflict
)
