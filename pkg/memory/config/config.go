// Package config loads the engine's externally supplied tuning surface:
// timeouts, consolidation schedule, token budget, hop radius, and store
// connection settings. Values come from an optional YAML file with
// environment overrides; documented fallbacks cover the rest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface for the memory engine.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Stores        StoresConfig        `yaml:"stores"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// EngineConfig tunes the synchronous retrieval path.
type EngineConfig struct {
	SemanticTimeout    time.Duration `yaml:"semantic_timeout"`
	AssociativeTimeout time.Duration `yaml:"associative_timeout"`
	GraceMargin        time.Duration `yaml:"grace_margin"`
	TokenBudget        int           `yaml:"token_budget"`
	TopK               int           `yaml:"top_k"`
	MaxHops            int           `yaml:"max_hops"`
}

// ConsolidationConfig tunes the background worker.
type ConsolidationConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Staleness         time.Duration `yaml:"staleness"`
	BatchSize         int           `yaml:"batch_size"`
	MaxParallelOwners int           `yaml:"max_parallel_owners"`
}

// StoresConfig selects and connects the two backing stores.
type StoresConfig struct {
	// Semantic selects the vector backend: memory, postgres, qdrant, mongo.
	Semantic string `yaml:"semantic"`
	// Associative selects the graph backend: memory, file, neo4j.
	Associative string `yaml:"associative"`
	// MinConfidence is the relation admission threshold at the graph boundary.
	MinConfidence float64 `yaml:"min_confidence"`

	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	// GraphDir is the directory for the file graph backend.
	GraphDir string `yaml:"graph_dir"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider: openai, gemini, ollama, voyage, or empty for the dummy.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// Default returns the documented fallbacks.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			SemanticTimeout:    2 * time.Second,
			AssociativeTimeout: 2 * time.Second,
			GraceMargin:        500 * time.Millisecond,
			TokenBudget:        1024,
			TopK:               8,
			MaxHops:            1,
		},
		Consolidation: ConsolidationConfig{
			Interval:          5 * time.Minute,
			Staleness:         30 * time.Minute,
			BatchSize:         100,
			MaxParallelOwners: 4,
		},
		Stores: StoresConfig{
			Semantic:      "memory",
			Associative:   "memory",
			MinConfidence: 0.25,
			GraphDir:      "data/graph",
			Qdrant: QdrantConfig{
				Collection: "memory_fragments",
			},
			Mongo: MongoConfig{
				Database: "gantry",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// then applies environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; fall through to env and defaults.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers GANTRY_* variables over the loaded values.
func (c *Config) applyEnv() {
	envDuration("GANTRY_SEMANTIC_TIMEOUT", &c.Engine.SemanticTimeout)
	envDuration("GANTRY_ASSOCIATIVE_TIMEOUT", &c.Engine.AssociativeTimeout)
	envDuration("GANTRY_GRACE_MARGIN", &c.Engine.GraceMargin)
	envInt("GANTRY_TOKEN_BUDGET", &c.Engine.TokenBudget)
	envInt("GANTRY_TOP_K", &c.Engine.TopK)
	envInt("GANTRY_MAX_HOPS", &c.Engine.MaxHops)

	envDuration("GANTRY_CONSOLIDATION_INTERVAL", &c.Consolidation.Interval)
	envDuration("GANTRY_CONSOLIDATION_STALENESS", &c.Consolidation.Staleness)
	envInt("GANTRY_CONSOLIDATION_BATCH", &c.Consolidation.BatchSize)
	envInt("GANTRY_CONSOLIDATION_PARALLEL", &c.Consolidation.MaxParallelOwners)

	envString("GANTRY_SEMANTIC_STORE", &c.Stores.Semantic)
	envString("GANTRY_ASSOCIATIVE_STORE", &c.Stores.Associative)
	envFloat("GANTRY_MIN_CONFIDENCE", &c.Stores.MinConfidence)
	envString("GANTRY_POSTGRES_DSN", &c.Stores.Postgres.DSN)
	envString("GANTRY_QDRANT_URL", &c.Stores.Qdrant.URL)
	envString("GANTRY_QDRANT_API_KEY", &c.Stores.Qdrant.APIKey)
	envString("GANTRY_QDRANT_COLLECTION", &c.Stores.Qdrant.Collection)
	envString("GANTRY_MONGO_URI", &c.Stores.Mongo.URI)
	envString("GANTRY_MONGO_DATABASE", &c.Stores.Mongo.Database)
	envString("GANTRY_NEO4J_URI", &c.Stores.Neo4j.URI)
	envString("GANTRY_NEO4J_USERNAME", &c.Stores.Neo4j.Username)
	envString("GANTRY_NEO4J_PASSWORD", &c.Stores.Neo4j.Password)
	envString("GANTRY_NEO4J_DATABASE", &c.Stores.Neo4j.Database)
	envString("GANTRY_GRAPH_DIR", &c.Stores.GraphDir)

	envString("GANTRY_EMBED_PROVIDER", &c.Embedding.Provider)
	envString("GANTRY_EMBED_MODEL", &c.Embedding.Model)

	envString("GANTRY_LOG_LEVEL", &c.Logging.Level)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.SemanticTimeout <= 0 || c.Engine.AssociativeTimeout <= 0 {
		return fmt.Errorf("store timeouts must be positive")
	}
	if c.Engine.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive")
	}
	if c.Engine.MaxHops <= 0 {
		return fmt.Errorf("max_hops must be positive")
	}
	if c.Consolidation.Interval <= 0 || c.Consolidation.Staleness <= 0 {
		return fmt.Errorf("consolidation interval and staleness must be positive")
	}
	if c.Stores.MinConfidence < 0 || c.Stores.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0, 1]")
	}
	switch c.Stores.Semantic {
	case "memory", "postgres", "qdrant", "mongo":
	default:
		return fmt.Errorf("unknown semantic store %q", c.Stores.Semantic)
	}
	switch c.Stores.Associative {
	case "memory", "file", "neo4j":
	default:
		return fmt.Errorf("unknown associative store %q", c.Stores.Associative)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
