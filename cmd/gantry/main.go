// Command gantry runs an interactive session against the hybrid memory
// engine. Each line typed is a chat turn: the engine retrieves relevant
// memories first, prints the assembled context block, then records the turn
// for later consolidation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/config"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/consolidate"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/engine"
	"github.com/jlwestsr/nebulus-gantry/pkg/memory/store"
)

func main() {
	configPath := flag.String("config", "gantry.yaml", "Path to the YAML config file (optional)")
	ownerID := flag.String("owner", "cli:default", "Owner identifier used to scope all memories")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	semantic, err := buildSemanticStore(ctx, cfg.Stores)
	if err != nil {
		log.Fatalf("failed to open semantic store: %v", err)
	}
	associative, err := buildAssociativeStore(ctx, cfg.Stores)
	if err != nil {
		log.Fatalf("failed to open associative store: %v", err)
	}

	opts := engine.DefaultOptions()
	opts.SemanticTimeout = cfg.Engine.SemanticTimeout
	opts.AssociativeTimeout = cfg.Engine.AssociativeTimeout
	opts.GraceMargin = cfg.Engine.GraceMargin
	opts.TokenBudget = cfg.Engine.TokenBudget
	opts.TopK = cfg.Engine.TopK
	opts.MaxHops = cfg.Engine.MaxHops

	eng := memory.NewEngine(semantic, associative, memory.AutoEmbedder(), opts).
		WithLogger(logger)

	worker := memory.NewWorker(semantic, associative, engine.HeuristicSummarizer{}, consolidate.Options{
		Interval:          cfg.Consolidation.Interval,
		Staleness:         cfg.Consolidation.Staleness,
		BatchSize:         cfg.Consolidation.BatchSize,
		MaxParallelOwners: cfg.Consolidation.MaxParallelOwners,
	}).WithLogger(logger).WithEmbedder(memory.AutoEmbedder())
	worker.Start()
	defer worker.Stop()
	defer eng.Drain()

	fmt.Printf("Hybrid memory session for owner %q. Type a message and press enter (empty line exits).\n", *ownerID)

	reader := bufio.NewReader(os.Stdin)
	turn := 0
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("read input: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			fmt.Println("Goodbye!")
			return
		}

		result, err := eng.Retrieve(ctx, *ownerID, line, cfg.Engine.TokenBudget)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printResult(result)

		turn++
		eng.ObserveTurn(*ownerID, fmt.Sprintf("turn-%d", turn), line)
	}
}

func printResult(result memory.RetrievalResult) {
	if result.Context == "" {
		fmt.Println("(no relevant memories yet)")
	} else {
		fmt.Println(result.Context)
		fmt.Printf("(%d fragments, %d facts, %d tokens)\n",
			len(result.Fragments), len(result.Facts), result.TokensUsed)
	}
	if result.Degraded.Semantic {
		fmt.Println("! semantic recall degraded")
	}
	if result.Degraded.Associative {
		fmt.Println("! associative recall degraded")
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func buildSemanticStore(ctx context.Context, cfg config.StoresConfig) (store.SemanticStore, error) {
	switch cfg.Semantic {
	case "postgres":
		return store.NewPostgresSemanticStore(ctx, cfg.Postgres.DSN)
	case "qdrant":
		return store.NewQdrantSemanticStore(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey), nil
	case "mongo":
		return store.NewMongoSemanticStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	default:
		return store.NewInMemorySemanticStore(), nil
	}
}

func buildAssociativeStore(ctx context.Context, cfg config.StoresConfig) (store.AssociativeStore, error) {
	switch cfg.Associative {
	case "file":
		return store.NewFileGraphStore(cfg.GraphDir, cfg.MinConfidence)
	case "neo4j":
		driver, err := store.DialNeo4j(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return nil, err
		}
		graph, err := store.NewNeo4jGraphStore(driver, cfg.Neo4j.Database, cfg.MinConfidence)
		if err != nil {
			return nil, err
		}
		if err := graph.CreateSchema(ctx); err != nil {
			return nil, err
		}
		return graph, nil
	default:
		return store.NewMemoryGraphStore(cfg.MinConfidence), nil
	}
}
