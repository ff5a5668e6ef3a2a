// Package app assembles the process: config, platform clients, the
// graph store, domain services, and the HTTP router.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veldt/crystal-backend/internal/consolidate"
	"github.com/veldt/crystal-backend/internal/export"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/http/handlers"
	"github.com/veldt/crystal-backend/internal/ingest"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/platform/neo4jdb"
	"github.com/veldt/crystal-backend/internal/platform/openai"
	"github.com/veldt/crystal-backend/internal/platform/redisdb"
	"github.com/veldt/crystal-backend/internal/resolve"
	"github.com/veldt/crystal-backend/internal/retrieval"
	"github.com/veldt/crystal-backend/internal/review"
	"github.com/veldt/crystal-backend/internal/scaffold"
	"github.com/veldt/crystal-backend/internal/server"
	"github.com/veldt/crystal-backend/internal/session"
)

type App struct {
	Log    *logger.Logger
	Store  graph.Store
	Router *gin.Engine
	Cfg    Config

	neo4j *neo4jdb.Client
	cache *redisdb.Cache
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	// Graph store: Neo4j when configured, otherwise the in-memory store.
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	var store graph.Store
	if neo4jClient != nil {
		n4j := graph.NewNeo4jStore(neo4jClient, log, cfg.EmbeddingDims)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := n4j.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
		store = n4j
		log.Info("Graph store: neo4j")
	} else {
		store = graph.NewMemoryStore()
		log.Warn("Graph store: in-memory (NEO4J_URI unset, data is volatile)")
	}

	cache, err := redisdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Redis init failed, caching disabled", "error", err)
		cache = nil
	}

	llm, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	gate := rategate.New(cfg.RateGate.Capacity, cfg.RateGate.RefillRate)

	// Services
	classifier := resolve.NewClassifier(llm, gate, cfg.ResolveOptions(), log)
	generator := retrieval.NewGenerator(store, log)
	reranker := retrieval.NewLLMReranker(llm, gate, log)
	orchestrator := retrieval.NewOrchestrator(generator, llm, reranker, cfg.RetrievalOptions(), log)
	engine := consolidate.NewEngine(store, classifier, cfg.ConsolidateOptions(), log)
	tracker := consolidate.NewTracker(log)
	ingestSvc := ingest.NewService(store, llm, llm, classifier, gate, cfg.IngestOptions(), log)
	reviewSvc := review.NewService(store, log)
	scaffoldSvc := scaffold.NewService(store, llm, gate, cache, log)
	sessionSvc := session.NewService(store, cache, cfg.SessionOptions(), log)
	exportSvc := export.NewService(store, log)

	router := server.NewRouter(server.RouterConfig{
		SessionHandler:     handlers.NewSessionHandler(sessionSvc),
		QueryHandler:       handlers.NewQueryHandler(orchestrator),
		IngestHandler:      handlers.NewIngestHandler(ingestSvc),
		CrystallizeHandler: handlers.NewCrystallizeHandler(engine, tracker),
		ReviewHandler:      handlers.NewReviewHandler(reviewSvc),
		ScaffoldHandler:    handlers.NewScaffoldHandler(scaffoldSvc),
		GraphHandler:       handlers.NewGraphHandler(store, exportSvc),
	})

	return &App{
		Log:    log,
		Store:  store,
		Router: router,
		Cfg:    cfg,
		neo4j:  neo4jClient,
		cache:  cache,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "addr", a.Cfg.Addr())
	return a.Router.Run(a.Cfg.Addr())
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Log.Warn("Redis close failed", "error", err)
		}
	}
	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.Log.Warn("Neo4j close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
