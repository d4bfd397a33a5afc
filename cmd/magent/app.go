package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/config"
	"github.com/xxxsen/magent/internal/db"
	"github.com/xxxsen/magent/internal/embedcache"
	"github.com/xxxsen/magent/internal/filestore"
	"github.com/xxxsen/magent/internal/handler"
	"github.com/xxxsen/magent/internal/ingest"
	"github.com/xxxsen/magent/internal/intent"
	"github.com/xxxsen/magent/internal/job"
	"github.com/xxxsen/magent/internal/middleware"
	"github.com/xxxsen/magent/internal/repo"
	"github.com/xxxsen/magent/internal/retrieval"
	"github.com/xxxsen/magent/internal/schedule"
	"github.com/xxxsen/magent/internal/service"
	"github.com/xxxsen/magent/internal/tools"
)

type app struct {
	db            *sql.DB
	redis         *redis.Client
	mcp           []*tools.MCPProvider
	cacheRepo     *repo.EmbeddingCacheRepo
	ingest        *service.IngestService
	conversations *service.ConversationService
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{db: conn}

	manager, err := ai.Build(cfg.AI)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
	embedder := manager.Embedder()
	if cfg.EmbedCache.EnableDB {
		embedder = embedcache.WrapDB(embedder, a.cacheRepo)
	}
	if cfg.EmbedCache.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.EmbedCache.Redis.Addr,
			Password: cfg.EmbedCache.Redis.Password,
			DB:       cfg.EmbedCache.Redis.DB,
		})
		embedder = embedcache.WrapRedis(embedder, a.redis, time.Duration(cfg.EmbedCache.RedisTTLHours)*time.Hour)
	}
	embedder = embedcache.WrapLRU(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTLSeconds)*time.Second)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}

	docRepo := repo.NewDocumentRepo(conn)
	chunkRepo := repo.NewChunkRepo(conn)
	toolRepo := repo.NewToolRepo(conn)

	pipeline := ingest.NewPipeline(embedder, ingest.WithEmbedRate(cfg.Ingest.EmbedRPS))
	a.ingest = service.NewIngestService(docRepo, chunkRepo, store, pipeline, cfg.Ingest.MaxFileSize)

	registry := tools.NewRegistry()
	for _, srv := range cfg.ToolServers {
		p, err := tools.NewMCPProvider(tools.MCPConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			URL:       srv.URL,
			Command:   srv.Command,
			Args:      srv.Args,
			Env:       srv.Env,
			Headers:   srv.Headers,
			Kinds:     srv.Kinds,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init tool server %s: %w", srv.Name, err)
		}
		registry.Register(p)
		a.mcp = append(a.mcp, p)
	}
	if len(a.mcp) > 0 {
		n, err := registry.Sync(ctx, toolRepo)
		if err != nil {
			logger.Warn("tool catalogue sync incomplete", zap.Error(err))
		}
		logger.Info("tool catalogue synced", zap.Int("tools", n))
	}

	engine := retrieval.NewEngine(chunkRepo, repo.NewProfileRepo(conn), repo.NewPlaybookRepo(conn),
		retrieval.WithBaseConfig(cfg.Retrieval),
		retrieval.WithTokenCounter(retrieval.NewTokenCounter(cfg.AI.Chat[0].Model)),
	)
	a.conversations = service.NewConversationService(service.ConversationDeps{
		Agents:     repo.NewAgentRepo(conn),
		Tools:      toolRepo,
		Messages:   repo.NewMessageRepo(conn),
		Chunks:     chunkRepo,
		Classifier: intent.NewClassifier(manager.ClassifierModel()),
		Retriever:  engine,
		Runner: tools.NewExecutor(registry,
			tools.WithParallel(cfg.Conversation.ParallelTools),
			tools.WithMaxCalls(cfg.Conversation.MaxToolCalls),
		),
		Chat:       manager.ChatModel(),
		ChatModels: manager,
		Embedder:   embedder,
	}, service.WithHistoryLimit(cfg.Conversation.HistoryLimit))
	return a, nil
}

func (a *app) Close() {
	for _, p := range a.mcp {
		_ = p.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) scheduler(cfg *config.Config) (*schedule.CronScheduler, error) {
	s := schedule.NewCronScheduler()
	if cfg.Jobs.PendingIngestSpec != "" {
		if err := s.AddJob(job.NewPendingIngestJob(a.ingest, cfg.Ingest.BatchSize), cfg.Jobs.PendingIngestSpec); err != nil {
			return nil, err
		}
	}
	if cfg.EmbedCache.EnableDB && cfg.Jobs.CacheCleanupSpec != "" {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.EmbedCache.MaxAgeDays)
		if err := s.AddJob(cleanup, cfg.Jobs.CacheCleanupSpec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runServer(cfg *config.Config, a *app) error {
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Int("tool_servers", len(cfg.ToolServers)),
	)

	deps := handler.RouterDeps{
		Ingest:        handler.NewIngestHandler(a.ingest),
		Conversations: handler.NewConversationHandler(a.conversations),
		JWTSecret:     []byte(cfg.JWTSecret),
		RateLimit:     time.Duration(cfg.RateLimitMs) * time.Millisecond,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := a.scheduler(cfg)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
