package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/config"
	"github.com/chatforge/ragpipe/internal/convo"
	"github.com/chatforge/ragpipe/internal/embed"
	"github.com/chatforge/ragpipe/internal/filestore"
	"github.com/chatforge/ragpipe/internal/handler"
	"github.com/chatforge/ragpipe/internal/ingest"
	"github.com/chatforge/ragpipe/internal/job"
	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/repo"
	"github.com/chatforge/ragpipe/internal/respcache"
	"github.com/chatforge/ragpipe/internal/schedule"
	"github.com/chatforge/ragpipe/internal/service"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragpipe",
		Short: "ragpipe retrieval-augmented conversation server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run ragpipe server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logutil.Init(cfg.LogConfig); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildGenerator(cfg *config.Config, health *handler.HealthHandler) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(cfg.AI.Generators))
	for _, pc := range cfg.AI.Generators {
		provider, err := ai.NewProvider(pc.Provider, pc.Args)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", pc.Provider, err)
		}
		health.WithGenProvider(provider)
		entries = append(entries, ai.GeneratorEntry{
			Name:      pc.Provider + "/" + pc.Model,
			Generator: ai.NewGenerator(provider, pc.Model),
		})
	}
	return ai.NewGroupGenerator(entries), nil
}

func buildEmbedder(cfg *config.Config, health *handler.HealthHandler) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embedders))
	for _, pc := range cfg.AI.Embedders {
		provider, err := ai.NewEmbedProvider(pc.Provider, pc.Args)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", pc.Provider, err)
		}
		health.WithEmbedProvider(provider)
		entries = append(entries, ai.EmbedderEntry{
			Name:     pc.Provider + "/" + pc.Model,
			Embedder: ai.NewEmbedder(provider, pc.Model),
		})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if cfg.AI.EmbedCacheSize > 0 {
		embedder = embed.WrapLRU(embedder, cfg.AI.EmbedCacheSize, time.Hour)
	}
	return embedder, nil
}

func buildLimiter(cfg *config.Config, store limiter.Store) *limiter.Limiter {
	toRule := func(r config.RateLimitRule) limiter.Rule {
		return limiter.Rule{
			Limit:       r.Limit,
			Window:      r.Window(),
			Burst:       r.Burst,
			BurstWindow: r.BurstWindow(),
		}
	}
	rules := make(map[string]limiter.Rule, len(cfg.RateLimit.Rules))
	for class, r := range cfg.RateLimit.Rules {
		rules[class] = toRule(r)
	}
	return limiter.New(store, toRule(cfg.RateLimit.Default), rules)
}

func runServer(cfg *config.Config, db *sqlx.DB) error {
	ctx := context.Background()
	logutil.GetLogger(ctx).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
	)

	docRepo := repo.NewDocumentRepo(db)
	convRepo := repo.NewConversationRepo(db)
	msgRepo := repo.NewMessageRepo(db)
	cacheRepo := repo.NewResponseCacheRepo(db)

	healthHandler := handler.NewHealthHandler(db)

	generator, err := buildGenerator(cfg, healthHandler)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(cfg, healthHandler)
	if err != nil {
		return err
	}
	embedClient := embed.NewClient(embedder, ai.DefaultRetryPolicy(), embed.ClientConfig{
		BatchSize:   cfg.AI.EmbedBatchSize,
		Parallelism: cfg.AI.EmbedParallelism,
		RatePerSec:  cfg.AI.EmbedRatePerSec,
	})

	vectors, err := vectorstore.NewPostgresStore(db, embedClient.ModelName(), cfg.AI.Dims)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	files, err := filestore.New(cfg.FileStore.Type, cfg.FileStore.Args)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	respCache := respcache.New(cacheRepo, cfg.Cache.L1Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	chunker := ai.NewChunker(cfg.Pipeline.ChunkMaxTokens, cfg.Pipeline.ChunkOverlap)
	pipeline := ingest.New(docRepo, files, chunker, embedClient, vectors, respCache, ingest.Config{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		MaxBodySize:   cfg.Pipeline.MaxBodySize,
	})

	contexts, err := convo.New(msgRepo, cfg.Pipeline.ConvoWindow, cfg.Pipeline.ConvoCacheSize)
	if err != nil {
		return fmt.Errorf("init context store: %w", err)
	}

	rateStore := limiter.NewPostgresStore(db)
	limits := buildLimiter(cfg, rateStore)

	ragService := service.NewRagService(convRepo, contexts, embedClient, vectors,
		generator, ai.DefaultRetryPolicy(), respCache, limits, service.RagConfig{
			TopK:          cfg.Retrieval.TopK,
			Threshold:     cfg.Retrieval.Threshold,
			PromptBudget:  cfg.Pipeline.PromptBudget,
			AnswerTimeout: time.Duration(cfg.Retrieval.AnswerTimeoutSecs) * time.Second,
		})
	healthHandler.SetService(ragService)

	scheduler := schedule.New()
	if err := scheduler.Add(cfg.Jobs.CacheCleanupSpec, job.NewCacheCleanupJob(respCache, rateStore, 0)); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}
	stuckCutoff := time.Duration(cfg.Pipeline.StuckCutoffMins) * time.Minute
	if err := scheduler.Add(cfg.Jobs.IngestRecoverySpec, job.NewIngestRecoveryJob(pipeline, stuckCutoff)); err != nil {
		return fmt.Errorf("schedule ingest recovery: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	engine := handler.NewRouter(handler.RouterConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		Limiter:   limits,
	},
		handler.NewChatHandler(ragService),
		handler.NewDocumentHandler(pipeline),
		handler.NewSearchHandler(ragService),
		healthHandler,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(ctx).Error("server error", zap.Error(err))
		}
	}()

	<-sigctx.Done()
	logutil.GetLogger(ctx).Info("server stopping...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logutil.GetLogger(ctx).Warn("server shutdown", zap.Error(err))
	}
	pipeline.Wait()
	return nil
}
