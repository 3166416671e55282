// Package main provides the cinedeck API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cinedeck/cinedeck/internal/artifact"
	"github.com/cinedeck/cinedeck/internal/config"
	"github.com/cinedeck/cinedeck/internal/deck"
	"github.com/cinedeck/cinedeck/internal/imaging"
	"github.com/cinedeck/cinedeck/internal/llm"
	"github.com/cinedeck/cinedeck/internal/observability"
	"github.com/cinedeck/cinedeck/internal/structure"
	"github.com/cinedeck/cinedeck/internal/task"
	"github.com/cinedeck/cinedeck/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "cinedeck-api",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("registry", cfg.Registry.Driver).
		Str("model", cfg.Content.Model).
		Msg("Starting cinedeck API")

	registry, err := newRegistry(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize task registry")
	}
	defer registry.Close()

	store, err := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.Retention, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize artifact store")
	}

	coordinator := newCoordinator(cfg, logger, registry, store)

	pool := worker.NewPool(coordinator, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	pool.Start(poolCtx)

	sweeperStop := make(chan struct{})
	go store.RunSweeper(cfg.Artifacts.SweepInterval, sweeperStop)

	router := NewRouter(logger, cfg, registry, pool, store)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	close(sweeperStop)
	pool.Stop()

	logger.Info().Msg("Server stopped")
}

// newRegistry selects the task registry backend from configuration.
func newRegistry(cfg *config.Config) (task.Registry, error) {
	opts := task.Options{
		TaskTTL:       cfg.Registry.TaskTTL,
		CancelFlagTTL: cfg.Registry.CancelFlagTTL,
	}
	if cfg.Registry.Driver == "redis" {
		return task.NewRedisRegistry(task.RedisConfig{
			Addr:     cfg.Registry.Redis.Addr,
			Password: cfg.Registry.Redis.Password,
			DB:       cfg.Registry.Redis.DB,
			PoolSize: cfg.Registry.Redis.PoolSize,
		}, opts)
	}
	return task.NewMemoryRegistry(opts), nil
}

// newCoordinator wires the pipeline stages from configuration.
func newCoordinator(cfg *config.Config, logger *observability.Logger, registry task.Registry, store *artifact.Store) *worker.Coordinator {
	llmClient := llm.NewClient(llm.Options{
		APIKey:      cfg.Content.APIKey,
		BaseURL:     cfg.Content.BaseURL,
		Model:       cfg.Content.Model,
		Temperature: cfg.Content.Temperature,
		MaxTokens:   cfg.Content.MaxTokens,
		Timeout:     cfg.Content.Timeout,
	})
	structurer := structure.New(llmClient, logger, cfg.Pipeline.StructureRetries)

	searchClient := imaging.NewSearchClient(imaging.SearchOptions{
		APIKey:     cfg.ImageSearch.APIKey,
		URL:        cfg.ImageSearch.URL,
		MaxResults: cfg.ImageSearch.MaxResults,
		Timeout:    cfg.ImageSearch.Timeout,
	})
	genClient := imaging.NewGenClient(imaging.GenOptions{
		URL:     cfg.ImageGen.URL,
		Model:   cfg.ImageGen.Model,
		Timeout: cfg.ImageGen.Timeout,
	})

	builder := deck.NewPPTXBuilder(logger)

	// The per-call resolver context must outlast the slower client's own
	// timeout or slow generations would exhaust the fallback chain.
	callTimeout := cfg.ImageGen.Timeout
	if cfg.ImageSearch.Timeout > callTimeout {
		callTimeout = cfg.ImageSearch.Timeout
	}

	return worker.NewCoordinator(worker.CoordinatorOptions{
		Registry:   registry,
		Structurer: structurer,
		NewResolver: func() worker.ImageResolver {
			// Each task gets its own resolver so the dedup scope never
			// crosses task boundaries.
			return imaging.NewResolver(imaging.ResolverOptions{
				Search:      searchClient,
				Generate:    genClient,
				Logger:      logger,
				CallTimeout: callTimeout,
			})
		},
		Builder:          builder,
		Store:            store,
		Logger:           logger,
		MaxInputChars:    cfg.Pipeline.MaxInputChars,
		DefaultMaxSlides: cfg.Pipeline.DefaultMaxSlides,
		ImageParallelism: cfg.Pipeline.ImageParallelism,
	})
}
