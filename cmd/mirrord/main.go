// Mirrord is a document materialization and store reconciliation daemon.
//
// It chunks incoming documents, writes them to an authoritative vector store
// and a secondary mirror store, and keeps the two convergent with periodic
// reconciliation runs.
//
// Configuration is loaded from ~/.config/mirrord/config.yaml and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	mirrord
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9040 VECTORSTORE_PROVIDER=qdrant mirrord
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/config"
	"github.com/fyrsmithlabs/mirrord/internal/embeddings"
	mirrordhttp "github.com/fyrsmithlabs/mirrord/internal/http"
	"github.com/fyrsmithlabs/mirrord/internal/logging"
	"github.com/fyrsmithlabs/mirrord/internal/materializer"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/qdrant"
	"github.com/fyrsmithlabs/mirrord/internal/reconciler"
	"github.com/fyrsmithlabs/mirrord/internal/telemetry"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/mirrord/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mirrord           Start the mirrord daemon\n")
			fmt.Fprintf(os.Stderr, "  mirrord version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("mirrord by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the mirrord daemon and blocks until context is cancelled.
//
// It initializes all dependencies in order:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens the mirror store and the vector store
//  4. Creates the embedding provider
//  5. Wires the materializer and reconciler services
//  6. Starts the reconciliation scheduler and the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting mirrord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("sync_interval", cfg.Sync.Interval))

	tel, err := telemetry.Setup("mirrord", version)
	if err != nil {
		logger.Warn("telemetry degraded, metrics will not be exported", zap.Error(err))
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Stores and embedding provider.
	mirrorStore, err := mirror.NewSQLiteStore(cfg.Mirror.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open mirror store: %w", err)
	}
	defer mirrorStore.Close()

	provider, err := embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey,
		Model:     cfg.Embeddings.Model,
		ChatModel: cfg.Embeddings.ChatModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer provider.Close()

	vectors, err := vectorstore.NewStore(
		cfg.VectorStore.Provider,
		vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			Collection: cfg.VectorStore.Chromem.Collection,
			VectorSize: cfg.VectorStore.Chromem.VectorSize,
		},
		vectorstore.QdrantConfig{
			Collection: cfg.Qdrant.Collection,
			VectorSize: cfg.Qdrant.VectorSize,
		},
		&qdrant.ClientConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			UseTLS: cfg.Qdrant.UseTLS,
			APIKey: cfg.Qdrant.APIKey,
		},
		provider,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector collection: %w", err)
	}

	// Business services.
	docs, err := materializer.NewService(&materializer.Config{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	}, mirrorStore, vectors, logger)
	if err != nil {
		return fmt.Errorf("failed to create materializer: %w", err)
	}
	defer docs.Close()

	rec, err := reconciler.NewService(vectors, mirrorStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	defer rec.Close()

	scheduler := reconciler.NewScheduler(ctx, rec, reconciler.SchedulerConfig{
		Interval:      cfg.Sync.Interval,
		RemoveOrphans: cfg.Sync.RemoveOrphans,
	}, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server.
	metrics := mirrordhttp.NewHTTPMetrics(logger)

	var generator embeddings.Generator
	if g, ok := provider.(embeddings.Generator); ok {
		generator = g
	}

	srv, err := mirrordhttp.NewServer(docs, mirrorStore, vectors, rec, scheduler, generator, logger, &mirrordhttp.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	srv.Echo().Use(metrics.MetricsMiddleware())
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}
