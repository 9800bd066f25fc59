package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/db"
	"github.com/cec-lip/lipd/internal/db/models"
	"github.com/cec-lip/lipd/internal/httpapi"
	"github.com/cec-lip/lipd/internal/kv"
	"github.com/cec-lip/lipd/internal/metrics"
	"github.com/cec-lip/lipd/internal/pprof"
	"github.com/cec-lip/lipd/internal/pubsub"
	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const staleCacheBlobAge = 30 * 24 * time.Hour

// NewCommand builds the root "lipd" command: serving is the default
// action, with "dashboard" as a small companion subcommand, mirroring
// the teacher's single cobra.Command wired through configulator.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lipd",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(newDashboardCommand())
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("lipd - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		if err := cleanup(ctx); err != nil {
			slog.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	scheduler, err := setupScheduler()
	if err != nil {
		return err
	}

	database, err := db.MakeDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	setupMaintenanceJobs(database, scheduler)
	scheduler.Start()

	kvStore, err := kv.MakeKV(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to key-value store: %w", err)
	}

	pubsubClient, err := pubsub.MakePubSub(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to pubsub: %w", err)
	}

	transport, busCloser, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("failed to build bus: %w", err)
	}

	node, err := openNode(cfg, database, pubsubClient, transport)
	if err != nil {
		return fmt.Errorf("failed to open LIP node: %w", err)
	}

	startBackgroundServices(cfg)

	httpServer := httpapi.MakeServer(cfg, node, pubsubClient)

	// g orchestrates the HTTP listener against the shutdown sequence,
	// the way the teacher's main.go orchestrates its HBRP/OpenBridge
	// listeners against its own errgroup.Group: both halves report
	// through the same group, so a failure in either one unwinds the
	// whole startup rather than leaving a half-running process.
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return waitForShutdown(gCtx, scheduler, node, httpServer, kvStore, pubsubClient, busCloser)
	})

	slog.Info("lipd ready", "own_addr", cfg.Node.OwnAddr, "downstream_addr", cfg.Node.DownstreamAddr)

	return g.Wait()
}

// loadConfig loads the configuration from context.
func loadConfig(ctx context.Context) (*config.Config, error) {
	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from context: %w", err)
	}

	cfg, err := c.LoadWithoutValidation()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// setupLogger configures the structured logger.
func setupLogger(cfg *config.Config) {
	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
}

// setupScheduler creates and configures the job scheduler.
func setupScheduler() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return scheduler, nil
}

// setupTracing initializes OpenTelemetry tracing if configured. When
// tracing is not configured it returns a no-op cleanup function.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

// startBackgroundServices starts metrics and pprof servers.
func startBackgroundServices(cfg *config.Config) {
	go func() {
		err := metrics.CreateMetricsServer(cfg)
		if err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()
	go func() {
		err := pprof.CreatePProfServer(cfg)
		if err != nil {
			slog.Error("Failed to start pprof server", "error", err)
		}
	}()
}

// setupMaintenanceJobs schedules the one periodic job this daemon
// needs: pruning cache-blob rows for downstream identities this node
// hasn't reported under in a long time, modelled on the teacher's daily
// repeater/user-database refresh job but over our own domain's one
// piece of accumulating state. It runs once a day at 03:00; there is
// no immediate run at startup.
func setupMaintenanceJobs(database *gorm.DB, scheduler gocron.Scheduler) {
	prune := func() {
		cutoff := time.Now().Add(-staleCacheBlobAge)
		n, err := models.PruneStaleCacheBlobs(database, cutoff)
		if err != nil {
			slog.Error("Failed to prune stale cache blobs", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Pruned stale cache blobs", "count", n)
		}
	}

	_, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(prune),
	)
	if err != nil {
		slog.Error("Failed to schedule cache blob pruning", "error", err)
	}
}

// waitForShutdown blocks until ctx is cancelled (the HTTP listener in
// the other errgroup goroutine failed) or SIGINT/SIGTERM/SIGQUIT/SIGHUP
// is received, then performs an orderly shutdown of every long-lived
// component this command started, returning once all of them have
// stopped or the shutdown timeout elapses. Tracer cleanup is handled by
// runRoot's own deferred call once g.Wait() returns, not here.
func waitForShutdown(
	ctx context.Context,
	scheduler gocron.Scheduler,
	node *core.Node,
	httpServer httpapi.Server,
	kvStore kv.KV,
	pubsubClient pubsub.PubSub,
	busCloser interface{ Close() error },
) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down due to signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Shutting down due to component failure")
	}

	wg := new(sync.WaitGroup)
	const timeout = 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.StopJobs(); err != nil {
			slog.Error("Failed to stop scheduler jobs", "error", err)
		}
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("Failed to stop scheduler", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			slog.Error("Failed to stop HTTP server", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		node.Close()
		if err := busCloser.Close(); err != nil {
			slog.Error("Failed to close bus", "error", err)
		}
		if err := pubsubClient.Close(); err != nil {
			slog.Error("Failed to close pubsub", "error", err)
		}
		if err := kvStore.Close(); err != nil {
			slog.Error("Failed to close kv", "error", err)
		}
	}()

	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		slog.Info("All components stopped, shutting down gracefully")
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timed out")
	}
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "lipd"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resources: %w", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}
