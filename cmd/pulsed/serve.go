package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediapulse/pulse/internal/aggregate"
	"github.com/mediapulse/pulse/internal/analysis"
	"github.com/mediapulse/pulse/internal/classifier"
	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/ingest"
	"github.com/mediapulse/pulse/internal/issues"
	"github.com/mediapulse/pulse/internal/logging"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/storage/mysql"
	"github.com/mediapulse/pulse/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring daemon until signalled",
	Long: `Starts every pipeline loop in one process: source collectors and
dataset tailers, the analysis worker pool, the stale-claim janitor, the
issue engine, and the aggregation ticker. SIGINT or SIGTERM begins a
graceful drain bounded by shutdown.grace_seconds.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// storeConfig adapts the storage layer to the config override lookup.
// Missing keys surface as config.ErrNotSet.
type storeConfig struct {
	store storage.Storage
}

func (s storeConfig) GetConfig(ctx context.Context, key string) (string, error) {
	val, err := s.store.GetConfig(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", config.ErrNotSet
	}
	return val, err
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The config file names the log destination, so it is read once with a
	// throwaway logger and again with the real one attached.
	boot, err := config.Load(cfgFile, nil)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:      boot.GetString(ctx, "log.level"),
		File:       boot.GetString(ctx, "log.file"),
		MaxSizeMB:  boot.GetInt(ctx, "log.max_size_mb"),
		MaxBackups: boot.GetInt(ctx, "log.max_backups"),
		MaxAgeDays: boot.GetInt(ctx, "log.max_age_days"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(cfgFile, log)
	if err != nil {
		return err
	}

	log.Info("pulsed starting",
		zap.String("version", Version),
		zap.String("config", cfgFile))

	if err := telemetry.Init(ctx, "pulsed", Version); err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(flushCtx)
	}()

	dsn := cfg.GetString(ctx, "store.dsn")
	if dsn == "" {
		return errors.New("store.dsn is required (or set PULSE_STORE_DSN)")
	}
	store, err := mysql.Open(ctx, &mysql.Config{
		DSN:          dsn,
		MaxOpenConns: cfg.GetInt(ctx, "store.max_open_conns"),
		MaxIdleConns: cfg.GetInt(ctx, "store.max_idle_conns"),
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cfg.AttachStore(storeConfig{store: store})
	if err := cfg.Watch(ctx); err != nil {
		return err
	}

	limiter := classifier.NewLimiter(cfg, log)
	ai, err := classifier.NewOpenAIClient(cfg, limiter, log)
	if err != nil {
		return err
	}
	var summarizer classifier.Summarizer
	if sum, err := classifier.NewAnthropicSummarizer(cfg, limiter, log); err != nil {
		log.Warn("issue labels fall back to keywords", zap.Error(err))
	} else {
		summarizer = sum
	}

	gaz := &analysis.Gazetteer{}
	if path := cfg.GetString(ctx, "locations.file"); path != "" {
		gaz, err = analysis.LoadGazetteer(path)
		if err != nil {
			return err
		}
	}
	if path := cfg.GetString(ctx, "topics.file"); path != "" {
		topics, err := analysis.LoadTaxonomy(path)
		if err != nil {
			return err
		}
		if err := analysis.SeedTopics(ctx, store, ai, topics, log); err != nil {
			return err
		}
	}

	engine := issues.NewEngine(store, summarizer, cfg, log)
	pipeline := analysis.NewPipeline(store, ai, ai, engine, gaz, cfg, log)
	dispatcher := analysis.NewDispatcher(store, pipeline, cfg, log)
	janitor := analysis.NewJanitor(store, cfg, log)
	aggregator := aggregate.NewAggregator(store, cfg, log)
	writer := ingest.NewWriter(store, cfg, log)

	g, gctx := errgroup.WithContext(ctx)

	if path := cfg.GetString(ctx, "collectors.registry_file"); path != "" {
		sources, err := ingest.LoadRegistry(ctx, path, cfg, log)
		if err != nil {
			return err
		}
		if len(sources) > 0 {
			scheduler := ingest.NewScheduler(sources, writer, store, cfg, log)
			g.Go(func() error { return scheduler.Run(gctx) })
		}
		datasets, err := ingest.LoadDatasets(path, log)
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			tailer := ingest.NewTailer(ds, writer, store, cfg, log)
			g.Go(func() error { return tailer.Run(gctx) })
		}
	} else {
		log.Info("no source registry configured, ingest loops idle")
	}

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return aggregator.Run(gctx) })

	log.Info("pulsed running")

	<-gctx.Done()
	stop() // a second signal kills the process the default way

	grace := cfg.Seconds(context.Background(), "shutdown.grace_seconds")
	log.Info("shutting down", zap.Duration("grace", grace))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("pulsed stopped", zap.Error(err))
			return err
		}
		log.Info("pulsed stopped")
		return nil
	case <-timer.C:
		log.Error("shutdown grace expired with loops still running")
		return errors.New("shutdown timed out")
	}
}
