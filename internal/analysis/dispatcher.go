package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
)

// Dispatcher polls the store for pending mentions, claims them in batches,
// and fans each batch out to a bounded worker group. Claim-then-process
// keeps crash recovery trivial: a worker that dies leaves a claimed row
// for the janitor to reap.
type Dispatcher struct {
	store    storage.Storage
	pipeline *Pipeline
	cfg      *config.Config
	log      *zap.Logger
	metrics  *telemetry.PipelineMetrics
}

func NewDispatcher(store storage.Storage, pipeline *Pipeline, cfg *config.Config, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log.Named("dispatcher"),
		metrics:  telemetry.Pipeline(),
	}
}

// Run polls until ctx is cancelled. Workers in flight are awaited before
// returning; each either commits its mention or marks it failed.
func (d *Dispatcher) Run(ctx context.Context) error {
	// A plain group, not WithContext: workers never return errors, and a
	// single bad mention must not stop the loop.
	group := new(errgroup.Group)
	limit := d.cfg.GetInt(ctx, "processing.parallel.max_workers")
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	interval := d.cfg.Seconds(ctx, "processing.poll_interval_seconds")
	d.log.Info("dispatcher started",
		zap.Duration("poll_interval", interval),
		zap.Int("max_workers", limit))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			group.Wait()
			d.log.Info("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.dispatchBatch(ctx, group)
		}
	}
}

// dispatchBatch claims one batch and hands every mention to the group.
// group.Go blocks once all worker slots are busy, which is the only
// backpressure the loop needs.
func (d *Dispatcher) dispatchBatch(ctx context.Context, group *errgroup.Group) {
	if ctx.Err() != nil {
		return
	}
	batch, err := d.store.ClaimPending(ctx, d.cfg.GetInt(ctx, "processing.parallel.batch_size"))
	if err != nil {
		d.log.Error("claim failed", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}
	d.metrics.ClaimBatch(ctx, len(batch))
	bc := d.pipeline.BatchContextFor(batch)
	d.log.Debug("batch claimed", zap.Int("mentions", len(batch)))
	for _, m := range batch {
		group.Go(func() error {
			d.pipeline.Process(ctx, m, bc)
			return nil
		})
	}
}
