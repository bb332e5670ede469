package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
)

// Janitor returns mentions stuck in processing to the pending pool. A
// claim goes stale when its worker died mid-phase or the process was
// killed between claim and commit.
type Janitor struct {
	store storage.Storage
	cfg   *config.Config
	log   *zap.Logger
}

func NewJanitor(store storage.Storage, cfg *config.Config, log *zap.Logger) *Janitor {
	return &Janitor{store: store, cfg: cfg, log: log.Named("janitor")}
}

// Run sweeps at half the stale threshold so a claim is reaped at most one
// and a half thresholds after it was taken.
func (j *Janitor) Run(ctx context.Context) error {
	stale := j.cfg.Seconds(ctx, "processing.timeouts.stale_claim_seconds")
	ticker := time.NewTicker(stale / 2)
	defer ticker.Stop()

	j.log.Info("janitor started", zap.Duration("stale_after", stale))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx, stale)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, stale time.Duration) {
	n, err := j.store.ReapStaleClaims(ctx, stale)
	if err != nil {
		j.log.Error("reap failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Warn("stale claims returned to pending", zap.Int64("count", n))
	}
}
