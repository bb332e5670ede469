package classifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mediapulse/pulse/internal/config"
)

// Limiter is a bank of token buckets keyed by model id. Budgets are
// tokens per minute, read from ai.tpm.<model> with ai.default_tpm as the
// fallback; a bucket holds at most one minute of budget and starts full.
type Limiter struct {
	cfg *config.Config
	log *zap.Logger

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates an empty bank. Buckets are built on first use so
// per-model budget overrides added at runtime are picked up.
func NewLimiter(cfg *config.Config, log *zap.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		log:     log.Named("ratelimit"),
		buckets: make(map[string]*rate.Limiter),
		sleep:   sleepCtx,
	}
}

// Acquire blocks until the model's bucket can cover the estimated token
// cost of one call. Waiting happens in one second steps so shutdown is
// never stalled behind a long reservation. Requests larger than a full
// bucket are capped to the bucket size rather than deadlocking.
func (l *Limiter) Acquire(ctx context.Context, model string, tokens int) error {
	lim := l.bucket(ctx, model)
	if tokens < 1 {
		tokens = 1
	}
	if burst := lim.Burst(); tokens > burst {
		tokens = burst
	}
	for waited := 0; ; waited++ {
		if lim.AllowN(time.Now(), tokens) {
			if waited > 0 {
				l.log.Debug("token budget available",
					zap.String("model", model),
					zap.Int("tokens", tokens),
					zap.Int("waited_seconds", waited))
			}
			return nil
		}
		if err := l.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

func (l *Limiter) bucket(ctx context.Context, model string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.buckets[model]; ok {
		return lim
	}
	tpm := l.cfg.GetInt(ctx, "ai.tpm."+model)
	if tpm <= 0 {
		tpm = l.cfg.GetInt(ctx, "ai.default_tpm")
	}
	if tpm <= 0 {
		tpm = 60
	}
	lim := rate.NewLimiter(rate.Limit(float64(tpm)/60), tpm)
	l.buckets[model] = lim
	return lim
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
