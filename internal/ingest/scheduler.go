package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
)

// scanInterval is how often the scheduler checks for due sources. Source
// intervals are multiples of seconds, so a 1s scan never skews a schedule
// by more than one tick.
const scanInterval = time.Second

const lastSuccessKeyFormat = "collector:%s:last_success"

// sourceState is the scheduler's book-keeping for one source. Guarded by
// Scheduler.mu; the run goroutine copies what it needs before starting.
type sourceState struct {
	nextDue     time.Time
	lastSuccess time.Time
	failures    int
	degraded    bool
	running     bool
}

// Scheduler runs registered collectors on their intervals, windows each run
// to avoid gaps between runs, and degrades sources that keep failing so one
// broken fetcher cannot monopolize the worker pool with long lookbacks.
type Scheduler struct {
	sources []ScheduledSource
	writer  *Writer
	store   storage.Storage
	cfg     *config.Config
	log     *zap.Logger
	metrics *telemetry.PipelineMetrics

	mu    sync.Mutex
	state map[string]*sourceState

	// now is swapped in tests to drive window arithmetic.
	now func() time.Time
}

// NewScheduler builds a scheduler over the registered sources. Last-success
// marks are restored from the store so restarts resume their windows
// instead of re-fetching the full lookback.
func NewScheduler(sources []ScheduledSource, writer *Writer, store storage.Storage, cfg *config.Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		sources: sources,
		writer:  writer,
		store:   store,
		cfg:     cfg,
		log:     log.Named("scheduler"),
		metrics: telemetry.Pipeline(),
		state:   make(map[string]*sourceState, len(sources)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run drives the schedule until ctx is cancelled. In-flight collector runs
// are awaited before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	limit := s.cfg.GetInt(ctx, "collectors.max_workers")
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	s.log.Info("scheduler started",
		zap.Int("sources", len(s.sources)),
		zap.Int("max_workers", limit))

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			err := group.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(groupCtx, group)
		}
	}
}

// restore loads persisted last-success marks. A missing mark means the
// source has never completed a run.
func (s *Scheduler) restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, src := range s.sources {
		name := src.Collector.Name()
		st := &sourceState{nextDue: now}
		raw, err := s.store.GetConfig(ctx, fmt.Sprintf(lastSuccessKeyFormat, name))
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return fmt.Errorf("restore collector state: %w", err)
		default:
			ts, perr := time.Parse(time.RFC3339, raw)
			if perr != nil {
				s.log.Warn("ignoring unreadable last-success mark",
					zap.String("source", name), zap.String("value", raw))
			} else {
				st.lastSuccess = ts.UTC()
			}
		}
		s.state[name] = st
	}
	return nil
}

// dispatchDue starts a run for every due, idle source. TryGo keeps the scan
// non-blocking: when all workers are busy the source stays due and is
// picked up on a later scan.
func (s *Scheduler) dispatchDue(ctx context.Context, group *errgroup.Group) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		st := s.state[src.Collector.Name()]
		if st.running || now.Before(st.nextDue) {
			continue
		}
		src := src
		if group.TryGo(func() error {
			s.runOnce(ctx, src)
			return nil
		}) {
			st.running = true
		}
	}
}

// runOnce executes one collect-and-ingest cycle for a source.
func (s *Scheduler) runOnce(ctx context.Context, src ScheduledSource) {
	name := src.Collector.Name()
	log := s.log.With(zap.String("source", name))
	started := s.now()

	policy := s.runtimePolicy(ctx, name, src.Policy)
	from, to, degraded := s.window(name, policy, started)
	queries := s.queries(ctx, src)
	log.Debug("collector run starting",
		zap.Time("from", from), zap.Time("to", to), zap.Bool("degraded", degraded))

	// Only the fetch gets the short deadline. Ingest runs on the parent
	// context so collected items are not dropped by a slow fetch budget.
	collectCtx, cancel := context.WithTimeout(ctx, s.cfg.Seconds(ctx, "processing.timeouts.collector_seconds"))
	items, err := src.Collector.Collect(collectCtx, queries, from, to, policy.ItemCap)
	cancel()
	if err != nil {
		s.finish(ctx, src, started, err)
		return
	}

	batch, err := s.writer.IngestRaw(ctx, items, src.Collector.Source())
	if err != nil {
		s.finish(ctx, src, started, err)
		return
	}

	log.Info("collector run finished",
		zap.Int("fetched", len(items)),
		zap.Int("inserted", batch.Inserted),
		zap.Int("updated", batch.Updated),
		zap.Int("rejected", batch.Rejected),
		zap.Duration("elapsed", s.now().Sub(started)))
	s.metrics.CollectorRun(ctx, name, len(items), nil)
	s.finish(ctx, src, started, nil)
}

// runtimePolicy overlays the per-source config keys on the registry policy,
// so operators can retune a feed's windowing without a restart. Missing or
// zero keys keep the registry value.
func (s *Scheduler) runtimePolicy(ctx context.Context, name string, p SourcePolicy) SourcePolicy {
	prefix := "collectors." + name + "."
	if d := s.cfg.GetInt(ctx, prefix+"lookback_days"); d > 0 {
		p.Lookback = time.Duration(d) * 24 * time.Hour
	}
	if d := s.cfg.GetInt(ctx, prefix+"max_lookback_days"); d > 0 {
		p.MaxLookback = time.Duration(d) * 24 * time.Hour
	}
	if h := s.cfg.GetInt(ctx, prefix+"overlap_hours"); h > 0 {
		p.Overlap = time.Duration(h) * time.Hour
	}
	if p.MaxLookback < p.Lookback {
		p.MaxLookback = p.Lookback
	}
	return p
}

// queries resolves the search terms for one run. A collectors.<name>.keywords
// override wins; the registry query string is the fallback.
func (s *Scheduler) queries(ctx context.Context, src ScheduledSource) []string {
	if kw := s.cfg.GetStringSlice(ctx, "collectors."+src.Collector.Name()+".keywords"); len(kw) > 0 {
		return kw
	}
	if q := src.Collector.Source().Query; q != "" {
		return []string{q}
	}
	return nil
}

// window computes the fetch range for a run starting at now.
func (s *Scheduler) window(name string, policy SourcePolicy, now time.Time) (from, to time.Time, degraded bool) {
	s.mu.Lock()
	st := s.state[name]
	lastSuccess, degraded := st.lastSuccess, st.degraded
	s.mu.Unlock()

	to = now
	switch {
	case degraded:
		// Degraded sources fetch a fixed recent window. Catch-up resumes
		// once a run succeeds and the lookback clip applies again.
		from = now.Add(-policy.Interval)
	case lastSuccess.IsZero():
		from = now.Add(-policy.Lookback)
	default:
		from = lastSuccess.Add(-policy.Overlap)
	}
	if floor := now.Add(-policy.MaxLookback); from.Before(floor) && !degraded {
		from = floor
	}
	if from.After(to) {
		from = to
	}
	return from, to, degraded
}

// finish updates source state after a run and schedules the next one.
func (s *Scheduler) finish(ctx context.Context, src ScheduledSource, started time.Time, runErr error) {
	name := src.Collector.Name()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[name]
	st.running = false
	st.nextDue = now.Add(src.Policy.Interval)

	if runErr != nil {
		st.failures++
		s.metrics.CollectorRun(ctx, name, 0, runErr)
		limit := s.cfg.GetInt(ctx, "collectors.consecutive_failure_limit")
		if !st.degraded && limit > 0 && st.failures >= limit {
			st.degraded = true
			s.log.Warn("source degraded after consecutive failures",
				zap.String("source", name),
				zap.Int("failures", st.failures),
				zap.Error(runErr))
		} else {
			s.log.Warn("collector run failed",
				zap.String("source", name),
				zap.Int("consecutive_failures", st.failures),
				zap.Error(runErr))
		}
		return
	}

	st.failures = 0
	if st.degraded {
		st.degraded = false
		s.log.Info("source recovered", zap.String("source", name))
	}
	st.lastSuccess = started
	if err := s.store.SetConfig(ctx, fmt.Sprintf(lastSuccessKeyFormat, name), started.Format(time.RFC3339)); err != nil {
		// The mark is an optimization; losing it only widens the next
		// restart's window back to the lookback.
		s.log.Warn("persisting last-success mark failed",
			zap.String("source", name), zap.Error(err))
	}
}
