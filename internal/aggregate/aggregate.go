// Package aggregate computes the windowed rollups the dashboards read.
// On every tick it recomputes, for each subject (active topic, live
// issue, configured entity) and each configured window size, the
// weighted sentiment score and its 0..100 index, the sentiment label
// distribution, the mean emotion distribution and the emotion-adjusted
// severity. It then derives a trend against the immediately preceding
// window and refreshes each topic's historical baseline.
package aggregate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
	"github.com/mediapulse/pulse/internal/types"
)

// Aggregator owns the rollup tick. It is single-threaded: one tick
// walks every subject and window in sequence, so a slow store stretches
// the tick rather than piling up concurrent recomputes.
type Aggregator struct {
	store   storage.Storage
	cfg     *config.Config
	log     *zap.Logger
	metrics *telemetry.PipelineMetrics

	now func() time.Time
}

func NewAggregator(store storage.Storage, cfg *config.Config, log *zap.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		cfg:     cfg,
		log:     log.Named("aggregate"),
		metrics: telemetry.Pipeline(),
		now:     time.Now,
	}
}

// Run recomputes rollups on a fixed cadence until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) error {
	interval := a.cfg.Seconds(ctx, "processing.aggregation.tick_seconds")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.log.Info("aggregator started", zap.Duration("tick", interval))
	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// subject is one row source for a rollup: a topic, an issue or a
// watched entity string.
type subject struct {
	kind types.SubjectKind
	key  string
}

func (a *Aggregator) tick(ctx context.Context) {
	start := a.now()
	now := start.UTC()

	subjects, topics, err := a.subjects(ctx)
	if err != nil {
		a.log.Error("subject listing failed", zap.Error(err))
		return
	}
	windows := a.windows(ctx)

	written := 0
	for _, sub := range subjects {
		for _, size := range windows {
			if ctx.Err() != nil {
				return
			}
			agg, err := a.aggregateOne(ctx, sub, size, now)
			if err != nil {
				a.log.Error("rollup failed",
					zap.String("kind", string(sub.kind)),
					zap.String("key", sub.key),
					zap.String("window", string(size)),
					zap.Error(err))
				continue
			}
			if agg == nil {
				continue
			}
			written++
			a.trend(ctx, agg)
		}
	}
	a.metrics.Aggregated(ctx, written)
	a.baselines(ctx, topics, now)

	a.log.Debug("aggregation tick complete",
		zap.Int("subjects", len(subjects)),
		zap.Int("rows", written),
		zap.Duration("elapsed", a.now().Sub(start)))
}

// subjects returns every rollup subject for this tick plus the active
// topic list, which the baseline pass reuses.
func (a *Aggregator) subjects(ctx context.Context) ([]subject, []*types.Topic, error) {
	topics, err := a.store.ListActiveTopics(ctx)
	if err != nil {
		return nil, nil, err
	}
	subs := make([]subject, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, subject{kind: types.SubjectTopic, key: t.TopicKey})
	}

	issues, err := a.store.ListIssues(ctx, types.LiveIssueStates())
	if err != nil {
		return nil, nil, err
	}
	for _, iss := range issues {
		subs = append(subs, subject{kind: types.SubjectIssue, key: iss.IssueID})
	}

	for _, e := range a.cfg.GetStringSlice(ctx, "processing.aggregation.entities") {
		if e = strings.TrimSpace(e); e != "" {
			subs = append(subs, subject{kind: types.SubjectEntity, key: e})
		}
	}
	return subs, topics, nil
}

func (a *Aggregator) windows(ctx context.Context) []types.WindowSize {
	raw := a.cfg.GetStringSlice(ctx, "processing.aggregation.windows")
	out := make([]types.WindowSize, 0, len(raw))
	for _, s := range raw {
		size, err := types.ParseWindowSize(s)
		if err != nil {
			a.log.Warn("unknown window size in config", zap.String("size", s))
			continue
		}
		out = append(out, size)
	}
	return out
}

// aggregateOne recomputes the current window of the given size for one
// subject and upserts it. The window is the epoch-aligned one containing
// now, so the row for a partially elapsed window is refined on every
// tick until the window closes. Returns nil when the window holds no
// analyzed mentions.
func (a *Aggregator) aggregateOne(ctx context.Context, sub subject, size types.WindowSize, now time.Time) (*types.Aggregation, error) {
	window := types.WindowAt(size, now)
	rows, err := a.store.AggregationRows(ctx, sub.kind, sub.key, window)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	agg := buildAggregation(sub.kind, sub.key, size, window, rows)
	agg.ComputedAt = now

	if sub.kind == types.SubjectTopic {
		baseline, err := a.store.GetBaseline(ctx, sub.key)
		switch {
		case err == nil:
			norm := float64(agg.SentimentIndex) - baseline.BaselineIndex
			agg.NormalizedSentimentScore = &norm
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	if err := a.store.UpsertAggregation(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}
