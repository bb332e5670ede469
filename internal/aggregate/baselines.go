package aggregate

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// baselines refreshes each topic's historical baseline: the median of
// its daily sentiment indexes over the trailing baseline period. The
// median is deliberately robust, so one viral day does not drag the
// reference level every other day is judged against.
func (a *Aggregator) baselines(ctx context.Context, topics []*types.Topic, now time.Time) {
	days := a.cfg.GetInt(ctx, "processing.baseline.days")
	since := now.AddDate(0, 0, -days)
	for _, t := range topics {
		if ctx.Err() != nil {
			return
		}
		if err := a.refreshBaseline(ctx, t.TopicKey, since, now); err != nil {
			a.log.Error("baseline refresh failed", zap.String("topic", t.TopicKey), zap.Error(err))
		}
	}
}

func (a *Aggregator) refreshBaseline(ctx context.Context, topicKey string, since, now time.Time) error {
	indexes, err := a.store.AggregationIndexes(ctx, types.SubjectTopic, topicKey, types.Window24h, since)
	if err != nil {
		return err
	}
	if len(indexes) == 0 {
		return nil
	}

	sort.Float64s(indexes)
	median := stat.Quantile(0.5, stat.Empirical, indexes, nil)

	var deviation float64
	current, err := a.store.GetAggregation(ctx, types.SubjectTopic, topicKey, types.Window24h, types.Window24h.Snap(now))
	switch {
	case err == nil:
		deviation = float64(current.SentimentIndex) - median
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	return a.store.UpsertBaseline(ctx, &types.Baseline{
		TopicKey:      topicKey,
		BaselineIndex: median,
		Deviation:     deviation,
		SampleCount:   len(indexes),
		ComputedAt:    now,
	})
}
