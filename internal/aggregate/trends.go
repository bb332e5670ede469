package aggregate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// trend compares a freshly written aggregation against the row for the
// immediately preceding window of the same size and records the
// direction. With no preceding row there is nothing to compare, so no
// trend is written.
func (a *Aggregator) trend(ctx context.Context, agg *types.Aggregation) {
	prev := types.Window{Start: agg.WindowStart, End: agg.WindowEnd}.Previous()
	before, err := a.store.GetAggregation(ctx, agg.SubjectKind, agg.SubjectKey, agg.WindowSize, prev.Start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.log.Error("previous window lookup failed",
				zap.String("kind", string(agg.SubjectKind)),
				zap.String("key", agg.SubjectKey),
				zap.String("window", string(agg.WindowSize)),
				zap.Error(err))
		}
		return
	}

	delta := agg.SentimentIndex - before.SentimentIndex
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	t := &types.Trend{
		SubjectKind:   agg.SubjectKind,
		SubjectKey:    agg.SubjectKey,
		WindowSize:    agg.WindowSize,
		WindowStart:   agg.WindowStart,
		CurrentIndex:  agg.SentimentIndex,
		PreviousIndex: before.SentimentIndex,
		Direction:     types.DirectionForDelta(delta),
		Magnitude:     magnitude,
		ComputedAt:    agg.ComputedAt,
	}
	if err := a.store.UpsertTrend(ctx, t); err != nil {
		a.log.Error("trend upsert failed",
			zap.String("kind", string(agg.SubjectKind)),
			zap.String("key", agg.SubjectKey),
			zap.Error(err))
	}
}
