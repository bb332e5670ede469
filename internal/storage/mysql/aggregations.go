package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

const sentimentRowColumns = `m.sentiment_score, m.sentiment_label,
	COALESCE(m.influence_weight, 1), COALESCE(m.confidence_weight, 1), m.emotion_distribution`

// AggregationRows returns the per-mention sentiment tuples for one subject
// inside a window. Membership depends on the subject kind: topic rows join
// through topic associations, issue rows through issue membership, entity
// rows through a substring match on normalized text.
func (s *Store) AggregationRows(ctx context.Context, kind types.SubjectKind, key string, w types.Window) ([]storage.SentimentRow, error) {
	var query string
	var args []any
	switch kind {
	case types.SubjectTopic:
		query = `
			SELECT ` + sentimentRowColumns + `
			FROM mentions m
			JOIN mention_topics mt ON mt.mention_id = m.entry_id
			WHERE mt.topic_key = ?
			  AND m.processing_status = ?
			  AND m.sentiment_score IS NOT NULL
			  AND m.published_at >= ? AND m.published_at < ?`
		args = []any{key, types.StatusCompleted, w.Start.UTC(), w.End.UTC()}
	case types.SubjectIssue:
		query = `
			SELECT ` + sentimentRowColumns + `
			FROM mentions m
			JOIN issue_mentions im ON im.mention_id = m.entry_id
			WHERE im.issue_id = ?
			  AND m.processing_status = ?
			  AND m.sentiment_score IS NOT NULL
			  AND m.published_at >= ? AND m.published_at < ?`
		args = []any{key, types.StatusCompleted, w.Start.UTC(), w.End.UTC()}
	case types.SubjectEntity:
		query = `
			SELECT ` + sentimentRowColumns + `
			FROM mentions m
			WHERE m.processing_status = ?
			  AND m.sentiment_score IS NOT NULL
			  AND m.published_at >= ? AND m.published_at < ?
			  AND m.normalized_text LIKE ?`
		args = []any{types.StatusCompleted, w.Start.UTC(), w.End.UTC(),
			"%" + strings.ToLower(key) + "%"}
	default:
		return nil, fmt.Errorf("aggregation rows: unknown subject kind %q", kind)
	}

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregation rows for %s/%s: %w", kind, key, err)
	}
	defer rows.Close()

	var out []storage.SentimentRow
	for rows.Next() {
		var r storage.SentimentRow
		var emoDist sql.NullString
		if err := rows.Scan(&r.SentimentScore, &r.SentimentLabel, &r.InfluenceWeight, &r.ConfidenceWeight, &emoDist); err != nil {
			return nil, fmt.Errorf("aggregation rows for %s/%s: %w", kind, key, err)
		}
		if r.EmotionDistribution, err = emotionsFromJSON(emoDist); err != nil {
			return nil, fmt.Errorf("aggregation rows for %s/%s: %w", kind, key, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertAggregation writes one windowed rollup row. Recomputation of a
// still-open window replaces the previous values.
func (s *Store) UpsertAggregation(ctx context.Context, a *types.Aggregation) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("upsert aggregation: %w", err)
	}
	sentJSON, err := sentimentsToJSON(a.SentimentDistribution)
	if err != nil {
		return fmt.Errorf("upsert aggregation: %w", err)
	}
	emoJSON, err := emotionsToJSON(a.EmotionDistribution)
	if err != nil {
		return fmt.Errorf("upsert aggregation: %w", err)
	}
	computed := a.ComputedAt
	if computed.IsZero() {
		computed = time.Now().UTC()
	}
	_, err = s.execContext(ctx, `
		INSERT INTO aggregations (
			subject_kind, subject_key, window_size, window_start, window_end,
			weighted_sentiment_score, sentiment_index, sentiment_distribution,
			emotion_distribution, emotion_adjusted_severity, mention_count,
			total_influence_weight, normalized_sentiment_score, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			window_end = VALUES(window_end),
			weighted_sentiment_score = VALUES(weighted_sentiment_score),
			sentiment_index = VALUES(sentiment_index),
			sentiment_distribution = VALUES(sentiment_distribution),
			emotion_distribution = VALUES(emotion_distribution),
			emotion_adjusted_severity = VALUES(emotion_adjusted_severity),
			mention_count = VALUES(mention_count),
			total_influence_weight = VALUES(total_influence_weight),
			normalized_sentiment_score = VALUES(normalized_sentiment_score),
			computed_at = VALUES(computed_at)`,
		a.SubjectKind, a.SubjectKey, a.WindowSize, a.WindowStart.UTC(), a.WindowEnd.UTC(),
		a.WeightedSentimentScore, a.SentimentIndex, sentJSON,
		emoJSON, a.EmotionAdjustedSeverity, a.MentionCount,
		a.TotalInfluenceWeight, nullFloat(a.NormalizedSentimentScore), computed)
	if err != nil {
		return fmt.Errorf("upsert aggregation for %s/%s: %w", a.SubjectKind, a.SubjectKey, err)
	}
	return nil
}

// GetAggregation retrieves one rollup row by its window coordinates.
func (s *Store) GetAggregation(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, start time.Time) (*types.Aggregation, error) {
	var a types.Aggregation
	var sentJSON, emoJSON sql.NullString
	var norm sql.NullFloat64
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(
			&a.ID, &a.SubjectKind, &a.SubjectKey, &a.WindowSize, &a.WindowStart, &a.WindowEnd,
			&a.WeightedSentimentScore, &a.SentimentIndex, &sentJSON,
			&emoJSON, &a.EmotionAdjustedSeverity, &a.MentionCount,
			&a.TotalInfluenceWeight, &norm, &a.ComputedAt)
	}, `
		SELECT id, subject_kind, subject_key, window_size, window_start, window_end,
			weighted_sentiment_score, sentiment_index, sentiment_distribution,
			emotion_distribution, emotion_adjusted_severity, mention_count,
			total_influence_weight, normalized_sentiment_score, computed_at
		FROM aggregations
		WHERE subject_kind = ? AND subject_key = ? AND window_size = ? AND window_start = ?`,
		kind, key, size, start.UTC())
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("aggregation %s/%s/%s: %w", kind, key, size, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregation %s/%s/%s: %w", kind, key, size, err)
	}
	if a.SentimentDistribution, err = sentimentsFromJSON(sentJSON); err != nil {
		return nil, fmt.Errorf("get aggregation %s/%s/%s: %w", kind, key, size, err)
	}
	if a.EmotionDistribution, err = emotionsFromJSON(emoJSON); err != nil {
		return nil, fmt.Errorf("get aggregation %s/%s/%s: %w", kind, key, size, err)
	}
	a.NormalizedSentimentScore = floatPtr(norm)
	a.WindowStart = a.WindowStart.UTC()
	a.WindowEnd = a.WindowEnd.UTC()
	a.ComputedAt = a.ComputedAt.UTC()
	return &a, nil
}

// UpsertTrend writes one period-over-period comparison row.
func (s *Store) UpsertTrend(ctx context.Context, t *types.Trend) error {
	computed := t.ComputedAt
	if computed.IsZero() {
		computed = time.Now().UTC()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO trends (
			subject_kind, subject_key, window_size, window_start,
			current_index, previous_index, direction, magnitude, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			current_index = VALUES(current_index),
			previous_index = VALUES(previous_index),
			direction = VALUES(direction),
			magnitude = VALUES(magnitude),
			computed_at = VALUES(computed_at)`,
		t.SubjectKind, t.SubjectKey, t.WindowSize, t.WindowStart.UTC(),
		t.CurrentIndex, t.PreviousIndex, t.Direction, t.Magnitude, computed)
	if err != nil {
		return fmt.Errorf("upsert trend for %s/%s: %w", t.SubjectKind, t.SubjectKey, err)
	}
	return nil
}

// AggregationIndexes returns the sentiment indexes of a subject's windows
// starting at or after since, in window order. Baseline computation feeds
// these through a median.
func (s *Store) AggregationIndexes(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, since time.Time) ([]float64, error) {
	rows, err := s.queryContext(ctx, `
		SELECT sentiment_index FROM aggregations
		WHERE subject_kind = ? AND subject_key = ? AND window_size = ? AND window_start >= ?
		ORDER BY window_start ASC`,
		kind, key, size, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("aggregation indexes for %s/%s: %w", kind, key, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var idx float64
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("aggregation indexes for %s/%s: %w", kind, key, err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// UpsertBaseline writes a topic's historical baseline.
func (s *Store) UpsertBaseline(ctx context.Context, b *types.Baseline) error {
	computed := b.ComputedAt
	if computed.IsZero() {
		computed = time.Now().UTC()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO baselines (topic_key, baseline_index, deviation, sample_count, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			baseline_index = VALUES(baseline_index),
			deviation = VALUES(deviation),
			sample_count = VALUES(sample_count),
			computed_at = VALUES(computed_at)`,
		b.TopicKey, b.BaselineIndex, b.Deviation, b.SampleCount, computed)
	if err != nil {
		return fmt.Errorf("upsert baseline for %s: %w", b.TopicKey, err)
	}
	return nil
}

// GetBaseline retrieves a topic's baseline.
func (s *Store) GetBaseline(ctx context.Context, topicKey string) (*types.Baseline, error) {
	var b types.Baseline
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&b.TopicKey, &b.BaselineIndex, &b.Deviation, &b.SampleCount, &b.ComputedAt)
	}, `
		SELECT topic_key, baseline_index, deviation, sample_count, computed_at
		FROM baselines WHERE topic_key = ?`, topicKey)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("baseline %s: %w", topicKey, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline %s: %w", topicKey, err)
	}
	b.ComputedAt = b.ComputedAt.UTC()
	return &b, nil
}
