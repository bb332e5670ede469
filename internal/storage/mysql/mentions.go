package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// mentionColumns is the select list scanMention expects, in scan order.
const mentionColumns = `entry_id, source_id, url, platform, source_type, source_name, query,
	collected_at, published_at, language, country, title, text, normalized_text, fingerprint,
	author_handle, author_name, author_avatar, author_location, author_verified,
	likes, shares, comments, direct_reach, cumulative_reach,
	sentiment_label, sentiment_score, sentiment_justification,
	emotion_label, emotion_score, emotion_distribution,
	influence_weight, confidence_weight, location_label, location_confidence,
	ministry_hint, issue_slug, issue_label, issue_confidence,
	processing_status, processing_started_at, processing_completed_at, failure_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMention(row rowScanner) (*types.Mention, error) {
	return scanMentionWith(row)
}

// scanMentionWith scans a mention row followed by any extra trailing columns
// the caller selected alongside the fixed mention column set.
func scanMentionWith(row rowScanner, extra ...any) (*types.Mention, error) {
	var (
		m                                types.Mention
		sourceID, url, normText          sql.NullString
		sentLabel, sentJust              sql.NullString
		emoLabel, locLabel               sql.NullString
		emoDist                          sql.NullString
		sentScore, emoScore              sql.NullFloat64
		inflW, confW, locConf, issueConf sql.NullFloat64
		startedAt, completedAt           sql.NullTime
	)
	dest := []any{
		&m.EntryID, &sourceID, &url, &m.Platform, &m.SourceType, &m.SourceName, &m.Query,
		&m.CollectedAt, &m.PublishedAt, &m.Language, &m.Country, &m.Title, &m.Text, &normText, &m.Fingerprint,
		&m.AuthorHandle, &m.AuthorName, &m.AuthorAvatar, &m.AuthorLocation, &m.AuthorVerified,
		&m.Likes, &m.Shares, &m.Comments, &m.DirectReach, &m.CumulativeReach,
		&sentLabel, &sentScore, &sentJust,
		&emoLabel, &emoScore, &emoDist,
		&inflW, &confW, &locLabel, &locConf,
		&m.MinistryHint, &m.IssueSlug, &m.IssueLabel, &issueConf,
		&m.ProcessingStatus, &startedAt, &completedAt, &m.FailureReason,
		&m.CreatedAt, &m.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.SourceID = strPtr(sourceID)
	m.URL = strPtr(url)
	m.NormalizedText = strPtr(normText)
	if sentLabel.Valid {
		l := types.SentimentLabel(sentLabel.String)
		m.SentimentLabel = &l
	}
	m.SentimentScore = floatPtr(sentScore)
	m.SentimentJustification = strPtr(sentJust)
	if emoLabel.Valid {
		l := types.EmotionLabel(emoLabel.String)
		m.EmotionLabel = &l
	}
	m.EmotionScore = floatPtr(emoScore)
	dist, err := emotionsFromJSON(emoDist)
	if err != nil {
		return nil, fmt.Errorf("mention %d: %w", m.EntryID, err)
	}
	m.EmotionDistribution = dist
	m.InfluenceWeight = floatPtr(inflW)
	m.ConfidenceWeight = floatPtr(confW)
	m.LocationLabel = strPtr(locLabel)
	m.LocationConfidence = floatPtr(locConf)
	m.IssueConfidence = floatPtr(issueConf)
	m.ProcessingStartedAt = timePtr(startedAt)
	m.ProcessingCompletedAt = timePtr(completedAt)
	m.CollectedAt = m.CollectedAt.UTC()
	m.PublishedAt = m.PublishedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// InsertMention inserts a new mention and returns its assigned entry ID.
// Returns storage.ErrDuplicateKey when (platform, source_id) already exists,
// which callers handle by retrying as an engagement update.
func (s *Store) InsertMention(ctx context.Context, m *types.Mention) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("insert mention: %w", err)
	}
	status := m.ProcessingStatus
	if status == "" {
		status = types.StatusPending
	}
	result, err := s.execContext(ctx, `
		INSERT INTO mentions (
			source_id, url, platform, source_type, source_name, query,
			collected_at, published_at, language, country, title, text,
			normalized_text, fingerprint,
			author_handle, author_name, author_avatar, author_location, author_verified,
			likes, shares, comments, direct_reach, cumulative_reach,
			processing_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(m.SourceID), nullString(m.URL), m.Platform, m.SourceType, m.SourceName, m.Query,
		m.CollectedAt.UTC(), m.PublishedAt.UTC(), m.Language, m.Country, m.Title, m.Text,
		nullString(m.NormalizedText), m.Fingerprint,
		m.AuthorHandle, m.AuthorName, m.AuthorAvatar, m.AuthorLocation, m.AuthorVerified,
		m.Likes, m.Shares, m.Comments, m.DirectReach, m.CumulativeReach,
		status,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert mention: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert mention: last insert id: %w", err)
	}
	m.EntryID = id
	return id, nil
}

// GetMention retrieves a mention by entry ID.
func (s *Store) GetMention(ctx context.Context, entryID int64) (*types.Mention, error) {
	var m *types.Mention
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		m, scanErr = scanMention(row)
		return scanErr
	}, "SELECT "+mentionColumns+" FROM mentions WHERE entry_id = ?", entryID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mention %d: %w", entryID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mention %d: %w", entryID, err)
	}
	return m, nil
}

// FindMentionBySource looks up a mention by its platform-native identifier.
func (s *Store) FindMentionBySource(ctx context.Context, platform types.Platform, sourceID string) (*types.Mention, error) {
	if sourceID == "" {
		return nil, storage.ErrNotFound
	}
	return s.findMention(ctx,
		"SELECT "+mentionColumns+" FROM mentions WHERE platform = ? AND source_id = ?",
		string(platform), sourceID)
}

// FindMentionByURL looks up a mention by URL. Multiple rows can share a URL
// when sources replay the same link; the oldest row wins.
func (s *Store) FindMentionByURL(ctx context.Context, url string) (*types.Mention, error) {
	if url == "" {
		return nil, storage.ErrNotFound
	}
	return s.findMention(ctx,
		"SELECT "+mentionColumns+" FROM mentions WHERE url = ? ORDER BY entry_id ASC LIMIT 1",
		url)
}

// FindMentionByFingerprint looks up a mention by its content fingerprint.
func (s *Store) FindMentionByFingerprint(ctx context.Context, fingerprint string) (*types.Mention, error) {
	if fingerprint == "" {
		return nil, storage.ErrNotFound
	}
	return s.findMention(ctx,
		"SELECT "+mentionColumns+" FROM mentions WHERE fingerprint = ? ORDER BY entry_id ASC LIMIT 1",
		fingerprint)
}

func (s *Store) findMention(ctx context.Context, query string, args ...any) (*types.Mention, error) {
	var m *types.Mention
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		m, scanErr = scanMention(row)
		return scanErr
	}, query, args...)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find mention: %w", err)
	}
	return m, nil
}

// UpdateEngagement replaces the engagement counters wholesale. The last
// reported values win even when lower than the stored ones.
func (s *Store) UpdateEngagement(ctx context.Context, entryID int64, e storage.Engagement) error {
	_, err := s.execContext(ctx, `
		UPDATE mentions
		SET likes = ?, shares = ?, comments = ?, direct_reach = ?, cumulative_reach = ?
		WHERE entry_id = ?`,
		e.Likes, e.Shares, e.Comments, e.DirectReach, e.CumulativeReach, entryID)
	if err != nil {
		return fmt.Errorf("update engagement for %d: %w", entryID, err)
	}
	return nil
}

// RecentMentionsForDedup returns the dedup candidates on a platform collected
// since the given time, newest first.
func (s *Store) RecentMentionsForDedup(ctx context.Context, platform types.Platform, since time.Time, limit int) ([]storage.DedupCandidate, error) {
	rows, err := s.queryContext(ctx, `
		SELECT entry_id, normalized_text
		FROM mentions
		WHERE platform = ? AND collected_at >= ?
		  AND normalized_text IS NOT NULL AND normalized_text <> ''
		ORDER BY collected_at DESC
		LIMIT ?`,
		string(platform), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []storage.DedupCandidate
	for rows.Next() {
		var c storage.DedupCandidate
		if err := rows.Scan(&c.EntryID, &c.NormalizedText); err != nil {
			return nil, fmt.Errorf("dedup candidates: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimPending atomically claims up to batchSize pending mentions for
// analysis. SKIP LOCKED lets concurrent dispatchers claim disjoint batches
// without blocking on each other.
func (s *Store) ClaimPending(ctx context.Context, batchSize int) ([]*types.Mention, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var claimed []*types.Mention
	err := s.withRetry(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx,
			"SELECT "+mentionColumns+` FROM mentions
			WHERE processing_status = ?
			ORDER BY entry_id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED`,
			types.StatusPending, batchSize)
		if err != nil {
			return err
		}
		for rows.Next() {
			m, err := scanMention(rows)
			if err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(claimed) == 0 {
			return tx.Commit()
		}

		ids := make([]any, 0, len(claimed)+2)
		ids = append(ids, types.StatusProcessing, now)
		for _, m := range claimed {
			ids = append(ids, m.EntryID)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE mentions SET processing_status = ?, processing_started_at = ?
			WHERE entry_id IN (`+inPlaceholders(len(claimed))+`)`,
			ids...)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	for _, m := range claimed {
		m.ProcessingStatus = types.StatusProcessing
		t := now
		m.ProcessingStartedAt = &t
	}
	return claimed, nil
}

// CommitAnalysis persists every analysis output for one mention in a single
// transaction: the mention's score columns, its embedding, its topic
// associations, and any issue memberships. Partial results never land.
func (s *Store) CommitAnalysis(ctx context.Context, res *storage.AnalysisResult) error {
	emoJSON, err := emotionsToJSON(res.EmotionDistribution)
	if err != nil {
		return fmt.Errorf("commit analysis for %d: %w", res.EntryID, err)
	}
	var vecJSON string
	if res.Embedding != nil {
		vecJSON, err = vectorToJSON(res.Embedding.Vector)
		if err != nil {
			return fmt.Errorf("commit analysis for %d: %w", res.EntryID, err)
		}
	}
	now := time.Now().UTC()

	err = s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			UPDATE mentions SET
				sentiment_label = ?, sentiment_score = ?, sentiment_justification = ?,
				emotion_label = ?, emotion_score = ?, emotion_distribution = ?,
				influence_weight = ?, confidence_weight = ?,
				location_label = ?, location_confidence = ?,
				ministry_hint = ?, issue_slug = ?, issue_label = ?, issue_confidence = ?,
				processing_status = ?, processing_completed_at = ?, failure_reason = ''
			WHERE entry_id = ?`,
			res.SentimentLabel, res.SentimentScore, nullString(res.SentimentJustification),
			res.EmotionLabel, res.EmotionScore, emoJSON,
			res.InfluenceWeight, res.ConfidenceWeight,
			nullString(res.LocationLabel), nullFloat(res.LocationConfidence),
			res.PrimaryTopic, res.IssueSlug, res.IssueLabel, nullFloat(res.IssueConfidence),
			types.StatusCompleted, now,
			res.EntryID)
		if err != nil {
			return err
		}

		if res.Embedding != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO embeddings (entry_id, vector, model) VALUES (?, ?, ?)
				ON DUPLICATE KEY UPDATE vector = VALUES(vector), model = VALUES(model)`,
				res.EntryID, vecJSON, res.Embedding.Model)
			if err != nil {
				return err
			}
		}

		// Re-analysis replaces the association set rather than merging.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM mention_topics WHERE mention_id = ?", res.EntryID); err != nil {
			return err
		}
		for _, mt := range res.Topics {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO mention_topics (mention_id, topic_key, keyword_score, embedding_score, topic_confidence)
				VALUES (?, ?, ?, ?, ?)`,
				res.EntryID, mt.TopicKey, mt.KeywordScore, mt.EmbeddingScore, mt.TopicConfidence)
			if err != nil {
				return err
			}
		}

		for _, link := range res.IssueLinks {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO issue_mentions (issue_id, mention_id, similarity_score, detected_at)
				VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE similarity_score = VALUES(similarity_score)`,
				link.IssueID, res.EntryID, link.SimilarityScore, link.DetectedAt.UTC())
			if err != nil {
				return err
			}
			// RowsAffected is 1 for a fresh link, 2 for an update of an
			// existing one. Only fresh links move the issue's counters.
			if n, _ := result.RowsAffected(); n == 1 {
				_, err = tx.ExecContext(ctx, `
					UPDATE topic_issues
					SET mention_count = mention_count + 1,
					    last_activity = GREATEST(last_activity, ?)
					WHERE issue_id = ?`,
					link.DetectedAt.UTC(), link.IssueID)
				if err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("commit analysis for %d: %w", res.EntryID, err)
	}
	return nil
}

// MarkFailed marks a claimed mention failed, recording the phase that broke.
// Returns storage.ErrAlreadyClaimed when the mention is no longer in the
// processing state, which happens when the janitor reaped the claim first.
func (s *Store) MarkFailed(ctx context.Context, entryID int64, phase string) error {
	if len(phase) > 255 {
		phase = phase[:255]
	}
	result, err := s.execContext(ctx, `
		UPDATE mentions
		SET processing_status = ?, failure_reason = ?, processing_completed_at = ?
		WHERE entry_id = ? AND processing_status = ?`,
		types.StatusFailed, phase, time.Now().UTC(), entryID, types.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed for %d: %w", entryID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed for %d: %w", entryID, err)
	}
	if n == 0 {
		return storage.ErrAlreadyClaimed
	}
	return nil
}

// ReapStaleClaims resets mentions stuck in processing back to pending. A
// claim is stale when its worker has held it longer than olderThan, which
// only happens when the worker died mid-batch.
func (s *Store) ReapStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.execContext(ctx, `
		UPDATE mentions
		SET processing_status = ?, processing_started_at = NULL
		WHERE processing_status = ? AND processing_started_at < ?`,
		types.StatusPending, types.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale claims: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap stale claims: %w", err)
	}
	return n, nil
}

// CountByStatus returns mention counts grouped by processing status.
func (s *Store) CountByStatus(ctx context.Context) (map[types.ProcessingStatus]int64, error) {
	rows, err := s.queryContext(ctx,
		"SELECT processing_status, COUNT(*) FROM mentions GROUP BY processing_status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ProcessingStatus]int64)
	for rows.Next() {
		var status types.ProcessingStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetEmbedding retrieves the stored embedding for a mention.
func (s *Store) GetEmbedding(ctx context.Context, entryID int64) (*types.Embedding, error) {
	var raw []byte
	var model string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&raw, &model)
	}, "SELECT vector, model FROM embeddings WHERE entry_id = ?", entryID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("embedding %d: %w", entryID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding %d: %w", entryID, err)
	}
	vec, err := vectorFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("get embedding %d: %w", entryID, err)
	}
	return &types.Embedding{EntryID: entryID, Vector: vec, Model: model}, nil
}
