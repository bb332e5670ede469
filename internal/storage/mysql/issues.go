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

const issueColumns = `issue_id, topic_key, issue_slug, issue_label, state,
	priority_score, priority_band, mention_count, start_time, last_activity,
	centroid_embedding, created_at, updated_at`

func scanIssue(row rowScanner) (*types.Issue, error) {
	var i types.Issue
	var centroidJSON sql.NullString
	err := row.Scan(
		&i.IssueID, &i.TopicKey, &i.Slug, &i.Label, &i.State,
		&i.PriorityScore, &i.PriorityBand, &i.MentionCount, &i.StartTime, &i.LastActivity,
		&centroidJSON, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if centroidJSON.Valid {
		if i.Centroid, err = vectorFromJSON([]byte(centroidJSON.String)); err != nil {
			return nil, fmt.Errorf("issue %s: %w", i.IssueID, err)
		}
	}
	i.StartTime = i.StartTime.UTC()
	i.LastActivity = i.LastActivity.UTC()
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return &i, nil
}

// GetIssue retrieves an issue by its opaque ID.
func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	var issue *types.Issue
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		issue, scanErr = scanIssue(row)
		return scanErr
	}, "SELECT "+issueColumns+" FROM topic_issues WHERE issue_id = ?", issueID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	return issue, nil
}

// GetIssueBySlug retrieves an issue by its topic-scoped slug.
func (s *Store) GetIssueBySlug(ctx context.Context, topicKey, slug string) (*types.Issue, error) {
	var issue *types.Issue
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		issue, scanErr = scanIssue(row)
		return scanErr
	}, "SELECT "+issueColumns+" FROM topic_issues WHERE topic_key = ? AND issue_slug = ?", topicKey, slug)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s/%s: %w", topicKey, slug, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s/%s: %w", topicKey, slug, err)
	}
	return issue, nil
}

func (s *Store) listIssues(ctx context.Context, where string, args []any) ([]*types.Issue, error) {
	query := "SELECT " + issueColumns + " FROM topic_issues"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY last_activity DESC"
	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func statesFilter(states []types.IssueState) (string, []any) {
	if len(states) == 0 {
		return "", nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return "state IN (" + inPlaceholders(len(states)) + ")", args
}

// ListIssuesByTopic returns a topic's issues, optionally filtered to a set
// of states. An empty state list matches all states.
func (s *Store) ListIssuesByTopic(ctx context.Context, topicKey string, states []types.IssueState) ([]*types.Issue, error) {
	where := "topic_key = ?"
	args := []any{topicKey}
	if cond, stateArgs := statesFilter(states); cond != "" {
		where += " AND " + cond
		args = append(args, stateArgs...)
	}
	issues, err := s.listIssues(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("list issues for topic %s: %w", topicKey, err)
	}
	return issues, nil
}

// ListIssues returns issues across all topics, optionally filtered by state.
func (s *Store) ListIssues(ctx context.Context, states []types.IssueState) ([]*types.Issue, error) {
	where, args := statesFilter(states)
	issues, err := s.listIssues(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// ListIssueEvents returns an issue's lifecycle transitions, newest first.
func (s *Store) ListIssueEvents(ctx context.Context, issueID string, limit int) ([]*types.IssueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.queryContext(ctx, `
		SELECT id, issue_id, from_state, to_state, reason, created_at
		FROM issue_events
		WHERE issue_id = ?
		ORDER BY id DESC
		LIMIT ?`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list issue events for %s: %w", issueID, err)
	}
	defer rows.Close()

	var events []*types.IssueEvent
	for rows.Next() {
		var e types.IssueEvent
		if err := rows.Scan(&e.ID, &e.IssueID, &e.FromState, &e.ToState, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list issue events for %s: %w", issueID, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}
	return events, rows.Err()
}

func qualifiedMentionColumns(alias string) string {
	cols := strings.Split(mentionColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// UnissuedMentions returns analyzed mentions whose primary topic is topicKey,
// published since the given time, that belong to no issue yet. Each mention
// comes paired with its embedding for clustering.
func (s *Store) UnissuedMentions(ctx context.Context, topicKey string, since time.Time) ([]storage.MentionVector, error) {
	rows, err := s.queryContext(ctx, `
		SELECT `+qualifiedMentionColumns("m")+`, e.vector
		FROM mentions m
		JOIN embeddings e ON e.entry_id = m.entry_id
		WHERE m.ministry_hint = ?
		  AND m.processing_status = ?
		  AND m.published_at >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM issue_mentions im WHERE im.mention_id = m.entry_id
		  )
		ORDER BY m.published_at ASC`,
		topicKey, types.StatusCompleted, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("unissued mentions for %s: %w", topicKey, err)
	}
	defer rows.Close()

	var out []storage.MentionVector
	for rows.Next() {
		mv, err := scanMentionVector(rows)
		if err != nil {
			return nil, fmt.Errorf("unissued mentions for %s: %w", topicKey, err)
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// scanMentionVector scans a mention row with a trailing vector column. The
// scan happens through an intermediate destination slice because scanMention
// owns the fixed mention column set.
func scanMentionVector(rows *sql.Rows) (storage.MentionVector, error) {
	var raw []byte
	m, err := scanMentionWith(rows, &raw)
	if err != nil {
		return storage.MentionVector{}, err
	}
	vec, err := vectorFromJSON(raw)
	if err != nil {
		return storage.MentionVector{}, err
	}
	return storage.MentionVector{Mention: m, Vector: vec}, nil
}

// IssueMentionCount counts an issue's memberships detected inside
// [since, until). A zero until leaves the range open-ended.
func (s *Store) IssueMentionCount(ctx context.Context, issueID string, since, until time.Time) (int, error) {
	query := "SELECT COUNT(*) FROM issue_mentions WHERE issue_id = ? AND detected_at >= ?"
	args := []any{issueID, since.UTC()}
	if !until.IsZero() {
		query += " AND detected_at < ?"
		args = append(args, until.UTC())
	}
	var n int
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&n)
	}, query, args...)
	if err != nil {
		return 0, fmt.Errorf("issue mention count for %s: %w", issueID, err)
	}
	return n, nil
}

// IssueMentionIDs returns the entry IDs of an issue's member mentions.
func (s *Store) IssueMentionIDs(ctx context.Context, issueID string) ([]int64, error) {
	rows, err := s.queryContext(ctx,
		"SELECT mention_id FROM issue_mentions WHERE issue_id = ? ORDER BY mention_id", issueID)
	if err != nil {
		return nil, fmt.Errorf("issue mention ids for %s: %w", issueID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("issue mention ids for %s: %w", issueID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
