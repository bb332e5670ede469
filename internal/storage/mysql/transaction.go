package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

const (
	txMaxRetries     = 5
	txInitialBackoff = 50 * time.Millisecond
	txMaxBackoff     = 2 * time.Second
)

// RunInTransaction executes fn inside a database transaction, retrying on
// serialization conflicts with exponential backoff. The issue engine uses
// this to make cluster merges atomic: issue row, memberships, and the
// lifecycle event land together or not at all.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	delay := txInitialBackoff
	var lastErr error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > txMaxBackoff {
				delay = txMaxBackoff
			}
		}
		err := s.runTransactionOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSerializationError(err) && !isRetryableError(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", txMaxRetries, lastErr)
}

func (s *Store) runTransactionOnce(ctx context.Context, fn func(tx storage.Transaction) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &transaction{tx: sqlTx}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// transaction implements storage.Transaction over one *sql.Tx.
type transaction struct {
	tx *sql.Tx
}

var _ storage.Transaction = (*transaction)(nil)

// CreateIssue inserts a new issue row.
func (t *transaction) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	var centroidJSON any
	if len(issue.Centroid) > 0 {
		v, err := vectorToJSON(issue.Centroid)
		if err != nil {
			return fmt.Errorf("create issue %s: %w", issue.IssueID, err)
		}
		centroidJSON = v
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO topic_issues (
			issue_id, topic_key, issue_slug, issue_label, state,
			priority_score, priority_band, mention_count, start_time, last_activity,
			centroid_embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.IssueID, issue.TopicKey, issue.Slug, issue.Label, issue.State,
		issue.PriorityScore, issue.PriorityBand, issue.MentionCount,
		issue.StartTime.UTC(), issue.LastActivity.UTC(), centroidJSON)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("create issue %s: %w", issue.IssueID, err)
	}
	return nil
}

// UpdateIssue replaces an issue's mutable fields. State is not touched here;
// transitions go through TransitionIssue so every state change leaves an
// event.
func (t *transaction) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	var centroidJSON any
	if len(issue.Centroid) > 0 {
		v, err := vectorToJSON(issue.Centroid)
		if err != nil {
			return fmt.Errorf("update issue %s: %w", issue.IssueID, err)
		}
		centroidJSON = v
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE topic_issues SET
			issue_label = ?, priority_score = ?, priority_band = ?,
			mention_count = ?, last_activity = ?, centroid_embedding = ?
		WHERE issue_id = ?`,
		issue.Label, issue.PriorityScore, issue.PriorityBand,
		issue.MentionCount, issue.LastActivity.UTC(), centroidJSON,
		issue.IssueID)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issue.IssueID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// Distinguish a missing row from a no-op update on identical values.
		var exists int
		scanErr := t.tx.QueryRowContext(ctx,
			"SELECT 1 FROM topic_issues WHERE issue_id = ?", issue.IssueID).Scan(&exists)
		if scanErr == sql.ErrNoRows {
			return fmt.Errorf("issue %s: %w", issue.IssueID, storage.ErrNotFound)
		}
	}
	return nil
}

// TransitionIssue moves an issue from one lifecycle state to another and
// records the transition. The update is guarded on the expected current
// state; storage.ErrAlreadyClaimed means a concurrent transition won.
func (t *transaction) TransitionIssue(ctx context.Context, issueID string, from, to types.IssueState, reason string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("transition issue %s: illegal transition %s -> %s", issueID, from, to)
	}
	result, err := t.tx.ExecContext(ctx,
		"UPDATE topic_issues SET state = ? WHERE issue_id = ? AND state = ?",
		to, issueID, from)
	if err != nil {
		return fmt.Errorf("transition issue %s: %w", issueID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition issue %s: %w", issueID, err)
	}
	if n == 0 {
		var state string
		scanErr := t.tx.QueryRowContext(ctx,
			"SELECT state FROM topic_issues WHERE issue_id = ?", issueID).Scan(&state)
		if scanErr == sql.ErrNoRows {
			return fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
		}
		return storage.ErrAlreadyClaimed
	}
	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO issue_events (issue_id, from_state, to_state, reason) VALUES (?, ?, ?, ?)",
		issueID, from, to, reason)
	if err != nil {
		return fmt.Errorf("transition issue %s: record event: %w", issueID, err)
	}
	return nil
}

// AddIssueMentions links mentions to issues. Existing links merely refresh
// their similarity score; only fresh links move the issue's counters.
func (t *transaction) AddIssueMentions(ctx context.Context, links []types.IssueMention) error {
	for _, link := range links {
		detected := link.DetectedAt
		if detected.IsZero() {
			detected = time.Now()
		}
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO issue_mentions (issue_id, mention_id, similarity_score, detected_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE similarity_score = VALUES(similarity_score)`,
			link.IssueID, link.MentionID, link.SimilarityScore, detected.UTC())
		if err != nil {
			return fmt.Errorf("add issue mention %s/%d: %w", link.IssueID, link.MentionID, err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			_, err = t.tx.ExecContext(ctx, `
				UPDATE topic_issues
				SET mention_count = mention_count + 1,
				    last_activity = GREATEST(last_activity, ?)
				WHERE issue_id = ?`,
				detected.UTC(), link.IssueID)
			if err != nil {
				return fmt.Errorf("add issue mention %s/%d: %w", link.IssueID, link.MentionID, err)
			}
		}
	}
	return nil
}

// GetIssue reads an issue inside the transaction with a row lock, so a
// merge's read-modify-write cycle is serialized against competing merges.
func (t *transaction) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM topic_issues WHERE issue_id = ? FOR UPDATE", issueID)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	return issue, nil
}

// SetConfig stores a key/value record inside the transaction.
func (t *transaction) SetConfig(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO kv (`key`, `value`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)",
		key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// GetConfig retrieves a key/value record inside the transaction.
func (t *transaction) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := t.tx.QueryRowContext(ctx,
		"SELECT `value` FROM kv WHERE `key` = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}
