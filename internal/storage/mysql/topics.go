package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

func groupsToJSON(groups []types.KeywordGroup) (any, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("marshal keyword groups: %w", err)
	}
	return string(b), nil
}

func groupsFromJSON(ns sql.NullString) ([]types.KeywordGroup, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var groups []types.KeywordGroup
	if err := json.Unmarshal([]byte(ns.String), &groups); err != nil {
		return nil, fmt.Errorf("unmarshal keyword groups: %w", err)
	}
	return groups, nil
}

// UpsertTopic inserts or replaces a topic definition. The taxonomy loader
// calls this at startup and on taxonomy file changes.
func (s *Store) UpsertTopic(ctx context.Context, t *types.Topic) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	kwJSON, err := stringsToJSON(t.Keywords)
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", t.TopicKey, err)
	}
	groupJSON, err := groupsToJSON(t.KeywordGroups)
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", t.TopicKey, err)
	}
	var centroidJSON any
	if len(t.Centroid) > 0 {
		v, err := vectorToJSON(t.Centroid)
		if err != nil {
			return fmt.Errorf("upsert topic %s: %w", t.TopicKey, err)
		}
		centroidJSON = v
	}
	_, err = s.execContext(ctx, `
		INSERT INTO topics (topic_key, display_name, category, keywords, keyword_groups, centroid, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			display_name = VALUES(display_name),
			category = VALUES(category),
			keywords = VALUES(keywords),
			keyword_groups = VALUES(keyword_groups),
			centroid = COALESCE(VALUES(centroid), centroid),
			active = VALUES(active)`,
		t.TopicKey, t.DisplayName, t.Category, kwJSON, groupJSON, centroidJSON, t.Active)
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", t.TopicKey, err)
	}
	return nil
}

func scanTopic(row rowScanner) (*types.Topic, error) {
	var t types.Topic
	var kwJSON, groupJSON, centroidJSON sql.NullString
	err := row.Scan(&t.TopicKey, &t.DisplayName, &t.Category, &kwJSON, &groupJSON, &centroidJSON, &t.Active)
	if err != nil {
		return nil, err
	}
	if t.Keywords, err = stringsFromJSON(kwJSON); err != nil {
		return nil, fmt.Errorf("topic %s: %w", t.TopicKey, err)
	}
	if t.KeywordGroups, err = groupsFromJSON(groupJSON); err != nil {
		return nil, fmt.Errorf("topic %s: %w", t.TopicKey, err)
	}
	if centroidJSON.Valid {
		if t.Centroid, err = vectorFromJSON([]byte(centroidJSON.String)); err != nil {
			return nil, fmt.Errorf("topic %s: %w", t.TopicKey, err)
		}
	}
	return &t, nil
}

const topicColumns = "topic_key, display_name, category, keywords, keyword_groups, centroid, active"

// GetTopic retrieves a topic by key.
func (s *Store) GetTopic(ctx context.Context, topicKey string) (*types.Topic, error) {
	var t *types.Topic
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		t, scanErr = scanTopic(row)
		return scanErr
	}, "SELECT "+topicColumns+" FROM topics WHERE topic_key = ?", topicKey)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("topic %s: %w", topicKey, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get topic %s: %w", topicKey, err)
	}
	return t, nil
}

// ListActiveTopics returns every active topic, ordered by key for stable
// classification output.
func (s *Store) ListActiveTopics(ctx context.Context) ([]*types.Topic, error) {
	rows, err := s.queryContext(ctx,
		"SELECT "+topicColumns+" FROM topics WHERE active = 1 ORDER BY topic_key")
	if err != nil {
		return nil, fmt.Errorf("list active topics: %w", err)
	}
	defer rows.Close()

	var topics []*types.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("list active topics: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
