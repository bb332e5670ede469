// Package storagetest provides an in-memory storage.Storage for tests of
// the packages that consume the store. It mirrors the MySQL store's
// observable behavior (unique keys, guarded claims, ordering) without a
// database; transactions commit as they go and cannot roll back.
//
// Tests that need one method to misbehave embed *Store and override that
// method.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// Store is the in-memory fake. The zero value is not usable; call New.
type Store struct {
	mu     sync.Mutex
	nextID int64

	mentions      map[int64]*types.Mention
	embeddings    map[int64]*types.Embedding
	topics        map[string]*types.Topic
	mentionTopics map[int64][]types.MentionTopic
	issues        map[string]*types.Issue
	issueLinks    map[string]map[int64]types.IssueMention
	issueEvents   map[string][]*types.IssueEvent
	nextEventID   int64
	aggregations  map[string]*types.Aggregation
	trends        map[string]*types.Trend
	baselines     map[string]*types.Baseline
	cursors       map[string]int64
	kv            map[string]string
}

var _ storage.Storage = (*Store)(nil)

// New returns an empty fake store.
func New() *Store {
	return &Store{
		mentions:      make(map[int64]*types.Mention),
		embeddings:    make(map[int64]*types.Embedding),
		topics:        make(map[string]*types.Topic),
		mentionTopics: make(map[int64][]types.MentionTopic),
		issues:        make(map[string]*types.Issue),
		issueLinks:    make(map[string]map[int64]types.IssueMention),
		issueEvents:   make(map[string][]*types.IssueEvent),
		aggregations:  make(map[string]*types.Aggregation),
		trends:        make(map[string]*types.Trend),
		baselines:     make(map[string]*types.Baseline),
		cursors:       make(map[string]int64),
		kv:            make(map[string]string),
	}
}

func copyMention(m *types.Mention) *types.Mention {
	cp := *m
	if m.EmotionDistribution != nil {
		cp.EmotionDistribution = make(map[types.EmotionLabel]float64, len(m.EmotionDistribution))
		for k, v := range m.EmotionDistribution {
			cp.EmotionDistribution[k] = v
		}
	}
	return &cp
}

func copyTopic(t *types.Topic) *types.Topic {
	cp := *t
	cp.Keywords = append([]string(nil), t.Keywords...)
	cp.KeywordGroups = make([]types.KeywordGroup, len(t.KeywordGroups))
	for i, g := range t.KeywordGroups {
		cp.KeywordGroups[i] = types.KeywordGroup{
			Operator: g.Operator,
			Keywords: append([]string(nil), g.Keywords...),
		}
	}
	cp.Centroid = append([]float64(nil), t.Centroid...)
	return &cp
}

func copyIssue(i *types.Issue) *types.Issue {
	cp := *i
	cp.Centroid = append([]float64(nil), i.Centroid...)
	return &cp
}

// MutateMention edits a stored mention in place, for tests that need to
// backdate timestamps or force a processing state the public API would not
// produce.
func (s *Store) MutateMention(entryID int64, fn func(*types.Mention)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mentions[entryID]; ok {
		fn(m)
	}
}

// InsertMention mirrors the MySQL unique keys: (platform, source_id), url,
// and fingerprint, each only when non-empty.
func (s *Store) InsertMention(ctx context.Context, m *types.Mention) (int64, error) {
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = types.StatusPending
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mentions {
		switch {
		case m.SourceID != "" && existing.Platform == m.Platform && existing.SourceID == m.SourceID:
			return 0, fmt.Errorf("insert mention: %w", storage.ErrDuplicateKey)
		case m.URL != "" && existing.URL == m.URL:
			return 0, fmt.Errorf("insert mention: %w", storage.ErrDuplicateKey)
		case m.Fingerprint != "" && existing.Fingerprint == m.Fingerprint:
			return 0, fmt.Errorf("insert mention: %w", storage.ErrDuplicateKey)
		}
	}
	s.nextID++
	m.EntryID = s.nextID
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	s.mentions[m.EntryID] = copyMention(m)
	return m.EntryID, nil
}

func (s *Store) GetMention(ctx context.Context, entryID int64) (*types.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[entryID]
	if !ok {
		return nil, fmt.Errorf("mention %d: %w", entryID, storage.ErrNotFound)
	}
	return copyMention(m), nil
}

// findMention returns the oldest match, same as the MySQL ORDER BY entry_id.
func (s *Store) findMention(match func(*types.Mention) bool) (*types.Mention, error) {
	var best *types.Mention
	for _, m := range s.mentions {
		if !match(m) {
			continue
		}
		if best == nil || m.EntryID < best.EntryID {
			best = m
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return copyMention(best), nil
}

func (s *Store) FindMentionBySource(ctx context.Context, platform types.Platform, sourceID string) (*types.Mention, error) {
	if sourceID == "" {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findMention(func(m *types.Mention) bool {
		return m.Platform == platform && m.SourceID == sourceID
	})
}

func (s *Store) FindMentionByURL(ctx context.Context, url string) (*types.Mention, error) {
	if url == "" {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findMention(func(m *types.Mention) bool { return m.URL == url })
}

func (s *Store) FindMentionByFingerprint(ctx context.Context, fingerprint string) (*types.Mention, error) {
	if fingerprint == "" {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findMention(func(m *types.Mention) bool { return m.Fingerprint == fingerprint })
}

// UpdateEngagement replaces the counters wholesale. A missing row is not an
// error, matching the MySQL store.
func (s *Store) UpdateEngagement(ctx context.Context, entryID int64, e storage.Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[entryID]
	if !ok {
		return nil
	}
	m.Likes = e.Likes
	m.Shares = e.Shares
	m.Comments = e.Comments
	m.DirectReach = e.DirectReach
	m.CumulativeReach = e.CumulativeReach
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RecentMentionsForDedup(ctx context.Context, platform types.Platform, since time.Time, limit int) ([]storage.DedupCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*types.Mention
	for _, m := range s.mentions {
		if m.Platform == platform && m.NormalizedText != "" && !m.CollectedAt.Before(since) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CollectedAt.Equal(matched[j].CollectedAt) {
			return matched[i].CollectedAt.After(matched[j].CollectedAt)
		}
		return matched[i].EntryID > matched[j].EntryID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]storage.DedupCandidate, len(matched))
	for i, m := range matched {
		out[i] = storage.DedupCandidate{EntryID: m.EntryID, NormalizedText: m.NormalizedText}
	}
	return out, nil
}

func (s *Store) ClaimPending(ctx context.Context, batchSize int) ([]*types.Mention, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*types.Mention
	for _, m := range s.mentions {
		if m.ProcessingStatus == types.StatusPending {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].EntryID < pending[j].EntryID })
	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	now := time.Now().UTC()
	out := make([]*types.Mention, len(pending))
	for i, m := range pending {
		m.ProcessingStatus = types.StatusProcessing
		started := now
		m.ProcessingStartedAt = &started
		out[i] = copyMention(m)
	}
	return out, nil
}

func (s *Store) CommitAnalysis(ctx context.Context, res *storage.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[res.EntryID]
	if !ok {
		return fmt.Errorf("commit analysis %d: %w", res.EntryID, storage.ErrNotFound)
	}
	label := res.SentimentLabel
	score := res.SentimentScore
	m.SentimentLabel = &label
	m.SentimentScore = &score
	m.SentimentJustification = res.SentimentJustification
	emoLabel := res.EmotionLabel
	emoScore := res.EmotionScore
	m.EmotionLabel = &emoLabel
	m.EmotionScore = &emoScore
	m.EmotionDistribution = res.EmotionDistribution
	infl := res.InfluenceWeight
	conf := res.ConfidenceWeight
	m.InfluenceWeight = &infl
	m.ConfidenceWeight = &conf
	m.LocationLabel = res.LocationLabel
	m.LocationConfidence = res.LocationConfidence
	m.MinistryHint = res.PrimaryTopic
	m.IssueSlug = res.IssueSlug
	m.IssueLabel = res.IssueLabel
	m.IssueConfidence = res.IssueConfidence
	m.ProcessingStatus = types.StatusCompleted
	completed := time.Now().UTC()
	m.ProcessingCompletedAt = &completed
	m.FailureReason = ""

	if res.Embedding != nil {
		vec := append([]float64(nil), res.Embedding.Vector...)
		s.embeddings[res.EntryID] = &types.Embedding{
			EntryID: res.EntryID,
			Vector:  vec,
			Model:   res.Embedding.Model,
		}
	}
	s.mentionTopics[res.EntryID] = append([]types.MentionTopic(nil), res.Topics...)
	for _, link := range res.IssueLinks {
		s.addIssueLink(link)
	}
	return nil
}

// addIssueLink inserts or refreshes one link and bumps the issue's counters
// only for a fresh link. Callers hold the lock.
func (s *Store) addIssueLink(link types.IssueMention) {
	if link.DetectedAt.IsZero() {
		link.DetectedAt = time.Now().UTC()
	}
	links := s.issueLinks[link.IssueID]
	if links == nil {
		links = make(map[int64]types.IssueMention)
		s.issueLinks[link.IssueID] = links
	}
	_, existed := links[link.MentionID]
	links[link.MentionID] = link
	if existed {
		return
	}
	if issue, ok := s.issues[link.IssueID]; ok {
		issue.MentionCount++
		if link.DetectedAt.After(issue.LastActivity) {
			issue.LastActivity = link.DetectedAt
		}
	}
}

func (s *Store) MarkFailed(ctx context.Context, entryID int64, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[entryID]
	if !ok {
		return fmt.Errorf("mark failed %d: %w", entryID, storage.ErrNotFound)
	}
	if m.ProcessingStatus != types.StatusProcessing {
		return fmt.Errorf("mark failed %d: %w", entryID, storage.ErrAlreadyClaimed)
	}
	m.ProcessingStatus = types.StatusFailed
	m.FailureReason = phase
	return nil
}

func (s *Store) ReapStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for _, m := range s.mentions {
		if m.ProcessingStatus == types.StatusProcessing && m.ProcessingStartedAt != nil && m.ProcessingStartedAt.Before(cutoff) {
			m.ProcessingStatus = types.StatusPending
			m.ProcessingStartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[types.ProcessingStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.ProcessingStatus]int64)
	for _, m := range s.mentions {
		out[m.ProcessingStatus]++
	}
	return out, nil
}

func (s *Store) GetEmbedding(ctx context.Context, entryID int64) (*types.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.embeddings[entryID]
	if !ok {
		return nil, fmt.Errorf("embedding %d: %w", entryID, storage.ErrNotFound)
	}
	return &types.Embedding{EntryID: e.EntryID, Vector: append([]float64(nil), e.Vector...), Model: e.Model}, nil
}

// UpsertTopic keeps an existing centroid when the incoming topic has none,
// matching the MySQL COALESCE.
func (s *Store) UpsertTopic(ctx context.Context, t *types.Topic) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyTopic(t)
	if existing, ok := s.topics[t.TopicKey]; ok && len(cp.Centroid) == 0 {
		cp.Centroid = existing.Centroid
	}
	s.topics[t.TopicKey] = cp
	return nil
}

func (s *Store) GetTopic(ctx context.Context, topicKey string) (*types.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[topicKey]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", topicKey, storage.ErrNotFound)
	}
	return copyTopic(t), nil
}

func (s *Store) ListActiveTopics(ctx context.Context) ([]*types.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Topic
	for _, t := range s.topics {
		if t.Active {
			out = append(out, copyTopic(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicKey < out[j].TopicKey })
	return out, nil
}

func (s *Store) getIssue(issueID string) (*types.Issue, error) {
	i, ok := s.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	return copyIssue(i), nil
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getIssue(issueID)
}

func (s *Store) GetIssueBySlug(ctx context.Context, topicKey, slug string) (*types.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.issues {
		if i.TopicKey == topicKey && i.Slug == slug {
			return copyIssue(i), nil
		}
	}
	return nil, fmt.Errorf("issue %s/%s: %w", topicKey, slug, storage.ErrNotFound)
}

func (s *Store) listIssues(topicKey string, states []types.IssueState) []*types.Issue {
	wanted := make(map[types.IssueState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var out []*types.Issue
	for _, i := range s.issues {
		if topicKey != "" && i.TopicKey != topicKey {
			continue
		}
		if len(states) > 0 && !wanted[i.State] {
			continue
		}
		out = append(out, copyIssue(i))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].IssueID < out[j].IssueID
	})
	return out
}

func (s *Store) ListIssuesByTopic(ctx context.Context, topicKey string, states []types.IssueState) ([]*types.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listIssues(topicKey, states), nil
}

func (s *Store) ListIssues(ctx context.Context, states []types.IssueState) ([]*types.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listIssues("", states), nil
}

func (s *Store) ListIssueEvents(ctx context.Context, issueID string, limit int) ([]*types.IssueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.issueEvents[issueID]
	var out []*types.IssueEvent
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *events[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UnissuedMentions(ctx context.Context, topicKey string, since time.Time) ([]storage.MentionVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	linked := make(map[int64]bool)
	for _, links := range s.issueLinks {
		for id := range links {
			linked[id] = true
		}
	}
	var out []storage.MentionVector
	for _, m := range s.mentions {
		if m.MinistryHint != topicKey || m.ProcessingStatus != types.StatusCompleted {
			continue
		}
		if m.PublishedAt.Before(since) || linked[m.EntryID] {
			continue
		}
		e, ok := s.embeddings[m.EntryID]
		if !ok {
			continue
		}
		out = append(out, storage.MentionVector{
			Mention: copyMention(m),
			Vector:  append([]float64(nil), e.Vector...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Mention, out[j].Mention
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.Before(b.PublishedAt)
		}
		return a.EntryID < b.EntryID
	})
	return out, nil
}

func (s *Store) IssueMentionCount(ctx context.Context, issueID string, since, until time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, link := range s.issueLinks[issueID] {
		if link.DetectedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !link.DetectedAt.Before(until) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) IssueMentionIDs(ctx context.Context, issueID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.issueLinks[issueID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) AggregationRows(ctx context.Context, kind types.SubjectKind, key string, w types.Window) ([]storage.SentimentRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.SentimentRow
	for _, m := range s.mentions {
		if m.ProcessingStatus != types.StatusCompleted || m.SentimentScore == nil {
			continue
		}
		if m.PublishedAt.Before(w.Start) || !m.PublishedAt.Before(w.End) {
			continue
		}
		if !s.subjectMatches(kind, key, m) {
			continue
		}
		row := storage.SentimentRow{
			SentimentScore:      *m.SentimentScore,
			InfluenceWeight:     1,
			ConfidenceWeight:    1,
			EmotionDistribution: m.EmotionDistribution,
		}
		if m.SentimentLabel != nil {
			row.SentimentLabel = *m.SentimentLabel
		}
		if m.InfluenceWeight != nil {
			row.InfluenceWeight = *m.InfluenceWeight
		}
		if m.ConfidenceWeight != nil {
			row.ConfidenceWeight = *m.ConfidenceWeight
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) subjectMatches(kind types.SubjectKind, key string, m *types.Mention) bool {
	switch kind {
	case types.SubjectTopic:
		for _, mt := range s.mentionTopics[m.EntryID] {
			if mt.TopicKey == key {
				return true
			}
		}
	case types.SubjectIssue:
		_, ok := s.issueLinks[key][m.EntryID]
		return ok
	case types.SubjectEntity:
		return strings.Contains(m.NormalizedText, strings.ToLower(key))
	}
	return false
}

func aggKey(kind types.SubjectKind, key string, size types.WindowSize, start time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", kind, key, size, start.UTC().Unix())
}

func (s *Store) UpsertAggregation(ctx context.Context, a *types.Aggregation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if cp.ComputedAt.IsZero() {
		cp.ComputedAt = time.Now().UTC()
	}
	s.aggregations[aggKey(a.SubjectKind, a.SubjectKey, a.WindowSize, a.WindowStart)] = &cp
	return nil
}

func (s *Store) GetAggregation(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, start time.Time) (*types.Aggregation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aggregations[aggKey(kind, key, size, start)]
	if !ok {
		return nil, fmt.Errorf("aggregation %s/%s: %w", kind, key, storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpsertTrend(ctx context.Context, t *types.Trend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.ComputedAt.IsZero() {
		cp.ComputedAt = time.Now().UTC()
	}
	s.trends[aggKey(t.SubjectKind, t.SubjectKey, t.WindowSize, t.WindowStart)] = &cp
	return nil
}

// Trend returns a stored trend row, for test assertions.
func (s *Store) Trend(kind types.SubjectKind, key string, size types.WindowSize, start time.Time) (*types.Trend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[aggKey(kind, key, size, start)]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (s *Store) AggregationIndexes(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, since time.Time) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*types.Aggregation
	for _, a := range s.aggregations {
		if a.SubjectKind == kind && a.SubjectKey == key && a.WindowSize == size && !a.WindowStart.Before(since) {
			rows = append(rows, a)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].WindowStart.Before(rows[j].WindowStart) })
	out := make([]float64, len(rows))
	for i, a := range rows {
		out[i] = float64(a.SentimentIndex)
	}
	return out, nil
}

func (s *Store) UpsertBaseline(ctx context.Context, b *types.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	if cp.ComputedAt.IsZero() {
		cp.ComputedAt = time.Now().UTC()
	}
	s.baselines[b.TopicKey] = &cp
	return nil
}

func (s *Store) GetBaseline(ctx context.Context, topicKey string) (*types.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[topicKey]
	if !ok {
		return nil, fmt.Errorf("baseline %s: %w", topicKey, storage.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) GetCursor(ctx context.Context, dataset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[dataset], nil
}

func (s *Store) SetCursor(ctx context.Context, dataset string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[dataset] = cursor
	return nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", fmt.Errorf("config %s: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

// RunInTransaction runs fn against a transaction view of the store. Writes
// apply immediately; an error from fn is returned but nothing is undone.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return fn(&fakeTx{s: s})
}

func (s *Store) Close() error { return nil }

type fakeTx struct {
	s *Store
}

var _ storage.Transaction = (*fakeTx)(nil)

func (t *fakeTx) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, exists := t.s.issues[issue.IssueID]; exists {
		return fmt.Errorf("create issue %s: %w", issue.IssueID, storage.ErrDuplicateKey)
	}
	for _, i := range t.s.issues {
		if i.TopicKey == issue.TopicKey && i.Slug == issue.Slug {
			return fmt.Errorf("create issue %s: %w", issue.Slug, storage.ErrDuplicateKey)
		}
	}
	cp := copyIssue(issue)
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	t.s.issues[issue.IssueID] = cp
	return nil
}

func (t *fakeTx) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	existing, ok := t.s.issues[issue.IssueID]
	if !ok {
		return fmt.Errorf("update issue %s: %w", issue.IssueID, storage.ErrNotFound)
	}
	existing.Label = issue.Label
	existing.PriorityScore = issue.PriorityScore
	existing.PriorityBand = issue.PriorityBand
	existing.MentionCount = issue.MentionCount
	existing.LastActivity = issue.LastActivity
	existing.Centroid = append([]float64(nil), issue.Centroid...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *fakeTx) TransitionIssue(ctx context.Context, issueID string, from, to types.IssueState, reason string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition for issue %s: %s -> %s", issueID, from, to)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	issue, ok := t.s.issues[issueID]
	if !ok {
		return fmt.Errorf("transition issue %s: %w", issueID, storage.ErrNotFound)
	}
	if issue.State != from {
		return fmt.Errorf("transition issue %s: %w", issueID, storage.ErrAlreadyClaimed)
	}
	issue.State = to
	issue.UpdatedAt = time.Now().UTC()
	t.s.nextEventID++
	t.s.issueEvents[issueID] = append(t.s.issueEvents[issueID], &types.IssueEvent{
		ID:        t.s.nextEventID,
		IssueID:   issueID,
		FromState: from,
		ToState:   to,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *fakeTx) AddIssueMentions(ctx context.Context, links []types.IssueMention) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, link := range links {
		t.s.addIssueLink(link)
	}
	return nil
}

func (t *fakeTx) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.getIssue(issueID)
}

func (t *fakeTx) SetConfig(ctx context.Context, key, value string) error {
	return t.s.SetConfig(ctx, key, value)
}

func (t *fakeTx) GetConfig(ctx context.Context, key string) (string, error) {
	return t.s.GetConfig(ctx, key)
}
