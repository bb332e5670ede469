// Package storage provides shared types for the pipeline's persistent store.
//
// The concrete implementation lives in the mysql sub-package. This package
// holds the interface and value types referenced by both the implementation
// and its consumers (ingest, analysis, issues, aggregate).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mediapulse/pulse/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique constraint.
// Ingest callers retry the operation as an update.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrAlreadyClaimed is returned when a guarded claim or transition finds the
// row was taken by a competing worker between select and update.
var ErrAlreadyClaimed = errors.New("already claimed")

// ErrNotInitialized is returned when the schema has not been created yet.
var ErrNotInitialized = errors.New("store not initialized")

// Storage is the interface satisfied by *mysql.Store. Consumers depend on
// this interface rather than the concrete type so fakes can be substituted
// in tests.
type Storage interface {
	// Mention ingest path
	InsertMention(ctx context.Context, m *types.Mention) (int64, error)
	GetMention(ctx context.Context, entryID int64) (*types.Mention, error)
	FindMentionBySource(ctx context.Context, platform types.Platform, sourceID string) (*types.Mention, error)
	FindMentionByURL(ctx context.Context, url string) (*types.Mention, error)
	FindMentionByFingerprint(ctx context.Context, fingerprint string) (*types.Mention, error)
	UpdateEngagement(ctx context.Context, entryID int64, e Engagement) error
	RecentMentionsForDedup(ctx context.Context, platform types.Platform, since time.Time, limit int) ([]DedupCandidate, error)

	// Analysis claim path
	ClaimPending(ctx context.Context, batchSize int) ([]*types.Mention, error)
	CommitAnalysis(ctx context.Context, res *AnalysisResult) error
	MarkFailed(ctx context.Context, entryID int64, phase string) error
	ReapStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	CountByStatus(ctx context.Context) (map[types.ProcessingStatus]int64, error)

	// Embeddings
	GetEmbedding(ctx context.Context, entryID int64) (*types.Embedding, error)

	// Topics
	UpsertTopic(ctx context.Context, t *types.Topic) error
	GetTopic(ctx context.Context, topicKey string) (*types.Topic, error)
	ListActiveTopics(ctx context.Context) ([]*types.Topic, error)

	// Issues
	GetIssue(ctx context.Context, issueID string) (*types.Issue, error)
	GetIssueBySlug(ctx context.Context, topicKey, slug string) (*types.Issue, error)
	ListIssuesByTopic(ctx context.Context, topicKey string, states []types.IssueState) ([]*types.Issue, error)
	ListIssues(ctx context.Context, states []types.IssueState) ([]*types.Issue, error)
	ListIssueEvents(ctx context.Context, issueID string, limit int) ([]*types.IssueEvent, error)
	UnissuedMentions(ctx context.Context, topicKey string, since time.Time) ([]MentionVector, error)
	IssueMentionCount(ctx context.Context, issueID string, since, until time.Time) (int, error)
	IssueMentionIDs(ctx context.Context, issueID string) ([]int64, error)

	// Aggregations
	AggregationRows(ctx context.Context, kind types.SubjectKind, key string, w types.Window) ([]SentimentRow, error)
	UpsertAggregation(ctx context.Context, a *types.Aggregation) error
	GetAggregation(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, start time.Time) (*types.Aggregation, error)
	UpsertTrend(ctx context.Context, t *types.Trend) error
	AggregationIndexes(ctx context.Context, kind types.SubjectKind, key string, size types.WindowSize, since time.Time) ([]float64, error)
	UpsertBaseline(ctx context.Context, b *types.Baseline) error
	GetBaseline(ctx context.Context, topicKey string) (*types.Baseline, error)

	// Cursors and configuration
	GetCursor(ctx context.Context, dataset string) (int64, error)
	SetCursor(ctx context.Context, dataset string, cursor int64) error
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
}

// Transaction exposes the subset of operations the issue engine runs
// atomically: creating an issue with its initial members, or merging a
// cluster into an existing issue while recording the transition that the
// merge triggered.
//
// All operations share one database transaction. An error from the callback
// rolls everything back; a nil return commits.
type Transaction interface {
	CreateIssue(ctx context.Context, issue *types.Issue) error
	UpdateIssue(ctx context.Context, issue *types.Issue) error
	TransitionIssue(ctx context.Context, issueID string, from, to types.IssueState, reason string) error
	AddIssueMentions(ctx context.Context, links []types.IssueMention) error
	GetIssue(ctx context.Context, issueID string) (*types.Issue, error)
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}

// Engagement carries the mutable counters a source re-reports. The stored
// values are replaced wholesale: the last report wins, even when lower.
type Engagement struct {
	Likes           int64
	Shares          int64
	Comments        int64
	DirectReach     int64
	CumulativeReach int64
}

// DedupCandidate is one existing row a near-duplicate scan compares against.
// Only the fields the similarity check needs are loaded.
type DedupCandidate struct {
	EntryID        int64
	NormalizedText string
}

// AnalysisResult carries everything the worker pool commits for one mention
// in a single transaction.
type AnalysisResult struct {
	EntryID                int64
	SentimentLabel         types.SentimentLabel
	SentimentScore         float64
	SentimentJustification string
	EmotionLabel           types.EmotionLabel
	EmotionScore           float64
	EmotionDistribution    map[types.EmotionLabel]float64
	Embedding              *types.Embedding
	Topics                 []types.MentionTopic
	IssueLinks             []types.IssueMention
	PrimaryTopic           string
	IssueSlug              string
	IssueLabel             string
	IssueConfidence        *float64
	LocationLabel          string
	LocationConfidence     *float64
	InfluenceWeight        float64
	ConfidenceWeight       float64
}

// MentionVector pairs a mention with its stored embedding for clustering.
type MentionVector struct {
	Mention *types.Mention
	Vector  []float64
}

// SentimentRow is the per-mention tuple windowed aggregation consumes.
type SentimentRow struct {
	SentimentScore      float64
	SentimentLabel      types.SentimentLabel
	InfluenceWeight     float64
	ConfidenceWeight    float64
	EmotionDistribution map[types.EmotionLabel]float64
}
