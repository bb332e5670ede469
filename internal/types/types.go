// Package types defines core data structures for the pulse monitoring pipeline.
package types

import (
	"fmt"
	"time"
)

// Mention represents one observed item from one source: a tweet, an article,
// a post, a broadcast transcript.
type Mention struct {
	EntryID  int64  `json:"entry_id"`
	SourceID string `json:"source_id,omitempty"` // Platform-native identifier
	URL      string `json:"url,omitempty"`

	// Provenance
	Platform    Platform   `json:"platform"`
	SourceType  SourceType `json:"source_type,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
	Query       string     `json:"query,omitempty"` // Search query that surfaced this item
	CollectedAt time.Time  `json:"collected_at"`
	PublishedAt time.Time  `json:"published_at"`
	Language    string     `json:"language,omitempty"`
	Country     string     `json:"country,omitempty"`

	// Content
	Title          string `json:"title,omitempty"`
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text,omitempty"`
	Fingerprint    string `json:"fingerprint,omitempty"` // Hex SHA-256 dedup probe key

	// Author
	AuthorHandle   string `json:"author_handle,omitempty"`
	AuthorName     string `json:"author_name,omitempty"`
	AuthorAvatar   string `json:"author_avatar,omitempty"`
	AuthorLocation string `json:"author_location,omitempty"`
	AuthorVerified bool   `json:"author_verified,omitempty"`

	// Engagement (mutable; last-reported value wins, even when lower)
	Likes           int64 `json:"likes"`
	Shares          int64 `json:"shares"`
	Comments        int64 `json:"comments"`
	DirectReach     int64 `json:"direct_reach"`
	CumulativeReach int64 `json:"cumulative_reach"`

	// Analysis (absent until the worker pool commits; set atomically)
	SentimentLabel         *SentimentLabel            `json:"sentiment_label,omitempty"`
	SentimentScore         *float64                   `json:"sentiment_score,omitempty"` // [-1, 1]
	SentimentJustification string                     `json:"sentiment_justification,omitempty"`
	EmotionLabel           *EmotionLabel              `json:"emotion_label,omitempty"`
	EmotionScore           *float64                   `json:"emotion_score,omitempty"` // [0, 1]
	EmotionDistribution    map[EmotionLabel]float64   `json:"emotion_distribution,omitempty"`
	InfluenceWeight        *float64                   `json:"influence_weight,omitempty"`  // [1, 5]
	ConfidenceWeight       *float64                   `json:"confidence_weight,omitempty"` // [0, 1]
	LocationLabel          string                     `json:"location_label,omitempty"`
	LocationConfidence     *float64                   `json:"location_confidence,omitempty"`
	MinistryHint           string                     `json:"ministry_hint,omitempty"` // Primary topic key
	IssueSlug              string                     `json:"issue_slug,omitempty"`    // Cached read value, eventually consistent
	IssueLabel             string                     `json:"issue_label,omitempty"`
	IssueConfidence        *float64                   `json:"issue_confidence,omitempty"`

	// Processing state
	ProcessingStatus      ProcessingStatus `json:"processing_status,omitempty"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at,omitempty"`
	FailureReason         string           `json:"failure_reason,omitempty"` // Failing phase annotation when status=failed

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Analyzed reports whether the analysis pipeline has committed results for
// this mention. A null sentiment label means analysis has not completed.
func (m *Mention) Analyzed() bool {
	return m.SentimentLabel != nil
}

// Validate checks that the mention has valid field values.
func (m *Mention) Validate() error {
	if m.Text == "" && m.URL == "" {
		return fmt.Errorf("mention requires text or url")
	}
	if !m.Platform.IsValid() {
		return fmt.Errorf("invalid platform: %s", m.Platform)
	}
	if m.SourceType != "" && !m.SourceType.IsValid() {
		return fmt.Errorf("invalid source type: %s", m.SourceType)
	}
	if m.ProcessingStatus != "" && !m.ProcessingStatus.IsValid() {
		return fmt.Errorf("invalid processing status: %s", m.ProcessingStatus)
	}
	if m.SentimentScore != nil && (*m.SentimentScore < -1 || *m.SentimentScore > 1) {
		return fmt.Errorf("sentiment_score must be in [-1, 1] (got %g)", *m.SentimentScore)
	}
	if m.InfluenceWeight != nil && (*m.InfluenceWeight < 1 || *m.InfluenceWeight > 5) {
		return fmt.Errorf("influence_weight must be in [1, 5] (got %g)", *m.InfluenceWeight)
	}
	if m.ConfidenceWeight != nil && (*m.ConfidenceWeight < 0 || *m.ConfidenceWeight > 1) {
		return fmt.Errorf("confidence_weight must be in [0, 1] (got %g)", *m.ConfidenceWeight)
	}
	if m.CollectedAt.IsZero() {
		return fmt.Errorf("collected_at is required")
	}
	return nil
}

// SetDefaults applies default values for fields omitted by collectors.
// PublishedAt falls back to CollectedAt when the source carried no parseable
// publication timestamp.
func (m *Mention) SetDefaults() {
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = StatusPending
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = m.CollectedAt
	}
}

// ProcessingStatus represents where a mention sits in the analysis pipeline.
type ProcessingStatus string

// Processing status constants
const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing" // Claimed by a worker; stale claims are reaped by the janitor
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsValid checks if the processing status value is valid
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status can no longer change without operator
// intervention. Failed mentions stay failed; they are not retried.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Platform identifies the external network a mention came from.
type Platform string

// Platform constants
const (
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformNews      Platform = "news"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
)

// IsValid checks if the platform value is valid
func (p Platform) IsValid() bool {
	switch p {
	case PlatformTwitter, PlatformFacebook, PlatformInstagram, PlatformNews, PlatformTikTok, PlatformYouTube:
		return true
	}
	return false
}

// SourceType classifies the author of a mention for influence weighting.
type SourceType string

// Source type constants, ordered by influence base
const (
	SourceCitizen    SourceType = "citizen"
	SourceJournalist SourceType = "journalist"
	SourceOfficial   SourceType = "official"
	SourceMinister   SourceType = "minister"
	SourcePresidency SourceType = "presidency"
)

// IsValid checks if the source type value is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceCitizen, SourceJournalist, SourceOfficial, SourceMinister, SourcePresidency:
		return true
	}
	return false
}

// InfluenceBase returns the starting influence weight for this source type.
// Unknown types weigh the same as citizens.
func (s SourceType) InfluenceBase() float64 {
	switch s {
	case SourceJournalist:
		return 2.0
	case SourceOfficial:
		return 3.0
	case SourceMinister:
		return 4.0
	case SourcePresidency:
		return 5.0
	default:
		return 1.0
	}
}

// VerifiedMultiplier is applied to the influence base for verified authors.
const VerifiedMultiplier = 1.5

// ReachTier buckets a mention's cumulative reach into quantile bands.
type ReachTier string

// Reach tier constants
const (
	ReachLow    ReachTier = "low"
	ReachMedium ReachTier = "medium"
	ReachHigh   ReachTier = "high"
)

// Multiplier returns the influence multiplier for this reach tier.
func (r ReachTier) Multiplier() float64 {
	switch r {
	case ReachMedium:
		return 1.15
	case ReachHigh:
		return 1.3
	default:
		return 1.0
	}
}

// SentimentLabel is the three-way sentiment classification of a mention.
type SentimentLabel string

// Sentiment label constants
const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// IsValid checks if the sentiment label value is valid
func (s SentimentLabel) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// LabelForScore maps a sentiment score in [-1,1] to a label using the given
// thresholds. The score always wins over whatever label the classifier
// returned alongside it.
func LabelForScore(score, posThreshold, negThreshold float64) SentimentLabel {
	switch {
	case score >= posThreshold:
		return SentimentPositive
	case score <= negThreshold:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// EmotionLabel is one of the emotions the classifier distributes probability
// over, plus neutral for mentions carrying no dominant emotion.
type EmotionLabel string

// Emotion label constants
const (
	EmotionAnger   EmotionLabel = "anger"
	EmotionFear    EmotionLabel = "fear"
	EmotionTrust   EmotionLabel = "trust"
	EmotionSadness EmotionLabel = "sadness"
	EmotionJoy     EmotionLabel = "joy"
	EmotionDisgust EmotionLabel = "disgust"
	EmotionNeutral EmotionLabel = "neutral"
)

// IsValid checks if the emotion label value is valid
func (e EmotionLabel) IsValid() bool {
	switch e {
	case EmotionAnger, EmotionFear, EmotionTrust, EmotionSadness, EmotionJoy, EmotionDisgust, EmotionNeutral:
		return true
	}
	return false
}

// CoreEmotions lists the six emotions a distribution ranges over, in the
// order the classifier reports them. Neutral is derived, never distributed.
var CoreEmotions = []EmotionLabel{
	EmotionAnger, EmotionFear, EmotionTrust, EmotionSadness, EmotionJoy, EmotionDisgust,
}

// NegativeEmotions lists the emotions that contribute to severity scoring.
var NegativeEmotions = []EmotionLabel{
	EmotionAnger, EmotionFear, EmotionDisgust, EmotionSadness,
}

// Embedding stores the unit vector for one mention plus the model that
// produced it. One row per mention, created at first analysis.
type Embedding struct {
	EntryID int64     `json:"entry_id"`
	Vector  []float64 `json:"vector"`
	Model   string    `json:"model"`
}

// EmbeddingDim is the dimensionality every stored embedding must have.
const EmbeddingDim = 1536

// Validate checks the embedding's shape.
func (e *Embedding) Validate() error {
	if e.EntryID == 0 {
		return fmt.Errorf("embedding requires entry_id")
	}
	if len(e.Vector) != EmbeddingDim {
		return fmt.Errorf("embedding vector must have %d dimensions (got %d)", EmbeddingDim, len(e.Vector))
	}
	if e.Model == "" {
		return fmt.Errorf("embedding requires model identifier")
	}
	return nil
}

// GroupOperator is the combination rule for a keyword group.
type GroupOperator string

// Keyword group operators
const (
	GroupAND GroupOperator = "AND"
	GroupOR  GroupOperator = "OR"
)

// IsValid checks if the operator value is valid
func (o GroupOperator) IsValid() bool {
	return o == GroupAND || o == GroupOR
}

// KeywordGroup is a set of keywords combined with a single operator. AND
// groups require every keyword present; OR groups require any.
type KeywordGroup struct {
	Operator GroupOperator `json:"operator" yaml:"operator"`
	Keywords []string      `json:"keywords" yaml:"keywords"`
}

// Topic is a predefined classification bucket with keyword and embedding
// evidence. The taxonomy is semi-static and mutated only administratively.
type Topic struct {
	TopicKey      string         `json:"topic_key" yaml:"topic_key"`
	DisplayName   string         `json:"display_name" yaml:"display_name"`
	Category      string         `json:"category,omitempty" yaml:"category,omitempty"`
	Keywords      []string       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	KeywordGroups []KeywordGroup `json:"keyword_groups,omitempty" yaml:"keyword_groups,omitempty"`
	Centroid      []float64      `json:"centroid,omitempty" yaml:"-"`
	Active        bool           `json:"active" yaml:"active"`
}

// Validate checks the topic definition.
func (t *Topic) Validate() error {
	if t.TopicKey == "" {
		return fmt.Errorf("topic requires topic_key")
	}
	for i, g := range t.KeywordGroups {
		if !g.Operator.IsValid() {
			return fmt.Errorf("topic %s group %d: invalid operator %q", t.TopicKey, i, g.Operator)
		}
		if len(g.Keywords) == 0 {
			return fmt.Errorf("topic %s group %d: empty keyword group", t.TopicKey, i)
		}
	}
	return nil
}

// MentionTopic links a mention to a topic with the per-association scores
// the topic phase computed.
type MentionTopic struct {
	MentionID       int64   `json:"mention_id"`
	TopicKey        string  `json:"topic_key"`
	KeywordScore    float64 `json:"keyword_score"`    // [0,1] fraction of keyword groups satisfied
	EmbeddingScore  float64 `json:"embedding_score"`  // [0,1] cosine similarity mapped from [-1,1]
	TopicConfidence float64 `json:"topic_confidence"` // 0.4*keyword + 0.6*embedding
}
