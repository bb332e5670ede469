package types

import (
	"fmt"
	"time"
)

// WindowSize is one of the fixed aggregation window sizes. Windows are
// half-open [start, end) intervals anchored to integer multiples of the size
// from the Unix epoch.
type WindowSize string

// Aggregation window sizes
const (
	Window15m WindowSize = "15m"
	Window1h  WindowSize = "1h"
	Window24h WindowSize = "24h"
	Window7d  WindowSize = "7d"
	Window30d WindowSize = "30d"
)

// AllWindowSizes lists every window size in ascending order.
var AllWindowSizes = []WindowSize{Window15m, Window1h, Window24h, Window7d, Window30d}

// IsValid checks if the window size value is valid
func (w WindowSize) IsValid() bool {
	switch w {
	case Window15m, Window1h, Window24h, Window7d, Window30d:
		return true
	}
	return false
}

// Duration returns the length of the window.
func (w WindowSize) Duration() time.Duration {
	switch w {
	case Window15m:
		return 15 * time.Minute
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	}
	return 0
}

// ParseWindowSize converts a config string into a WindowSize.
func ParseWindowSize(s string) (WindowSize, error) {
	w := WindowSize(s)
	if !w.IsValid() {
		return "", fmt.Errorf("unknown window size: %q", s)
	}
	return w, nil
}

// Snap returns the start of the window containing t: the largest integer
// multiple of the window size since the Unix epoch that is <= t. A timestamp
// exactly on a boundary belongs to the window that starts there.
func (w WindowSize) Snap(t time.Time) time.Time {
	step := int64(w.Duration() / time.Second)
	sec := t.Unix()
	return time.Unix(sec-sec%step, 0).UTC()
}

// Window is one concrete half-open [Start, End) interval.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowAt returns the window of size w containing t.
func WindowAt(w WindowSize, t time.Time) Window {
	start := w.Snap(t)
	return Window{Start: start, End: start.Add(w.Duration())}
}

// Contains reports whether t falls inside the window. The start is
// inclusive, the end exclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Previous returns the immediately preceding window of the same size.
func (w Window) Previous() Window {
	d := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-d), End: w.Start}
}

// SubjectKind names what an aggregation row is about.
type SubjectKind string

// Aggregation subject kinds
const (
	SubjectTopic  SubjectKind = "topic"
	SubjectIssue  SubjectKind = "issue"
	SubjectEntity SubjectKind = "entity"
)

// IsValid checks if the subject kind value is valid
func (k SubjectKind) IsValid() bool {
	switch k {
	case SubjectTopic, SubjectIssue, SubjectEntity:
		return true
	}
	return false
}

// Aggregation is one windowed rollup row for one subject.
type Aggregation struct {
	ID                       int64                    `json:"id,omitempty"`
	SubjectKind              SubjectKind              `json:"subject_kind"`
	SubjectKey               string                   `json:"subject_key"`
	WindowSize               WindowSize               `json:"window_size"`
	WindowStart              time.Time                `json:"window_start"`
	WindowEnd                time.Time                `json:"window_end"`
	WeightedSentimentScore   float64                  `json:"weighted_sentiment_score"` // [-1, 1]
	SentimentIndex           int                      `json:"sentiment_index"`          // [0, 100]
	SentimentDistribution    map[SentimentLabel]float64 `json:"sentiment_distribution,omitempty"`
	EmotionDistribution      map[EmotionLabel]float64 `json:"emotion_distribution,omitempty"`
	EmotionAdjustedSeverity  float64                  `json:"emotion_adjusted_severity"` // [0, 1]
	MentionCount             int                      `json:"mention_count"`
	TotalInfluenceWeight     float64                  `json:"total_influence_weight"`
	NormalizedSentimentScore *float64                 `json:"normalized_sentiment_score,omitempty"` // Index minus topic baseline
	ComputedAt               time.Time                `json:"computed_at"`
}

// Validate checks the aggregation's coordinates.
func (a *Aggregation) Validate() error {
	if !a.SubjectKind.IsValid() {
		return fmt.Errorf("invalid subject kind: %s", a.SubjectKind)
	}
	if a.SubjectKey == "" {
		return fmt.Errorf("aggregation requires subject_key")
	}
	if !a.WindowSize.IsValid() {
		return fmt.Errorf("invalid window size: %s", a.WindowSize)
	}
	if !a.WindowEnd.After(a.WindowStart) {
		return fmt.Errorf("window_end must follow window_start")
	}
	return nil
}

// SentimentIndexFor maps a weighted sentiment score in [-1,1] to the
// human-readable [0,100] index.
func SentimentIndexFor(weighted float64) int {
	idx := int(50*(weighted+1) + 0.5)
	if idx < 0 {
		return 0
	}
	if idx > 100 {
		return 100
	}
	return idx
}

// TrendDirection compares one window to its predecessor.
type TrendDirection string

// Trend directions
const (
	TrendImproving     TrendDirection = "improving"
	TrendDeteriorating TrendDirection = "deteriorating"
	TrendStable        TrendDirection = "stable"
)

// DirectionForDelta maps a sentiment index delta to a direction. The change
// must reach five points either way to count as movement.
func DirectionForDelta(delta int) TrendDirection {
	switch {
	case delta >= 5:
		return TrendImproving
	case delta <= -5:
		return TrendDeteriorating
	default:
		return TrendStable
	}
}

// Trend compares one aggregation window to the immediately preceding
// same-sized window.
type Trend struct {
	ID            int64          `json:"id,omitempty"`
	SubjectKind   SubjectKind    `json:"subject_kind"`
	SubjectKey    string         `json:"subject_key"`
	WindowSize    WindowSize     `json:"window_size"`
	WindowStart   time.Time      `json:"window_start"`
	CurrentIndex  int            `json:"current_index"`
	PreviousIndex int            `json:"previous_index"`
	Direction     TrendDirection `json:"direction"`
	Magnitude     int            `json:"magnitude"`
	ComputedAt    time.Time      `json:"computed_at"`
}

// Baseline is a topic's historical median sentiment index, used to normalize
// current values across topics that live at different sentiment altitudes.
type Baseline struct {
	TopicKey      string    `json:"topic_key"`
	BaselineIndex float64   `json:"baseline_index"`
	Deviation     float64   `json:"deviation"` // Current index minus baseline
	SampleCount   int       `json:"sample_count"`
	ComputedAt    time.Time `json:"computed_at"`
}
