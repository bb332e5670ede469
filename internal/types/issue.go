package types

import (
	"fmt"
	"time"
)

// Issue is an emergent grouping of mentions talking about the same concrete
// matter within a topic. Identity is the centroid embedding; the slug is
// cosmetic and the opaque IssueID is the stable handle.
type Issue struct {
	IssueID       string     `json:"issue_id"`
	TopicKey      string     `json:"topic_key"`
	Slug          string     `json:"issue_slug"` // {topic}-{YYYYMMDD}-{random6}
	Label         string     `json:"issue_label,omitempty"`
	State         IssueState `json:"state"`
	PriorityScore float64    `json:"priority_score"` // [0,100]
	PriorityBand  Band       `json:"priority_band"`
	MentionCount  int        `json:"mention_count"`
	StartTime     time.Time  `json:"start_time"`
	LastActivity  time.Time  `json:"last_activity"`
	Centroid      []float64  `json:"centroid_embedding,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks the issue's field values.
func (i *Issue) Validate() error {
	if i.IssueID == "" {
		return fmt.Errorf("issue requires issue_id")
	}
	if i.TopicKey == "" {
		return fmt.Errorf("issue requires topic_key")
	}
	if i.Slug == "" {
		return fmt.Errorf("issue requires slug")
	}
	if !i.State.IsValid() {
		return fmt.Errorf("invalid issue state: %s", i.State)
	}
	if i.PriorityScore < 0 || i.PriorityScore > 100 {
		return fmt.Errorf("priority_score must be in [0, 100] (got %g)", i.PriorityScore)
	}
	return nil
}

// IssueState represents the lifecycle state of an issue.
type IssueState string

// Issue lifecycle states
const (
	IssueEmerging    IssueState = "emerging"
	IssueActive      IssueState = "active"
	IssueEscalated   IssueState = "escalated"
	IssueStabilizing IssueState = "stabilizing"
	IssueResolved    IssueState = "resolved"
	IssueArchived    IssueState = "archived" // Terminal, reached only by administrative action
)

// IsValid checks if the issue state value is valid
func (s IssueState) IsValid() bool {
	switch s {
	case IssueEmerging, IssueActive, IssueEscalated, IssueStabilizing, IssueResolved, IssueArchived:
		return true
	}
	return false
}

// Live reports whether the issue still accepts new cluster merges. Archived
// issues are terminal; resolved issues can be reopened by a merge.
func (s IssueState) Live() bool {
	return s != IssueArchived
}

// LiveIssueStates returns every non-archived state, in lifecycle order.
func LiveIssueStates() []IssueState {
	return []IssueState{IssueEmerging, IssueActive, IssueEscalated, IssueStabilizing, IssueResolved}
}

// CanTransitionTo reports whether the edge from s to next exists in the
// lifecycle state machine. Archiving is legal from any state.
func (s IssueState) CanTransitionTo(next IssueState) bool {
	if next == IssueArchived {
		return s != IssueArchived
	}
	switch s {
	case IssueEmerging:
		return next == IssueActive
	case IssueActive:
		return next == IssueEscalated || next == IssueStabilizing
	case IssueEscalated:
		return next == IssueActive
	case IssueStabilizing:
		return next == IssueActive || next == IssueResolved
	case IssueResolved:
		return next == IssueActive // Reopened by a matching cluster
	}
	return false
}

// Band is the human-readable priority band derived from the priority score.
type Band string

// Priority bands
const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// BandForScore maps a priority score in [0,100] to its band.
func BandForScore(score float64) Band {
	switch {
	case score >= 80:
		return BandCritical
	case score >= 60:
		return BandHigh
	case score >= 40:
		return BandMedium
	default:
		return BandLow
	}
}

// IssueMention links a mention to an issue. A mention belongs to at most one
// issue per topic.
type IssueMention struct {
	IssueID         string    `json:"issue_id"`
	MentionID       int64     `json:"mention_id"`
	SimilarityScore float64   `json:"similarity_score"`
	DetectedAt      time.Time `json:"detected_at"`
}

// IssueEvent records one lifecycle transition with the reason it fired.
type IssueEvent struct {
	ID        int64      `json:"id"`
	IssueID   string     `json:"issue_id"`
	FromState IssueState `json:"from_state"`
	ToState   IssueState `json:"to_state"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks the event describes a legal transition.
func (e *IssueEvent) Validate() error {
	if e.IssueID == "" {
		return fmt.Errorf("issue event requires issue_id")
	}
	if !e.FromState.IsValid() || !e.ToState.IsValid() {
		return fmt.Errorf("issue event has invalid state: %s -> %s", e.FromState, e.ToState)
	}
	if !e.FromState.CanTransitionTo(e.ToState) {
		return fmt.Errorf("illegal transition: %s -> %s", e.FromState, e.ToState)
	}
	return nil
}
