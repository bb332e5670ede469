package types

import (
	"testing"
	"time"
)

func TestLabelForScore(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  SentimentLabel
	}{
		{"strongly positive", 0.9, SentimentPositive},
		{"exactly positive threshold", 0.2, SentimentPositive},
		{"just under positive threshold", 0.19, SentimentNeutral},
		{"zero", 0, SentimentNeutral},
		{"just above negative threshold", -0.19, SentimentNeutral},
		{"exactly negative threshold", -0.2, SentimentNegative},
		{"strongly negative", -1, SentimentNegative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LabelForScore(tt.score, 0.2, -0.2)
			if got != tt.want {
				t.Errorf("LabelForScore(%g) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}
}

func TestBandForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Band
	}{
		{100, BandCritical},
		{80, BandCritical},
		{79.9, BandHigh},
		{60, BandHigh},
		{59.9, BandMedium},
		{40, BandMedium},
		{39.9, BandLow},
		{0, BandLow},
	}
	for _, tt := range tests {
		if got := BandForScore(tt.score); got != tt.want {
			t.Errorf("BandForScore(%g) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestIssueStateTransitions(t *testing.T) {
	tests := []struct {
		from  IssueState
		to    IssueState
		legal bool
	}{
		{IssueEmerging, IssueActive, true},
		{IssueEmerging, IssueEscalated, false},
		{IssueActive, IssueEscalated, true},
		{IssueActive, IssueStabilizing, true},
		{IssueActive, IssueResolved, false},
		{IssueEscalated, IssueActive, true},
		{IssueEscalated, IssueStabilizing, false},
		{IssueStabilizing, IssueActive, true},
		{IssueStabilizing, IssueResolved, true},
		{IssueResolved, IssueActive, true},
		{IssueResolved, IssueEmerging, false},
		{IssueEmerging, IssueArchived, true},
		{IssueResolved, IssueArchived, true},
		{IssueArchived, IssueActive, false},
		{IssueArchived, IssueArchived, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.legal {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.legal)
		}
	}
}

func TestWindowSnapBoundaries(t *testing.T) {
	// A timestamp exactly on a boundary belongs to the window starting there.
	anchor := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"window start", anchor, anchor},
		{"mid window", anchor.Add(7 * time.Minute), anchor},
		{"last instant", anchor.Add(14*time.Minute + 59*time.Second), anchor},
		{"next boundary", anchor.Add(15 * time.Minute), anchor.Add(15 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Window15m.Snap(tt.at)
			if !got.Equal(tt.want) {
				t.Errorf("Snap(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := WindowAt(Window15m, time.Date(2026, 3, 10, 12, 3, 0, 0, time.UTC))
	if !w.Start.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("window start = %v, want 12:00", w.Start)
	}
	if !w.Contains(w.Start) {
		t.Error("window should contain its start (inclusive)")
	}
	if w.Contains(w.End) {
		t.Error("window should not contain its end (exclusive)")
	}
	if !w.Contains(w.End.Add(-time.Millisecond)) {
		t.Error("window should contain the last instant before its end")
	}
}

func TestWindowPrevious(t *testing.T) {
	w := WindowAt(Window1h, time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC))
	prev := w.Previous()
	if !prev.End.Equal(w.Start) {
		t.Errorf("previous window end = %v, want %v", prev.End, w.Start)
	}
	if prev.End.Sub(prev.Start) != time.Hour {
		t.Errorf("previous window length = %v, want 1h", prev.End.Sub(prev.Start))
	}
}

func TestWindowSizeDurations(t *testing.T) {
	tests := []struct {
		w    WindowSize
		want time.Duration
	}{
		{Window15m, 15 * time.Minute},
		{Window1h, time.Hour},
		{Window24h, 24 * time.Hour},
		{Window7d, 7 * 24 * time.Hour},
		{Window30d, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.w.Duration(); got != tt.want {
			t.Errorf("%s.Duration() = %v, want %v", tt.w, got, tt.want)
		}
	}
	if _, err := ParseWindowSize("90m"); err == nil {
		t.Error("ParseWindowSize(90m) should fail")
	}
}

func TestSentimentIndexFor(t *testing.T) {
	tests := []struct {
		weighted float64
		want     int
	}{
		{-1, 0},
		{-0.5, 25},
		{0, 50},
		{0.5, 75},
		{1, 100},
		{-1.2, 0},  // clipped
		{1.2, 100}, // clipped
	}
	for _, tt := range tests {
		if got := SentimentIndexFor(tt.weighted); got != tt.want {
			t.Errorf("SentimentIndexFor(%g) = %d, want %d", tt.weighted, got, tt.want)
		}
	}
}

func TestDirectionForDelta(t *testing.T) {
	tests := []struct {
		delta int
		want  TrendDirection
	}{
		{10, TrendImproving},
		{5, TrendImproving},
		{4, TrendStable},
		{0, TrendStable},
		{-4, TrendStable},
		{-5, TrendDeteriorating},
		{-20, TrendDeteriorating},
	}
	for _, tt := range tests {
		if got := DirectionForDelta(tt.delta); got != tt.want {
			t.Errorf("DirectionForDelta(%d) = %s, want %s", tt.delta, got, tt.want)
		}
	}
}

func TestMentionValidate(t *testing.T) {
	valid := func() *Mention {
		return &Mention{
			Platform:    PlatformTwitter,
			Text:        "fuel prices rising again",
			CollectedAt: time.Now(),
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid mention rejected: %v", err)
	}

	m := valid()
	m.Text = ""
	m.URL = ""
	if err := m.Validate(); err == nil {
		t.Error("mention without text or url should fail validation")
	}

	m = valid()
	m.Platform = "myspace"
	if err := m.Validate(); err == nil {
		t.Error("unknown platform should fail validation")
	}

	m = valid()
	bad := 1.5
	m.SentimentScore = &bad
	if err := m.Validate(); err == nil {
		t.Error("out-of-range sentiment score should fail validation")
	}

	m = valid()
	w := 0.5
	m.InfluenceWeight = &w
	if err := m.Validate(); err == nil {
		t.Error("influence weight below 1 should fail validation")
	}
}

func TestMentionSetDefaults(t *testing.T) {
	collected := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := &Mention{Platform: PlatformNews, Text: "x", CollectedAt: collected}
	m.SetDefaults()
	if m.ProcessingStatus != StatusPending {
		t.Errorf("default status = %s, want pending", m.ProcessingStatus)
	}
	if !m.PublishedAt.Equal(collected) {
		t.Errorf("published_at should fall back to collected_at, got %v", m.PublishedAt)
	}
}

func TestSourceTypeInfluenceBase(t *testing.T) {
	tests := []struct {
		st   SourceType
		want float64
	}{
		{SourceCitizen, 1.0},
		{SourceJournalist, 2.0},
		{SourceOfficial, 3.0},
		{SourceMinister, 4.0},
		{SourcePresidency, 5.0},
		{SourceType("unknown"), 1.0},
	}
	for _, tt := range tests {
		if got := tt.st.InfluenceBase(); got != tt.want {
			t.Errorf("%s.InfluenceBase() = %g, want %g", tt.st, got, tt.want)
		}
	}
}

func TestIssueEventValidate(t *testing.T) {
	ev := &IssueEvent{
		IssueID:   "abc",
		FromState: IssueActive,
		ToState:   IssueEscalated,
		Reason:    "priority_score >= 80",
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
	ev.ToState = IssueResolved
	if err := ev.Validate(); err == nil {
		t.Error("active -> resolved should be illegal")
	}
}
