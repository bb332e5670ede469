package analysis

import (
	"math"
	"testing"

	"github.com/mediapulse/pulse/internal/types"
)

func reachBatch(values ...int64) []*types.Mention {
	batch := make([]*types.Mention, len(values))
	for i, v := range values {
		batch[i] = &types.Mention{CumulativeReach: v}
	}
	return batch
}

func TestReachTiersFor(t *testing.T) {
	tiers := ReachTiersFor(reachBatch(10, 20, 30, 40, 50, 60))
	if tiers.Low != 20 || tiers.High != 40 {
		t.Fatalf("tiers = %+v, want Low 20 High 40", tiers)
	}

	tests := []struct {
		reach int64
		want  float64
	}{
		{10, reachMultLow},
		{20, reachMultLow},
		{30, reachMultMedium},
		{40, reachMultMedium},
		{50, reachMultHigh},
		{60, reachMultHigh},
	}
	for _, tt := range tests {
		m := &types.Mention{CumulativeReach: tt.reach}
		if got := tiers.multiplier(m); got != tt.want {
			t.Errorf("multiplier(reach=%d) = %g, want %g", tt.reach, got, tt.want)
		}
	}
}

func TestReachTiersSmallBatch(t *testing.T) {
	tiers := ReachTiersFor(reachBatch(100, 900))
	m := &types.Mention{CumulativeReach: 1_000_000}
	if got := tiers.multiplier(m); got != reachMultLow {
		t.Errorf("small batch multiplier = %g, want %g", got, reachMultLow)
	}
}

func TestReachTiersUniformBatch(t *testing.T) {
	tiers := ReachTiersFor(reachBatch(5, 5, 5, 5))
	if got := tiers.multiplier(&types.Mention{CumulativeReach: 5}); got != reachMultLow {
		t.Errorf("uniform batch multiplier = %g, want %g", got, reachMultLow)
	}
}

func TestReachValuePrefersCumulative(t *testing.T) {
	if got := reachValue(&types.Mention{DirectReach: 100, CumulativeReach: 900}); got != 900 {
		t.Errorf("reachValue = %g, want 900", got)
	}
	if got := reachValue(&types.Mention{DirectReach: 100}); got != 100 {
		t.Errorf("reachValue fallback = %g, want 100", got)
	}
}

func TestInfluenceWeight(t *testing.T) {
	low := ReachTiers{Low: math.Inf(1), High: math.Inf(1)}
	tests := []struct {
		name  string
		m     *types.Mention
		tiers ReachTiers
		want  float64
	}{
		{
			name:  "unverified citizen floor",
			m:     &types.Mention{SourceType: types.SourceCitizen},
			tiers: low,
			want:  1,
		},
		{
			name:  "verified journalist",
			m:     &types.Mention{SourceType: types.SourceJournalist, AuthorVerified: true},
			tiers: low,
			want:  3,
		},
		{
			name:  "verified journalist in the middle tier",
			m:     &types.Mention{SourceType: types.SourceJournalist, AuthorVerified: true, CumulativeReach: 500},
			tiers: ReachTiers{Low: 100, High: 1000},
			want:  3.45,
		},
		{
			name:  "presidency clips at the ceiling",
			m:     &types.Mention{SourceType: types.SourcePresidency, AuthorVerified: true, CumulativeReach: 5000},
			tiers: ReachTiers{Low: 100, High: 1000},
			want:  5,
		},
		{
			name:  "unknown source type weighs as citizen",
			m:     &types.Mention{SourceType: "blogger"},
			tiers: low,
			want:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := influenceWeight(tt.m, tt.tiers); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("influenceWeight = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestConfidenceWeight(t *testing.T) {
	tests := []struct {
		sentiment float64
		emotion   float64
		want      float64
	}{
		{-0.8, 0.6, 0.7},
		{0.8, 0.6, 0.7},
		{0, 0, 0},
		{1, 1, 1},
		{-1, 1, 1},
	}
	for _, tt := range tests {
		got := confidenceWeight(tt.sentiment, tt.emotion)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("confidenceWeight(%g, %g) = %g, want %g", tt.sentiment, tt.emotion, got, tt.want)
		}
	}
}
