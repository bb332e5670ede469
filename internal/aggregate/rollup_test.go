package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

func TestWeightedSentiment(t *testing.T) {
	tests := []struct {
		name       string
		rows       []storage.SentimentRow
		wantScore  float64
		wantWeight float64
	}{
		{name: "no rows", rows: nil, wantScore: 0, wantWeight: 0},
		{
			name: "unit weights average plainly",
			rows: []storage.SentimentRow{
				{SentimentScore: -1, InfluenceWeight: 1, ConfidenceWeight: 1},
				{SentimentScore: 1, InfluenceWeight: 1, ConfidenceWeight: 1},
			},
			wantScore:  0,
			wantWeight: 2,
		},
		{
			name: "influential voice dominates",
			rows: []storage.SentimentRow{
				{SentimentScore: -0.8, InfluenceWeight: 4, ConfidenceWeight: 1},
				{SentimentScore: 0.8, InfluenceWeight: 1, ConfidenceWeight: 1},
			},
			wantScore:  (-0.8*4 + 0.8) / 5,
			wantWeight: 5,
		},
		{
			name: "low confidence discounts the outlier",
			rows: []storage.SentimentRow{
				{SentimentScore: -0.5, InfluenceWeight: 1, ConfidenceWeight: 1},
				{SentimentScore: 1, InfluenceWeight: 1, ConfidenceWeight: 0.1},
			},
			wantScore:  (-0.5 + 0.1) / 1.1,
			wantWeight: 1.1,
		},
		{
			name: "all weights zero",
			rows: []storage.SentimentRow{
				{SentimentScore: 0.9, InfluenceWeight: 0, ConfidenceWeight: 1},
			},
			wantScore:  0,
			wantWeight: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, weight := WeightedSentiment(tt.rows)
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %g, want %g", score, tt.wantScore)
			}
			if math.Abs(weight-tt.wantWeight) > 1e-9 {
				t.Errorf("weight = %g, want %g", weight, tt.wantWeight)
			}
		})
	}
}

func TestSeverity(t *testing.T) {
	emotions := map[types.EmotionLabel]float64{
		types.EmotionAnger: 0.6,
		types.EmotionFear:  0.2,
		types.EmotionJoy:   0.2,
	}
	tests := []struct {
		name     string
		weighted float64
		want     float64
	}{
		{name: "negative sentiment scales the anger", weighted: -0.5, want: 0.3},
		{name: "fully negative passes it through", weighted: -1, want: 0.6},
		{name: "positive sentiment zeroes it", weighted: 0.7, want: 0},
		{name: "neutral zeroes it", weighted: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := severity(emotions, tt.weighted); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("severity = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestSeverityPicksWorstNegativeEmotion(t *testing.T) {
	emotions := map[types.EmotionLabel]float64{
		types.EmotionJoy:     0.9, // positive, must be ignored
		types.EmotionFear:    0.3,
		types.EmotionSadness: 0.5,
	}
	if got, want := severity(emotions, -1), 0.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("severity = %g, want %g", got, want)
	}
}

func TestMeanEmotionDistribution(t *testing.T) {
	rows := []storage.SentimentRow{
		{EmotionDistribution: map[types.EmotionLabel]float64{types.EmotionAnger: 1}},
		{}, // mention without a distribution dilutes the mean
	}
	got := meanEmotionDistribution(rows)
	if math.Abs(got[types.EmotionAnger]-0.5) > 1e-9 {
		t.Errorf("anger mean = %g, want 0.5", got[types.EmotionAnger])
	}
	if got[types.EmotionJoy] != 0 {
		t.Errorf("joy mean = %g, want 0", got[types.EmotionJoy])
	}
	if len(meanEmotionDistribution(nil)) != 0 {
		t.Error("empty input should yield an empty distribution")
	}
}

func TestBuildAggregation(t *testing.T) {
	window := types.Window{
		Start: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 25, 12, 15, 0, 0, time.UTC),
	}
	rows := []storage.SentimentRow{
		{
			SentimentScore:      -0.8,
			SentimentLabel:      types.SentimentNegative,
			InfluenceWeight:     2,
			ConfidenceWeight:    1,
			EmotionDistribution: map[types.EmotionLabel]float64{types.EmotionAnger: 0.6, types.EmotionFear: 0.4},
		},
		{
			SentimentScore:      0.4,
			SentimentLabel:      types.SentimentPositive,
			InfluenceWeight:     1,
			ConfidenceWeight:    0.5,
			EmotionDistribution: map[types.EmotionLabel]float64{types.EmotionJoy: 1},
		},
	}

	agg := buildAggregation(types.SubjectTopic, "energy", types.Window15m, window, rows)

	wantScore := (-0.8*2 + 0.4*0.5) / 2.5
	if math.Abs(agg.WeightedSentimentScore-wantScore) > 1e-9 {
		t.Errorf("weighted score = %g, want %g", agg.WeightedSentimentScore, wantScore)
	}
	if agg.SentimentIndex != 22 {
		t.Errorf("sentiment index = %d, want 22", agg.SentimentIndex)
	}
	if got := agg.SentimentDistribution[types.SentimentNegative]; got != 0.5 {
		t.Errorf("negative share = %g, want 0.5", got)
	}
	if got := agg.SentimentDistribution[types.SentimentPositive]; got != 0.5 {
		t.Errorf("positive share = %g, want 0.5", got)
	}
	if got := agg.EmotionDistribution[types.EmotionAnger]; math.Abs(got-0.3) > 1e-9 {
		t.Errorf("anger mean = %g, want 0.3", got)
	}
	if got := agg.EmotionDistribution[types.EmotionJoy]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("joy mean = %g, want 0.5", got)
	}
	if want := 0.3 * 0.56; math.Abs(agg.EmotionAdjustedSeverity-want) > 1e-9 {
		t.Errorf("severity = %g, want %g", agg.EmotionAdjustedSeverity, want)
	}
	if agg.MentionCount != 2 {
		t.Errorf("mention count = %d, want 2", agg.MentionCount)
	}
	if agg.TotalInfluenceWeight != 3 {
		t.Errorf("total influence = %g, want 3", agg.TotalInfluenceWeight)
	}
	if !agg.WindowStart.Equal(window.Start) || !agg.WindowEnd.Equal(window.End) {
		t.Errorf("window = [%v, %v), want [%v, %v)", agg.WindowStart, agg.WindowEnd, window.Start, window.End)
	}
	if agg.NormalizedSentimentScore != nil {
		t.Error("normalized score should be left for the caller")
	}
}
