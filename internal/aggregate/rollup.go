package aggregate

import (
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// WeightedSentiment returns the influence- and confidence-weighted mean
// sentiment over rows, plus the total combined weight. Every mention
// contributes sentiment_score * influence_weight * confidence_weight to
// the numerator. A zero total weight yields a zero score.
func WeightedSentiment(rows []storage.SentimentRow) (score, totalWeight float64) {
	var num, den float64
	for _, r := range rows {
		w := r.InfluenceWeight * r.ConfidenceWeight
		num += r.SentimentScore * w
		den += w
	}
	if den == 0 {
		return 0, 0
	}
	return num / den, den
}

// buildAggregation rolls rows up into one aggregation for the given
// subject and window. ComputedAt and the baseline-normalized score are
// filled in by the caller.
func buildAggregation(kind types.SubjectKind, key string, size types.WindowSize, window types.Window, rows []storage.SentimentRow) *types.Aggregation {
	weighted, _ := WeightedSentiment(rows)

	labels := make(map[types.SentimentLabel]float64, 3)
	var influence float64
	for _, r := range rows {
		labels[r.SentimentLabel]++
		influence += r.InfluenceWeight
	}
	total := float64(len(rows))
	for l := range labels {
		labels[l] /= total
	}

	emotions := meanEmotionDistribution(rows)

	return &types.Aggregation{
		SubjectKind:             kind,
		SubjectKey:              key,
		WindowSize:              size,
		WindowStart:             window.Start,
		WindowEnd:               window.End,
		WeightedSentimentScore:  weighted,
		SentimentIndex:          types.SentimentIndexFor(weighted),
		SentimentDistribution:   labels,
		EmotionDistribution:     emotions,
		EmotionAdjustedSeverity: severity(emotions, weighted),
		MentionCount:            len(rows),
		TotalInfluenceWeight:    influence,
	}
}

// meanEmotionDistribution averages the per-mention emotion distributions
// over all rows. Mentions without a distribution contribute zeros, so a
// sparse window dilutes rather than skews the mean.
func meanEmotionDistribution(rows []storage.SentimentRow) map[types.EmotionLabel]float64 {
	out := make(map[types.EmotionLabel]float64, len(types.CoreEmotions))
	if len(rows) == 0 {
		return out
	}
	for _, r := range rows {
		for _, label := range types.CoreEmotions {
			out[label] += r.EmotionDistribution[label]
		}
	}
	for _, label := range types.CoreEmotions {
		out[label] /= float64(len(rows))
	}
	return out
}

// severity scales the strongest negative emotion by how negative the
// weighted sentiment is. High anger under positive sentiment reads as
// excitement and scores near zero; the same anger under negative
// sentiment is the signal this metric exists for.
func severity(emotions map[types.EmotionLabel]float64, weightedSentiment float64) float64 {
	var worst float64
	for _, label := range types.NegativeEmotions {
		if emotions[label] > worst {
			worst = emotions[label]
		}
	}
	neg := -weightedSentiment
	if neg < 0 {
		neg = 0
	}
	return worst * neg
}
