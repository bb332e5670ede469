package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mediapulse/pulse/internal/types"
)

// Reach multipliers per tier. Tiers are terciles of the claim batch's
// reach counters.
const (
	reachMultLow    = 1.0
	reachMultMedium = 1.15
	reachMultHigh   = 1.3
)

// ReachTiers holds the tercile cutoffs for one claim batch. Batches too
// small to rank meaningfully put every mention in the low tier.
type ReachTiers struct {
	Low  float64
	High float64
}

// ReachTiersFor computes the cutoffs from a claimed batch.
func ReachTiersFor(batch []*types.Mention) ReachTiers {
	if len(batch) < 3 {
		return ReachTiers{Low: math.Inf(1), High: math.Inf(1)}
	}
	values := make([]float64, 0, len(batch))
	for _, m := range batch {
		values = append(values, reachValue(m))
	}
	sort.Float64s(values)
	return ReachTiers{
		Low:  stat.Quantile(1.0/3.0, stat.Empirical, values, nil),
		High: stat.Quantile(2.0/3.0, stat.Empirical, values, nil),
	}
}

func reachValue(m *types.Mention) float64 {
	if m.CumulativeReach > 0 {
		return float64(m.CumulativeReach)
	}
	return float64(m.DirectReach)
}

func (t ReachTiers) multiplier(m *types.Mention) float64 {
	v := reachValue(m)
	switch {
	case v <= t.Low:
		return reachMultLow
	case v <= t.High:
		return reachMultMedium
	default:
		return reachMultHigh
	}
}

// influenceWeight is the author's weight in aggregation: source-type base,
// boosted for verified accounts and for batch-relative reach, clipped to
// [1,5].
func influenceWeight(m *types.Mention, tiers ReachTiers) float64 {
	w := m.SourceType.InfluenceBase()
	if m.AuthorVerified {
		w *= types.VerifiedMultiplier
	}
	w *= tiers.multiplier(m)
	if w < 1 {
		w = 1
	}
	if w > 5 {
		w = 5
	}
	return w
}

// confidenceWeight blends how decided the sentiment was with how dominant
// the top emotion was, clipped to [0,1].
func confidenceWeight(sentimentScore, emotionScore float64) float64 {
	w := (math.Abs(sentimentScore) + emotionScore) / 2
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return w
}
