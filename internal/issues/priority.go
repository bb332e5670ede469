package issues

import (
	"context"
	"math"
	"time"
)

// priorityWeights blend the three priority components, plus the mention
// count at which the volume component saturates.
type priorityWeights struct {
	sentiment  float64
	volume     float64
	recency    float64
	saturation int
}

func (e *Engine) priorityWeights(ctx context.Context) priorityWeights {
	return priorityWeights{
		sentiment:  e.cfg.GetFloat(ctx, "processing.issues.priority_sentiment_weight"),
		volume:     e.cfg.GetFloat(ctx, "processing.issues.priority_volume_weight"),
		recency:    e.cfg.GetFloat(ctx, "processing.issues.priority_time_weight"),
		saturation: e.cfg.GetInt(ctx, "processing.issues.volume_saturation"),
	}
}

// priorityScore blends how negative an issue runs, how loud it is and
// how recently it moved into one 0..100 score. Positive sentiment
// contributes nothing, volume saturates at the configured count, and
// recency decays exponentially with a 24 hour constant so a silent day
// costs that component roughly two thirds of its value.
func priorityScore(w priorityWeights, weightedSentiment float64, mentionCount int, lastActivity, now time.Time) float64 {
	neg := -weightedSentiment
	if neg < 0 {
		neg = 0
	}
	if neg > 1 {
		neg = 1
	}
	sentiment := 100 * neg

	sat := w.saturation
	if sat <= 0 {
		sat = 1
	}
	volume := 100 * math.Min(1, float64(mentionCount)/float64(sat))

	hours := now.Sub(lastActivity).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := 100 * math.Exp(-hours/24)

	score := w.sentiment*sentiment + w.volume*volume + w.recency*recency
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
