package issues

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/types"
)

// labelMaxSamples caps how many member texts are sent to the summarizer.
const labelMaxSamples = 10

// labelCluster asks the summarizer for a short label for the cluster
// and falls back to the most frequent significant word in the member
// texts when the model declines or fails.
func (e *Engine) labelCluster(ctx context.Context, topic *types.Topic, c cluster) string {
	samples := make([]string, 0, labelMaxSamples)
	for _, m := range c.members {
		text := m.Mention.NormalizedText
		if text == "" {
			text = m.Mention.Text
		}
		if text == "" {
			continue
		}
		samples = append(samples, text)
		if len(samples) == labelMaxSamples {
			break
		}
	}

	if e.summarizer != nil && len(samples) > 0 {
		label, err := e.summarizer.Label(ctx, topic.DisplayName, samples)
		if err == nil {
			if label = strings.TrimSpace(label); label != "" {
				return label
			}
		} else {
			e.log.Warn("cluster labeling failed, falling back to keywords",
				zap.String("topic", topic.TopicKey), zap.Error(err))
		}
	}
	return fallbackLabel(topic, samples)
}

// fallbackLabel is the deterministic label used when the model cannot
// produce one: the most frequent significant word across the sampled
// texts, title-cased, ties broken alphabetically. Empty texts fall back
// to the topic name.
func fallbackLabel(topic *types.Topic, samples []string) string {
	counts := make(map[string]int)
	for _, s := range samples {
		for _, word := range splitWords(s) {
			if len([]rune(word)) < 3 || stopwords[word] {
				continue
			}
			counts[word]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Strings(words)

	best, bestN := "", 0
	for _, w := range words {
		if counts[w] > bestN {
			best, bestN = w, counts[w]
		}
	}
	if best == "" {
		if topic.DisplayName != "" {
			return topic.DisplayName
		}
		return topic.TopicKey
	}
	return titleWord(best)
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func titleWord(w string) string {
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// stopwords are filler words that would otherwise win every frequency
// count.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "are": true, "was": true, "has": true, "have": true,
	"not": true, "but": true, "you": true, "our": true, "your": true,
	"they": true, "their": true, "from": true, "will": true, "been": true,
	"all": true, "its": true, "about": true, "after": true, "over": true,
}
