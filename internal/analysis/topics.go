package analysis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"gonum.org/v1/gonum/floats"

	"github.com/mediapulse/pulse/internal/types"
)

// topicThresholds carries the acceptance knobs for one scoring pass so a
// mention is judged against a consistent snapshot even if config moves.
type topicThresholds struct {
	confidence float64
	keyword    float64
	embedding  float64
	minScore   float64
}

// TopicScore is one topic's evidence for one mention.
type TopicScore struct {
	TopicKey       string
	KeywordScore   float64
	EmbeddingScore float64
	Confidence     float64
}

// scoreTopics computes keyword and embedding evidence for every active
// topic. Keyword evidence is the fraction of the topic's keyword groups
// satisfied; embedding evidence is cosine similarity against the topic
// centroid mapped from [-1,1] to [0,1].
func scoreTopics(normalizedText string, embedding []float64, topics []*types.Topic) []TopicScore {
	scores := make([]TopicScore, 0, len(topics))
	for _, t := range topics {
		kw := keywordScore(normalizedText, effectiveGroups(t))
		emb := embeddingScore(embedding, t.Centroid)
		scores = append(scores, TopicScore{
			TopicKey:       t.TopicKey,
			KeywordScore:   kw,
			EmbeddingScore: emb,
			Confidence:     0.4*kw + 0.6*emb,
		})
	}
	return scores
}

// effectiveGroups returns the topic's keyword groups, folding a flat
// keyword list into a single OR group when no groups are defined.
func effectiveGroups(t *types.Topic) []types.KeywordGroup {
	if len(t.KeywordGroups) > 0 {
		return t.KeywordGroups
	}
	if len(t.Keywords) > 0 {
		return []types.KeywordGroup{{Operator: types.GroupOR, Keywords: t.Keywords}}
	}
	return nil
}

// keywordScore is the mean group satisfaction: an AND group needs every
// keyword present, an OR group any. Matching is case-insensitive on word
// boundaries.
func keywordScore(text string, groups []types.KeywordGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	satisfied := 0
	for _, g := range groups {
		if groupSatisfied(text, g) {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(groups))
}

func groupSatisfied(text string, g types.KeywordGroup) bool {
	switch g.Operator {
	case types.GroupAND:
		for _, kw := range g.Keywords {
			if !containsWord(text, kw) {
				return false
			}
		}
		return len(g.Keywords) > 0
	default: // OR, and any unrecognized operator degrades to OR
		for _, kw := range g.Keywords {
			if containsWord(text, kw) {
				return true
			}
		}
		return false
	}
}

// containsWord reports whether keyword occurs in text with non-word runes
// (or a boundary) on both sides. Multi-word keywords match as a phrase.
func containsWord(text, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	text = strings.ToLower(text)
	for from := 0; ; {
		i := strings.Index(text[from:], keyword)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(keyword)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// embeddingScore maps cosine similarity into [0,1]. A missing or zero
// centroid scores zero so unseeded topics never pass on embedding alone.
func embeddingScore(embedding, centroid []float64) float64 {
	if len(embedding) == 0 || len(centroid) == 0 || len(embedding) != len(centroid) {
		return 0
	}
	ne := floats.Norm(embedding, 2)
	nc := floats.Norm(centroid, 2)
	if ne == 0 || nc == 0 {
		return 0
	}
	cos := floats.Dot(embedding, centroid) / (ne * nc)
	if cos < -1 {
		cos = -1
	}
	if cos > 1 {
		cos = 1
	}
	return (cos + 1) / 2
}

// retainTopics applies the acceptance rule: keep every topic at or above
// the confidence threshold, or with keyword and embedding evidence both
// clearing their floors. When nothing qualifies, the single best topic is
// kept if it clears the minimum score. The result is ordered by
// confidence, best first.
func retainTopics(scores []TopicScore, th topicThresholds) []TopicScore {
	retained := make([]TopicScore, 0, len(scores))
	for _, s := range scores {
		if s.Confidence >= th.confidence || (s.KeywordScore >= th.keyword && s.EmbeddingScore >= th.embedding) {
			retained = append(retained, s)
		}
	}
	if len(retained) == 0 {
		var best *TopicScore
		for i := range scores {
			if best == nil || scores[i].Confidence > best.Confidence {
				best = &scores[i]
			}
		}
		if best != nil && best.Confidence >= th.minScore {
			retained = append(retained, *best)
		}
	}
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Confidence > retained[j].Confidence
	})
	return retained
}

// topicCacheTTL bounds how stale the active-topic snapshot may get before
// the next mention reloads it from the store.
const topicCacheTTL = time.Minute

type topicCache struct {
	mu       sync.Mutex
	topics   []*types.Topic
	loadedAt time.Time
}

func (c *topicCache) get(ctx context.Context, load func(context.Context) ([]*types.Topic, error)) ([]*types.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loadedAt.IsZero() && time.Since(c.loadedAt) < topicCacheTTL {
		return c.topics, nil
	}
	topics, err := load(ctx)
	if err != nil {
		// A warm snapshot beats failing the mention.
		if !c.loadedAt.IsZero() {
			return c.topics, nil
		}
		return nil, err
	}
	c.topics = topics
	c.loadedAt = time.Now()
	return topics, nil
}
