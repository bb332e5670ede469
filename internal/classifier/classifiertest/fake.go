// Package classifiertest provides scripted doubles for the classifier
// interfaces. Each double runs its Fn field when set and falls back to a
// deterministic default otherwise, so pipeline tests only script the parts
// they assert on.
package classifiertest

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/mediapulse/pulse/internal/classifier"
	"github.com/mediapulse/pulse/internal/types"
)

// Classifier is a scripted classifier. Defaults: neutral sentiment with
// score 0, uniform emotion distribution.
type Classifier struct {
	SentimentFn func(ctx context.Context, text string) (classifier.SentimentResult, error)
	EmotionsFn  func(ctx context.Context, text string) (classifier.EmotionResult, error)

	mu             sync.Mutex
	sentimentCalls int
	emotionCalls   int
}

var _ classifier.Classifier = (*Classifier)(nil)

func (c *Classifier) Sentiment(ctx context.Context, text string) (classifier.SentimentResult, error) {
	c.mu.Lock()
	c.sentimentCalls++
	c.mu.Unlock()
	if c.SentimentFn != nil {
		return c.SentimentFn(ctx, text)
	}
	return classifier.SentimentResult{Label: types.SentimentNeutral}, nil
}

func (c *Classifier) Emotions(ctx context.Context, text string) (classifier.EmotionResult, error) {
	c.mu.Lock()
	c.emotionCalls++
	c.mu.Unlock()
	if c.EmotionsFn != nil {
		return c.EmotionsFn(ctx, text)
	}
	dist := make(map[types.EmotionLabel]float64, len(types.CoreEmotions))
	for _, label := range types.CoreEmotions {
		dist[label] = 1.0 / float64(len(types.CoreEmotions))
	}
	return classifier.EmotionResult{Distribution: dist}, nil
}

// SentimentCalls reports how many times Sentiment ran.
func (c *Classifier) SentimentCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentimentCalls
}

// EmotionCalls reports how many times Emotions ran.
func (c *Classifier) EmotionCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emotionCalls
}

// Embedder is a scripted embedder. The default embeds every text as a unit
// vector along an axis derived from the text, so equal texts are identical
// and unequal texts are almost always orthogonal.
type Embedder struct {
	EmbedFn func(ctx context.Context, text string) ([]float64, error)

	mu    sync.Mutex
	calls int
}

var _ classifier.Embedder = (*Embedder)(nil)

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.EmbedFn != nil {
		return e.EmbedFn(ctx, text)
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	return UnitVector(int(h.Sum32() % types.EmbeddingDim)), nil
}

// Calls reports how many times Embed ran.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// UnitVector returns a full-dimension vector with a single 1 at axis.
// Vectors on the same axis have cosine 1, on different axes cosine 0,
// which makes similarity thresholds easy to steer in tests.
func UnitVector(axis int) []float64 {
	v := make([]float64, types.EmbeddingDim)
	v[axis%types.EmbeddingDim] = 1
	return v
}

// Summarizer is a scripted summarizer. The default fails with
// classifier.ErrInvalidResponse so unscripted tests exercise the caller's
// deterministic fallback label.
type Summarizer struct {
	LabelFn func(ctx context.Context, topic string, samples []string) (string, error)

	mu    sync.Mutex
	calls int
}

var _ classifier.Summarizer = (*Summarizer)(nil)

func (s *Summarizer) Label(ctx context.Context, topic string, samples []string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.LabelFn != nil {
		return s.LabelFn(ctx, topic, samples)
	}
	return "", classifier.ErrInvalidResponse
}

// Calls reports how many times Label ran.
func (s *Summarizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
