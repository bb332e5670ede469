// Package classifier holds the model clients behind the analysis pipeline:
// an OpenAI client that scores sentiment and emotion through strict
// structured outputs and produces mention embeddings, and an Anthropic
// client that writes short labels for issue clusters. Every provider call
// passes through a shared per-model token bucket so the pipeline stays
// inside each model's tokens-per-minute budget.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mediapulse/pulse/internal/telemetry"
	"github.com/mediapulse/pulse/internal/types"
)

// ErrInvalidResponse marks model output that does not conform to the
// declared response shape. The current phase fails; there is no retry.
var ErrInvalidResponse = errors.New("invalid classifier response")

// RateLimitError reports a provider-side rate limit. The call loop sleeps
// for RetryAfter (one second when the provider gave no hint) and tries
// again; rate limits never exhaust a mention's retry budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// SentimentResult is one sentiment verdict for a normalized text. Score is
// in [-1,1]; the label the model chose rides along but the score decides.
type SentimentResult struct {
	Label         types.SentimentLabel
	Score         float64
	Justification string
}

// EmotionResult carries the probability the model assigned to each core
// emotion. The distribution is returned as is; the analysis phase
// renormalizes drift and picks the argmax.
type EmotionResult struct {
	Distribution map[types.EmotionLabel]float64
}

// Classifier scores normalized mention text.
type Classifier interface {
	Sentiment(ctx context.Context, text string) (SentimentResult, error)
	Emotions(ctx context.Context, text string) (EmotionResult, error)
}

// Embedder turns normalized text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Summarizer writes a short human-readable label for a cluster of mentions
// under one topic.
type Summarizer interface {
	Label(ctx context.Context, topic string, samples []string) (string, error)
}

// aiMetrics holds lazily-initialized OTel instruments shared by all
// provider clients.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/mediapulse/pulse/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("pulse.ai.input_tokens",
		metric.WithDescription("Model API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("pulse.ai.output_tokens",
		metric.WithDescription("Model API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("pulse.ai.request.duration",
		metric.WithDescription("Model API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func recordUsage(ctx context.Context, model, operation string, in, out int64, elapsed time.Duration) {
	aiMetricsOnce.Do(initAIMetrics)
	if aiMetrics.inputTokens == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pulse.ai.model", model),
		attribute.String("pulse.ai.operation", operation),
	)
	aiMetrics.inputTokens.Add(ctx, in, attrs)
	aiMetrics.outputTokens.Add(ctx, out, attrs)
	aiMetrics.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// estimateTokens approximates the billing weight of one call for the TPM
// bucket: prompt characters at roughly four per token plus the full
// response allowance.
func estimateTokens(prompt string, maxOutput int) int {
	return len(prompt)/4 + maxOutput
}
