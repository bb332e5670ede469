package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/telemetry"
)

const (
	labelMaxTokens    = 64
	labelMaxRunes     = 120
	labelMaxSamples   = 10
	labelSampleRunes  = 240
	labelRetries      = 3
	labelFirstBackoff = 1 * time.Second
)

// errAnthropicKeyRequired is returned when no API key is available.
var errAnthropicKeyRequired = errors.New("classifier: ANTHROPIC_API_KEY is not set")

// AnthropicSummarizer writes short issue labels from cluster samples. The
// caller keeps a deterministic fallback, so retries here are bounded rather
// than open-ended.
type AnthropicSummarizer struct {
	client  anthropic.Client
	cfg     *config.Config
	limiter *Limiter
	log     *zap.Logger
	tmpl    *template.Template
}

// NewAnthropicSummarizer builds a summarizer from the environment.
// PULSE_ANTHROPIC_API_KEY takes precedence over ANTHROPIC_API_KEY.
func NewAnthropicSummarizer(cfg *config.Config, limiter *Limiter, log *zap.Logger) (*AnthropicSummarizer, error) {
	key := os.Getenv("PULSE_ANTHROPIC_API_KEY")
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, errAnthropicKeyRequired
	}

	tmpl, err := template.New("label").Parse(labelPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("classifier: parse label template: %w", err)
	}

	return &AnthropicSummarizer{
		client:  anthropic.NewClient(option.WithAPIKey(key)),
		cfg:     cfg,
		limiter: limiter,
		log:     log.Named("anthropic"),
		tmpl:    tmpl,
	}, nil
}

// Label names an issue from sample mention texts gathered under one topic.
func (s *AnthropicSummarizer) Label(ctx context.Context, topic string, samples []string) (string, error) {
	prompt, err := s.renderPrompt(topic, samples)
	if err != nil {
		return "", fmt.Errorf("classifier: render label prompt: %w", err)
	}
	raw, err := s.callWithRetry(ctx, prompt)
	if err != nil {
		return "", err
	}
	label := cleanLabel(raw)
	if label == "" {
		return "", fmt.Errorf("%w: empty label", ErrInvalidResponse)
	}
	return label, nil
}

func (s *AnthropicSummarizer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/mediapulse/pulse/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()

	model := s.cfg.GetString(ctx, "ai.anthropic.model")
	span.SetAttributes(
		attribute.String("pulse.ai.model", model),
		attribute.String("pulse.ai.operation", "label"),
	)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: labelMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= labelRetries; attempt++ {
		if attempt > 0 {
			wait := labelFirstBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}
		}

		if err := s.limiter.Acquire(ctx, model, estimateTokens(prompt, labelMaxTokens)); err != nil {
			return "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Seconds(ctx, "processing.timeouts.classifier_seconds"))
		t0 := time.Now()
		message, err := s.client.Messages.New(callCtx, params)
		cancel()

		if err == nil {
			recordUsage(ctx, model, "label", message.Usage.InputTokens, message.Usage.OutputTokens, time.Since(t0))
			span.SetAttributes(attribute.Int("pulse.ai.attempts", attempt+1))
			if len(message.Content) == 0 {
				return "", fmt.Errorf("%w: no content blocks", ErrInvalidResponse)
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("%w: not a text block (type=%s)", ErrInvalidResponse, content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !anthropicRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("classifier: label call: %w", err)
		}
		s.log.Warn("label call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("classifier: label call failed after %d attempts: %w", labelRetries+1, lastErr)
}

func anthropicRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type labelPromptData struct {
	Topic   string
	Samples []string
}

func (s *AnthropicSummarizer) renderPrompt(topic string, samples []string) (string, error) {
	if len(samples) > labelMaxSamples {
		samples = samples[:labelMaxSamples]
	}
	bounded := make([]string, 0, len(samples))
	for _, sample := range samples {
		runes := []rune(strings.TrimSpace(sample))
		if len(runes) > labelSampleRunes {
			runes = runes[:labelSampleRunes]
		}
		if len(runes) == 0 {
			continue
		}
		bounded = append(bounded, string(runes))
	}

	var b strings.Builder
	err := s.tmpl.Execute(&b, labelPromptData{Topic: topic, Samples: bounded})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// cleanLabel reduces model output to a single headline line.
func cleanLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if i := strings.IndexByte(label, '\n'); i >= 0 {
		label = label[:i]
	}
	label = strings.Trim(label, `"'`)
	label = strings.Join(strings.Fields(label), " ")
	label = strings.TrimRight(label, ".")
	if runes := []rune(label); len(runes) > labelMaxRunes {
		label = strings.TrimSpace(string(runes[:labelMaxRunes]))
	}
	return label
}

const labelPromptTemplate = `You name issues for a media monitoring dashboard. An issue is a cluster of public mentions about one ongoing matter under the topic "{{.Topic}}".

Sample mentions:
{{range .Samples}}- {{.}}
{{end}}
Write one short headline-style label for this issue.

Rules:
- At most eight words, no trailing period.
- Name the concrete matter, not the topic.
- Neutral register; add no judgment the mentions do not carry.
- Respond with the label only.`
