package issues

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/classifier/classifiertest"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

func textCluster(texts ...string) cluster {
	var c cluster
	for i, text := range texts {
		c.members = append(c.members, storage.MentionVector{
			Mention: &types.Mention{EntryID: int64(i + 1), NormalizedText: text},
		})
	}
	return c
}

func TestFallbackLabel(t *testing.T) {
	topic := &types.Topic{TopicKey: "energy", DisplayName: "Energy"}
	tests := []struct {
		name    string
		samples []string
		want    string
	}{
		{
			name: "most frequent word wins",
			samples: []string{
				"fuel prices are up again",
				"fuel shortage hits town",
				"no fuel at the stations",
			},
			want: "Fuel",
		},
		{
			name:    "ties break alphabetically",
			samples: []string{"water power", "power water"},
			want:    "Power",
		},
		{
			name:    "stopwords and short words never win",
			samples: []string{"the the the up up outage"},
			want:    "Outage",
		},
		{
			name:    "no usable words falls back to the topic name",
			samples: []string{"a b c", ""},
			want:    "Energy",
		},
		{
			name:    "no samples at all",
			samples: nil,
			want:    "Energy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fallbackLabel(topic, tt.samples); got != tt.want {
				t.Errorf("fallbackLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackLabelTopicKeyWhenUnnamed(t *testing.T) {
	topic := &types.Topic{TopicKey: "energy"}
	if got := fallbackLabel(topic, nil); got != "energy" {
		t.Errorf("fallbackLabel = %q, want topic key", got)
	}
}

func TestLabelClusterPrefersSummarizer(t *testing.T) {
	sum := &classifiertest.Summarizer{
		LabelFn: func(ctx context.Context, topic string, samples []string) (string, error) {
			if topic != "Energy" {
				t.Errorf("topic = %q, want Energy", topic)
			}
			if len(samples) != 2 {
				t.Errorf("samples = %d, want 2", len(samples))
			}
			return "  Fuel crisis deepens  ", nil
		},
	}
	e := &Engine{summarizer: sum, log: zap.NewNop()}

	got := e.labelCluster(context.Background(),
		&types.Topic{TopicKey: "energy", DisplayName: "Energy"},
		textCluster("fuel queues", "fuel panic"))
	if got != "Fuel crisis deepens" {
		t.Errorf("label = %q, want trimmed summarizer label", got)
	}
	if sum.Calls() != 1 {
		t.Errorf("summarizer calls = %d, want 1", sum.Calls())
	}
}

func TestLabelClusterFallsBackOnError(t *testing.T) {
	e := &Engine{summarizer: &classifiertest.Summarizer{}, log: zap.NewNop()}
	got := e.labelCluster(context.Background(),
		&types.Topic{TopicKey: "energy", DisplayName: "Energy"},
		textCluster("blackout tonight", "blackout schedule"))
	if got != "Blackout" {
		t.Errorf("label = %q, want keyword fallback", got)
	}
}

func TestLabelClusterFallsBackOnEmptyLabel(t *testing.T) {
	sum := &classifiertest.Summarizer{
		LabelFn: func(context.Context, string, []string) (string, error) { return "   ", nil },
	}
	e := &Engine{summarizer: sum, log: zap.NewNop()}
	got := e.labelCluster(context.Background(),
		&types.Topic{TopicKey: "energy", DisplayName: "Energy"},
		textCluster("blackout tonight"))
	if got != "Blackout" {
		t.Errorf("label = %q, want keyword fallback", got)
	}
}

func TestLabelClusterCapsSamples(t *testing.T) {
	var sampleCount int
	sum := &classifiertest.Summarizer{
		LabelFn: func(_ context.Context, _ string, samples []string) (string, error) {
			sampleCount = len(samples)
			return "", errors.New("boom")
		},
	}
	e := &Engine{summarizer: sum, log: zap.NewNop()}

	texts := make([]string, 15)
	for i := range texts {
		texts[i] = "grid failure report"
	}
	e.labelCluster(context.Background(), &types.Topic{TopicKey: "energy"}, textCluster(texts...))
	if sampleCount != labelMaxSamples {
		t.Errorf("summarizer saw %d samples, want %d", sampleCount, labelMaxSamples)
	}
}
