package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/mediapulse/pulse/internal/classifier"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/types"
)

// taxonomyEntry is one topic block in the taxonomy file. Disabled mirrors
// the source registry flag: the zero value means active.
type taxonomyEntry struct {
	TopicKey      string               `yaml:"topic_key"`
	DisplayName   string               `yaml:"display_name"`
	Category      string               `yaml:"category"`
	Keywords      []string             `yaml:"keywords"`
	KeywordGroups []types.KeywordGroup `yaml:"keyword_groups"`
	Disabled      bool                 `yaml:"disabled"`
}

type taxonomyFile struct {
	Topics []taxonomyEntry `yaml:"topics"`
}

// LoadTaxonomy parses the YAML topic taxonomy. Every entry must carry a
// unique topic_key and well-formed keyword groups.
func LoadTaxonomy(path string) ([]*types.Topic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	var file taxonomyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Topics))
	out := make([]*types.Topic, 0, len(file.Topics))
	for i, entry := range file.Topics {
		t := &types.Topic{
			TopicKey:      entry.TopicKey,
			DisplayName:   entry.DisplayName,
			Category:      entry.Category,
			Keywords:      entry.Keywords,
			KeywordGroups: entry.KeywordGroups,
			Active:        !entry.Disabled,
		}
		if t.DisplayName == "" {
			t.DisplayName = t.TopicKey
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("taxonomy %s: entry %d: %w", path, i+1, err)
		}
		if seen[t.TopicKey] {
			return nil, fmt.Errorf("taxonomy %s: duplicate topic %q", path, t.TopicKey)
		}
		seen[t.TopicKey] = true
		out = append(out, t)
	}
	return out, nil
}

// SeedTopics reconciles the taxonomy with the store at startup. Topic
// definitions always refresh. A centroid is embedded only for topics that
// have none yet; the upsert keeps an existing centroid when the incoming
// one is empty, so re-runs never churn vectors.
func SeedTopics(ctx context.Context, store storage.Storage, emb classifier.Embedder, topics []*types.Topic, log *zap.Logger) error {
	for _, t := range topics {
		existing, err := store.GetTopic(ctx, t.TopicKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("seed topic %s: %w", t.TopicKey, err)
		}
		if existing == nil || len(existing.Centroid) == 0 {
			vec, err := emb.Embed(ctx, seedText(t))
			if err != nil {
				return fmt.Errorf("seed topic %s: %w", t.TopicKey, err)
			}
			if n := floats.Norm(vec, 2); n > 0 {
				floats.Scale(1/n, vec)
			}
			t.Centroid = vec
			log.Info("topic centroid seeded", zap.String("topic", t.TopicKey))
		}
		if err := store.UpsertTopic(ctx, t); err != nil {
			return fmt.Errorf("seed topic %s: %w", t.TopicKey, err)
		}
	}
	return nil
}

// seedText is the bootstrap embedding input: the display name plus every
// keyword the topic knows, flat and grouped alike.
func seedText(t *types.Topic) string {
	parts := make([]string, 0, 1+len(t.Keywords))
	parts = append(parts, t.DisplayName)
	parts = append(parts, t.Keywords...)
	for _, g := range t.KeywordGroups {
		parts = append(parts, g.Keywords...)
	}
	return strings.Join(parts, ", ")
}
