package analysis

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/mediapulse/pulse/internal/classifier/classifiertest"
	"github.com/mediapulse/pulse/internal/storage/storagetest"
	"github.com/mediapulse/pulse/internal/types"
)

const testTaxonomy = `
topics:
  - topic_key: healthcare
    display_name: Healthcare
    category: public_services
    keywords: [hospital, clinic, nurses]
  - topic_key: fuel
    display_name: Fuel & Energy
    keyword_groups:
      - operator: AND
        keywords: [fuel, price]
      - operator: OR
        keywords: [petrol, diesel]
  - topic_key: legacy_census
    disabled: true
`

func writeTaxonomy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topics.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write taxonomy: %v", err)
	}
	return path
}

func TestLoadTaxonomy(t *testing.T) {
	topics, err := LoadTaxonomy(writeTaxonomy(t, testTaxonomy))
	if err != nil {
		t.Fatalf("LoadTaxonomy: %v", err)
	}
	if len(topics) != 3 {
		t.Fatalf("loaded %d topics, want 3", len(topics))
	}

	health := topics[0]
	if health.TopicKey != "healthcare" || !health.Active || len(health.Keywords) != 3 {
		t.Errorf("healthcare = %+v", health)
	}
	fuel := topics[1]
	if len(fuel.KeywordGroups) != 2 || fuel.KeywordGroups[0].Operator != types.GroupAND {
		t.Errorf("fuel groups = %+v", fuel.KeywordGroups)
	}
	legacy := topics[2]
	if legacy.Active {
		t.Error("disabled topic came back active")
	}
	if legacy.DisplayName != "legacy_census" {
		t.Errorf("fallback display name = %q, want the topic key", legacy.DisplayName)
	}
}

func TestLoadTaxonomyRejectsDuplicates(t *testing.T) {
	body := "topics:\n  - topic_key: fuel\n  - topic_key: fuel\n"
	_, err := LoadTaxonomy(writeTaxonomy(t, body))
	if err == nil || !strings.Contains(err.Error(), "duplicate topic") {
		t.Fatalf("err = %v, want duplicate error", err)
	}
}

func TestLoadTaxonomyRejectsBadOperator(t *testing.T) {
	body := "topics:\n  - topic_key: fuel\n    keyword_groups:\n      - operator: NAND\n        keywords: [fuel]\n"
	_, err := LoadTaxonomy(writeTaxonomy(t, body))
	if err == nil || !strings.Contains(err.Error(), "invalid operator") {
		t.Fatalf("err = %v, want operator error", err)
	}
}

func TestSeedTopicsEmbedsNewTopics(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	emb := &classifiertest.Embedder{}
	topics, err := LoadTaxonomy(writeTaxonomy(t, testTaxonomy))
	if err != nil {
		t.Fatalf("LoadTaxonomy: %v", err)
	}

	if err := SeedTopics(ctx, store, emb, topics, zap.NewNop()); err != nil {
		t.Fatalf("SeedTopics: %v", err)
	}
	if emb.Calls() != 3 {
		t.Errorf("embedder called %d times, want 3", emb.Calls())
	}

	stored, err := store.GetTopic(ctx, "healthcare")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if len(stored.Centroid) != types.EmbeddingDim {
		t.Fatalf("centroid dim = %d, want %d", len(stored.Centroid), types.EmbeddingDim)
	}
	if n := floats.Norm(stored.Centroid, 2); math.Abs(n-1) > 1e-9 {
		t.Errorf("centroid norm = %g, want 1", n)
	}
}

func TestSeedTopicsKeepsExistingCentroid(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	seeded := &types.Topic{
		TopicKey:    "healthcare",
		DisplayName: "Healthcare",
		Keywords:    []string{"hospital"},
		Centroid:    classifiertest.UnitVector(2),
		Active:      true,
	}
	if err := store.UpsertTopic(ctx, seeded); err != nil {
		t.Fatalf("UpsertTopic: %v", err)
	}

	emb := &classifiertest.Embedder{}
	fresh := []*types.Topic{{
		TopicKey:    "healthcare",
		DisplayName: "Healthcare & Hospitals",
		Keywords:    []string{"hospital", "clinic"},
		Active:      true,
	}}
	if err := SeedTopics(ctx, store, emb, fresh, zap.NewNop()); err != nil {
		t.Fatalf("SeedTopics: %v", err)
	}
	if emb.Calls() != 0 {
		t.Errorf("embedder called %d times for a seeded topic, want 0", emb.Calls())
	}

	stored, err := store.GetTopic(ctx, "healthcare")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if stored.DisplayName != "Healthcare & Hospitals" {
		t.Errorf("definition did not refresh: %q", stored.DisplayName)
	}
	if len(stored.Centroid) != types.EmbeddingDim || stored.Centroid[2] != 1 {
		t.Error("existing centroid was not preserved")
	}
}
