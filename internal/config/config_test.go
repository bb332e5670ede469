package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeStore returns canned overrides for config keys.
type fakeStore struct {
	values map[string]string
}

func (f *fakeStore) GetConfig(_ context.Context, key string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return "", ErrNotSet
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if got := cfg.GetInt(ctx, "processing.parallel.max_workers"); got != 10 {
		t.Errorf("max_workers default = %d, want 10", got)
	}
	if got := cfg.GetInt(ctx, "processing.parallel.batch_size"); got != 50 {
		t.Errorf("batch_size default = %d, want 50", got)
	}
	if got := cfg.GetFloat(ctx, "deduplication.similarity_threshold"); got != 0.85 {
		t.Errorf("similarity_threshold default = %g, want 0.85", got)
	}
	if got := cfg.GetFloat(ctx, "processing.sentiment.negative_threshold"); got != -0.2 {
		t.Errorf("negative_threshold default = %g, want -0.2", got)
	}
	windows := cfg.GetStringSlice(ctx, "processing.aggregation.windows")
	if len(windows) != 5 || windows[0] != "15m" || windows[4] != "30d" {
		t.Errorf("windows default = %v", windows)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	data := []byte("processing:\n  parallel:\n    max_workers: 4\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetInt(context.Background(), "processing.parallel.max_workers"); got != 4 {
		t.Errorf("max_workers from file = %d, want 4", got)
	}
	// Untouched keys keep their defaults.
	if got := cfg.GetInt(context.Background(), "processing.parallel.batch_size"); got != 50 {
		t.Errorf("batch_size = %d, want default 50", got)
	}
}

func TestStoreOverridesFile(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AttachStore(&fakeStore{values: map[string]string{
		"config:processing.parallel.max_workers": "7",
	}})

	if got := cfg.GetInt(context.Background(), "processing.parallel.max_workers"); got != 7 {
		t.Errorf("max_workers with store override = %d, want 7", got)
	}
}

func TestEnvOverridesStore(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AttachStore(&fakeStore{values: map[string]string{
		"config:processing.parallel.max_workers": "7",
	}})
	t.Setenv("PULSE_PROCESSING_PARALLEL_MAX_WORKERS", "3")

	if got := cfg.GetInt(context.Background(), "processing.parallel.max_workers"); got != 3 {
		t.Errorf("max_workers with env override = %d, want 3", got)
	}
}

func TestUnparseableOverrideFallsThrough(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("PULSE_PROCESSING_PARALLEL_BATCH_SIZE", "not-a-number")

	if got := cfg.GetInt(context.Background(), "processing.parallel.batch_size"); got != 50 {
		t.Errorf("batch_size with bad override = %d, want default 50", got)
	}
}

func TestStringSliceOverride(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("PULSE_PROCESSING_AGGREGATION_WINDOWS", "15m, 1h ,24h")

	got := cfg.GetStringSlice(context.Background(), "processing.aggregation.windows")
	if len(got) != 3 || got[0] != "15m" || got[1] != "1h" || got[2] != "24h" {
		t.Errorf("windows from env = %v", got)
	}
}

func TestSeconds(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Seconds(context.Background(), "processing.poll_interval_seconds"); got.Seconds() != 2 {
		t.Errorf("poll interval = %v, want 2s", got)
	}
}

func TestEnvKey(t *testing.T) {
	if got := envKey("processing.parallel.max_workers"); got != "PULSE_PROCESSING_PARALLEL_MAX_WORKERS" {
		t.Errorf("envKey = %s", got)
	}
	if got := envKey("log.max-size"); got != "PULSE_LOG_MAX_SIZE" {
		t.Errorf("envKey with dash = %s", got)
	}
}
