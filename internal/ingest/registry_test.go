package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `
[[source]]
name = "twitter-mentions"
kind = "http"
platform = "twitter"
source_type = "citizen"
source_name = "Twitter Search"
query = "ministry OR government"
country = "KE"
languages = ["en", "sw"]
url = "http://fetcher:9090/twitter"
token = "secret"
interval_seconds = 600
overlap_hours = 1

[[source]]
name = "press-dropbox"
kind = "file"
platform = "news"
source_name = "Press Review"
path = "/var/pulse/drops/press.jsonl"
item_cap = 50

[[source]]
name = "retired-feed"
kind = "file"
platform = "news"
path = "/var/pulse/drops/old.jsonl"
disabled = true
`)
	sources, err := LoadRegistry(context.Background(), path, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2 (disabled entry skipped)", len(sources))
	}

	tw := sources[0]
	if tw.Collector.Name() != "twitter-mentions" {
		t.Fatalf("first source = %q", tw.Collector.Name())
	}
	if _, ok := tw.Collector.(*HTTPCollector); !ok {
		t.Fatalf("twitter-mentions = %T, want *HTTPCollector", tw.Collector)
	}
	src := tw.Collector.Source()
	if src.Platform != "twitter" || src.Country != "KE" || len(src.Languages) != 2 {
		t.Errorf("descriptor = %+v", src)
	}
	if tw.Policy.Interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", tw.Policy.Interval)
	}
	if tw.Policy.Overlap != time.Hour {
		t.Errorf("overlap = %v, want 1h", tw.Policy.Overlap)
	}
	// Unset fields fall back to collectors.default.*.
	if tw.Policy.Lookback != 3*24*time.Hour {
		t.Errorf("lookback = %v, want 72h default", tw.Policy.Lookback)
	}
	if tw.Policy.MaxLookback != 14*24*time.Hour {
		t.Errorf("max lookback = %v, want 14d default", tw.Policy.MaxLookback)
	}
	if tw.Policy.ItemCap != 500 {
		t.Errorf("item cap = %v, want 500 default", tw.Policy.ItemCap)
	}

	press := sources[1]
	if _, ok := press.Collector.(*FileCollector); !ok {
		t.Fatalf("press-dropbox = %T, want *FileCollector", press.Collector)
	}
	if press.Policy.ItemCap != 50 {
		t.Errorf("press item cap = %d, want 50", press.Policy.ItemCap)
	}
	if press.Policy.Interval != 15*time.Minute {
		t.Errorf("press interval = %v, want 900s default", press.Policy.Interval)
	}
}

func TestLoadRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing name",
			body: "[[source]]\nkind = \"file\"\nplatform = \"news\"\npath = \"/tmp/x\"\n",
		},
		{
			name: "duplicate names",
			body: `
[[source]]
name = "a"
kind = "file"
platform = "news"
path = "/tmp/x"

[[source]]
name = "a"
kind = "file"
platform = "news"
path = "/tmp/y"
`,
		},
		{
			name: "unknown kind",
			body: "[[source]]\nname = \"a\"\nkind = \"carrier-pigeon\"\nplatform = \"news\"\n",
		},
		{
			name: "file without path",
			body: "[[source]]\nname = \"a\"\nkind = \"file\"\nplatform = \"news\"\n",
		},
		{
			name: "http without url",
			body: "[[source]]\nname = \"a\"\nkind = \"http\"\nplatform = \"twitter\"\n",
		},
		{
			name: "missing platform",
			body: "[[source]]\nname = \"a\"\nkind = \"file\"\npath = \"/tmp/x\"\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRegistry(t, tt.body)
			if _, err := LoadRegistry(context.Background(), path, testConfig(t), zap.NewNop()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadRegistrySkipsDatasetEntries(t *testing.T) {
	path := writeRegistry(t, `
[[source]]
name = "twitter-mentions"
kind = "http"
platform = "twitter"
url = "http://fetcher:9090/twitter"

[[source]]
name = "brand-archive"
kind = "dataset"
platform = "news"
path = "/var/pulse/archive/brand.jsonl"
`)
	sources, err := LoadRegistry(context.Background(), path, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1 (dataset entry left for the tailer)", len(sources))
	}
	if sources[0].Collector.Name() != "twitter-mentions" {
		t.Fatalf("source = %q", sources[0].Collector.Name())
	}
}

func TestLoadDatasets(t *testing.T) {
	path := writeRegistry(t, `
[[source]]
name = "twitter-mentions"
kind = "http"
platform = "twitter"
url = "http://fetcher:9090/twitter"

[[source]]
name = "brand-archive"
kind = "dataset"
platform = "news"
source_name = "Brand Archive"
path = "/var/pulse/archive/brand.jsonl"

[[source]]
name = "old-archive"
kind = "dataset"
platform = "news"
path = "/var/pulse/archive/old.jsonl"
disabled = true
`)
	datasets, err := LoadDatasets(path, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadDatasets: %v", err)
	}
	if len(datasets) != 1 {
		t.Fatalf("datasets = %d, want 1", len(datasets))
	}
	if datasets[0].Name() != "brand-archive" {
		t.Errorf("dataset name = %q", datasets[0].Name())
	}
	if src := datasets[0].Source(); src.Platform != "news" || src.SourceName != "Brand Archive" {
		t.Errorf("descriptor = %+v", src)
	}
}

func TestLoadDatasetsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "dataset without path",
			body: "[[source]]\nname = \"a\"\nkind = \"dataset\"\nplatform = \"news\"\n",
		},
		{
			name: "dataset without platform",
			body: "[[source]]\nname = \"a\"\nkind = \"dataset\"\npath = \"/tmp/x\"\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRegistry(t, tt.body)
			if _, err := LoadDatasets(path, zap.NewNop()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSourcePolicyMaxLookbackFloor(t *testing.T) {
	path := writeRegistry(t, `
[[source]]
name = "deep-archive"
kind = "file"
platform = "news"
path = "/var/pulse/drops/archive.jsonl"
lookback_days = 30
`)
	sources, err := LoadRegistry(context.Background(), path, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	p := sources[0].Policy
	// A lookback beyond the default max lookback raises the max with it.
	if p.MaxLookback != p.Lookback {
		t.Errorf("max lookback = %v, want raised to lookback %v", p.MaxLookback, p.Lookback)
	}
}
