package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/normalize"
	"github.com/mediapulse/pulse/internal/types"
)

// SourcePolicy controls how the scheduler windows and paces one source.
type SourcePolicy struct {
	Interval    time.Duration
	Lookback    time.Duration
	MaxLookback time.Duration
	Overlap     time.Duration
	ItemCap     int
}

// ScheduledSource pairs a collector with its scheduling policy.
type ScheduledSource struct {
	Collector Collector
	Policy    SourcePolicy
}

// sourceEntry is one [[source]] block in the registry file. Zero-valued
// policy fields fall back to collectors.default.* from config.
type sourceEntry struct {
	Name       string   `toml:"name"`
	Kind       string   `toml:"kind"`
	Platform   string   `toml:"platform"`
	SourceType string   `toml:"source_type"`
	SourceName string   `toml:"source_name"`
	Query      string   `toml:"query"`
	Country    string   `toml:"country"`
	Languages  []string `toml:"languages"`

	Path  string `toml:"path"`
	URL   string `toml:"url"`
	Token string `toml:"token"`

	IntervalSeconds int  `toml:"interval_seconds"`
	LookbackDays    int  `toml:"lookback_days"`
	MaxLookbackDays int  `toml:"max_lookback_days"`
	OverlapHours    int  `toml:"overlap_hours"`
	ItemCap         int  `toml:"item_cap"`
	Disabled        bool `toml:"disabled"`
}

type registryFile struct {
	Sources []sourceEntry `toml:"source"`
}

// LoadRegistry parses the TOML source registry and builds a scheduled
// source per enabled entry. Disabled entries are skipped, not errors.
func LoadRegistry(ctx context.Context, path string, cfg *config.Config, log *zap.Logger) ([]ScheduledSource, error) {
	var reg registryFile
	if _, err := toml.DecodeFile(path, &reg); err != nil {
		return nil, fmt.Errorf("source registry %s: %w", path, err)
	}

	defaults := SourcePolicy{
		Interval:    cfg.Seconds(ctx, "collectors.default.interval_seconds"),
		Lookback:    time.Duration(cfg.GetInt(ctx, "collectors.default.lookback_days")) * 24 * time.Hour,
		MaxLookback: time.Duration(cfg.GetInt(ctx, "collectors.default.max_lookback_days")) * 24 * time.Hour,
		Overlap:     time.Duration(cfg.GetInt(ctx, "collectors.default.overlap_hours")) * time.Hour,
		ItemCap:     cfg.GetInt(ctx, "collectors.default.item_cap"),
	}

	seen := make(map[string]bool, len(reg.Sources))
	var out []ScheduledSource
	for i, entry := range reg.Sources {
		if entry.Name == "" {
			return nil, fmt.Errorf("source registry %s: entry %d has no name", path, i+1)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("source registry %s: duplicate source %q", path, entry.Name)
		}
		seen[entry.Name] = true
		if entry.Disabled {
			log.Info("source disabled", zap.String("source", entry.Name))
			continue
		}
		if entry.Kind == "dataset" {
			// Dataset entries feed a tailer, not the scheduler.
			continue
		}

		collector, err := buildCollector(entry, log)
		if err != nil {
			return nil, fmt.Errorf("source registry %s: %w", path, err)
		}
		out = append(out, ScheduledSource{
			Collector: collector,
			Policy:    entry.policy(defaults),
		})
	}
	return out, nil
}

// LoadDatasets parses the same registry file and builds a file dataset per
// enabled `kind = "dataset"` entry. Collector kinds are ignored here; the two
// loaders split one file between the scheduler and the tailers.
func LoadDatasets(path string, log *zap.Logger) ([]*FileDataset, error) {
	var reg registryFile
	if _, err := toml.DecodeFile(path, &reg); err != nil {
		return nil, fmt.Errorf("source registry %s: %w", path, err)
	}

	var out []*FileDataset
	for _, entry := range reg.Sources {
		if entry.Kind != "dataset" || entry.Disabled {
			continue
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("source registry %s: dataset entry has no name", path)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("source %q: dataset sources need a path", entry.Name)
		}
		if entry.Platform == "" {
			return nil, fmt.Errorf("source %q: platform is required", entry.Name)
		}
		src := normalize.SourceDescriptor{
			Platform:   types.Platform(entry.Platform),
			SourceType: types.SourceType(entry.SourceType),
			SourceName: entry.SourceName,
			Query:      entry.Query,
			Country:    entry.Country,
			Languages:  entry.Languages,
		}
		out = append(out, NewFileDataset(entry.Name, entry.Path, src, log))
	}
	return out, nil
}

func buildCollector(entry sourceEntry, log *zap.Logger) (Collector, error) {
	if entry.Platform == "" {
		return nil, fmt.Errorf("source %q: platform is required", entry.Name)
	}
	src := normalize.SourceDescriptor{
		Platform:   types.Platform(entry.Platform),
		SourceType: types.SourceType(entry.SourceType),
		SourceName: entry.SourceName,
		Query:      entry.Query,
		Country:    entry.Country,
		Languages:  entry.Languages,
	}
	switch entry.Kind {
	case "file":
		if entry.Path == "" {
			return nil, fmt.Errorf("source %q: file sources need a path", entry.Name)
		}
		return NewFileCollector(entry.Name, entry.Path, src, log), nil
	case "http":
		if entry.URL == "" {
			return nil, fmt.Errorf("source %q: http sources need a url", entry.Name)
		}
		return NewHTTPCollector(entry.Name, entry.URL, entry.Token, src), nil
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", entry.Name, entry.Kind)
	}
}

func (e sourceEntry) policy(defaults SourcePolicy) SourcePolicy {
	p := defaults
	if e.IntervalSeconds > 0 {
		p.Interval = time.Duration(e.IntervalSeconds) * time.Second
	}
	if e.LookbackDays > 0 {
		p.Lookback = time.Duration(e.LookbackDays) * 24 * time.Hour
	}
	if e.MaxLookbackDays > 0 {
		p.MaxLookback = time.Duration(e.MaxLookbackDays) * 24 * time.Hour
	}
	if e.OverlapHours > 0 {
		p.Overlap = time.Duration(e.OverlapHours) * time.Hour
	}
	if e.ItemCap > 0 {
		p.ItemCap = e.ItemCap
	}
	if p.MaxLookback < p.Lookback {
		p.MaxLookback = p.Lookback
	}
	return p
}
