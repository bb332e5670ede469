// Package config provides the typed configuration reader for the pipeline.
//
// Values resolve through an override chain evaluated at read time:
// environment variables, then store-backed overrides, then the YAML config
// file, then built-in defaults. Runtime tuning therefore needs no restart:
// an operator can update a kv row or export a variable and the next read
// sees it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to upper-cased, underscore-joined keys when
// checking the environment: processing.parallel.max_workers becomes
// PULSE_PROCESSING_PARALLEL_MAX_WORKERS.
const EnvPrefix = "PULSE"

// storeOverridePrefix namespaces config overrides inside the store's kv table.
const storeOverridePrefix = "config:"

// overrideTTL bounds how long a store-backed override is served from cache
// before the kv table is consulted again.
const overrideTTL = 5 * time.Second

// StoreReader is the subset of the storage layer the config reader needs.
// Implementations return an error satisfying errors.Is(err, ErrNotSet) when
// the key has no override.
type StoreReader interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// ErrNotSet reports that a store override does not exist for a key.
var ErrNotSet = errors.New("config key not set")

type cachedOverride struct {
	value   string
	present bool
	readAt  time.Time
}

// Config is the process-wide configuration reader.
type Config struct {
	mu    sync.RWMutex
	v     *viper.Viper
	path  string
	store StoreReader
	cache map[string]cachedOverride
	log   *zap.Logger
}

// Load reads the config file at path (optional; empty path means defaults
// plus environment only) and returns a reader with all recognized keys
// registered.
func Load(path string, log *zap.Logger) (*Config, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return &Config{
		v:     v,
		path:  path,
		cache: make(map[string]cachedOverride),
		log:   log.Named("config"),
	}, nil
}

// AttachStore wires the store-backed override layer. Called once the store
// is open; reads before that resolve env > file > defaults only.
func (c *Config) AttachStore(s StoreReader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = s
	c.cache = make(map[string]cachedOverride)
}

// Watch re-reads the config file when it changes on disk. Returns once the
// watcher is installed; the reload loop runs until ctx is cancelled.
func (c *Config) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", c.path, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Editors fire bursts of writes; reload once they settle.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, c.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (c *Config) reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.v.ReadInConfig(); err != nil {
		c.log.Warn("config reload failed", zap.String("path", c.path), zap.Error(err))
		return
	}
	c.log.Info("config reloaded", zap.String("path", c.path))
}

// GetString resolves key through the override chain.
func (c *Config) GetString(ctx context.Context, key string) string {
	if raw, ok := c.override(ctx, key); ok {
		return raw
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(key)
}

// GetInt resolves key as an integer. Unparseable overrides fall through to
// the file/default value.
func (c *Config) GetInt(ctx context.Context, key string) int {
	if raw, ok := c.override(ctx, key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return n
		}
		c.log.Warn("ignoring unparseable int override", zap.String("key", key), zap.String("value", raw))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt(key)
}

// GetFloat resolves key as a float64.
func (c *Config) GetFloat(ctx context.Context, key string) float64 {
	if raw, ok := c.override(ctx, key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return f
		}
		c.log.Warn("ignoring unparseable float override", zap.String("key", key), zap.String("value", raw))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64(key)
}

// GetBool resolves key as a boolean.
func (c *Config) GetBool(ctx context.Context, key string) bool {
	if raw, ok := c.override(ctx, key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return b
		}
		c.log.Warn("ignoring unparseable bool override", zap.String("key", key), zap.String("value", raw))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetBool(key)
}

// GetStringSlice resolves key as a list. Overrides use comma separation.
func (c *Config) GetStringSlice(ctx context.Context, key string) []string {
	if raw, ok := c.override(ctx, key); ok {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetStringSlice(key)
}

// Seconds resolves a *_seconds key as a duration.
func (c *Config) Seconds(ctx context.Context, key string) time.Duration {
	return time.Duration(c.GetInt(ctx, key)) * time.Second
}

// override checks environment first, then the store-backed layer.
func (c *Config) override(ctx context.Context, key string) (string, bool) {
	if val, ok := os.LookupEnv(envKey(key)); ok {
		return val, true
	}
	return c.storeOverride(ctx, key)
}

func (c *Config) storeOverride(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	store := c.store
	cached, hit := c.cache[key]
	c.mu.RUnlock()

	if store == nil {
		return "", false
	}
	if hit && time.Since(cached.readAt) < overrideTTL {
		return cached.value, cached.present
	}

	val, err := store.GetConfig(ctx, storeOverridePrefix+key)
	present := err == nil
	if err != nil && !errors.Is(err, ErrNotSet) {
		// Store unavailable: serve the stale cache entry if any, else fall
		// through to file/defaults.
		c.log.Debug("store override read failed", zap.String("key", key), zap.Error(err))
		if hit {
			return cached.value, cached.present
		}
		return "", false
	}

	c.mu.Lock()
	c.cache[key] = cachedOverride{value: val, present: present, readAt: time.Now()}
	c.mu.Unlock()
	return val, present
}

func envKey(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
}

func setDefaults(v *viper.Viper) {
	// Store
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 5)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// Analysis worker pool
	v.SetDefault("processing.parallel.max_workers", 10)
	v.SetDefault("processing.parallel.batch_size", 50)
	v.SetDefault("processing.poll_interval_seconds", 2)

	// Deduplication
	v.SetDefault("deduplication.similarity_threshold", 0.85)
	v.SetDefault("deduplication.window_hours", 24)
	v.SetDefault("deduplication.scan_limit", 500)

	// Topic scoring
	v.SetDefault("processing.topic.min_score_threshold", 0.2)
	v.SetDefault("processing.topic.confidence_threshold", 0.85)
	v.SetDefault("processing.topic.keyword_score_threshold", 0.3)
	v.SetDefault("processing.topic.embedding_score_threshold", 0.5)

	// Sentiment thresholds
	v.SetDefault("processing.sentiment.positive_threshold", 0.2)
	v.SetDefault("processing.sentiment.negative_threshold", -0.2)

	// Timeouts
	v.SetDefault("processing.timeouts.collector_seconds", 300)
	v.SetDefault("processing.timeouts.classifier_seconds", 120)
	v.SetDefault("processing.timeouts.stale_claim_seconds", 300)

	// Issue engine
	v.SetDefault("processing.issues.tick_seconds", 300)
	v.SetDefault("processing.issues.cluster_similarity", 0.75)
	v.SetDefault("processing.issues.min_cluster_size", 3)
	v.SetDefault("processing.issues.time_window_hours", 24)
	v.SetDefault("processing.issues.match_threshold", 0.75)
	v.SetDefault("processing.issues.volume_saturation", 200)
	v.SetDefault("processing.issues.priority_sentiment_weight", 0.4)
	v.SetDefault("processing.issues.priority_volume_weight", 0.35)
	v.SetDefault("processing.issues.priority_time_weight", 0.25)

	// Aggregation
	v.SetDefault("processing.aggregation.tick_seconds", 300)
	v.SetDefault("processing.aggregation.windows", []string{"15m", "1h", "24h", "7d", "30d"})
	v.SetDefault("processing.aggregation.entities", []string{})
	v.SetDefault("processing.baseline.days", 30)

	// Collector scheduling
	v.SetDefault("collectors.max_workers", 4)
	v.SetDefault("collectors.consecutive_failure_limit", 5)
	v.SetDefault("collectors.registry_file", "")
	v.SetDefault("collectors.default.lookback_days", 3)
	v.SetDefault("collectors.default.max_lookback_days", 14)
	v.SetDefault("collectors.default.overlap_hours", 2)
	v.SetDefault("collectors.default.item_cap", 500)
	v.SetDefault("collectors.default.interval_seconds", 900)

	// Tailer
	v.SetDefault("tailer.poll_interval_seconds", 30)
	v.SetDefault("tailer.batch_size", 200)

	// Classifier service
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("ai.anthropic.model", "claude-3-5-haiku-20241022")
	v.SetDefault("ai.default_tpm", 200000)

	// Taxonomy and gazetteer files
	v.SetDefault("topics.file", "")
	v.SetDefault("locations.file", "")

	// Shutdown
	v.SetDefault("shutdown.grace_seconds", 30)
}
