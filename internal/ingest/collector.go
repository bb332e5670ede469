// Package ingest feeds the pipeline: pull collectors on an interval
// schedule, a cursor-following dataset tailer, and the deduplicating writer
// both hand their records to.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/normalize"
)

// Collector pulls raw records from one external source for a time window.
// Implementations must honor ctx cancellation; the scheduler cancels
// collectors that exceed their timeout.
type Collector interface {
	Name() string
	Source() normalize.SourceDescriptor
	// Collect fetches records matching any of queries published inside
	// [from, to], up to limit. Records the source cannot attribute a
	// publication time to are included regardless of the window.
	Collect(ctx context.Context, queries []string, from, to time.Time, limit int) ([]map[string]any, error)
}

// FileCollector reads a JSONL drop file on each run. External fetcher
// sidecars append records to the file; this side only reads.
type FileCollector struct {
	name string
	src  normalize.SourceDescriptor
	path string
	log  *zap.Logger
}

// NewFileCollector builds a collector over a JSONL drop file.
func NewFileCollector(name, path string, src normalize.SourceDescriptor, log *zap.Logger) *FileCollector {
	return &FileCollector{name: name, src: src, path: path, log: log.Named("collector").With(zap.String("name", name))}
}

func (c *FileCollector) Name() string                      { return c.name }
func (c *FileCollector) Source() normalize.SourceDescriptor { return c.src }

// Collect reads the drop file and returns records published inside the
// window. The fetcher sidecar already applied the source queries when it
// wrote the file, so the list is not re-filtered here. A missing file means
// an empty drop, not an error.
func (c *FileCollector) Collect(ctx context.Context, _ []string, from, to time.Time, limit int) ([]map[string]any, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.name, err)
	}
	defer f.Close()

	var out []map[string]any
	malformed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			malformed++
			continue
		}
		if ts, ok := normalize.PublishedAt(raw); ok && (ts.Before(from) || ts.After(to)) {
			continue
		}
		out = append(out, raw)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.name, err)
	}
	if malformed > 0 {
		c.log.Warn("skipped malformed drop lines", zap.Int("count", malformed))
	}
	return out, nil
}

// HTTPCollector queries a fetcher service over HTTP. The endpoint receives
// the window and cap as query parameters and returns a JSON array of raw
// records.
type HTTPCollector struct {
	name   string
	src    normalize.SourceDescriptor
	url    string
	token  string
	client *http.Client
}

// NewHTTPCollector builds a collector against a fetcher endpoint. An empty
// token skips the Authorization header.
func NewHTTPCollector(name, endpoint, token string, src normalize.SourceDescriptor) *HTTPCollector {
	return &HTTPCollector{
		name:  name,
		src:   src,
		url:   endpoint,
		token: token,
		// Per-request deadlines come from the scheduler's collector
		// timeout; this is only a hard floor against leaked connections.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *HTTPCollector) Name() string                      { return c.name }
func (c *HTTPCollector) Source() normalize.SourceDescriptor { return c.src }

func (c *HTTPCollector) Collect(ctx context.Context, queries []string, from, to time.Time, limit int) ([]map[string]any, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.name, err)
	}
	q := u.Query()
	for _, query := range queries {
		q.Add("q", query)
	}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector %s: unexpected status %s", c.name, resp.Status)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("collector %s: decode response: %w", c.name, err)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
