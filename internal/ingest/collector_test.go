package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/normalize"
)

var collectorSrc = normalize.SourceDescriptor{Platform: "news", SourceName: "Drop"}

func TestFileCollectorWindowFilter(t *testing.T) {
	path := writeDataset(t,
		`{"url": "https://example.com/in", "text": "inside the window", "published_at": "2026-01-15T10:00:00Z"}
{"url": "https://example.com/old", "text": "before the window", "published_at": "2025-12-01T00:00:00Z"}
{"url": "https://example.com/future", "text": "after the window", "published_at": "2026-02-15T00:00:00Z"}
{"url": "https://example.com/undated", "text": "no timestamp at all"}
{"url": "https://example.com/odd", "text": "unreadable timestamp", "published_at": "whenever"}
this line is not json
`)
	c := NewFileCollector("drop", path, collectorSrc, zap.NewNop())
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	items, err := c.Collect(context.Background(), nil, from, to, 100)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	// Records without a readable publication time cannot be excluded.
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	urls := make(map[string]bool)
	for _, item := range items {
		urls[item["url"].(string)] = true
	}
	for _, want := range []string{"https://example.com/in", "https://example.com/undated", "https://example.com/odd"} {
		if !urls[want] {
			t.Errorf("missing %s", want)
		}
	}
}

func TestFileCollectorLimit(t *testing.T) {
	path := writeDataset(t,
		`{"url": "https://example.com/1", "text": "one"}
{"url": "https://example.com/2", "text": "two"}
{"url": "https://example.com/3", "text": "three"}
`)
	c := NewFileCollector("drop", path, collectorSrc, zap.NewNop())
	items, err := c.Collect(context.Background(), nil, time.Time{}, time.Now().UTC(), 2)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
}

func TestFileCollectorMissingFile(t *testing.T) {
	c := NewFileCollector("drop", filepath.Join(t.TempDir(), "absent.jsonl"), collectorSrc, zap.NewNop())
	items, err := c.Collect(context.Background(), nil, time.Time{}, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if items != nil {
		t.Fatalf("items = %v, want nil", items)
	}
}

func TestHTTPCollector(t *testing.T) {
	defer http.DefaultTransport.(*http.Transport).CloseIdleConnections()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer s3cret" {
			t.Errorf("auth header = %q, want bearer token", auth)
		}
		q := r.URL.Query()
		if q.Get("from") != from.Format(time.RFC3339) || q.Get("to") != to.Format(time.RFC3339) {
			t.Errorf("window params = %q / %q", q.Get("from"), q.Get("to"))
		}
		if q.Get("limit") != "25" {
			t.Errorf("limit param = %q, want 25", q.Get("limit"))
		}
		if got := q["q"]; len(got) != 2 || got[0] != "fuel shortage" || got[1] != "fuel prices" {
			t.Errorf("query params = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"tweet_id": "1", "text": "first"},
			{"tweet_id": "2", "text": "second"},
		})
	}))
	defer srv.Close()

	c := NewHTTPCollector("fetcher", srv.URL, "s3cret", collectorSrc)
	items, err := c.Collect(context.Background(), []string{"fuel shortage", "fuel prices"}, from, to, 25)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
}

func TestHTTPCollectorErrorStatus(t *testing.T) {
	defer http.DefaultTransport.(*http.Transport).CloseIdleConnections()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream quota exceeded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPCollector("fetcher", srv.URL, "", collectorSrc)
	if _, err := c.Collect(context.Background(), nil, time.Time{}, time.Now().UTC(), 10); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
