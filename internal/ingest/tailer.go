package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/normalize"
	"github.com/mediapulse/pulse/internal/storage"
)

// DatasetItem is one record from an ordered dataset, tagged with its
// position so the tailer can persist progress. A nil Raw marks a record
// that could not be read; the tailer advances past it without ingesting.
type DatasetItem struct {
	Index int64
	Raw   map[string]any
}

// Dataset is an ordered, append-only record source the tailer follows.
// Indexes must be strictly increasing within one dataset.
type Dataset interface {
	Name() string
	Source() normalize.SourceDescriptor
	// FetchAfter returns up to limit items with Index > cursor, in order.
	FetchAfter(ctx context.Context, cursor int64, limit int) ([]DatasetItem, error)
}

// Tailer follows a dataset from a persisted cursor. The cursor only moves
// after a batch is fully persisted, so a crash replays items instead of
// losing them; the writer's dedup makes the replay harmless.
type Tailer struct {
	dataset Dataset
	writer  *Writer
	store   storage.Storage
	cfg     *config.Config
	log     *zap.Logger
}

// NewTailer builds a tailer over one dataset.
func NewTailer(dataset Dataset, writer *Writer, store storage.Storage, cfg *config.Config, log *zap.Logger) *Tailer {
	return &Tailer{
		dataset: dataset,
		writer:  writer,
		store:   store,
		cfg:     cfg,
		log:     log.Named("tailer").With(zap.String("dataset", dataset.Name())),
	}
}

// Run polls the dataset until ctx is cancelled. Each tick drains the
// dataset to its current end before sleeping again.
func (t *Tailer) Run(ctx context.Context) error {
	interval := t.cfg.Seconds(ctx, "tailer.poll_interval_seconds")
	t.log.Info("tailer started", zap.Duration("poll_interval", interval))

	if err := t.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.log.Warn("drain failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.drain(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				// Transient store or read errors resolve on a later
				// tick; the cursor has not moved.
				t.log.Warn("drain failed", zap.Error(err))
			}
		}
	}
}

// drain ingests batches until the dataset has no items past the cursor.
func (t *Tailer) drain(ctx context.Context) error {
	batchSize := t.cfg.GetInt(ctx, "tailer.batch_size")
	if batchSize <= 0 {
		batchSize = 1
	}
	cursor, err := t.store.GetCursor(ctx, t.dataset.Name())
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := t.dataset.FetchAfter(ctx, cursor, batchSize)
		if err != nil {
			return fmt.Errorf("fetch after %d: %w", cursor, err)
		}
		if len(items) == 0 {
			return nil
		}

		raws := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if item.Raw != nil {
				raws = append(raws, item.Raw)
			}
		}
		batch, err := t.writer.IngestRaw(ctx, raws, t.dataset.Source())
		if err != nil {
			return fmt.Errorf("ingest batch: %w", err)
		}

		cursor = items[len(items)-1].Index
		if err := t.store.SetCursor(ctx, t.dataset.Name(), cursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		t.log.Debug("batch ingested",
			zap.Int64("cursor", cursor),
			zap.Int("inserted", batch.Inserted),
			zap.Int("updated", batch.Updated),
			zap.Int("rejected", batch.Rejected))

		if len(items) < batchSize {
			return nil
		}
	}
}

// FileDataset exposes a JSONL file as an ordered dataset. The item index is
// the 1-based line number, so appends keep existing indexes stable.
type FileDataset struct {
	name string
	src  normalize.SourceDescriptor
	path string
	log  *zap.Logger
}

// NewFileDataset builds a dataset over a JSONL file.
func NewFileDataset(name, path string, src normalize.SourceDescriptor, log *zap.Logger) *FileDataset {
	return &FileDataset{name: name, src: src, path: path, log: log.Named("dataset").With(zap.String("name", name))}
}

func (d *FileDataset) Name() string                      { return d.name }
func (d *FileDataset) Source() normalize.SourceDescriptor { return d.src }

// FetchAfter scans the file and returns up to limit records past the
// cursor line. Malformed lines come back with a nil Raw so the cursor
// still moves past them instead of re-reading them forever.
func (d *FileDataset) FetchAfter(ctx context.Context, cursor int64, limit int) ([]DatasetItem, error) {
	f, err := os.Open(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []DatasetItem
	var lineNo int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		if lineNo <= cursor {
			continue
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			d.log.Warn("skipping malformed line", zap.Int64("line", lineNo), zap.Error(err))
			out = append(out, DatasetItem{Index: lineNo})
		} else {
			out = append(out, DatasetItem{Index: lineNo, Raw: raw})
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
