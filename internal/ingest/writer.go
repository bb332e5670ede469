package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/normalize"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
	"github.com/mediapulse/pulse/internal/types"
)

// Result classifies what one ingest call did.
type Result string

// Ingest outcomes
const (
	ResultInserted Result = "inserted"
	ResultUpdated  Result = "updated"
	ResultRejected Result = "rejected"
)

// shortTextLen is the length below which near-duplicate detection requires
// exact equality instead of a similarity ratio. Very short texts produce
// meaningless ratios.
const shortTextLen = 10

// ingestRaceRetries bounds how often a lost insert race is retried as an
// update before giving up.
const ingestRaceRetries = 3

// Writer is the single entry point for persisting mentions. Both ingest
// producers (tailer and scheduler) funnel through it; it is safe for
// concurrent use.
type Writer struct {
	store   storage.Storage
	cfg     *config.Config
	log     *zap.Logger
	metrics *telemetry.PipelineMetrics
}

// NewWriter builds a writer around the store.
func NewWriter(store storage.Storage, cfg *config.Config, log *zap.Logger) *Writer {
	return &Writer{
		store:   store,
		cfg:     cfg,
		log:     log.Named("writer"),
		metrics: telemetry.Pipeline(),
	}
}

// Ingest persists one mention: an unseen item is inserted pending analysis,
// a re-observed item only refreshes its engagement counters. Identity is
// resolved by merge key first, then by near-duplicate text similarity.
func (w *Writer) Ingest(ctx context.Context, m *types.Mention) (Result, error) {
	if m.NormalizedText == "" {
		content := m.Text
		if content == "" {
			content = m.Title
		}
		m.NormalizedText = normalize.NormalizeText(content)
	}
	if m.Fingerprint == "" {
		m.Fingerprint = normalize.Fingerprint(m)
	}
	m.SetDefaults()
	if err := m.Validate(); err != nil {
		w.metrics.Ingest(ctx, string(ResultRejected))
		return ResultRejected, fmt.Errorf("ingest: %w", err)
	}

	for attempt := 0; ; attempt++ {
		existing, err := w.lookup(ctx, m)
		if err != nil {
			return "", fmt.Errorf("ingest lookup: %w", err)
		}
		if existing == nil {
			existing, err = w.nearDuplicate(ctx, m)
			if err != nil {
				return "", fmt.Errorf("ingest dedup scan: %w", err)
			}
		}
		if existing != nil {
			err := w.store.UpdateEngagement(ctx, existing.EntryID, storage.Engagement{
				Likes:           m.Likes,
				Shares:          m.Shares,
				Comments:        m.Comments,
				DirectReach:     m.DirectReach,
				CumulativeReach: m.CumulativeReach,
			})
			if err != nil {
				return "", fmt.Errorf("ingest update: %w", err)
			}
			w.metrics.Ingest(ctx, string(ResultUpdated))
			w.log.Debug("mention updated",
				zap.Int64("entry_id", existing.EntryID),
				zap.String("platform", string(m.Platform)))
			return ResultUpdated, nil
		}

		_, err = w.store.InsertMention(ctx, m)
		if err == nil {
			w.metrics.Ingest(ctx, string(ResultInserted))
			w.log.Debug("mention inserted",
				zap.Int64("entry_id", m.EntryID),
				zap.String("platform", string(m.Platform)))
			return ResultInserted, nil
		}
		// A concurrent ingest of the same item won the insert race; the
		// row now exists, so retry the whole call as an update.
		if errors.Is(err, storage.ErrDuplicateKey) && attempt < ingestRaceRetries {
			continue
		}
		return "", fmt.Errorf("ingest insert: %w", err)
	}
}

// lookup resolves an existing row by the strongest merge key the mention
// carries: (platform, source_id), else url, else fingerprint. A nil result
// with nil error means no match.
func (w *Writer) lookup(ctx context.Context, m *types.Mention) (*types.Mention, error) {
	var existing *types.Mention
	var err error
	switch {
	case m.SourceID != "":
		existing, err = w.store.FindMentionBySource(ctx, m.Platform, m.SourceID)
	case m.URL != "":
		existing, err = w.store.FindMentionByURL(ctx, m.URL)
	default:
		existing, err = w.store.FindMentionByFingerprint(ctx, m.Fingerprint)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// nearDuplicate scans recent same-platform mentions for a text near-match.
func (w *Writer) nearDuplicate(ctx context.Context, m *types.Mention) (*types.Mention, error) {
	if m.NormalizedText == "" {
		return nil, nil
	}
	window := time.Duration(w.cfg.GetInt(ctx, "deduplication.window_hours")) * time.Hour
	threshold := w.cfg.GetFloat(ctx, "deduplication.similarity_threshold")
	limit := w.cfg.GetInt(ctx, "deduplication.scan_limit")

	cands, err := w.store.RecentMentionsForDedup(ctx, m.Platform, time.Now().UTC().Add(-window), limit)
	if err != nil {
		return nil, err
	}
	textLen := utf8.RuneCountInString(m.NormalizedText)
	for _, c := range cands {
		if textLen < shortTextLen || utf8.RuneCountInString(c.NormalizedText) < shortTextLen {
			if m.NormalizedText != c.NormalizedText {
				continue
			}
		} else if Similarity(m.NormalizedText, c.NormalizedText) < threshold {
			continue
		}
		return w.store.GetMention(ctx, c.EntryID)
	}
	return nil, nil
}

// BatchResult summarizes one ingest batch.
type BatchResult struct {
	Inserted int
	Updated  int
	Rejected int
}

// IngestBatch ingests a slice of mentions. Rejections are counted and
// skipped; store errors abort the batch so callers do not advance their
// cursors past unpersisted items.
func (w *Writer) IngestBatch(ctx context.Context, mentions []*types.Mention) (BatchResult, error) {
	var br BatchResult
	for _, m := range mentions {
		if err := ctx.Err(); err != nil {
			return br, err
		}
		res, err := w.Ingest(ctx, m)
		switch {
		case res == ResultRejected:
			br.Rejected++
			w.log.Warn("record rejected", zap.String("platform", string(m.Platform)), zap.Error(err))
		case err != nil:
			return br, err
		case res == ResultInserted:
			br.Inserted++
		case res == ResultUpdated:
			br.Updated++
		}
	}
	return br, nil
}

// IngestRaw normalizes raw source records and ingests them. Records that
// fail normalization are rejected and skipped, same as validation failures.
func (w *Writer) IngestRaw(ctx context.Context, raws []map[string]any, src normalize.SourceDescriptor) (BatchResult, error) {
	var br BatchResult
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return br, err
		}
		m, err := normalize.Normalize(raw, src)
		if err != nil {
			br.Rejected++
			w.metrics.Ingest(ctx, string(ResultRejected))
			w.log.Warn("record rejected", zap.String("platform", string(src.Platform)), zap.Error(err))
			continue
		}
		res, err := w.Ingest(ctx, m)
		switch {
		case res == ResultRejected:
			br.Rejected++
			w.log.Warn("record rejected", zap.String("platform", string(src.Platform)), zap.Error(err))
		case err != nil:
			return br, err
		case res == ResultInserted:
			br.Inserted++
		case res == ResultUpdated:
			br.Updated++
		}
	}
	return br, nil
}
