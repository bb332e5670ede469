// Package analysis is the worker side of the pipeline: it claims pending
// mentions from the store, runs the phase sequence (sentiment, emotion,
// topics, issue linkage, location, weights) against the model clients, and
// commits each verdict atomically. Claim state lives in the mention row,
// so any crash resolves by re-claim; a janitor returns stale claims to the
// pending pool.
package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/classifier"
	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
	"github.com/mediapulse/pulse/internal/types"
)

// IssueJoin describes an accepted linkage between a mention and an
// existing issue.
type IssueJoin struct {
	Link  types.IssueMention
	Slug  string
	Label string
}

// IssueJoiner asks the issue engine whether a mention joins an existing
// active issue under a topic. Issue creation is batched in the engine's
// own tick, never here. A nil join with nil error means no issue matched.
type IssueJoiner interface {
	Join(ctx context.Context, topicKey string, entryID int64, embedding []float64) (*IssueJoin, error)
}

// Pipeline runs the per-mention phase sequence.
type Pipeline struct {
	store      storage.Storage
	classifier classifier.Classifier
	embedder   classifier.Embedder
	joiner     IssueJoiner
	gazetteer  *Gazetteer
	cfg        *config.Config
	log        *zap.Logger
	metrics    *telemetry.PipelineMetrics

	topics topicCache
}

// NewPipeline wires the phase runner. The gazetteer may be empty but not
// nil; the joiner is the issue engine's matcher.
func NewPipeline(store storage.Storage, cls classifier.Classifier, emb classifier.Embedder, joiner IssueJoiner, gaz *Gazetteer, cfg *config.Config, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		classifier: cls,
		embedder:   emb,
		joiner:     joiner,
		gazetteer:  gaz,
		cfg:        cfg,
		log:        log.Named("analysis"),
		metrics:    telemetry.Pipeline(),
	}
}

// BatchContext carries the batch-relative scales a single mention cannot
// compute for itself: reach terciles and the location score range.
type BatchContext struct {
	Reach    ReachTiers
	Location LocationScale
}

// BatchContextFor derives the scales from one claimed batch.
func (p *Pipeline) BatchContextFor(batch []*types.Mention) BatchContext {
	raws := make([]float64, 0, len(batch))
	for _, m := range batch {
		_, raw := p.gazetteer.BestMatch(locationText(m))
		raws = append(raws, raw)
	}
	return BatchContext{Reach: ReachTiersFor(batch), Location: LocationScaleFor(raws)}
}

// Process runs all phases for one claimed mention and commits the result.
// Failures mark the row failed with the phase recorded; nothing upstream
// can act on an error, so none is returned.
func (p *Pipeline) Process(ctx context.Context, m *types.Mention, batch BatchContext) {
	started := time.Now()
	res, phase, err := p.analyze(ctx, m, batch)
	if err != nil {
		p.fail(ctx, m.EntryID, phase, err)
		return
	}
	if err := p.store.CommitAnalysis(ctx, res); err != nil {
		p.fail(ctx, m.EntryID, "commit", err)
		return
	}
	p.metrics.Analysis(ctx, "completed")
	p.log.Debug("mention analyzed",
		zap.Int64("entry_id", m.EntryID),
		zap.String("sentiment", string(res.SentimentLabel)),
		zap.String("primary_topic", res.PrimaryTopic),
		zap.Duration("elapsed", time.Since(started)))
}

func (p *Pipeline) fail(ctx context.Context, entryID int64, phase string, cause error) {
	p.metrics.Analysis(ctx, "failed")
	p.log.Warn("analysis failed",
		zap.Int64("entry_id", entryID),
		zap.String("phase", phase),
		zap.Error(cause))
	// The row must leave processing even when the run was canceled, or it
	// sits claimed until the janitor notices.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.MarkFailed(markCtx, entryID, phase); err != nil {
		p.log.Error("could not mark mention failed",
			zap.Int64("entry_id", entryID),
			zap.Error(err))
	}
}

func (p *Pipeline) analyze(ctx context.Context, m *types.Mention, batch BatchContext) (*storage.AnalysisResult, string, error) {
	text := m.NormalizedText
	if text == "" {
		text = m.Text
	}

	// Sentiment, plus the embedding every later phase leans on.
	if err := ctx.Err(); err != nil {
		return nil, "sentiment", err
	}
	t0 := time.Now()
	sent, err := p.classifier.Sentiment(ctx, text)
	if err != nil {
		return nil, "sentiment", err
	}
	p.metrics.Phase(ctx, "sentiment", time.Since(t0))

	t0 = time.Now()
	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, "embedding", err
	}
	p.metrics.Phase(ctx, "embedding", time.Since(t0))

	// The model's label rides along, but the score decides.
	label := types.LabelForScore(sent.Score,
		p.cfg.GetFloat(ctx, "processing.sentiment.positive_threshold"),
		p.cfg.GetFloat(ctx, "processing.sentiment.negative_threshold"))

	// Emotion.
	if err := ctx.Err(); err != nil {
		return nil, "emotion", err
	}
	t0 = time.Now()
	emo, err := p.classifier.Emotions(ctx, text)
	if err != nil {
		return nil, "emotion", err
	}
	dist, err := normalizeDistribution(emo.Distribution)
	if err != nil {
		return nil, "emotion", err
	}
	emotionLabel, emotionScore := argmaxEmotion(dist)
	p.metrics.Phase(ctx, "emotion", time.Since(t0))

	// Topics.
	if err := ctx.Err(); err != nil {
		return nil, "topics", err
	}
	t0 = time.Now()
	active, err := p.activeTopics(ctx)
	if err != nil {
		return nil, "topics", err
	}
	th := topicThresholds{
		confidence: p.cfg.GetFloat(ctx, "processing.topic.confidence_threshold"),
		keyword:    p.cfg.GetFloat(ctx, "processing.topic.keyword_score_threshold"),
		embedding:  p.cfg.GetFloat(ctx, "processing.topic.embedding_score_threshold"),
		minScore:   p.cfg.GetFloat(ctx, "processing.topic.min_score_threshold"),
	}
	retained := retainTopics(scoreTopics(text, vector, active), th)
	mentionTopics := make([]types.MentionTopic, 0, len(retained))
	for _, s := range retained {
		mentionTopics = append(mentionTopics, types.MentionTopic{
			MentionID:       m.EntryID,
			TopicKey:        s.TopicKey,
			KeywordScore:    s.KeywordScore,
			EmbeddingScore:  s.EmbeddingScore,
			TopicConfidence: s.Confidence,
		})
	}
	primaryTopic := ""
	if len(retained) > 0 {
		primaryTopic = retained[0].TopicKey
	}
	p.metrics.Phase(ctx, "topics", time.Since(t0))

	// Issue linkage, existing issues only.
	if err := ctx.Err(); err != nil {
		return nil, "issues", err
	}
	t0 = time.Now()
	var links []types.IssueMention
	var issueSlug, issueLabel string
	var issueConfidence *float64
	for _, s := range retained {
		join, err := p.joiner.Join(ctx, s.TopicKey, m.EntryID, vector)
		if err != nil {
			return nil, "issues", err
		}
		if join == nil {
			continue
		}
		links = append(links, join.Link)
		if s.TopicKey == primaryTopic {
			issueSlug = join.Slug
			issueLabel = join.Label
			conf := join.Link.SimilarityScore
			issueConfidence = &conf
		}
	}
	p.metrics.Phase(ctx, "issues", time.Since(t0))

	// Location.
	locLabel, locRaw := p.gazetteer.BestMatch(locationText(m))
	var locConfidence *float64
	if locLabel != "" && locRaw > 0 {
		conf := batch.Location.Normalize(locRaw)
		locConfidence = &conf
	}

	return &storage.AnalysisResult{
		EntryID:                m.EntryID,
		SentimentLabel:         label,
		SentimentScore:         sent.Score,
		SentimentJustification: sent.Justification,
		EmotionLabel:           emotionLabel,
		EmotionScore:           emotionScore,
		EmotionDistribution:    dist,
		Embedding: &types.Embedding{
			EntryID: m.EntryID,
			Vector:  vector,
			Model:   p.cfg.GetString(ctx, "ai.openai.embedding_model"),
		},
		Topics:             mentionTopics,
		IssueLinks:         links,
		PrimaryTopic:       primaryTopic,
		IssueSlug:          issueSlug,
		IssueLabel:         issueLabel,
		IssueConfidence:    issueConfidence,
		LocationLabel:      locLabel,
		LocationConfidence: locConfidence,
		InfluenceWeight:    influenceWeight(m, batch.Reach),
		ConfidenceWeight:   confidenceWeight(sent.Score, emotionScore),
	}, "", nil
}

func (p *Pipeline) activeTopics(ctx context.Context) ([]*types.Topic, error) {
	return p.topics.get(ctx, p.store.ListActiveTopics)
}

// locationText is what the gazetteer sees: the normalized body plus the
// author's self-declared location, which often names the country outright.
func locationText(m *types.Mention) string {
	if m.AuthorLocation == "" {
		return m.NormalizedText
	}
	return m.NormalizedText + " " + strings.ToLower(m.AuthorLocation)
}

// normalizeDistribution enforces the sum-to-one contract: drift within
// 1e-3 passes as is, larger drift renormalizes, an empty distribution is
// a shape violation.
func normalizeDistribution(dist map[types.EmotionLabel]float64) (map[types.EmotionLabel]float64, error) {
	sum := 0.0
	for _, label := range types.CoreEmotions {
		sum += dist[label]
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: emotion distribution has no mass", classifier.ErrInvalidResponse)
	}
	if math.Abs(sum-1) <= 1e-3 {
		return dist, nil
	}
	out := make(map[types.EmotionLabel]float64, len(types.CoreEmotions))
	for _, label := range types.CoreEmotions {
		out[label] = dist[label] / sum
	}
	return out, nil
}

// argmaxEmotion picks the dominant emotion; ties resolve in CoreEmotions
// order so reruns agree.
func argmaxEmotion(dist map[types.EmotionLabel]float64) (types.EmotionLabel, float64) {
	best := types.CoreEmotions[0]
	for _, label := range types.CoreEmotions[1:] {
		if dist[label] > dist[best] {
			best = label
		}
	}
	return best, dist[best]
}
