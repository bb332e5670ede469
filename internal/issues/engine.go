// Package issues turns the stream of analyzed mentions into tracked
// issues. On every tick it clusters each topic's recent unissued
// mentions by embedding similarity, folds each cluster into the closest
// live issue or opens a new one, then re-prices every live issue and
// walks it through the lifecycle state machine. The engine also serves
// the analysis pipeline as its issue joiner, attaching single mentions
// to already-open issues at analysis time.
package issues

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/aggregate"
	"github.com/mediapulse/pulse/internal/analysis"
	"github.com/mediapulse/pulse/internal/classifier"
	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/telemetry"
	"github.com/mediapulse/pulse/internal/types"
)

// Lifecycle edge thresholds. The cluster size and priority weights are
// configurable; these edges are fixed.
const (
	emergeAge          = 24 * time.Hour
	escalatePriority   = 80.0
	escalateSentiment  = -0.5
	escalateBurst      = 5
	deescalatePriority = 60.0
	velocityWindow     = 6 * time.Hour
	resolveQuiet       = 7 * 24 * time.Hour
)

// Engine owns the issue tick. The tick is single-threaded and topics
// are processed in sequence, so two clusters never race over the same
// issue within one process.
type Engine struct {
	store      storage.Storage
	summarizer classifier.Summarizer
	cfg        *config.Config
	log        *zap.Logger
	metrics    *telemetry.PipelineMetrics

	now   func() time.Time
	newID func() string
}

func NewEngine(store storage.Storage, summarizer classifier.Summarizer, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		log:        log.Named("issues"),
		metrics:    telemetry.Pipeline(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Run executes the issue tick on a fixed cadence until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Seconds(ctx, "processing.issues.tick_seconds")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("issue engine started", zap.Duration("tick", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("issue engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one clustering pass over every active topic followed by one
// lifecycle pass over every live issue. moved tracks issues that
// already transitioned during clustering, because an issue moves at
// most once per tick.
func (e *Engine) tick(ctx context.Context) {
	now := e.now().UTC()

	topics, err := e.store.ListActiveTopics(ctx)
	if err != nil {
		e.log.Error("topic listing failed", zap.Error(err))
		return
	}

	moved := make(map[string]bool)
	for _, t := range topics {
		if ctx.Err() != nil {
			return
		}
		if err := e.clusterTopic(ctx, t, now, moved); err != nil {
			e.log.Error("clustering failed", zap.String("topic", t.TopicKey), zap.Error(err))
		}
	}
	e.lifecycle(ctx, now, moved)
}

// clusterTopic groups the topic's recent unissued mentions and folds
// each cluster into the closest live issue, or opens a new one.
func (e *Engine) clusterTopic(ctx context.Context, topic *types.Topic, now time.Time, moved map[string]bool) error {
	hours := e.cfg.GetInt(ctx, "processing.issues.time_window_hours")
	since := now.Add(-time.Duration(hours) * time.Hour)

	vectors, err := e.store.UnissuedMentions(ctx, topic.TopicKey, since)
	if err != nil {
		return fmt.Errorf("unissued mentions: %w", err)
	}
	if len(vectors) == 0 {
		return nil
	}

	similarity := e.cfg.GetFloat(ctx, "processing.issues.cluster_similarity")
	minSize := e.cfg.GetInt(ctx, "processing.issues.min_cluster_size")
	clusters := clusterMentions(vectors, similarity, minSize)
	if len(clusters) == 0 {
		return nil
	}

	issues, err := e.store.ListIssuesByTopic(ctx, topic.TopicKey, types.LiveIssueStates())
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	threshold := e.cfg.GetFloat(ctx, "processing.issues.match_threshold")

	for _, c := range clusters {
		target, _ := closestIssue(issues, c.centroid, threshold)
		if target != nil {
			if err := e.mergeCluster(ctx, target, c, now, moved); err != nil {
				e.log.Error("cluster merge failed",
					zap.String("topic", topic.TopicKey),
					zap.String("issue_id", target.IssueID),
					zap.Error(err))
			}
			continue
		}
		issue, err := e.openIssue(ctx, topic, c, now)
		if err != nil {
			e.log.Error("issue creation failed", zap.String("topic", topic.TopicKey), zap.Error(err))
			continue
		}
		// Later clusters in this tick may merge into the issue just opened.
		issues = append(issues, issue)
	}
	return nil
}

// mergeCluster appends a cluster's mentions to an existing issue,
// shifts the centroid by mention-count weight and refreshes activity.
// Merging into a resolved issue reopens it.
func (e *Engine) mergeCluster(ctx context.Context, target *types.Issue, c cluster, now time.Time, moved map[string]bool) error {
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		issue, err := tx.GetIssue(ctx, target.IssueID)
		if err != nil {
			return err
		}
		links := clusterLinks(issue.IssueID, c, now)
		if err := tx.AddIssueMentions(ctx, links); err != nil {
			return err
		}
		if issue.State == types.IssueResolved {
			if err := tx.TransitionIssue(ctx, issue.IssueID, types.IssueResolved, types.IssueActive, "reopened by cluster merge"); err != nil {
				return err
			}
			moved[issue.IssueID] = true
			e.metrics.Transition(ctx, string(types.IssueActive))
		}
		issue.Centroid = mergedCentroid(issue.Centroid, issue.MentionCount, c.centroid, len(c.members))
		issue.MentionCount += len(links)
		issue.LastActivity = now
		return tx.UpdateIssue(ctx, issue)
	})
	if err != nil {
		return err
	}
	e.log.Info("cluster merged",
		zap.String("issue_id", target.IssueID),
		zap.Int("mentions", len(c.members)))
	return nil
}

// openIssue creates a new emerging issue from a cluster. The row starts
// at zero mentions; AddIssueMentions raises the count as the links land.
func (e *Engine) openIssue(ctx context.Context, topic *types.Topic, c cluster, now time.Time) (*types.Issue, error) {
	id := e.newID()
	issue := &types.Issue{
		IssueID:      id,
		TopicKey:     topic.TopicKey,
		Slug:         issueSlug(topic.TopicKey, now, id),
		Label:        e.labelCluster(ctx, topic, c),
		State:        types.IssueEmerging,
		StartTime:    now,
		LastActivity: now,
		Centroid:     c.centroid,
	}
	issue.PriorityScore = priorityScore(e.priorityWeights(ctx), clusterSentiment(c), len(c.members), now, now)
	issue.PriorityBand = types.BandForScore(issue.PriorityScore)

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateIssue(ctx, issue); err != nil {
			return err
		}
		return tx.AddIssueMentions(ctx, clusterLinks(id, c, now))
	})
	if err != nil {
		return nil, err
	}
	issue.MentionCount = len(c.members)

	e.log.Info("issue opened",
		zap.String("issue_id", id),
		zap.String("topic", topic.TopicKey),
		zap.String("slug", issue.Slug),
		zap.String("label", issue.Label),
		zap.Int("mentions", len(c.members)))
	return issue, nil
}

// issueSlug is {topic}-{YYYYMMDD}-{6 id chars}, stable enough for URLs.
func issueSlug(topicKey string, now time.Time, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("%s-%s-%s", topicKey, now.Format("20060102"), suffix)
}

// clusterLinks builds the link rows for a cluster. The recorded
// similarity is each member against the cluster centroid, the evidence
// that grouped it.
func clusterLinks(issueID string, c cluster, now time.Time) []types.IssueMention {
	links := make([]types.IssueMention, 0, len(c.members))
	for _, m := range c.members {
		links = append(links, types.IssueMention{
			IssueID:         issueID,
			MentionID:       m.Mention.EntryID,
			SimilarityScore: cosine(m.Vector, c.centroid),
			DetectedAt:      now,
		})
	}
	return links
}

// clusterSentiment is the weighted sentiment over a cluster's members,
// giving a freshly opened issue an honest starting priority.
func clusterSentiment(c cluster) float64 {
	rows := make([]storage.SentimentRow, 0, len(c.members))
	for _, m := range c.members {
		if m.Mention.SentimentScore == nil {
			continue
		}
		row := storage.SentimentRow{
			SentimentScore:   *m.Mention.SentimentScore,
			InfluenceWeight:  1,
			ConfidenceWeight: 1,
		}
		if m.Mention.InfluenceWeight != nil {
			row.InfluenceWeight = *m.Mention.InfluenceWeight
		}
		if m.Mention.ConfidenceWeight != nil {
			row.ConfidenceWeight = *m.Mention.ConfidenceWeight
		}
		rows = append(rows, row)
	}
	score, _ := aggregate.WeightedSentiment(rows)
	return score
}

// closestIssue returns the issue whose centroid is most similar to the
// given vector, with the similarity, or nil when none reaches the
// threshold.
func closestIssue(issues []*types.Issue, vector []float64, threshold float64) (*types.Issue, float64) {
	var best *types.Issue
	var bestSim float64
	for _, iss := range issues {
		if len(iss.Centroid) == 0 {
			continue
		}
		sim := cosine(vector, iss.Centroid)
		if sim < threshold {
			continue
		}
		if best == nil || sim > bestSim {
			best, bestSim = iss, sim
		}
	}
	return best, bestSim
}

// lifecycle re-prices every live issue and applies at most one state
// transition per issue, skipping issues that already moved this tick.
func (e *Engine) lifecycle(ctx context.Context, now time.Time, moved map[string]bool) {
	issues, err := e.store.ListIssues(ctx, types.LiveIssueStates())
	if err != nil {
		e.log.Error("issue listing failed", zap.Error(err))
		return
	}
	weights := e.priorityWeights(ctx)
	minSize := e.cfg.GetInt(ctx, "processing.issues.min_cluster_size")

	for _, issue := range issues {
		if ctx.Err() != nil {
			return
		}
		err := e.evaluate(ctx, issue, weights, minSize, now, moved[issue.IssueID])
		switch {
		case errors.Is(err, storage.ErrAlreadyClaimed):
			e.log.Warn("issue moved concurrently", zap.String("issue_id", issue.IssueID))
		case err != nil:
			e.log.Error("issue evaluation failed", zap.String("issue_id", issue.IssueID), zap.Error(err))
		}
	}
}

// evaluate recomputes one issue's priority and applies the single legal
// transition its metrics call for, if any.
func (e *Engine) evaluate(ctx context.Context, issue *types.Issue, weights priorityWeights, minSize int, now time.Time, alreadyMoved bool) error {
	sentiment, err := e.issueSentiment(ctx, issue.IssueID, now)
	if err != nil {
		return fmt.Errorf("issue sentiment: %w", err)
	}
	issue.PriorityScore = priorityScore(weights, sentiment, issue.MentionCount, issue.LastActivity, now)
	issue.PriorityBand = types.BandForScore(issue.PriorityScore)

	var to types.IssueState
	var reason string
	if !alreadyMoved {
		to, reason, err = e.nextState(ctx, issue, sentiment, minSize, now)
		if err != nil {
			return err
		}
	}

	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		if to == "" {
			return nil
		}
		return tx.TransitionIssue(ctx, issue.IssueID, issue.State, to, reason)
	})
	if err != nil {
		return err
	}
	if to != "" {
		e.metrics.Transition(ctx, string(to))
		e.log.Info("issue transitioned",
			zap.String("issue_id", issue.IssueID),
			zap.String("from", string(issue.State)),
			zap.String("to", string(to)),
			zap.String("reason", reason))
	}
	return nil
}

// nextState decides the single transition an issue's current metrics
// warrant, or "" for none.
func (e *Engine) nextState(ctx context.Context, issue *types.Issue, sentiment float64, minSize int, now time.Time) (types.IssueState, string, error) {
	switch issue.State {
	case types.IssueEmerging:
		if issue.MentionCount >= minSize && now.Sub(issue.StartTime) >= emergeAge {
			return types.IssueActive, fmt.Sprintf("sustained %d mentions for 24h", issue.MentionCount), nil
		}

	case types.IssueActive:
		if issue.PriorityScore >= escalatePriority {
			return types.IssueEscalated, fmt.Sprintf("priority %.0f", issue.PriorityScore), nil
		}
		burst, err := e.store.IssueMentionCount(ctx, issue.IssueID, now.Add(-time.Hour), now)
		if err != nil {
			return "", "", err
		}
		if sentiment <= escalateSentiment && burst >= escalateBurst {
			return types.IssueEscalated, fmt.Sprintf("sentiment %.2f with %d mentions in the last hour", sentiment, burst), nil
		}
		recent, prior, err := e.velocity(ctx, issue.IssueID, now)
		if err != nil {
			return "", "", err
		}
		if prior > 0 && float64(recent) < float64(prior)/2 {
			return types.IssueStabilizing, fmt.Sprintf("velocity fell to %d from %d", recent, prior), nil
		}

	case types.IssueEscalated:
		if issue.PriorityScore < deescalatePriority {
			return types.IssueActive, fmt.Sprintf("priority eased to %.0f", issue.PriorityScore), nil
		}

	case types.IssueStabilizing:
		quiet, err := e.store.IssueMentionCount(ctx, issue.IssueID, now.Add(-resolveQuiet), now)
		if err != nil {
			return "", "", err
		}
		if quiet == 0 {
			return types.IssueResolved, "no new mentions for 7 days", nil
		}
		recent, prior, err := e.velocity(ctx, issue.IssueID, now)
		if err != nil {
			return "", "", err
		}
		if recent > prior {
			return types.IssueActive, fmt.Sprintf("velocity rebounded to %d from %d", recent, prior), nil
		}
	}
	return "", "", nil
}

// velocity returns the issue's mention counts over the last six hours
// and over the six hours before that.
func (e *Engine) velocity(ctx context.Context, issueID string, now time.Time) (recent, prior int, err error) {
	mid := now.Add(-velocityWindow)
	recent, err = e.store.IssueMentionCount(ctx, issueID, mid, now)
	if err != nil {
		return 0, 0, err
	}
	prior, err = e.store.IssueMentionCount(ctx, issueID, mid.Add(-velocityWindow), mid)
	if err != nil {
		return 0, 0, err
	}
	return recent, prior, nil
}

// issueSentiment is the weighted sentiment over the issue's mentions
// published in the trailing day.
func (e *Engine) issueSentiment(ctx context.Context, issueID string, now time.Time) (float64, error) {
	window := types.Window{Start: now.Add(-24 * time.Hour), End: now}
	rows, err := e.store.AggregationRows(ctx, types.SubjectIssue, issueID, window)
	if err != nil {
		return 0, err
	}
	score, _ := aggregate.WeightedSentiment(rows)
	return score, nil
}

// Archive retires an issue from any state. Nothing in the tick archives
// issues; this is an administrative action.
func (e *Engine) Archive(ctx context.Context, issueID, reason string) error {
	return e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		issue, err := tx.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if err := tx.TransitionIssue(ctx, issue.IssueID, issue.State, types.IssueArchived, reason); err != nil {
			return err
		}
		e.metrics.Transition(ctx, string(types.IssueArchived))
		return nil
	})
}

// joinableStates are the states a single mention can attach to at
// analysis time. Resolved issues reopen only through a cluster merge.
var joinableStates = []types.IssueState{
	types.IssueEmerging, types.IssueActive, types.IssueEscalated, types.IssueStabilizing,
}

var _ analysis.IssueJoiner = (*Engine)(nil)

// Join implements analysis.IssueJoiner: it attaches a freshly analyzed
// mention to the closest open issue under its primary topic. The link
// row itself is written by the analysis commit.
func (e *Engine) Join(ctx context.Context, topicKey string, entryID int64, embedding []float64) (*analysis.IssueJoin, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	issues, err := e.store.ListIssuesByTopic(ctx, topicKey, joinableStates)
	if err != nil {
		return nil, err
	}
	threshold := e.cfg.GetFloat(ctx, "processing.issues.match_threshold")
	best, sim := closestIssue(issues, embedding, threshold)
	if best == nil {
		return nil, nil
	}
	return &analysis.IssueJoin{
		Link: types.IssueMention{
			IssueID:         best.IssueID,
			MentionID:       entryID,
			SimilarityScore: sim,
			DetectedAt:      e.now().UTC(),
		},
		Slug:  best.Slug,
		Label: best.Label,
	}, nil
}
