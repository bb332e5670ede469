package issues

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/classifier/classifiertest"
	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage"
	"github.com/mediapulse/pulse/internal/storage/storagetest"
	"github.com/mediapulse/pulse/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

var engineNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *storagetest.Store
	sum   *classifiertest.Summarizer
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storagetest.New(),
		sum:   &classifiertest.Summarizer{},
	}
	f.eng = NewEngine(f.store, f.sum, testConfig(t), zap.NewNop())
	f.eng.now = func() time.Time { return engineNow }
	seq := 0
	f.eng.newID = func() string {
		seq++
		return fmt.Sprintf("%06d", seq)
	}
	return f
}

func (f *fixture) seedTopic(t *testing.T, key string) {
	t.Helper()
	err := f.store.UpsertTopic(context.Background(), &types.Topic{
		TopicKey: key,
		Keywords: []string{key},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed topic: %v", err)
	}
}

func (f *fixture) createIssue(t *testing.T, issue *types.Issue) {
	t.Helper()
	err := f.store.RunInTransaction(context.Background(), func(tx storage.Transaction) error {
		return tx.CreateIssue(context.Background(), issue)
	})
	if err != nil {
		t.Fatalf("create issue %s: %v", issue.IssueID, err)
	}
}

// addMention inserts and fully analyzes one mention under a topic, with
// the given embedding, so UnissuedMentions will surface it.
func (f *fixture) addMention(t *testing.T, topic, text string, publishedAt time.Time, vector []float64, score float64) int64 {
	t.Helper()
	return f.commit(t, topic, text, publishedAt, vector, score, nil)
}

// addLinkedMention analyzes a mention already attached to an issue, the
// way the pipeline commits a join.
func (f *fixture) addLinkedMention(t *testing.T, issueID, text string, detectedAt time.Time, score float64) int64 {
	t.Helper()
	link := &types.IssueMention{IssueID: issueID, SimilarityScore: 0.9, DetectedAt: detectedAt}
	return f.commit(t, "", text, detectedAt, []float64{1, 0}, score, link)
}

func (f *fixture) commit(t *testing.T, topic, text string, publishedAt time.Time, vector []float64, score float64, link *types.IssueMention) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.InsertMention(ctx, &types.Mention{
		Platform:       types.PlatformTwitter,
		SourceType:     types.SourceCitizen,
		Text:           text,
		NormalizedText: text,
		CollectedAt:    publishedAt,
		PublishedAt:    publishedAt,
	})
	if err != nil {
		t.Fatalf("insert mention: %v", err)
	}
	if _, err := f.store.ClaimPending(ctx, 1); err != nil {
		t.Fatalf("claim mention: %v", err)
	}
	res := &storage.AnalysisResult{
		EntryID:          id,
		SentimentScore:   score,
		SentimentLabel:   types.LabelForScore(score, 0.2, -0.2),
		InfluenceWeight:  1,
		ConfidenceWeight: 1,
		Embedding:        &types.Embedding{EntryID: id, Vector: vector, Model: "test"},
	}
	if topic != "" {
		res.PrimaryTopic = topic
		res.Topics = []types.MentionTopic{{MentionID: id, TopicKey: topic, TopicConfidence: 0.9}}
	}
	if link != nil {
		l := *link
		l.MentionID = id
		res.IssueLinks = []types.IssueMention{l}
	}
	if err := f.store.CommitAnalysis(ctx, res); err != nil {
		t.Fatalf("commit analysis: %v", err)
	}
	return id
}

func (f *fixture) issue(t *testing.T, issueID string) *types.Issue {
	t.Helper()
	issue, err := f.store.GetIssue(context.Background(), issueID)
	if err != nil {
		t.Fatalf("get issue %s: %v", issueID, err)
	}
	return issue
}

func (f *fixture) events(t *testing.T, issueID string) []*types.IssueEvent {
	t.Helper()
	events, err := f.store.ListIssueEvents(context.Background(), issueID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return events
}

func TestTickOpensIssueFromCluster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTopic(t, "energy")

	published := engineNow.Add(-time.Hour)
	f.addMention(t, "energy", "blackout in nairobi west", published, []float64{1, 0}, -0.8)
	f.addMention(t, "energy", "blackout hits industrial area", published, []float64{1, 0.05}, -0.8)
	f.addMention(t, "energy", "another blackout tonight", published, []float64{0.99, 0}, -0.8)

	f.eng.tick(ctx)

	issues, err := f.store.ListIssuesByTopic(ctx, "energy", nil)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	issue := issues[0]
	if issue.State != types.IssueEmerging {
		t.Errorf("state = %s, want emerging", issue.State)
	}
	if issue.Slug != "energy-20260825-000001" {
		t.Errorf("slug = %q, want energy-20260825-000001", issue.Slug)
	}
	if issue.Label != "Blackout" {
		t.Errorf("label = %q, want keyword fallback Blackout", issue.Label)
	}
	if issue.MentionCount != 3 {
		t.Errorf("mention count = %d, want 3", issue.MentionCount)
	}
	if !issue.StartTime.Equal(engineNow) || !issue.LastActivity.Equal(engineNow) {
		t.Errorf("start %v activity %v, want both %v", issue.StartTime, issue.LastActivity, engineNow)
	}

	// The lifecycle pass re-priced the fresh issue: 0.4*80 sentiment,
	// 0.35*1.5 volume, full recency.
	want := 32 + 0.525 + 25.0
	if math.Abs(issue.PriorityScore-want) > 1e-6 {
		t.Errorf("priority = %g, want %g", issue.PriorityScore, want)
	}
	if issue.PriorityBand != types.BandMedium {
		t.Errorf("band = %s, want medium", issue.PriorityBand)
	}

	ids, err := f.store.IssueMentionIDs(ctx, issue.IssueID)
	if err != nil {
		t.Fatalf("issue mention ids: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("linked mentions = %d, want 3", len(ids))
	}
	if events := f.events(t, issue.IssueID); len(events) != 0 {
		t.Errorf("fresh issue has %d events, want 0", len(events))
	}
}

func TestTickIgnoresSmallClusters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTopic(t, "energy")

	published := engineNow.Add(-time.Hour)
	f.addMention(t, "energy", "token complaint", published, []float64{1, 0}, -0.5)
	f.addMention(t, "energy", "token complaint two", published, []float64{1, 0}, -0.5)

	f.eng.tick(ctx)

	issues, err := f.store.ListIssues(ctx, nil)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("got %d issues from a sub-minimum cluster, want 0", len(issues))
	}
}

func TestTickMergesClusterIntoExistingIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTopic(t, "energy")
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-existing",
		TopicKey:     "energy",
		Slug:         "energy-20260820-aaaaaa",
		Label:        "Grid failures",
		State:        types.IssueActive,
		MentionCount: 5,
		StartTime:    engineNow.Add(-5 * 24 * time.Hour),
		LastActivity: engineNow.Add(-26 * time.Hour),
		Centroid:     []float64{1, 0},
	})

	published := engineNow.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		f.addMention(t, "energy", fmt.Sprintf("substation fire report %d", i), published, []float64{0.8, 0.6}, -0.7)
	}

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-existing")
	if issue.MentionCount != 8 {
		t.Errorf("mention count = %d, want 8", issue.MentionCount)
	}
	if !issue.LastActivity.Equal(engineNow) {
		t.Errorf("last activity = %v, want %v", issue.LastActivity, engineNow)
	}
	// Weighted centroid: [1 0]*5 + [0.8 0.6]*3, renormalized.
	norm := math.Hypot(7.4, 1.8)
	if math.Abs(issue.Centroid[0]-7.4/norm) > 1e-9 || math.Abs(issue.Centroid[1]-1.8/norm) > 1e-9 {
		t.Errorf("centroid = %v, want [%g %g]", issue.Centroid, 7.4/norm, 1.8/norm)
	}

	issues, err := f.store.ListIssues(ctx, nil)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want the merge to reuse the existing one", len(issues))
	}
}

func TestTickReopensResolvedIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTopic(t, "water")
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-dry",
		TopicKey:     "water",
		Slug:         "water-20260801-bbbbbb",
		Label:        "Rationing",
		State:        types.IssueResolved,
		MentionCount: 4,
		StartTime:    engineNow.Add(-20 * 24 * time.Hour),
		LastActivity: engineNow.Add(-10 * 24 * time.Hour),
		Centroid:     []float64{0, 1},
	})

	published := engineNow.Add(-2 * time.Hour)
	for i := 0; i < 3; i++ {
		f.addMention(t, "water", fmt.Sprintf("rationing is back %d", i), published, []float64{0, 1}, -0.6)
	}

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-dry")
	if issue.State != types.IssueActive {
		t.Fatalf("state = %s, want active after reopen", issue.State)
	}
	if issue.MentionCount != 7 {
		t.Errorf("mention count = %d, want 7", issue.MentionCount)
	}

	events := f.events(t, "iss-dry")
	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly 1 transition this tick", len(events))
	}
	if events[0].FromState != types.IssueResolved || events[0].ToState != types.IssueActive {
		t.Errorf("event = %s->%s, want resolved->active", events[0].FromState, events[0].ToState)
	}
	if events[0].Reason != "reopened by cluster merge" {
		t.Errorf("reason = %q", events[0].Reason)
	}
}

func TestTickLetsLaterClustersMergeIntoFreshIssue(t *testing.T) {
	// With a very strict cluster similarity the two groups stay separate
	// clusters, but the second still matches the issue the first opened.
	t.Setenv("PULSE_PROCESSING_ISSUES_CLUSTER_SIMILARITY", "0.99")

	f := newFixture(t)
	ctx := context.Background()
	f.seedTopic(t, "energy")

	published := engineNow.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		f.addMention(t, "energy", fmt.Sprintf("blackout report %d", i), published, []float64{1, 0}, -0.5)
	}
	for i := 0; i < 3; i++ {
		f.addMention(t, "energy", fmt.Sprintf("power cut report %d", i), published, []float64{0.9, 0.436}, -0.5)
	}

	f.eng.tick(ctx)

	issues, err := f.store.ListIssues(ctx, nil)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want both clusters under one", len(issues))
	}
	if issues[0].MentionCount != 6 {
		t.Errorf("mention count = %d, want 6", issues[0].MentionCount)
	}
}

func TestEmergingMaturesToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-old",
		TopicKey:     "energy",
		Slug:         "energy-20260824-cccccc",
		State:        types.IssueEmerging,
		MentionCount: 3,
		StartTime:    engineNow.Add(-25 * time.Hour),
		LastActivity: engineNow.Add(-time.Hour),
	})
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-thin",
		TopicKey:     "energy",
		Slug:         "energy-20260824-dddddd",
		State:        types.IssueEmerging,
		MentionCount: 2,
		StartTime:    engineNow.Add(-25 * time.Hour),
		LastActivity: engineNow.Add(-time.Hour),
	})
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-young",
		TopicKey:     "energy",
		Slug:         "energy-20260825-eeeeee",
		State:        types.IssueEmerging,
		MentionCount: 9,
		StartTime:    engineNow.Add(-2 * time.Hour),
		LastActivity: engineNow,
	})

	f.eng.tick(ctx)

	if got := f.issue(t, "iss-old").State; got != types.IssueActive {
		t.Errorf("aged issue with enough mentions = %s, want active", got)
	}
	if got := f.issue(t, "iss-thin").State; got != types.IssueEmerging {
		t.Errorf("thin issue = %s, want still emerging", got)
	}
	if got := f.issue(t, "iss-young").State; got != types.IssueEmerging {
		t.Errorf("young issue = %s, want still emerging", got)
	}

	events := f.events(t, "iss-old")
	if len(events) != 1 || events[0].Reason != "sustained 3 mentions for 24h" {
		t.Fatalf("events = %+v, want one maturation event", events)
	}
}

func TestActiveEscalatesOnPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-hot",
		TopicKey:     "energy",
		Slug:         "energy-20260823-ffffff",
		State:        types.IssueActive,
		MentionCount: 195,
		StartTime:    engineNow.Add(-48 * time.Hour),
		LastActivity: engineNow.Add(-30 * time.Minute),
	})
	for i := 0; i < 5; i++ {
		f.addLinkedMention(t, "iss-hot", fmt.Sprintf("outrage post %d", i), engineNow.Add(-30*time.Minute), -0.9)
	}

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-hot")
	if issue.State != types.IssueEscalated {
		t.Fatalf("state = %s, want escalated", issue.State)
	}
	if issue.PriorityScore < 80 {
		t.Errorf("priority = %g, want >= 80", issue.PriorityScore)
	}
	if issue.PriorityBand != types.BandCritical {
		t.Errorf("band = %s, want critical", issue.PriorityBand)
	}
	events := f.events(t, "iss-hot")
	if len(events) != 1 || !strings.HasPrefix(events[0].Reason, "priority") {
		t.Fatalf("events = %+v, want one priority escalation", events)
	}
}

func TestActiveEscalatesOnNegativeBurst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-burst",
		TopicKey:     "health",
		Slug:         "health-20260824-abcdef",
		State:        types.IssueActive,
		StartTime:    engineNow.Add(-30 * time.Hour),
		LastActivity: engineNow.Add(-30 * time.Minute),
	})
	for i := 0; i < 5; i++ {
		f.addLinkedMention(t, "iss-burst", fmt.Sprintf("nurses strike anger %d", i), engineNow.Add(-30*time.Minute), -0.6)
	}

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-burst")
	if issue.State != types.IssueEscalated {
		t.Fatalf("state = %s, want escalated on the burst rule", issue.State)
	}
	if issue.PriorityScore >= 80 {
		t.Fatalf("priority = %g, expected the burst rule, not the priority rule", issue.PriorityScore)
	}
	events := f.events(t, "iss-burst")
	if len(events) != 1 || !strings.Contains(events[0].Reason, "in the last hour") {
		t.Fatalf("events = %+v, want one burst escalation", events)
	}
}

func TestActiveStabilizesWhenVelocityHalves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-cooling",
		TopicKey:     "transport",
		Slug:         "transport-20260822-cdef01",
		State:        types.IssueActive,
		StartTime:    engineNow.Add(-72 * time.Hour),
		LastActivity: engineNow.Add(-12 * time.Hour),
	})
	for i := 0; i < 4; i++ {
		f.addLinkedMention(t, "iss-cooling", fmt.Sprintf("fare complaint %d", i), engineNow.Add(-8*time.Hour), -0.1)
	}
	f.addLinkedMention(t, "iss-cooling", "late fare complaint", engineNow.Add(-3*time.Hour), -0.1)

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-cooling")
	if issue.State != types.IssueStabilizing {
		t.Fatalf("state = %s, want stabilizing", issue.State)
	}
	events := f.events(t, "iss-cooling")
	if len(events) != 1 || events[0].Reason != "velocity fell to 1 from 4" {
		t.Fatalf("events = %+v, want one stabilization event", events)
	}
}

func TestStabilizingResolvesAfterQuietWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-quiet",
		TopicKey:     "water",
		Slug:         "water-20260810-ef0123",
		State:        types.IssueStabilizing,
		MentionCount: 12,
		StartTime:    engineNow.Add(-20 * 24 * time.Hour),
		LastActivity: engineNow.Add(-8 * 24 * time.Hour),
	})

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-quiet")
	if issue.State != types.IssueResolved {
		t.Fatalf("state = %s, want resolved", issue.State)
	}
	events := f.events(t, "iss-quiet")
	if len(events) != 1 || events[0].Reason != "no new mentions for 7 days" {
		t.Fatalf("events = %+v, want one resolution event", events)
	}
}

func TestStabilizingReboundsToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:      "iss-rebound",
		TopicKey:     "energy",
		Slug:         "energy-20260818-f01234",
		State:        types.IssueStabilizing,
		StartTime:    engineNow.Add(-7 * 24 * time.Hour),
		LastActivity: engineNow.Add(-2 * time.Hour),
	})
	f.addLinkedMention(t, "iss-rebound", "old complaint", engineNow.Add(-8*time.Hour), -0.4)
	for i := 0; i < 3; i++ {
		f.addLinkedMention(t, "iss-rebound", fmt.Sprintf("fresh complaint %d", i), engineNow.Add(-2*time.Hour), -0.4)
	}

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-rebound")
	if issue.State != types.IssueActive {
		t.Fatalf("state = %s, want active after rebound", issue.State)
	}
	events := f.events(t, "iss-rebound")
	if len(events) != 1 || events[0].Reason != "velocity rebounded to 3 from 1" {
		t.Fatalf("events = %+v, want one rebound event", events)
	}
}

func TestEscalatedEasesToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:       "iss-easing",
		TopicKey:      "energy",
		Slug:          "energy-20260815-012345",
		State:         types.IssueEscalated,
		PriorityScore: 90,
		StartTime:     engineNow.Add(-10 * 24 * time.Hour),
		LastActivity:  engineNow.Add(-48 * time.Hour),
	})

	f.eng.tick(ctx)

	issue := f.issue(t, "iss-easing")
	if issue.State != types.IssueActive {
		t.Fatalf("state = %s, want active after easing", issue.State)
	}
	if issue.PriorityScore >= 60 {
		t.Errorf("priority = %g, want < 60", issue.PriorityScore)
	}
	events := f.events(t, "iss-easing")
	if len(events) != 1 || !strings.HasPrefix(events[0].Reason, "priority eased") {
		t.Fatalf("events = %+v, want one easing event", events)
	}
}

func TestJoinAttachesToClosestIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:  "iss-a",
		TopicKey: "energy",
		Slug:     "energy-20260820-aaa111",
		Label:    "Blackouts",
		State:    types.IssueActive,
		Centroid: []float64{1, 0},
	})
	f.createIssue(t, &types.Issue{
		IssueID:  "iss-b",
		TopicKey: "energy",
		Slug:     "energy-20260821-bbb222",
		Label:    "Tariffs",
		State:    types.IssueActive,
		Centroid: []float64{0.6, 0.8},
	})

	join, err := f.eng.Join(ctx, "energy", 42, []float64{0.95, 0.08})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if join == nil {
		t.Fatal("join = nil, want a match")
	}
	if join.Link.IssueID != "iss-a" {
		t.Errorf("joined %s, want iss-a", join.Link.IssueID)
	}
	if join.Link.MentionID != 42 {
		t.Errorf("mention id = %d, want 42", join.Link.MentionID)
	}
	if join.Slug != "energy-20260820-aaa111" || join.Label != "Blackouts" {
		t.Errorf("join carries %q/%q, want the issue's slug and label", join.Slug, join.Label)
	}
	if join.Link.SimilarityScore < 0.95 {
		t.Errorf("similarity = %g, want the cosine against iss-a", join.Link.SimilarityScore)
	}
	if !join.Link.DetectedAt.Equal(engineNow) {
		t.Errorf("detected at %v, want %v", join.Link.DetectedAt, engineNow)
	}
}

func TestJoinReturnsNilWithoutMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:  "iss-far",
		TopicKey: "energy",
		Slug:     "energy-20260820-ccc333",
		State:    types.IssueActive,
		Centroid: []float64{1, 0},
	})
	f.createIssue(t, &types.Issue{
		IssueID:  "iss-done",
		TopicKey: "energy",
		Slug:     "energy-20260810-ddd444",
		State:    types.IssueResolved,
		Centroid: []float64{0, 1},
	})

	// Orthogonal to the active issue; identical to the resolved one,
	// which single mentions must not reopen.
	join, err := f.eng.Join(ctx, "energy", 7, []float64{0, 1})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if join != nil {
		t.Fatalf("join = %+v, want nil", join)
	}

	join, err = f.eng.Join(ctx, "energy", 7, nil)
	if err != nil || join != nil {
		t.Fatalf("empty embedding join = %+v, %v, want nil, nil", join, err)
	}
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIssue(t, &types.Issue{
		IssueID:   "iss-done",
		TopicKey:  "energy",
		Slug:      "energy-20260801-eee555",
		State:     types.IssueEmerging,
		StartTime: engineNow.Add(-30 * 24 * time.Hour),
	})

	if err := f.eng.Archive(ctx, "iss-done", "operator request"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got := f.issue(t, "iss-done").State; got != types.IssueArchived {
		t.Fatalf("state = %s, want archived", got)
	}
	events := f.events(t, "iss-done")
	if len(events) != 1 || events[0].ToState != types.IssueArchived || events[0].Reason != "operator request" {
		t.Fatalf("events = %+v, want one archive event", events)
	}

	// Archived issues are invisible to the lifecycle.
	f.eng.tick(ctx)
	if got := f.issue(t, "iss-done").State; got != types.IssueArchived {
		t.Fatalf("state after tick = %s, want archived", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}
