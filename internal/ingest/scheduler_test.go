package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediapulse/pulse/internal/normalize"
	"github.com/mediapulse/pulse/internal/storage/storagetest"
	"github.com/mediapulse/pulse/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubCollector struct {
	name string
	src  normalize.SourceDescriptor

	mu          sync.Mutex
	items       []map[string]any
	err         error
	calls       int
	lastQueries []string
	lastFrom    time.Time
	lastTo      time.Time
}

func (c *stubCollector) Name() string                       { return c.name }
func (c *stubCollector) Source() normalize.SourceDescriptor { return c.src }

func (c *stubCollector) Collect(ctx context.Context, queries []string, from, to time.Time, limit int) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastQueries = queries
	c.lastFrom, c.lastTo = from, to
	return c.items, c.err
}

func (c *stubCollector) snapshot() (int, time.Time, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.lastFrom, c.lastTo
}

var stubPolicy = SourcePolicy{
	Interval:    10 * time.Minute,
	Lookback:    72 * time.Hour,
	MaxLookback: 14 * 24 * time.Hour,
	Overlap:     2 * time.Hour,
	ItemCap:     100,
}

func testScheduler(t *testing.T, store *storagetest.Store, sources ...ScheduledSource) *Scheduler {
	t.Helper()
	return NewScheduler(sources, testWriter(t, store), store, testConfig(t), zap.NewNop())
}

func TestSchedulerWindow(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		state    sourceState
		wantFrom time.Time
	}{
		{
			name:     "first run uses the lookback",
			state:    sourceState{},
			wantFrom: now.Add(-72 * time.Hour),
		},
		{
			name:     "steady state overlaps the last success",
			state:    sourceState{lastSuccess: now.Add(-time.Hour)},
			wantFrom: now.Add(-3 * time.Hour),
		},
		{
			name:     "stale success clips to the max lookback",
			state:    sourceState{lastSuccess: now.Add(-20 * 24 * time.Hour)},
			wantFrom: now.Add(-14 * 24 * time.Hour),
		},
		{
			name:     "degraded uses a fixed interval window",
			state:    sourceState{degraded: true, lastSuccess: now.Add(-20 * 24 * time.Hour)},
			wantFrom: now.Add(-10 * time.Minute),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testScheduler(t, storagetest.New())
			s.now = func() time.Time { return now }
			st := tt.state
			s.state["feed"] = &st

			from, to, _ := s.window("feed", stubPolicy, now)
			if !from.Equal(tt.wantFrom) {
				t.Errorf("from = %v, want %v", from, tt.wantFrom)
			}
			if !to.Equal(now) {
				t.Errorf("to = %v, want %v", to, now)
			}
		})
	}
}

func TestSchedulerRunOnceSuccess(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	store := storagetest.New()
	collector := &stubCollector{
		name: "feed",
		src:  normalize.SourceDescriptor{Platform: "news", SourceName: "Feed"},
		items: []map[string]any{
			{"url": "https://example.com/1", "text": "tax reform bill tabled in parliament"},
			{"url": "https://example.com/2", "text": "new commuter rail schedule released"},
		},
	}
	src := ScheduledSource{Collector: collector, Policy: stubPolicy}
	s := testScheduler(t, store, src)
	s.now = func() time.Time { return now }
	s.state["feed"] = &sourceState{failures: 2}

	s.runOnce(context.Background(), src)

	counts, _ := store.CountByStatus(context.Background())
	if counts[types.StatusPending] != 2 {
		t.Fatalf("pending = %d, want 2", counts[types.StatusPending])
	}
	st := s.state["feed"]
	if st.failures != 0 {
		t.Errorf("failures = %d, want 0 after success", st.failures)
	}
	if !st.lastSuccess.Equal(now) {
		t.Errorf("lastSuccess = %v, want %v", st.lastSuccess, now)
	}
	if !st.nextDue.Equal(now.Add(stubPolicy.Interval)) {
		t.Errorf("nextDue = %v, want %v", st.nextDue, now.Add(stubPolicy.Interval))
	}

	mark, err := store.GetConfig(context.Background(), "collector:feed:last_success")
	if err != nil {
		t.Fatalf("last-success mark not persisted: %v", err)
	}
	if mark != now.Format(time.RFC3339) {
		t.Errorf("mark = %q, want %q", mark, now.Format(time.RFC3339))
	}

	_, from, to := collector.snapshot()
	if !from.Equal(now.Add(-stubPolicy.Lookback)) || !to.Equal(now) {
		t.Errorf("collect window = [%v, %v], want [%v, %v]", from, to, now.Add(-stubPolicy.Lookback), now)
	}
}

func TestSchedulerQueries(t *testing.T) {
	collector := &stubCollector{
		name: "feed",
		src:  normalize.SourceDescriptor{Platform: "news", Query: "ministry OR government"},
	}
	src := ScheduledSource{Collector: collector, Policy: stubPolicy}
	s := testScheduler(t, storagetest.New(), src)

	got := s.queries(context.Background(), src)
	if len(got) != 1 || got[0] != "ministry OR government" {
		t.Fatalf("queries = %q, want the registry query", got)
	}

	t.Setenv("PULSE_COLLECTORS_FEED_KEYWORDS", "fuel shortage, power outage")
	got = s.queries(context.Background(), src)
	if len(got) != 2 || got[0] != "fuel shortage" || got[1] != "power outage" {
		t.Fatalf("queries = %q, want the config override", got)
	}
}

func TestSchedulerRuntimePolicy(t *testing.T) {
	s := testScheduler(t, storagetest.New())

	got := s.runtimePolicy(context.Background(), "feed", stubPolicy)
	if got != stubPolicy {
		t.Fatalf("policy without overrides = %+v, want unchanged", got)
	}

	t.Setenv("PULSE_COLLECTORS_FEED_LOOKBACK_DAYS", "30")
	t.Setenv("PULSE_COLLECTORS_FEED_OVERLAP_HOURS", "6")
	got = s.runtimePolicy(context.Background(), "feed", stubPolicy)
	if got.Lookback != 30*24*time.Hour {
		t.Errorf("lookback = %v, want 30d", got.Lookback)
	}
	if got.Overlap != 6*time.Hour {
		t.Errorf("overlap = %v, want 6h", got.Overlap)
	}
	// A raised lookback drags the max lookback up with it.
	if got.MaxLookback != 30*24*time.Hour {
		t.Errorf("max lookback = %v, want raised to 30d", got.MaxLookback)
	}
}

func TestSchedulerDegradesAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	store := storagetest.New()
	collector := &stubCollector{
		name: "feed",
		src:  normalize.SourceDescriptor{Platform: "news"},
		err:  errors.New("fetcher unreachable"),
	}
	src := ScheduledSource{Collector: collector, Policy: stubPolicy}
	s := testScheduler(t, store, src)
	s.now = func() time.Time { return now }
	s.state["feed"] = &sourceState{}

	limit := s.cfg.GetInt(context.Background(), "collectors.consecutive_failure_limit")
	for i := 0; i < limit; i++ {
		s.runOnce(context.Background(), src)
	}
	st := s.state["feed"]
	if !st.degraded {
		t.Fatalf("source not degraded after %d consecutive failures", limit)
	}

	from, _, degraded := s.window("feed", stubPolicy, now)
	if !degraded {
		t.Fatal("window should report degraded mode")
	}
	if !from.Equal(now.Add(-stubPolicy.Interval)) {
		t.Errorf("degraded from = %v, want %v", from, now.Add(-stubPolicy.Interval))
	}

	// One success restores normal scheduling.
	collector.mu.Lock()
	collector.err = nil
	collector.mu.Unlock()
	s.runOnce(context.Background(), src)
	st = s.state["feed"]
	if st.degraded || st.failures != 0 {
		t.Errorf("state after recovery = degraded %v, failures %d", st.degraded, st.failures)
	}
}

func TestSchedulerRestore(t *testing.T) {
	store := storagetest.New()
	mark := time.Date(2026, 5, 9, 8, 30, 0, 0, time.UTC)
	if err := store.SetConfig(context.Background(), "collector:feed:last_success", mark.Format(time.RFC3339)); err != nil {
		t.Fatal(err)
	}
	if err := store.SetConfig(context.Background(), "collector:other:last_success", "not a timestamp"); err != nil {
		t.Fatal(err)
	}

	feed := &stubCollector{name: "feed", src: normalize.SourceDescriptor{Platform: "news"}}
	other := &stubCollector{name: "other", src: normalize.SourceDescriptor{Platform: "news"}}
	s := testScheduler(t, store,
		ScheduledSource{Collector: feed, Policy: stubPolicy},
		ScheduledSource{Collector: other, Policy: stubPolicy},
	)
	if err := s.restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := s.state["feed"].lastSuccess; !got.Equal(mark) {
		t.Errorf("feed lastSuccess = %v, want %v", got, mark)
	}
	if got := s.state["other"].lastSuccess; !got.IsZero() {
		t.Errorf("other lastSuccess = %v, want zero for an unreadable mark", got)
	}
}

func TestSchedulerDispatchRespectsWorkerLimit(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	store := storagetest.New()
	a := &stubCollector{name: "a", src: normalize.SourceDescriptor{Platform: "news"}}
	b := &stubCollector{name: "b", src: normalize.SourceDescriptor{Platform: "news"}}
	srcA := ScheduledSource{Collector: a, Policy: stubPolicy}
	srcB := ScheduledSource{Collector: b, Policy: stubPolicy}
	s := testScheduler(t, store, srcA, srcB)
	s.now = func() time.Time { return now }
	past := now.Add(-time.Minute)
	s.state["a"] = &sourceState{nextDue: past}
	s.state["b"] = &sourceState{nextDue: past}

	group, gctx := errgroup.WithContext(context.Background())
	group.SetLimit(1)
	s.dispatchDue(gctx, group)
	if err := group.Wait(); err != nil {
		t.Fatalf("group: %v", err)
	}

	callsA, _, _ := a.snapshot()
	callsB, _, _ := b.snapshot()
	if callsA+callsB != 1 {
		t.Fatalf("one worker slot should run exactly one source, got a=%d b=%d", callsA, callsB)
	}

	// The source that missed the slot is still due and runs next scan.
	group, gctx = errgroup.WithContext(context.Background())
	group.SetLimit(1)
	s.dispatchDue(gctx, group)
	if err := group.Wait(); err != nil {
		t.Fatalf("group: %v", err)
	}
	callsA, _, _ = a.snapshot()
	callsB, _, _ = b.snapshot()
	if callsA != 1 || callsB != 1 {
		t.Fatalf("both sources should have run once, got a=%d b=%d", callsA, callsB)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	store := storagetest.New()
	s := testScheduler(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
