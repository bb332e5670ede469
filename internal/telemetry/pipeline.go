package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const pipelineScopeName = "github.com/mediapulse/pulse/pipeline"

// PipelineMetrics holds the operator-facing counters every component reports:
// ingest outcomes, claim batches, analysis results, issue transitions, and
// aggregation writes. All instruments are no-ops when telemetry is disabled.
type PipelineMetrics struct {
	ingest       metric.Int64Counter
	collectorRun metric.Int64Counter
	collected    metric.Int64Counter
	claims       metric.Int64Counter
	claimSize    metric.Int64Histogram
	analysis     metric.Int64Counter
	phaseDur     metric.Float64Histogram
	transitions  metric.Int64Counter
	aggRows      metric.Int64Counter
}

var (
	pipelineOnce    sync.Once
	pipelineMetrics *PipelineMetrics
)

// Pipeline returns the shared pipeline metrics, creating the instruments on
// first use.
func Pipeline() *PipelineMetrics {
	pipelineOnce.Do(func() {
		m := Meter(pipelineScopeName)
		ingest, _ := m.Int64Counter("pulse.ingest.records",
			metric.WithDescription("Normalized records ingested, by outcome"),
		)
		collectorRun, _ := m.Int64Counter("pulse.collector.runs",
			metric.WithDescription("Collector runs, by source and status"),
		)
		collected, _ := m.Int64Counter("pulse.collector.items",
			metric.WithDescription("Raw items fetched by collectors, by source"),
		)
		claims, _ := m.Int64Counter("pulse.analysis.claims",
			metric.WithDescription("Claim batches executed by the dispatcher"),
		)
		claimSize, _ := m.Int64Histogram("pulse.analysis.claim.size",
			metric.WithDescription("Rows claimed per dispatcher batch"),
		)
		analysis, _ := m.Int64Counter("pulse.analysis.mentions",
			metric.WithDescription("Mentions leaving the worker pool, by result"),
		)
		phaseDur, _ := m.Float64Histogram("pulse.analysis.phase.duration",
			metric.WithDescription("Analysis phase duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		transitions, _ := m.Int64Counter("pulse.issues.transitions",
			metric.WithDescription("Issue lifecycle transitions, by target state"),
		)
		aggRows, _ := m.Int64Counter("pulse.aggregation.rows",
			metric.WithDescription("Aggregation rows upserted"),
		)
		pipelineMetrics = &PipelineMetrics{
			ingest:       ingest,
			collectorRun: collectorRun,
			collected:    collected,
			claims:       claims,
			claimSize:    claimSize,
			analysis:     analysis,
			phaseDur:     phaseDur,
			transitions:  transitions,
			aggRows:      aggRows,
		}
	})
	return pipelineMetrics
}

// Ingest records one ingest outcome: inserted, updated, or rejected.
func (p *PipelineMetrics) Ingest(ctx context.Context, outcome string) {
	p.ingest.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CollectorRun records one collector run and the items it fetched.
func (p *PipelineMetrics) CollectorRun(ctx context.Context, source string, fetched int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.collectorRun.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
	if fetched > 0 {
		p.collected.Add(ctx, int64(fetched), metric.WithAttributes(attribute.String("source", source)))
	}
}

// ClaimBatch records one dispatcher claim of n rows.
func (p *PipelineMetrics) ClaimBatch(ctx context.Context, n int) {
	p.claims.Add(ctx, 1)
	p.claimSize.Record(ctx, int64(n))
}

// Analysis records a mention finishing analysis with the given result
// (completed or failed).
func (p *PipelineMetrics) Analysis(ctx context.Context, result string) {
	p.analysis.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Phase records the duration of one analysis phase for one mention.
func (p *PipelineMetrics) Phase(ctx context.Context, phase string, d time.Duration) {
	p.phaseDur.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("phase", phase)))
}

// Transition records one issue lifecycle transition.
func (p *PipelineMetrics) Transition(ctx context.Context, to string) {
	p.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// Aggregated records n aggregation rows written in one tick.
func (p *PipelineMetrics) Aggregated(ctx context.Context, n int) {
	p.aggRows.Add(ctx, int64(n))
}
