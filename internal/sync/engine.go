package sync

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope        = "marksync/sync"
	spanReconcile    = "sync.reconcile"
	metricUploaded   = "marksync.sync.records.uploaded"
	metricDownloaded = "marksync.sync.records.downloaded"
	metricResolved   = "marksync.sync.conflicts.resolved"
	metricErrors     = "marksync.sync.errors"
	metricPasses     = "marksync.sync.passes"
)

// Engine wraps the [Reconciler] with OpenTelemetry instrumentation: one
// trace span and a set of counters per reconciliation pass. Create one with
// [NewEngine]; the [Scheduler] calls it for every admitted trigger.
type Engine struct {
	reconciler *Reconciler
	log        *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntUploaded   metric.Int64Counter
	cntDownloaded metric.Int64Counter
	cntResolved   metric.Int64Counter
	cntErrors     metric.Int64Counter
	cntPasses     metric.Int64Counter
}

// NewEngine creates an Engine around the given reconciler.
func NewEngine(reconciler *Reconciler, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		log:        logger,

		tracer:        tracer,
		cntUploaded:   mustCounter(metricUploaded, "Number of favorite records uploaded during sync"),
		cntDownloaded: mustCounter(metricDownloaded, "Number of favorite records downloaded during sync"),
		cntResolved:   mustCounter(metricResolved, "Number of conflicts resolved during sync"),
		cntErrors:     mustCounter(metricErrors, "Number of per-candidate errors during sync"),
		cntPasses:     mustCounter(metricPasses, "Number of reconciliation passes, by terminal status"),
	}
}

// Reconcile runs one full pass, recording a trace span and metrics.
func (e *Engine) Reconcile(ctx context.Context) Report {
	ctx, span := e.tracer.Start(ctx, spanReconcile)
	defer span.End()

	rep := e.reconciler.Reconcile(ctx)

	statusAttr := metric.WithAttributes(attribute.String("status", rep.Status.String()))
	e.cntPasses.Add(ctx, 1, statusAttr)
	if rep.Uploaded > 0 {
		e.cntUploaded.Add(ctx, int64(rep.Uploaded))
	}
	if rep.Downloaded > 0 {
		e.cntDownloaded.Add(ctx, int64(rep.Downloaded))
	}
	if rep.Resolved > 0 {
		e.cntResolved.Add(ctx, int64(rep.Resolved))
	}
	if n := len(rep.CandidateErrors); n > 0 {
		e.cntErrors.Add(ctx, int64(n))
	}

	span.SetAttributes(
		attribute.String("sync.status", rep.Status.String()),
		attribute.Int("sync.uploaded", rep.Uploaded),
		attribute.Int("sync.downloaded", rep.Downloaded),
		attribute.Int("sync.resolved", rep.Resolved),
		attribute.Int("sync.errors", len(rep.CandidateErrors)),
	)
	if rep.Err != nil {
		span.RecordError(rep.Err)
	}
	return rep
}
