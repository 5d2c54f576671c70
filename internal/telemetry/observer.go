package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/shamspias/imgcrush"
)

const batchScopeName = "github.com/shamspias/imgcrush/batch"

// Observer wraps an imgcrush.Observer and records every outcome in
// imgcrush.* metrics.
type Observer struct {
	inner imgcrush.Observer
	ctx   context.Context

	files metric.Int64Counter
	errs  metric.Int64Counter
	saved metric.Int64Counter
	dur   metric.Float64Histogram
}

// WrapObserver returns o decorated with metrics. When telemetry is disabled
// o is returned as is.
func WrapObserver(ctx context.Context, o imgcrush.Observer) imgcrush.Observer {
	if !Enabled() {
		return o
	}
	return newObserver(ctx, o, Meter(batchScopeName))
}

func newObserver(ctx context.Context, o imgcrush.Observer, m metric.Meter) *Observer {
	files, _ := m.Int64Counter("imgcrush.files.optimized",
		metric.WithDescription("Files written or previewed successfully"),
	)
	errs, _ := m.Int64Counter("imgcrush.files.failed",
		metric.WithDescription("Files that failed to process"),
	)
	saved, _ := m.Int64Counter("imgcrush.bytes.saved",
		metric.WithDescription("Original minus optimized size, summed over files"),
		metric.WithUnit("By"),
	)
	dur, _ := m.Float64Histogram("imgcrush.file.duration",
		metric.WithDescription("Per-file processing time in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Observer{inner: o, ctx: ctx, files: files, errs: errs, saved: saved, dur: dur}
}

func (o *Observer) OnStart(total int, accelerator string) {
	trace.SpanFromContext(o.ctx).SetAttributes(
		attribute.Int("imgcrush.files.total", total),
		attribute.String("imgcrush.accelerator", accelerator),
	)
	o.inner.OnStart(total, accelerator)
}

func (o *Observer) OnResult(r imgcrush.FileResult, done, total int) {
	attrs := metric.WithAttributes(
		attribute.String("imgcrush.format", r.Format.String()),
		attribute.Bool("imgcrush.dry_run", r.DryRun),
	)
	o.files.Add(o.ctx, 1, attrs)
	if !r.DryRun {
		o.saved.Add(o.ctx, r.OriginalSize-r.OptimizedSize, attrs)
	}
	o.dur.Record(o.ctx, float64(r.Elapsed.Microseconds())/1000, attrs)
	o.inner.OnResult(r, done, total)
}

func (o *Observer) OnError(e imgcrush.FileError, done, total int) {
	o.errs.Add(o.ctx, 1)
	o.inner.OnError(e, done, total)
}

// StartRun opens the span covering one batch. The returned func ends it
// with the batch outcome.
func StartRun(ctx context.Context, opts imgcrush.ProcessingOptions) (context.Context, func(*imgcrush.Report, error)) {
	ctx, span := Tracer("").Start(ctx, "imgcrush.run",
		trace.WithAttributes(
			attribute.String("imgcrush.input", opts.InputPath),
			attribute.String("imgcrush.output_format", opts.OutputFormat.String()),
			attribute.Bool("imgcrush.smart_quality", opts.SmartQuality),
			attribute.Bool("imgcrush.dry_run", opts.DryRun),
		),
	)
	return ctx, func(r *imgcrush.Report, err error) {
		if r != nil {
			span.SetAttributes(
				attribute.Int("imgcrush.files.optimized", len(r.Results)),
				attribute.Int("imgcrush.files.failed", len(r.Errors)),
				attribute.Int64("imgcrush.bytes.original", r.TotalOriginal()),
				attribute.Int64("imgcrush.bytes.optimized", r.TotalOptimized()),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("imgcrush.error.kind", imgcrush.AsError(err).Kind.String()))
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
