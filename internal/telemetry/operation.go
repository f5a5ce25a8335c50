package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used when no tracer is injected.
const TracerName = "github.com/dusk-indust/picturebook"

const (
	StepsKey    = "picturebook.steps"
	StepKey     = "picturebook.step"
	JobIDKey    = "picturebook.job_id"
	defaultName = "operation"
)

// Operation is a root span with one child span per step.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// DefaultTracer returns the globally registered tracer.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Start opens the root span for an operation made of the given steps.
func Start(ctx context.Context, tracer trace.Tracer, name string, steps []string, attrs ...attribute.KeyValue) *Operation {
	if tracer == nil {
		tracer = DefaultTracer()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	attrs = append(attrs, attribute.StringSlice(StepsKey, steps))
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}
}

// Context returns the context carrying the root span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named after the step.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, stepID, trace.WithAttributes(attribute.String(StepKey, stepID)))
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// SetJobID records the job id produced by the operation.
func (o *Operation) SetJobID(id int64) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attribute.Int64(JobIDKey, id))
}

// End closes the root span, marking it failed when err is non-nil.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
