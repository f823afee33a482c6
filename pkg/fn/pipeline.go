package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// tracerName identifies pipeline spans.
const tracerName = "studyhall-engine/fn"

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages. The second never runs after a failure; the
// first error wins.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.Err())
		}
		v, _ := r.Unwrap()
		return second(ctx, v)
	}
}

// Traced runs a stage under a named span and records its failure on the
// span. Composition order decides nesting: trace the stage, then compose.
func Traced[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if result.IsErr() {
			span.RecordError(result.Err())
			span.SetStatus(codes.Error, result.Err().Error())
		}
		return result
	}
}
