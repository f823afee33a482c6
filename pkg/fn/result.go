// Package fn holds the generic plumbing the engine's pipelines are built
// from: a Result type for staged error handling, composable stages with
// tracing, bounded-concurrency maps, and retry with backoff. The ingest
// pipeline and the model gateways are its main consumers.
package fn

import "fmt"

// Result carries either a value or an error through a pipeline stage.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err wraps an error.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// Errf wraps a formatted error.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// FromPair folds a conventional (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports success.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports failure.
func (r Result[T]) IsErr() bool { return !r.ok }

// Err returns the error, nil when ok.
func (r Result[T]) Err() error { return r.err }

// Unwrap returns the conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
