// Package resolver defines how a cache computes values for missing keys and
// how resolution failures are described.
//
// A resolver is a plain function. Call invokes it synchronously and turns
// every way it can fail (returned error, context error, panic) into a
// *Failure carrying a Kind and a message, so the cache can propagate or
// store failures as ordinary values.
package resolver

import (
	"context"
	"errors"
	"fmt"
)

// Func computes the value for key. It runs on the caller's goroutine.
type Func[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Kind classifies a resolution failure.
type Kind uint8

const (
	// KindUnknown is any error that did not carry a Kind.
	KindUnknown Kind = iota
	// KindRange means the result is not representable (e.g. overflow).
	KindRange
	// KindInvalid means the key is not a valid input.
	KindInvalid
	// KindNotFound means there is no value for the key.
	KindNotFound
	// KindUnavailable means a dependency is temporarily down.
	KindUnavailable
	// KindCanceled means the caller's context ended.
	KindCanceled
	// KindPanic means the resolver panicked.
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindRange:
		return "range"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not found"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// Failure is the typed outcome of a failed resolution.
type Failure struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, if any
}

func (f *Failure) Error() string { return f.Kind.String() + ": " + f.Msg }

func (f *Failure) Unwrap() error { return f.Err }

// Errorf builds a Failure of the given kind. %w verbs are honoured.
func Errorf(kind Kind, format string, args ...any) *Failure {
	err := fmt.Errorf(format, args...)
	return &Failure{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

// KindOf returns the Kind of err (KindUnknown if it carries none).
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// Retainable reports whether a failure describes the key rather than the
// call: canceled resolutions say nothing about the next attempt.
func Retainable(err error) bool {
	return err != nil && KindOf(err) != KindCanceled
}

// Call invokes fn for key and normalizes its failure into a *Failure.
// A nil fn is a programming error and panics.
func Call[K comparable, V any](ctx context.Context, fn Func[K, V], key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, &Failure{Kind: KindPanic, Msg: fmt.Sprintf("resolver panicked for key %v: %v", key, r)}
		}
	}()

	v, err = fn(ctx, key)
	if err == nil {
		return v, nil
	}
	var zero V
	var f *Failure
	if errors.As(err, &f) {
		return zero, err
	}
	return zero, &Failure{Kind: KindOf(err), Msg: err.Error(), Err: err}
}

// Tuple2 is a two-field resolver result.
type Tuple2[A, B any] struct {
	V1 A
	V2 B
}

// Tuple3 is a three-field resolver result.
type Tuple3[A, B, C any] struct {
	V1 A
	V2 B
	V3 C
}

// T2 builds a Tuple2.
func T2[A, B any](a A, b B) Tuple2[A, B] { return Tuple2[A, B]{a, b} }

// T3 builds a Tuple3.
func T3[A, B, C any](a A, b B, c C) Tuple3[A, B, C] { return Tuple3[A, B, C]{a, b, c} }
