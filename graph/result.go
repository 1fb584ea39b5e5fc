package graph

import "github.com/polyglot-support/flowgraph/errors"

// Result is the outcome of a node computation: either a value or a
// classified error state, never both.
type Result[V comparable] struct {
	value V
	err   *errors.State
}

// OK creates a successful result.
func OK[V comparable](value V) Result[V] {
	return Result[V]{value: value}
}

// Fail creates a failed result.
func Fail[V comparable](err *errors.State) Result[V] {
	return Result[V]{err: err}
}

// Value returns the computed value. It is the zero value when the
// computation failed.
func (r Result[V]) Value() V {
	return r.value
}

// Err returns the error state, or nil on success.
func (r Result[V]) Err() *errors.State {
	return r.err
}

// Failed reports whether the computation failed.
func (r Result[V]) Failed() bool {
	return r.err != nil
}
