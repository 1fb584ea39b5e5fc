// Package errors provides the error model shared by every flowgraph
// component. Node and scheduler failures are carried as *State values: a
// classified error with a human-readable message, the name of the node the
// failure originated at, and the ordered list of node names the error has
// propagated through.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for handling purposes.
type Kind int

const (
	// KindComputation marks a failure inside user compute logic.
	KindComputation Kind = iota + 1
	// KindPrecision marks a request outside a node's supported precision range.
	KindPrecision
	// KindDependency marks a failure inherited from an upstream node.
	KindDependency
	// KindResource marks a resource problem such as a stopped worker pool.
	KindResource
	// KindTimeout marks a computation that exceeded its deadline.
	KindTimeout
	// KindValidation marks invalid input, graph structure, or configuration.
	KindValidation
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindComputation:
		return "computation"
	case KindPrecision:
		return "precision"
	case KindDependency:
		return "dependency"
	case KindResource:
		return "resource"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// State is a classified error with node provenance. The zero value is not
// meaningful; construct through the kind helpers below.
type State struct {
	// Kind classifies the failure.
	Kind Kind
	// Message is the human-readable description.
	Message string
	// Source is the name of the node the failure originated at, if known.
	Source string
	// Path is the ordered list of node names the error has passed through
	// since leaving its source.
	Path []string
	// Err is the underlying cause, if the failure wraps another error.
	Err error
}

// Error implements the error interface.
func (s *State) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", s.Kind)
	if s.Source != "" {
		fmt.Fprintf(&b, " at node %q", s.Source)
	}
	b.WriteString(": ")
	b.WriteString(s.Message)
	if len(s.Path) > 0 {
		fmt.Fprintf(&b, " (via %s)", strings.Join(s.Path, " -> "))
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (s *State) Unwrap() error {
	return s.Err
}

// SetSource records the originating node if it is not already set.
func (s *State) SetSource(node string) {
	if s.Source == "" {
		s.Source = node
	}
}

// AddPath appends a node name to the propagation path.
func (s *State) AddPath(node string) {
	s.Path = append(s.Path, node)
}

// Clone returns an independent copy. Propagation mutates the copy, never the
// original recorded against the source node.
func (s *State) Clone() *State {
	c := *s
	c.Path = append([]string(nil), s.Path...)
	return &c
}

// Computation creates a computation error.
func Computation(format string, args ...any) *State {
	return &State{Kind: KindComputation, Message: fmt.Sprintf(format, args...)}
}

// Precision creates a precision error.
func Precision(format string, args ...any) *State {
	return &State{Kind: KindPrecision, Message: fmt.Sprintf(format, args...)}
}

// Dependency creates a dependency error.
func Dependency(format string, args ...any) *State {
	return &State{Kind: KindDependency, Message: fmt.Sprintf(format, args...)}
}

// Resource creates a resource error.
func Resource(format string, args ...any) *State {
	return &State{Kind: KindResource, Message: fmt.Sprintf(format, args...)}
}

// Timeout creates a timeout error.
func Timeout(format string, args ...any) *State {
	return &State{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *State {
	return &State{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts an arbitrary error into a *State of the given kind,
// preserving it as the underlying cause. A *State passes through unchanged
// regardless of kind.
func Wrap(kind Kind, err error) *State {
	if err == nil {
		return nil
	}
	var st *State
	if errors.As(err, &st) {
		return st
	}
	return &State{Kind: kind, Message: err.Error(), Err: err}
}

// KindOf reports the Kind of err, or zero if err is not a *State.
func KindOf(err error) Kind {
	var st *State
	if errors.As(err, &st) {
		return st.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsPrecision reports whether err is a precision error.
func IsPrecision(err error) bool { return KindOf(err) == KindPrecision }

// IsComputation reports whether err is a computation error.
func IsComputation(err error) bool { return KindOf(err) == KindComputation }

// IsDependency reports whether err is a dependency error.
func IsDependency(err error) bool { return KindOf(err) == KindDependency }

// IsResource reports whether err is a resource error.
func IsResource(err error) bool { return KindOf(err) == KindResource }

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
