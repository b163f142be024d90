package task

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error is the common interface satisfied by every error type this
// package defines, letting callers type-switch on "is this one of ours".
type Error interface {
	error
	taskError()
}

// BuildError wraps a user error raised inside Run. Message includes the
// task's name and, for a Grouped class, its group — mirroring how a
// parametrised task's identity is reported.
type BuildError struct {
	ClassName string
	Group     string
	Cause     error
}

func (e *BuildError) taskError() {}

func (e *BuildError) Error() string {
	if e.Group != "" && e.Group != e.ClassName {
		return fmt.Sprintf("task %q (group %q) failed: %v", e.ClassName, e.Group, e.Cause)
	}
	return fmt.Sprintf("task %q failed: %v", e.ClassName, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// NewBuildError wraps cause as a BuildError for the given class.
func NewBuildError(c Class, cause error) *BuildError {
	be := &BuildError{ClassName: c.Name(), Cause: errors.WithStack(cause)}
	if g, ok := c.(Grouped); ok {
		be.Group = g.GroupName()
	}
	return be
}

// CircularDependencyError is reported when declared-dependency traversal
// revisits a node still being expanded.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) taskError() {}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

// InterruptedError is used by signal-handling collaborators to abort a
// running task; the engine treats it like any other task failure.
type InterruptedError struct {
	ClassName string
	Signal    string
}

func (e *InterruptedError) taskError() {}

func (e *InterruptedError) Error() string {
	if e.Signal == "" {
		return fmt.Sprintf("task %q interrupted", e.ClassName)
	}
	return fmt.Sprintf("task %q interrupted by %s", e.ClassName, e.Signal)
}

// AggregateError collects every failure observed during one phase, in the
// order their wrappers transitioned to Failed.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) taskError() {}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "aggregate error: (no errors)"
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("aggregate error: %d failure(s): %s", len(e.Errors), strings.Join(parts, "; "))
}
