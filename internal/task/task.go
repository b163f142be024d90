// Package task defines the external task-runtime contract the engine
// consumes: task-class identity, instance creation, the run/clean
// callables, and the dependency-request operations a running instance
// uses to reach into other tasks' exported values.
//
// Declaring tasks (the source-level authoring surface) and extracting
// their static dependency sets are out of scope for this package; it only
// defines the shape the engine needs in order to drive execution.
package task

import "context"

// Class is a task's static identity: a stable, comparable handle distinct
// from any particular run's Instance.
//
// The engine's registration, scheduling and waiter bookkeeping key their
// maps on Name(), so two distinct classes driven by one engine run are
// treated as the same task if they share a Name.
type Class interface {
	// Name is the class's identifier within a run, also used for
	// logging and error messages.
	Name() string

	// Exports lists the symbol names this class may publish on success.
	Exports() []string

	// CreateInstance constructs a fresh, unstarted Instance. Called at
	// most once per TaskWrapper, lazily, on the winning mark-running.
	CreateInstance() Instance
}

// Grouped is an optional Class extension for parametrised task classes:
// several Instances sharing one logical identity (e.g. the same build
// rule applied to different argument sets). Observers receive GroupName
// alongside the task-class so they can roll up a group's progress.
type Grouped interface {
	GroupName() string
}

// Instance is the per-run object returned by Class.CreateInstance.
type Instance interface {
	// Run executes the task body. It may call Context.RequestExport to
	// read another task's exported value (suspending the calling
	// goroutine until that value, or an error, is available) and
	// Context.RegisterRuntimeDependency to add edges discovered only
	// once execution has started.
	//
	// On return with a nil error, the engine captures Export(name) for
	// every name in Class.Exports() that the instance chooses to expose
	// via an ExportingInstance; an Instance that does not implement
	// ExportingInstance simply publishes no values.
	Run(ctx context.Context, tc Context) error
}

// Cleaner is an optional Instance extension: resource release run during
// the reverse-order clean phase. A task without Cleaner participates in
// clean as a no-op.
type Cleaner interface {
	Clean(ctx context.Context, tc Context) error
}

// ExportingInstance is an optional Instance extension for publishing
// named values on successful completion.
type ExportingInstance interface {
	Export(name string) (value any, ok bool)
}

// Context is the engine's entry point injected into a running Instance.
// It is only valid for the duration of the Run/Clean call that received
// it.
type Context interface {
	// RequestExport yields control until dep's named export is ready (or
	// dep fails / is unreachable), per the engine's request_dependency
	// broker protocol.
	RequestExport(ctx context.Context, dep Class, export string) (any, error)

	// RegisterRuntimeDependency records an edge discovered mid-run. The
	// scheduler folds it into the live graph before the next ready-set
	// computation.
	RegisterRuntimeDependency(dep Class)
}

// DependencyProvider returns a class's statically-declared dependency
// set. It must be pure and referentially transparent for the duration of
// one run — the engine calls it repeatedly while closing the graph under
// merge_runtime_dependencies and never caches its result across classes.
type DependencyProvider func(Class) []Class
