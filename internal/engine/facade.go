package engine

import (
	"github.com/google/uuid"

	"taskforge/internal/gid"
	"taskforge/internal/logging"
	"taskforge/internal/observe"
	"taskforge/internal/output"
	"taskforge/internal/task"
)

// Facade is the per-run configuration object: one Registry, one
// SharedState, one WorkerPool, dropped together at the end of a run (the
// per-phase Scheduler lives on the Executor). It also exposes Current, a thread-local
// accessor a task's Run body can use to reach the engine driving it
// without the engine having to thread a context value through
// arbitrary user code.
type Facade struct {
	RunID       uuid.UUID
	Registry    *Registry
	SharedState *SharedState
	Pool        *WorkerPool
	Observers   *observe.FanOut
	Log         *logging.Logger
	Provider    task.DependencyProvider

	// Output is the optional per-task stdout/stderr capture router. Nil
	// means a task's writes go straight to the process streams,
	// unattributed (the CLI's default unless per-task output capture is
	// requested).
	Output *output.Router
}

// NewFacade wires a Registry, SharedState and WorkerPool together for a
// single run. capacity bounds concurrently active coroutines; log may
// be nil (defaults to a no-op logger). Every Facade is stamped with a
// fresh random RunID, attached to the Executor's run log lines so one
// run's lines can be told apart when several runs' output is
// interleaved; observer events do not carry it.
func NewFacade(provider task.DependencyProvider, capacity int64, observers []observe.Observer, log *logging.Logger) *Facade {
	if log == nil {
		log = logging.Nop()
	}
	registry := NewRegistry()
	f := &Facade{
		RunID:       uuid.New(),
		Registry:    registry,
		SharedState: NewSharedState(registry),
		Pool:        NewWorkerPool(capacity),
		Observers:   &observe.FanOut{Observers: observers, Log: log},
		Log:         log,
		Provider:    provider,
	}
	return f
}

// WithOutput attaches a per-task output router to the facade, enabling
// captured-and-attributed stdout/stderr. Returns f for chaining.
func (f *Facade) WithOutput(r *output.Router) *Facade {
	f.Output = r
	return f
}

// Current returns the Facade driving the calling goroutine, if any. A
// task instance's Run body runs on a goroutine the Executor bound, so
// Current is always populated there.
func Current() (*Facade, bool) {
	return currentLocal.Get()
}

// currentLocal is process-wide: every Facade shares one goroutine-ID
// keyed map, so a host running several concurrent engine instances on
// different goroutine trees sees no interference (spec §5, "thread-
// local storage").
var currentLocal = gid.NewLocal[*Facade]()

func (f *Facade) bind() {
	currentLocal.Set(f)
}

func (f *Facade) unbind() {
	currentLocal.Clear()
}
