package engine

import (
	"sync"
	"time"

	"taskforge/internal/task"
)

// ExportReadError is returned by Wrapper.Export when the export cannot be
// served yet or does not exist.
type ExportReadError string

func (e ExportReadError) Error() string { return string(e) }

const (
	ErrNoSuchExport ExportReadError = "no such export"
	ErrNotReady     ExportReadError = "export not ready"
)

// Timing captures a phase's start/end for one task.
type Timing struct {
	Start time.Time
	End   time.Time
}

func (t Timing) Duration() time.Duration {
	if t.Start.IsZero() || t.End.IsZero() {
		return 0
	}
	return t.End.Sub(t.Start)
}

// Wrapper is the sole mutable per-task record, owned by the Registry.
// One Wrapper exists per task.Class for the lifetime of an
// ExecutionFacade, shared by both the run and clean phases (clean state
// is tracked independently, per spec invariant 1).
type Wrapper struct {
	Class task.Class

	mu       sync.Mutex
	state    State
	instance task.Instance
	exports  map[string]any
	err      error
	timing   Timing

	cleanState State
	cleanErr   error
	cleanTime  Timing
}

// NewWrapper constructs a Wrapper in the Pending state for both phases.
func NewWrapper(c task.Class) *Wrapper {
	return &Wrapper{Class: c, state: Pending, cleanState: Pending}
}

// State returns the wrapper's current run-phase state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CleanState returns the wrapper's current clean-phase state.
func (w *Wrapper) CleanState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanState
}

// MarkRunning performs the compare-and-set Pending -> Running. Only the
// winning caller may construct the task instance and execute it.
func (w *Wrapper) MarkRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Pending {
		return false
	}
	w.state = Running
	w.timing.Start = time.Now()
	w.instance = w.Class.CreateInstance()
	return true
}

// Instance returns the task instance created by the winning MarkRunning.
// It is only meaningful once MarkRunning has returned true.
func (w *Wrapper) Instance() task.Instance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instance
}

// MarkCompleted transitions Running -> Completed, capturing exported
// values from the instance (if it implements task.ExportingInstance).
func (w *Wrapper) MarkCompleted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Running {
		return
	}
	w.state = Completed
	w.timing.End = time.Now()
	w.exports = map[string]any{}
	if ei, ok := w.instance.(task.ExportingInstance); ok {
		for _, name := range w.Class.Exports() {
			if v, ok := ei.Export(name); ok {
				w.exports[name] = v
			}
		}
	}
}

// MarkFailed transitions Running -> Failed, recording err.
func (w *Wrapper) MarkFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Running {
		return
	}
	w.state = Failed
	w.err = err
	w.timing.End = time.Now()
}

// MarkSkipped transitions Pending -> Skipped. A skipped task never
// receives an instance, exports, or timing.
func (w *Wrapper) MarkSkipped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Pending {
		return false
	}
	w.state = Skipped
	return true
}

// Error returns the run-phase failure, if any.
func (w *Wrapper) Error() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Timing returns the run-phase start/end.
func (w *Wrapper) Timing() Timing {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timing
}

// Export reads a published value. Reads before Completed return
// ErrNotReady rather than blocking; blocking on an in-flight dependency
// is SharedState's job (it parks the caller, not the wrapper).
func (w *Wrapper) Export(name string) (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Completed {
		return nil, ErrNotReady
	}
	exported := false
	for _, n := range w.Class.Exports() {
		if n == name {
			exported = true
			break
		}
	}
	if !exported {
		return nil, ErrNoSuchExport
	}
	v, ok := w.exports[name]
	if !ok {
		return nil, ErrNoSuchExport
	}
	return v, nil
}

// MarkCleanRunning is the clean-phase analogue of MarkRunning.
func (w *Wrapper) MarkCleanRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cleanState != Pending {
		return false
	}
	w.cleanState = Running
	w.cleanTime.Start = time.Now()
	return true
}

// MarkCleanCompleted is the clean-phase analogue of MarkCompleted.
func (w *Wrapper) MarkCleanCompleted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cleanState != Running {
		return
	}
	w.cleanState = Completed
	w.cleanTime.End = time.Now()
}

// MarkCleanFailed is the clean-phase analogue of MarkFailed. A clean
// failure is recorded but, per spec, never changes the phase-level
// outcome: the Executor does not fold it into an AggregateError.
func (w *Wrapper) MarkCleanFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cleanState != Running {
		return
	}
	w.cleanState = Failed
	w.cleanErr = err
	w.cleanTime.End = time.Now()
}

// MarkCleanSkipped is the clean-phase analogue of MarkSkipped, used for
// tasks that were Skipped (or never reached) in the run phase and for
// tasks the clean phase itself never reaches.
func (w *Wrapper) MarkCleanSkipped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cleanState != Pending {
		return false
	}
	w.cleanState = Skipped
	return true
}

// CleanError returns the clean-phase failure, if any.
func (w *Wrapper) CleanError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanErr
}
