package engine

import (
	"sync"

	"taskforge/internal/task"
)

// VerdictKind distinguishes the three replies request_dependency can
// give a yielding coroutine (spec §4.4).
type VerdictKind int

const (
	// VerdictCompleted: the dependency is already Completed (or
	// terminally Failed); the caller is resumed synchronously, no
	// parking involved.
	VerdictCompleted VerdictKind = iota
	// VerdictWait: the dependency is Running; the caller has been
	// appended to its waiter list and must park.
	VerdictWait
	// VerdictStart: the dependency was Unknown/Pending; the caller is
	// now its first waiter AND must tell the WorkerPool to dispatch it.
	VerdictStart
)

// Verdict is SharedState's reply to a dependency request.
type Verdict struct {
	Kind  VerdictKind
	Value any
	Err   error
}

// Resume is delivered to a parked coroutine's channel once its awaited
// dependency reaches a terminal state.
type Resume struct {
	Value any
	Err   error
}

type waiter struct {
	resume chan<- Resume
	export string
}

type sharedStatus int

const (
	statusUnknown sharedStatus = iota
	statusPending
	statusRunning
	statusCompleted
	statusFailed
)

// SharedState is the broker arbitrating inter-task dependency reads. It
// holds one lock; RequestDependency, MarkRunning, MarkCompleted,
// MarkFailed and MarkSkippedWaiters are its only mutators, and the lock
// is never held while sending on a
// waiter's resume channel (spec §5: "never held across a coroutine
// resume").
type SharedState struct {
	mu       sync.Mutex
	registry *Registry
	status   map[string]sharedStatus
	waiters  map[string][]waiter
	failures map[string]error
}

// NewSharedState returns a broker backed by registry.
func NewSharedState(registry *Registry) *SharedState {
	return &SharedState{
		registry: registry,
		status:   make(map[string]sharedStatus),
		waiters:  make(map[string][]waiter),
		failures: make(map[string]error),
	}
}

// RequestDependency is the coroutine-yield entry point: a task asking
// for dep's exportName either gets the value back synchronously, is
// parked as a waiter, or is told to start the dependency itself (and is
// parked too — it will be woken the same way as any other waiter).
//
// Critical invariant enforced under s.mu: only the first caller for a
// given, not-yet-started dependency receives VerdictStart; every
// subsequent caller receives VerdictWait.
func (s *SharedState) RequestDependency(dep task.Class, exportName string, resume chan<- Resume) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := dep.Name()
	switch s.status[name] {
	case statusCompleted:
		w, _ := s.registry.Wrapper(name)
		v, err := w.Export(exportName)
		return Verdict{Kind: VerdictCompleted, Value: v, Err: err}
	case statusFailed:
		return Verdict{Kind: VerdictCompleted, Err: s.failures[name]}
	case statusRunning:
		s.waiters[name] = append(s.waiters[name], waiter{resume: resume, export: exportName})
		return Verdict{Kind: VerdictWait}
	default: // statusUnknown, statusPending
		if w, ok := s.registry.Wrapper(name); ok && w.State() == Completed {
			s.status[name] = statusCompleted
			v, err := w.Export(exportName)
			return Verdict{Kind: VerdictCompleted, Value: v, Err: err}
		}
		s.status[name] = statusRunning
		s.waiters[name] = append(s.waiters[name], waiter{resume: resume, export: exportName})
		return Verdict{Kind: VerdictStart}
	}
}

// MarkRunning records that name's task instance has begun executing,
// independent of whether it was reached via VerdictStart or dispatched
// directly off the ready set.
func (s *SharedState) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[name] == statusUnknown || s.status[name] == statusPending {
		s.status[name] = statusRunning
	}
}

// MarkCompleted publishes name's success and resumes every waiter with
// its requested export, read from the Wrapper now that it is Completed.
func (s *SharedState) MarkCompleted(name string) {
	s.mu.Lock()
	w, ok := s.registry.Wrapper(name)
	s.status[name] = statusCompleted
	pending := s.waiters[name]
	delete(s.waiters, name)
	s.mu.Unlock()

	for _, wt := range pending {
		if !ok {
			wt.resume <- Resume{Err: ErrNotReady}
			continue
		}
		v, err := w.Export(wt.export)
		wt.resume <- Resume{Value: v, Err: err}
	}
}

// MarkFailed publishes name's failure and resumes every waiter with
// ResumeError, so the failure propagates up the DAG without the engine
// re-walking it.
func (s *SharedState) MarkFailed(name string, err error) {
	s.mu.Lock()
	s.status[name] = statusFailed
	s.failures[name] = err
	pending := s.waiters[name]
	delete(s.waiters, name)
	s.mu.Unlock()

	for _, wt := range pending {
		wt.resume <- Resume{Err: err}
	}
}

// MarkSkippedWaiters resumes any waiter still parked on name (a task
// that will never run because it was cascade-skipped) with a cascade
// error, matching spec §4.4's shutdown guarantee that no waiter is ever
// abandoned.
func (s *SharedState) MarkSkippedWaiters(name string, err error) {
	s.mu.Lock()
	s.status[name] = statusFailed
	s.failures[name] = err
	pending := s.waiters[name]
	delete(s.waiters, name)
	s.mu.Unlock()

	for _, wt := range pending {
		wt.resume <- Resume{Err: err}
	}
}
