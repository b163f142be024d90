package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskforge/internal/observe"
	"taskforge/internal/task"
)

// Executor is the phase orchestrator: it wires a Scheduler and a
// WorkerPool together over the Facade's Registry, and emits observer
// events for every state transition. An Executor drives one phase at a
// time for one run: Execute drives the forward (run) phase, and a later
// ExecuteClean on the same Executor drives the reverse (clean) phase.
type Executor struct {
	facade *Facade
	graph  *Graph
	sched  *Scheduler
	clean  bool

	mu       sync.Mutex
	started  map[string]bool
	failures []error

	groupMu      sync.Mutex
	groupStarted map[string]bool
	groupDone    map[string]bool
}

// NewExecutor returns an Executor bound to facade, ready to run Execute
// and then ExecuteClean.
func NewExecutor(facade *Facade) *Executor {
	return &Executor{
		facade:       facade,
		started:      make(map[string]bool),
		groupStarted: make(map[string]bool),
		groupDone:    make(map[string]bool),
	}
}

// Execute runs the forward phase rooted at root: it closes the
// dependency graph via facade.Provider, then drives tasks to completion
// as their dependencies become ready. It returns a task.AggregateError
// if one or more tasks failed.
func (e *Executor) Execute(ctx context.Context, root task.Class) error {
	e.clean = false
	rootWrapper, err := e.facade.Registry.BuildDependencyGraph(root, e.facade.Provider)
	if err != nil {
		return err
	}
	_ = rootWrapper
	e.graph = e.facade.Registry.Graph()
	e.sched = NewScheduler(e.graph, func(name string) State {
		if w, ok := e.facade.Registry.Wrapper(name); ok {
			return w.State()
		}
		return Pending
	})

	e.facade.Log.Info("run started", map[string]any{"run_id": e.facade.RunID.String(), "root": root.Name()})
	e.facade.Observers.Ready()
	e.facade.Observers.Start()
	e.dispatchReady(ctx)
	if err := e.facade.Pool.Wait(); err != nil {
		e.recordFailure(err)
	}
	e.settleUnreached(observe.PhaseRun)
	if !e.sched.Done() {
		e.facade.Log.Warn("run drained with tasks still pending or enqueued", map[string]any{"run_id": e.facade.RunID.String()})
	}
	e.facade.Observers.Stop()

	result := e.aggregateError()
	if result != nil {
		e.facade.Log.Warn("run completed with failures", map[string]any{"run_id": e.facade.RunID.String(), "error": result.Error()})
	} else {
		e.facade.Log.Info("run completed", map[string]any{"run_id": e.facade.RunID.String()})
	}
	return result
}

// ExecuteClean runs the reverse-order clean phase over the same
// Registry populated by a prior Execute call. Clean failures are
// recorded and observer-notified but never contribute to the returned
// error (spec §7: clean is best-effort).
func (e *Executor) ExecuteClean(ctx context.Context, root task.Class) error {
	e.clean = true
	e.started = make(map[string]bool)
	e.failures = nil
	e.groupStarted = make(map[string]bool)
	e.groupDone = make(map[string]bool)
	e.graph = e.facade.Registry.Graph().Reverse()
	e.sched = NewScheduler(e.graph, func(name string) State {
		if w, ok := e.facade.Registry.Wrapper(name); ok {
			return w.CleanState()
		}
		return Pending
	})

	e.facade.Observers.Ready()
	e.facade.Observers.Start()
	e.dispatchReady(ctx)
	_ = e.facade.Pool.Wait()
	e.settleUnreached(observe.PhaseClean)
	if !e.sched.Done() {
		e.facade.Log.Warn("clean phase drained with tasks still pending or enqueued", map[string]any{"run_id": e.facade.RunID.String()})
	}
	e.facade.Observers.Stop()
	return nil
}

func (e *Executor) dispatchReady(ctx context.Context) {
	for _, name := range e.sched.NextReady() {
		e.dispatch(ctx, name)
	}
}

// dispatch idempotently launches name's coroutine. Safe to call both
// from the initial ready-set sweep and from a dependency request that
// wins VerdictStart.
func (e *Executor) dispatch(ctx context.Context, name string) {
	e.mu.Lock()
	if e.started[name] {
		e.mu.Unlock()
		return
	}
	e.started[name] = true
	e.mu.Unlock()

	c, ok := e.facade.Registry.Class(name)
	if !ok {
		return
	}
	if e.clean {
		e.facade.Pool.Go(func() { e.runClean(ctx, c) })
	} else {
		e.facade.Pool.Go(func() { e.runOne(ctx, c) })
	}
}

func (e *Executor) runOne(ctx context.Context, c task.Class) {
	e.facade.bind()
	defer e.facade.unbind()

	name := c.Name()
	if e.facade.Output != nil {
		e.facade.Output.Bind(name)
		defer e.facade.Output.Unbind()
	}
	wrapper := e.facade.Registry.CreateWrapper(c)

	if err := e.facade.Pool.Acquire(ctx); err != nil {
		return
	}
	if !wrapper.MarkRunning() {
		e.facade.Pool.Release()
		return
	}
	e.facade.SharedState.MarkRunning(name)
	e.emitTaskUpdated(c, Pending, Running, observe.PhaseRun)

	tc := &execContext{exec: e, self: c}
	runErr := runRecovered(func() error { return wrapper.Instance().Run(ctx, tc) })
	e.facade.Pool.Release()

	if runErr != nil {
		be := task.NewBuildError(c, runErr)
		wrapper.MarkFailed(be)
		e.facade.SharedState.MarkFailed(name, be)
		e.emitTaskUpdated(c, Running, Failed, observe.PhaseRun)
		e.recordFailure(be)

		e.applySkips(e.sched.MarkFailed(name), observe.PhaseRun)
	} else {
		wrapper.MarkCompleted()
		e.facade.SharedState.MarkCompleted(name)
		e.sched.MarkCompleted(name)
		e.emitTaskUpdated(c, Running, Completed, observe.PhaseRun)
	}

	e.dispatchReady(ctx)
}

func (e *Executor) runClean(ctx context.Context, c task.Class) {
	e.facade.bind()
	defer e.facade.unbind()

	name := c.Name()
	if e.facade.Output != nil {
		e.facade.Output.Bind(name)
		defer e.facade.Output.Unbind()
	}
	wrapper := e.facade.Registry.CreateWrapper(c)

	if st := wrapper.State(); st != Completed && st != Failed {
		// A task whose run was skipped or never reached has no instance
		// and never runs clean; Failed tasks do have one and are cleaned.
		wrapper.MarkCleanSkipped()
		e.emitTaskUpdated(c, Pending, Skipped, observe.PhaseClean)
		e.sched.MarkCompleted(name)
		e.dispatchReady(ctx)
		return
	}

	if err := e.facade.Pool.Acquire(ctx); err != nil {
		return
	}
	if !wrapper.MarkCleanRunning() {
		e.facade.Pool.Release()
		e.dispatchReady(ctx)
		return
	}
	e.emitTaskUpdated(c, Pending, Running, observe.PhaseClean)

	var cleanErr error
	if cleaner, ok := wrapper.Instance().(task.Cleaner); ok {
		tc := &execContext{exec: e, self: c}
		tc.phase.clean = true
		cleanErr = runRecovered(func() error { return cleaner.Clean(ctx, tc) })
	}
	e.facade.Pool.Release()

	if cleanErr != nil {
		wrapper.MarkCleanFailed(task.NewBuildError(c, cleanErr))
		e.emitTaskUpdated(c, Running, Failed, observe.PhaseClean)
	} else {
		wrapper.MarkCleanCompleted()
		e.emitTaskUpdated(c, Running, Completed, observe.PhaseClean)
	}

	e.sched.MarkCompleted(name)
	e.dispatchReady(ctx)
}

// runRecovered calls fn, turning a panic inside it into an error so a
// panicking task body fails like any other task.
func runRecovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task body panicked: %v", r)
		}
	}()
	return fn()
}

func (e *Executor) applySkips(names []string, phase observe.Phase) {
	sort.Strings(names)
	for _, name := range names {
		w, ok := e.facade.Registry.Wrapper(name)
		if !ok {
			continue
		}
		if phase == observe.PhaseClean {
			if w.MarkCleanSkipped() {
				e.emitTaskUpdated(w.Class, Pending, Skipped, phase)
			}
			continue
		}
		if w.MarkSkipped() {
			e.emitTaskUpdated(w.Class, Pending, Skipped, phase)
		}
		e.facade.SharedState.MarkSkippedWaiters(name, fmt.Errorf("task %q skipped: an upstream dependency failed", name))
	}
}

// settleUnreached marks every task the scheduler never reached as
// Skipped once the pool has drained, covering pending nodes with no
// direct edge to the failure that stranded them.
func (e *Executor) settleUnreached(phase observe.Phase) {
	e.applySkips(e.sched.MarkUnreachedAsSkipped(), phase)
}

func (e *Executor) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, err)
}

func (e *Executor) aggregateError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.failures) == 0 {
		return nil
	}
	return &task.AggregateError{Errors: append([]error(nil), e.failures...)}
}

func (e *Executor) emitTaskUpdated(c task.Class, prev, cur State, phase observe.Phase) {
	e.facade.Observers.TaskUpdated(observe.TaskUpdated{
		TaskName: c.Name(),
		Previous: string(prev),
		Current:  string(cur),
		Phase:    phase,
		At:       time.Now(),
	})

	g, ok := c.(task.Grouped)
	if !ok {
		return
	}
	group := g.GroupName()

	if cur == Running {
		e.maybeEmitGroupStarted(c, group, phase)
	}
	if IsTerminal(cur) {
		e.maybeEmitGroupCompleted(c, group, phase)
	}
}

// maybeEmitGroupStarted fires observe.GroupEvent the first time any
// member of group transitions to Running.
func (e *Executor) maybeEmitGroupStarted(c task.Class, group string, phase observe.Phase) {
	e.groupMu.Lock()
	if e.groupStarted[group] {
		e.groupMu.Unlock()
		return
	}
	e.groupStarted[group] = true
	e.groupMu.Unlock()

	e.facade.Observers.GroupStarted(observe.GroupEvent{
		TaskName:  c.Name(),
		GroupName: group,
		Phase:     phase,
		At:        time.Now(),
	})
}

// maybeEmitGroupCompleted fires observe.GroupEvent once every currently
// known member of group has reached a terminal state. Group membership
// can still grow after this point if a later dependency discovery adds
// a new member of the same group; that member's own terminal transition
// re-checks the (now larger) set, so completion still fires exactly once
// the group is actually settled.
func (e *Executor) maybeEmitGroupCompleted(c task.Class, group string, phase observe.Phase) {
	e.groupMu.Lock()
	if e.groupDone[group] {
		e.groupMu.Unlock()
		return
	}
	e.groupMu.Unlock()

	members := e.facade.Registry.GroupMembers(group)
	for _, name := range members {
		w, ok := e.facade.Registry.Wrapper(name)
		if !ok {
			return
		}
		state := w.State()
		if phase == observe.PhaseClean {
			state = w.CleanState()
		}
		if !IsTerminal(state) {
			return
		}
	}

	e.groupMu.Lock()
	if e.groupDone[group] {
		e.groupMu.Unlock()
		return
	}
	e.groupDone[group] = true
	e.groupMu.Unlock()

	e.facade.Observers.GroupCompleted(observe.GroupEvent{
		TaskName:  c.Name(),
		GroupName: group,
		Phase:     phase,
		At:        time.Now(),
	})
}

// requestExportRun implements the run-phase dependency protocol: yield
// to SharedState, and on VerdictStart, dispatch the dependency.
func (e *Executor) requestExportRun(ctx context.Context, self, dep task.Class, export string) (any, error) {
	e.registerRuntimeDependency(self, dep)

	resume := make(chan Resume, 1)
	verdict := e.facade.SharedState.RequestDependency(dep, export, resume)

	switch verdict.Kind {
	case VerdictCompleted:
		return verdict.Value, verdict.Err
	case VerdictStart:
		e.dispatch(ctx, dep.Name())
	}

	e.facade.Pool.Release()
	r := <-resume
	if err := e.facade.Pool.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.Value, r.Err
}

// requestExportClean serves an export read during the clean phase
// synchronously: the run phase has already settled every export, so
// there is nothing to park on.
func (e *Executor) requestExportClean(dep task.Class, export string) (any, error) {
	w := e.facade.Registry.CreateWrapper(dep)
	return w.Export(export)
}

// registerRuntimeDependency adds the self <- dep edge and closes the
// graph under dep's own declared dependencies, tracking every new node.
func (e *Executor) registerRuntimeDependency(self, dep task.Class) {
	e.facade.Registry.RegisterRuntimeDependency(self, dep)
	e.facade.Registry.BuildDependencyGraph(dep, e.facade.Provider)
	for _, name := range e.facade.Registry.Graph().Names() {
		e.sched.Track(name)
	}
}
