package engine

import (
	"container/heap"
	"sort"
	"sync"
)

// Scheduler tracks each task's bookkeeping state against a dependency
// Graph and hands out the ready set. Its schedState is deliberately
// separate from Wrapper.State: Enqueued marks a task the Scheduler has
// already handed to the pool, preventing the same ready task from being
// dispatched twice across two next_ready_tasks calls before its
// Wrapper has won MarkRunning.
//
// A Scheduler is direction-agnostic: the run phase drives it over the
// forward graph checking Wrapper.State, the clean phase drives a second
// Scheduler over the reversed graph checking Wrapper.CleanState, via the
// stateOf callback.
type Scheduler struct {
	mu      sync.Mutex
	graph   *Graph
	stateOf func(name string) State
	state   map[string]schedState
}

// NewScheduler returns a Scheduler over graph with every known node in
// schedPending. stateOf reports a node's current phase state (run or
// clean) for dependency-satisfaction checks.
func NewScheduler(graph *Graph, stateOf func(name string) State) *Scheduler {
	s := &Scheduler{graph: graph, stateOf: stateOf, state: make(map[string]schedState)}
	for _, name := range graph.Names() {
		s.state[name] = schedPending
	}
	return s
}

// Track begins tracking name, if it is not already tracked. Needed when
// a runtime dependency adds a new node to the graph mid-run.
func (s *Scheduler) Track(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state[name]; !ok {
		s.state[name] = schedPending
	}
}

// NextReady returns the deterministically ordered set of task names that
// are schedPending with every dependency Completed, and marks them
// schedEnqueued so a second call before dispatch completes does not
// return them again.
func (s *Scheduler) NextReady() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for name, st := range s.state {
		if st != schedPending {
			continue
		}
		if s.depsSatisfiedLocked(name) {
			ready = append(ready, name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		da, db := s.graph.Depth(a), s.graph.Depth(b)
		if da != db {
			return da < db
		}
		return a < b
	})

	for _, name := range ready {
		s.state[name] = schedEnqueued
	}
	return ready
}

func (s *Scheduler) depsSatisfiedLocked(name string) bool {
	for _, dep := range s.graph.Dependencies(name) {
		if !satisfiesDependency(s.stateOf(dep)) {
			return false
		}
	}
	return true
}

// MarkCompleted records name as schedComplete once its Wrapper has
// transitioned to Completed.
func (s *Scheduler) MarkCompleted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[name] = schedComplete
}

// MarkFailed records name as schedComplete (scheduling-wise a failure is
// as terminal as a success) and cascades SKIPPED to every transitive
// dependent still schedPending, deterministically by name via a
// min-heap BFS — the scheduling analogue of a cascade failure
// propagation.
//
// A dependent already schedEnqueued is left unchanged, same as one
// already terminal: SharedState's request_dependency broker lets a
// dependent be legitimately in flight on a runtime-discovered
// dependency (spec §4.4), so finding one enqueued here is routine, not
// a bookkeeping invariant violation — its own MarkFailed/MarkCompleted
// call settles it through SharedState independently of this cascade.
func (s *Scheduler) MarkFailed(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[name] = schedComplete

	visited := map[string]bool{name: true}
	hq := &stringMinHeap{}
	heap.Init(hq)
	for _, d := range s.graph.Dependents(name) {
		heap.Push(hq, d)
	}

	var skipped []string
	for hq.Len() > 0 {
		u := heap.Pop(hq).(string)
		if visited[u] {
			continue
		}
		visited[u] = true

		if s.state[u] == schedPending {
			s.state[u] = schedSkipped
			skipped = append(skipped, u)
		}

		for _, v := range s.graph.Dependents(u) {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return skipped
}

// MarkUnreachedAsSkipped is called once the ready set is permanently
// empty: every still-schedPending node (one that never had all its
// dependencies satisfied, typically because a sibling branch failed
// without a direct edge to it) is schedSkipped.
func (s *Scheduler) MarkUnreachedAsSkipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var skipped []string
	for name, st := range s.state {
		if st == schedPending {
			s.state[name] = schedSkipped
			skipped = append(skipped, name)
		}
	}
	sort.Strings(skipped)
	return skipped
}

// Done reports whether every tracked task has left schedPending and
// schedEnqueued.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if st == schedPending || st == schedEnqueued {
			return false
		}
	}
	return true
}
