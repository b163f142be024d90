package engine

import (
	"sync"

	"taskforge/internal/task"
)

// Registry owns the one Wrapper per task.Class for the lifetime of a
// run, and the dependency Graph those wrappers are scheduled against.
// It is the single source of truth both the Scheduler and SharedState
// consult.
type Registry struct {
	mu       sync.Mutex
	classes  map[string]task.Class
	wrappers map[string]*Wrapper
	graph    *Graph
	groups   map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:  make(map[string]task.Class),
		wrappers: make(map[string]*Wrapper),
		graph:    NewGraph(),
		groups:   make(map[string][]string),
	}
}

// Graph exposes the registry's dependency graph.
func (r *Registry) Graph() *Graph { return r.graph }

// CreateWrapper returns the Wrapper for c, creating it (and registering
// c's node in the graph) the first time c is seen. Idempotent: the same
// task.Class reached through two different dependents gets one Wrapper.
func (r *Registry) CreateWrapper(c task.Class) *Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if w, ok := r.wrappers[name]; ok {
		return w
	}
	w := NewWrapper(c)
	r.classes[name] = c
	r.wrappers[name] = w
	r.graph.AddNode(name)
	if g, ok := c.(task.Grouped); ok {
		r.groups[g.GroupName()] = append(r.groups[g.GroupName()], name)
	}
	return w
}

// GroupMembers returns the names of every currently-registered class
// sharing group, in registration order.
func (r *Registry) GroupMembers(group string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.groups[group]...)
}

// Wrapper returns the wrapper for name, if it has been created.
func (r *Registry) Wrapper(name string) (*Wrapper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wrappers[name]
	return w, ok
}

// Class returns the task.Class registered under name.
func (r *Registry) Class(name string) (task.Class, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[name]
	return c, ok
}

// All returns every wrapper currently registered, in graph insertion
// order.
func (r *Registry) All() []*Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := r.graph.Names()
	out := make([]*Wrapper, 0, len(names))
	for _, n := range names {
		if w, ok := r.wrappers[n]; ok {
			out = append(out, w)
		}
	}
	return out
}

// BuildDependencyGraph walks root's declared dependencies transitively
// via provider, creating a Wrapper and an AddEdge for every class it
// discovers, and returns root's own Wrapper. It is the static
// counterpart to the dynamic edges RegisterRuntimeDependency adds
// later.
func (r *Registry) BuildDependencyGraph(root task.Class, provider task.DependencyProvider) (*Wrapper, error) {
	visiting := map[string]bool{}
	var walk func(c task.Class) error
	walk = func(c task.Class) error {
		name := c.Name()
		if visiting[name] {
			return &task.CircularDependencyError{Path: []string{name}}
		}
		visiting[name] = true
		defer delete(visiting, name)

		r.CreateWrapper(c)
		for _, dep := range provider(c) {
			r.CreateWrapper(dep)
			if err := r.graph.AddEdge(dep.Name(), name); err != nil {
				return err
			}
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	w, _ := r.Wrapper(root.Name())
	return w, nil
}

// RegisterRuntimeDependency adds a discovered edge dep -> dependent
// after the static graph has been built, per spec §4.2. It is safe to
// call while other tasks are executing.
func (r *Registry) RegisterRuntimeDependency(dependent task.Class, dep task.Class) error {
	r.CreateWrapper(dependent)
	r.CreateWrapper(dep)
	return r.graph.AddEdge(dep.Name(), dependent.Name())
}
