package engine

import (
	"container/heap"
	"sort"
	"sync"

	"taskforge/internal/task"
)

// Graph is the mutable forward/reverse dependency graph backing a
// Registry. Unlike a build-cache DAG, it cannot be validated once and
// frozen: RegisterRuntimeDependency lets a running task discover and
// add an edge mid-execution (spec §4.2, "dynamic dependency
// discovery"), so cycle detection must be re-run incrementally as
// edges are added.
type Graph struct {
	mu sync.Mutex

	names    []string // insertion order, for stable iteration
	outgoing map[string][]string
	incoming map[string][]string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddNode registers name with no edges if it is not already present.
func (g *Graph) AddNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(name)
}

func (g *Graph) addNodeLocked(name string) {
	if _, ok := g.outgoing[name]; ok {
		return
	}
	g.names = append(g.names, name)
	g.outgoing[name] = nil
	g.incoming[name] = nil
}

// AddEdge records that to depends on from (from -> to). It rejects an
// edge that would close a cycle, leaving the graph unchanged.
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(from)
	g.addNodeLocked(to)

	for _, existing := range g.outgoing[from] {
		if existing == to {
			return nil // already present, idempotent
		}
	}

	g.outgoing[from] = append(g.outgoing[from], to)
	g.incoming[to] = append(g.incoming[to], from)
	sort.Strings(g.outgoing[from])
	sort.Strings(g.incoming[to])

	if cycle := g.findCycleLocked(); cycle != nil {
		g.removeEdgeLocked(from, to)
		return &task.CircularDependencyError{Path: cycle}
	}
	return nil
}

func (g *Graph) removeEdgeLocked(from, to string) {
	g.outgoing[from] = removeString(g.outgoing[from], to)
	g.incoming[to] = removeString(g.incoming[to], from)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Dependencies returns the direct dependencies of name (copy, sorted).
func (g *Graph) Dependencies(name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.incoming[name]...)
}

// Dependents returns the direct dependents of name (copy, sorted).
func (g *Graph) Dependents(name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.outgoing[name]...)
}

// Names returns every node known to the graph, in insertion order.
func (g *Graph) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.names...)
}

// Reverse returns a snapshot graph with every edge flipped, used to
// drive the clean phase: a task's clean must run before the clean of
// anything it depends on, i.e. in reverse topological order.
func (g *Graph) Reverse() *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := NewGraph()
	for _, n := range g.names {
		r.addNodeLocked(n)
	}
	for from, tos := range g.outgoing {
		for _, to := range tos {
			r.outgoing[to] = append(r.outgoing[to], from)
			r.incoming[from] = append(r.incoming[from], to)
		}
	}
	for _, n := range r.names {
		sort.Strings(r.outgoing[n])
		sort.Strings(r.incoming[n])
	}
	return r
}

// Depth returns the longest-path-from-any-root depth of name, used only
// to order the ready set deterministically (spec §8, S3).
func (g *Graph) Depth(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	depth := g.computeDepthLocked()
	return depth[name]
}

func (g *Graph) computeDepthLocked() map[string]int {
	order := g.topoOrderLocked()
	depth := make(map[string]int, len(g.names))
	for _, u := range order {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

// stringMinHeap orders a ready queue by name, giving topoOrderLocked a
// deterministic traversal independent of map iteration order.
type stringMinHeap []string

func (h stringMinHeap) Len() int           { return len(h) }
func (h stringMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringMinHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (g *Graph) topoOrderLocked() []string {
	indeg := make(map[string]int, len(g.names))
	for _, n := range g.names {
		indeg[n] = len(g.incoming[n])
	}

	ready := &stringMinHeap{}
	heap.Init(ready)
	for _, n := range g.names {
		if indeg[n] == 0 {
			heap.Push(ready, n)
		}
	}

	out := make([]string, 0, len(g.names))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycleLocked proves acyclicity with Kahn's algorithm; on failure it
// extracts one deterministic cycle witness via DFS over sorted edges.
func (g *Graph) findCycleLocked() []string {
	if len(g.topoOrderLocked()) == len(g.names) {
		return nil
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.names))
	parent := make(map[string]string, len(g.names))

	var cycle []string
	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				cur := u
				for cur != "" && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range g.names {
		if color[n] != white {
			continue
		}
		if dfs(n) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, len(cycle))
	for i, v := range cycle {
		out[i] = v
	}
	// reverse: dfs walked the cycle backwards via parent links
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
