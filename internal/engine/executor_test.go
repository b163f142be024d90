package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskforge/internal/observe"
	"taskforge/internal/task"
)

// funcClass is a task.Class whose body is a plain closure, letting
// tests build small ad hoc dependency graphs without a fixture DSL.
type funcClass struct {
	name    string
	exports []string
	deps    []task.Class
	body    func(ctx context.Context, tc task.Context) (map[string]any, error)
}

func (c *funcClass) Name() string      { return c.name }
func (c *funcClass) Exports() []string { return c.exports }
func (c *funcClass) CreateInstance() task.Instance {
	return &funcInstance{class: c}
}

type funcInstance struct {
	class   *funcClass
	exports map[string]any
}

func (i *funcInstance) Run(ctx context.Context, tc task.Context) error {
	out, err := i.class.body(ctx, tc)
	if err != nil {
		return err
	}
	i.exports = out
	return nil
}

func (i *funcInstance) Export(name string) (any, bool) {
	v, ok := i.exports[name]
	return v, ok
}

type hasDeps interface{ taskDeps() []task.Class }

func (c *funcClass) taskDeps() []task.Class { return c.deps }

func providerFor(classes ...*funcClass) task.DependencyProvider {
	return func(c task.Class) []task.Class {
		hd, ok := c.(hasDeps)
		if !ok {
			return nil
		}
		return hd.taskDeps()
	}
}

// groupedClass adds task.Grouped on top of funcClass for the group-event test.
type groupedClass struct {
	funcClass
	group string
}

func (c *groupedClass) GroupName() string { return c.group }

type recordingObserver struct {
	observe.NopObserver
	mu         sync.Mutex
	events     []observe.TaskUpdated
	groupStart []observe.GroupEvent
	groupDone  []observe.GroupEvent
}

func (o *recordingObserver) OnGroupStarted(e observe.GroupEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.groupStart = append(o.groupStart, e)
}

func (o *recordingObserver) OnGroupCompleted(e observe.GroupEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.groupDone = append(o.groupDone, e)
}

func (o *recordingObserver) OnTaskUpdated(e observe.TaskUpdated) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) transitionsFor(name string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, e := range o.events {
		if e.TaskName == name {
			out = append(out, e.Current)
		}
	}
	return out
}

// TestExecutor_S1_SingleTaskNoDeps matches spec scenario S1.
func TestExecutor_S1_SingleTaskNoDeps(t *testing.T) {
	x := &funcClass{
		name:    "X",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{"value": "ok"}, nil
		},
	}

	obs := &recordingObserver{}
	facade := NewFacade(providerFor(x), 4, []observe.Observer{obs}, nil)
	executor := NewExecutor(facade)

	if err := executor.Execute(context.Background(), x); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := facade.Registry.Wrapper("X")
	if w.State() != Completed {
		t.Fatalf("expected Completed, got %v", w.State())
	}
	v, err := w.Export("value")
	if err != nil || v != "ok" {
		t.Fatalf("expected value=ok, got %v err=%v", v, err)
	}

	got := obs.transitionsFor("X")
	want := []string{"RUNNING", "COMPLETED"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
}

// TestExecutor_S2_LinearChain matches spec scenario S2: C -> B -> A.
func TestExecutor_S2_LinearChain(t *testing.T) {
	var b, a *funcClass
	c := &funcClass{
		name:    "C",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{"value": "C"}, nil
		},
	}
	b = &funcClass{
		name:    "B",
		exports: []string{"value"},
		deps:    []task.Class{c},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			v, err := tc.RequestExport(ctx, c, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": fmt.Sprintf("B->%v", v)}, nil
		},
	}
	a = &funcClass{
		name:    "A",
		exports: []string{"value"},
		deps:    []task.Class{b},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			v, err := tc.RequestExport(ctx, b, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": fmt.Sprintf("A->%v", v)}, nil
		},
	}

	facade := NewFacade(providerFor(a, b, c), 4, nil, nil)
	executor := NewExecutor(facade)

	if err := executor.Execute(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wa, _ := facade.Registry.Wrapper("A")
	v, err := wa.Export("value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "A->B->C" {
		t.Fatalf("expected A->B->C, got %v", v)
	}
}

// TestExecutor_CascadeSkip verifies a failing task skips its forward-
// reachable pending subtree and leaves an unrelated branch untouched.
func TestExecutor_CascadeSkip(t *testing.T) {
	failing := &funcClass{
		name: "Fail",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}
	downstream := &funcClass{
		name: "Downstream",
		deps: []task.Class{failing},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			_, err := tc.RequestExport(ctx, failing, "value")
			return nil, err
		},
	}
	unrelated := &funcClass{
		name: "Unrelated",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	root := &funcClass{
		name: "Root",
		deps: []task.Class{downstream, unrelated},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}

	facade := NewFacade(providerFor(root, downstream, unrelated, failing), 4, nil, nil)
	executor := NewExecutor(facade)

	err := executor.Execute(context.Background(), root)
	if err == nil {
		t.Fatalf("expected an AggregateError")
	}
	var agg *task.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %T: %v", err, err)
	}

	wFail, _ := facade.Registry.Wrapper("Fail")
	if wFail.State() != Failed {
		t.Fatalf("expected Fail Failed, got %v", wFail.State())
	}
	wRoot, _ := facade.Registry.Wrapper("Root")
	if wRoot.State() != Skipped {
		t.Fatalf("expected Root Skipped (cascaded via Downstream), got %v", wRoot.State())
	}
	wUnrelated, _ := facade.Registry.Wrapper("Unrelated")
	if wUnrelated.State() != Completed {
		t.Fatalf("expected Unrelated Completed, got %v", wUnrelated.State())
	}
}

// TestExecutor_RuntimeDependencyDiscovery covers merge_runtime_dependencies:
// a dependency only discovered once Run begins is still resolved.
func TestExecutor_RuntimeDependencyDiscovery(t *testing.T) {
	late := &funcClass{
		name:    "Late",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{"value": "late-ok"}, nil
		},
	}
	root := &funcClass{
		name: "Root",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			tc.RegisterRuntimeDependency(late)
			v, err := tc.RequestExport(ctx, late, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": v}, nil
		},
		exports: []string{"value"},
	}

	facade := NewFacade(providerFor(root), 4, nil, nil)
	executor := NewExecutor(facade)

	if err := executor.Execute(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wRoot, _ := facade.Registry.Wrapper("Root")
	v, err := wRoot.Export("value")
	if err != nil || v != "late-ok" {
		t.Fatalf("expected late-ok, got %v err=%v", v, err)
	}

	names := facade.Registry.Graph().Names()
	sort.Strings(names)
	foundLate := false
	for _, n := range names {
		if n == "Late" {
			foundLate = true
		}
	}
	if !foundLate {
		t.Fatalf("expected Late to be folded into the graph, got %v", names)
	}
}

// TestExecutor_CleanRunsOverReverseGraph verifies the clean phase visits
// a dependent before the dependency it relied on (reverse order).
func TestExecutor_CleanRunsOverReverseGraph(t *testing.T) {
	var cleanOrder []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		cleanOrder = append(cleanOrder, name)
	}

	dep := &cleanerClass{funcClass: funcClass{
		name: "Dep",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) { return map[string]any{}, nil },
	}, onClean: func() { record("Dep") }}
	dependent := &cleanerClass{funcClass: funcClass{
		name: "Dependent",
		deps: []task.Class{dep},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) { return map[string]any{}, nil },
	}, onClean: func() { record("Dependent") }}

	facade := NewFacade(providerFor(dependent, dep), 4, nil, nil)
	executor := NewExecutor(facade)

	if err := executor.Execute(context.Background(), dependent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := executor.ExecuteClean(context.Background(), dependent); err != nil {
		t.Fatalf("unexpected clean error: %v", err)
	}

	if len(cleanOrder) != 2 || cleanOrder[0] != "Dependent" || cleanOrder[1] != "Dep" {
		t.Fatalf("expected Dependent cleaned before Dep, got %v", cleanOrder)
	}
}

// TestExecutor_GroupEventsFireOnceAllMembersSettle verifies a Grouped
// class pair emits exactly one GroupStarted (on the first member to run)
// and one GroupCompleted (once every member has reached a terminal state).
func TestExecutor_GroupEventsFireOnceAllMembersSettle(t *testing.T) {
	member1 := &groupedClass{group: "shard", funcClass: funcClass{
		name:    "Shard-1",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{"value": 1}, nil
		},
	}}
	member2 := &groupedClass{group: "shard", funcClass: funcClass{
		name:    "Shard-2",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{"value": 2}, nil
		},
	}}
	root := &funcClass{
		name: "Root",
		deps: []task.Class{member1, member2},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}

	obs := &recordingObserver{}
	facade := NewFacade(providerFor(root, &member1.funcClass, &member2.funcClass), 4, []observe.Observer{obs}, nil)
	executor := NewExecutor(facade)

	if err := executor.Execute(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.groupStart) != 1 {
		t.Fatalf("expected exactly one GroupStarted, got %d", len(obs.groupStart))
	}
	if len(obs.groupDone) != 1 {
		t.Fatalf("expected exactly one GroupCompleted, got %d", len(obs.groupDone))
	}
}

// cleanerClass adds a Clean hook on top of funcClass for the clean-order test.
type cleanerClass struct {
	funcClass
	onClean func()
}

func (c *cleanerClass) CreateInstance() task.Instance {
	return &cleanerInstance{funcInstance: funcInstance{class: &c.funcClass}, onClean: c.onClean}
}

type cleanerInstance struct {
	funcInstance
	onClean func()
}

func (i *cleanerInstance) Clean(ctx context.Context, tc task.Context) error {
	i.onClean()
	return nil
}

// TestExecutor_S3_DiamondSharedDependencyRunsOnce matches spec scenario
// S3: two dependents race to pull the same runtime-discovered dependency
// through RequestExport; SharedState.RequestDependency's VerdictStart
// exactly-once guarantee must still hold under genuine goroutine
// contention, so the shared dependency's body runs exactly once.
func TestExecutor_S3_DiamondSharedDependencyRunsOnce(t *testing.T) {
	var runs int32
	release := make(chan struct{})

	shared := &funcClass{
		name:    "Shared",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			atomic.AddInt32(&runs, 1)
			<-release
			return map[string]any{"value": "shared-ok"}, nil
		},
	}
	left := &funcClass{
		name: "Left",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			tc.RegisterRuntimeDependency(shared)
			v, err := tc.RequestExport(ctx, shared, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": v}, nil
		},
		exports: []string{"value"},
	}
	right := &funcClass{
		name: "Right",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			tc.RegisterRuntimeDependency(shared)
			v, err := tc.RequestExport(ctx, shared, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": v}, nil
		},
		exports: []string{"value"},
	}
	root := &funcClass{
		name: "Root",
		deps: []task.Class{left, right},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}

	facade := NewFacade(providerFor(root, left, right, shared), 4, nil, nil)
	executor := NewExecutor(facade)

	done := make(chan error, 1)
	go func() { done <- executor.Execute(context.Background(), root) }()

	// Give both Left and Right a chance to race into RequestDependency
	// before letting Shared's body return.
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("expected Shared to run exactly once, ran %d times", got)
	}

	wLeft, _ := facade.Registry.Wrapper("Left")
	wRight, _ := facade.Registry.Wrapper("Right")
	lv, lerr := wLeft.Export("value")
	rv, rerr := wRight.Export("value")
	if lerr != nil || rerr != nil || lv != "shared-ok" || rv != "shared-ok" {
		t.Fatalf("expected both Left and Right to observe shared-ok, got left=%v/%v right=%v/%v", lv, lerr, rv, rerr)
	}
}

// TestExecutor_S4_ParallelTasksOverlapWallClock matches spec scenario
// S4: with worker_count=2, two independent sleeping tasks run
// concurrently rather than serially, so total wall-clock time is well
// under the sum of their individual sleeps.
func TestExecutor_S4_ParallelTasksOverlapWallClock(t *testing.T) {
	const sleep = 80 * time.Millisecond

	sleeper := func(name string) *funcClass {
		return &funcClass{
			name: name,
			body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
				time.Sleep(sleep)
				return map[string]any{}, nil
			},
		}
	}
	one := sleeper("One")
	two := sleeper("Two")
	root := &funcClass{
		name: "Root",
		deps: []task.Class{one, two},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}

	facade := NewFacade(providerFor(root, one, two), 2, nil, nil)
	executor := NewExecutor(facade)

	start := time.Now()
	if err := executor.Execute(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= 2*sleep {
		t.Fatalf("expected One and Two to run in parallel (elapsed %v should be well under %v)", elapsed, 2*sleep)
	}
}

// TestExecutor_S6_InFlightBranchSurvivesUnrelatedCascade matches spec
// scenario S6: a branch whose leaf (Dep) is already running when an
// unrelated failure cascades Skipped to Downstream and Root must not be
// swept up as "unreached" — once Dep resolves, its still-pending
// dependent Waiter becomes ready and completes.
func TestExecutor_S6_InFlightBranchSurvivesUnrelatedCascade(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	skippedSeen := make(chan struct{})

	dep := &funcClass{
		name:    "Dep",
		exports: []string{"value"},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			close(started)
			<-gate
			return map[string]any{"value": "dep-ok"}, nil
		},
	}
	waiter := &funcClass{
		name:    "Waiter",
		exports: []string{"value"},
		deps:    []task.Class{dep},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			v, err := tc.RequestExport(ctx, dep, "value")
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": v}, nil
		},
	}
	failing := &funcClass{
		name: "Failing",
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			<-started // Dep is genuinely in flight before Failing fails
			return nil, errors.New("boom")
		},
	}
	downstream := &funcClass{
		name: "Downstream",
		deps: []task.Class{failing},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			_, err := tc.RequestExport(ctx, failing, "value")
			return nil, err
		},
	}
	root := &funcClass{
		name: "Root",
		deps: []task.Class{waiter, downstream},
		body: func(ctx context.Context, tc task.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}

	obs := &cascadeWatcher{target: "Downstream", want: "SKIPPED", signal: skippedSeen}
	facade := NewFacade(providerFor(root, waiter, dep, failing, downstream), 4, []observe.Observer{obs}, nil)
	executor := NewExecutor(facade)

	done := make(chan error, 1)
	go func() { done <- executor.Execute(context.Background(), root) }()

	<-skippedSeen // Downstream (and therefore Root) has already cascaded to Skipped
	close(gate)   // only now let the still-in-flight Dep, and then Waiter, finish

	err := <-done
	var agg *task.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %T: %v", err, err)
	}
	if len(agg.Errors) != 1 {
		t.Fatalf("expected exactly one genuine failure, got %v", agg.Errors)
	}

	wDep, _ := facade.Registry.Wrapper("Dep")
	if wDep.State() != Completed {
		t.Fatalf("expected Dep Completed, got %v", wDep.State())
	}
	wWaiter, _ := facade.Registry.Wrapper("Waiter")
	if wWaiter.State() != Completed {
		t.Fatalf("expected Waiter Completed despite its branch being in flight during the unrelated cascade, got %v", wWaiter.State())
	}
	v, err2 := wWaiter.Export("value")
	if err2 != nil || v != "dep-ok" {
		t.Fatalf("expected Waiter export dep-ok, got %v err=%v", v, err2)
	}

	wRoot, _ := facade.Registry.Wrapper("Root")
	if wRoot.State() != Skipped {
		t.Fatalf("expected Root Skipped (cascaded via Downstream), got %v", wRoot.State())
	}
}

// cascadeWatcher signals once on signal the first time target transitions
// to want.
type cascadeWatcher struct {
	observe.NopObserver
	target string
	want   string
	once   sync.Once
	signal chan struct{}
}

func (w *cascadeWatcher) OnTaskUpdated(e observe.TaskUpdated) {
	if e.TaskName == w.target && e.Current == w.want {
		w.once.Do(func() { close(w.signal) })
	}
}
