package engine

import "testing"

func TestSharedState_FirstRequestWinsStart(t *testing.T) {
	registry := NewRegistry()
	dep := &stubClass{name: "dep", exports: []string{"value"}}
	registry.CreateWrapper(dep)

	ss := NewSharedState(registry)

	ch1 := make(chan Resume, 1)
	v1 := ss.RequestDependency(dep, "value", ch1)
	if v1.Kind != VerdictStart {
		t.Fatalf("expected first caller to win Start, got %v", v1.Kind)
	}

	ch2 := make(chan Resume, 1)
	v2 := ss.RequestDependency(dep, "value", ch2)
	if v2.Kind != VerdictWait {
		t.Fatalf("expected second caller to get Wait, got %v", v2.Kind)
	}
}

func TestSharedState_CompletedResolvesSynchronously(t *testing.T) {
	registry := NewRegistry()
	dep := &stubClass{name: "dep", exports: []string{"value"}}
	w := registry.CreateWrapper(dep)
	w.MarkRunning()
	w.Instance().(*stubInstance).exports = map[string]any{"value": "ok"}
	w.MarkCompleted()

	ss := NewSharedState(registry)
	ch := make(chan Resume, 1)
	v := ss.RequestDependency(dep, "value", ch)
	if v.Kind != VerdictCompleted {
		t.Fatalf("expected Completed, got %v", v.Kind)
	}
	if v.Value != "ok" {
		t.Fatalf("expected ok, got %v", v.Value)
	}
}

func TestSharedState_MarkCompletedResumesAllWaiters(t *testing.T) {
	registry := NewRegistry()
	dep := &stubClass{name: "dep", exports: []string{"value"}}
	w := registry.CreateWrapper(dep)
	w.MarkRunning()

	ss := NewSharedState(registry)
	ch1 := make(chan Resume, 1)
	ch2 := make(chan Resume, 1)
	ss.RequestDependency(dep, "value", ch1)
	ss.RequestDependency(dep, "value", ch2)

	w.Instance().(*stubInstance).exports = map[string]any{"value": "done"}
	w.MarkCompleted()
	ss.MarkCompleted("dep")

	r1 := <-ch1
	r2 := <-ch2
	if r1.Err != nil || r1.Value != "done" {
		t.Fatalf("waiter 1 expected done, got %+v", r1)
	}
	if r2.Err != nil || r2.Value != "done" {
		t.Fatalf("waiter 2 expected done, got %+v", r2)
	}
}

func TestSharedState_MarkFailedResumesWithError(t *testing.T) {
	registry := NewRegistry()
	dep := &stubClass{name: "dep"}
	w := registry.CreateWrapper(dep)
	w.MarkRunning()

	ss := NewSharedState(registry)
	ch := make(chan Resume, 1)
	ss.RequestDependency(dep, "value", ch)

	failErr := ErrNotReady
	w.MarkFailed(failErr)
	ss.MarkFailed("dep", failErr)

	r := <-ch
	if r.Err != failErr {
		t.Fatalf("expected propagated error, got %v", r.Err)
	}
}
