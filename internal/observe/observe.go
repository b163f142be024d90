// Package observe defines the engine's observer fan-out: a best-effort
// notification surface for task-state transitions and group/phase
// boundaries.
//
// Observers are untrusted code. A panicking or slow observer must never
// take down the engine or block other observers — FanOut recovers and
// logs, and the remaining observers still fire, the same inertness
// contract the teacher's trace.SafeRecord gives its Sink.
package observe

import "time"

// Phase distinguishes the run phase from the reverse-order clean phase.
type Phase string

const (
	PhaseRun   Phase = "run"
	PhaseClean Phase = "clean"
)

// Observer is implemented selectively: embed NopObserver (or simply leave
// methods unset on a struct literal that embeds it) to pick only the
// hooks you need.
type Observer interface {
	OnReady()
	OnStart()
	OnStop()
	OnTaskUpdated(event TaskUpdated)
	OnGroupStarted(event GroupEvent)
	OnGroupCompleted(event GroupEvent)
}

// TaskUpdated is emitted for every state transition a TaskWrapper makes.
type TaskUpdated struct {
	TaskName string
	Previous string
	Current  string
	Phase    Phase
	At       time.Time
}

// GroupEvent is emitted when a parametrised task-class group starts or
// completes its first/last member.
type GroupEvent struct {
	TaskName  string
	GroupName string
	Phase     Phase
	At        time.Time
}

// NopObserver implements Observer with no-ops; embed it so a partial
// observer only needs to define the hooks it cares about.
type NopObserver struct{}

func (NopObserver) OnReady()                    {}
func (NopObserver) OnStart()                    {}
func (NopObserver) OnStop()                     {}
func (NopObserver) OnTaskUpdated(TaskUpdated)   {}
func (NopObserver) OnGroupStarted(GroupEvent)   {}
func (NopObserver) OnGroupCompleted(GroupEvent) {}
