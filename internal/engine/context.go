package engine

import (
	"context"

	"taskforge/internal/task"
)

// execContext is the task.Context injected into a running Instance. It
// is only valid for the duration of the Run/Clean call that received
// it, per the task.Context contract.
type execContext struct {
	exec  *Executor
	self  task.Class
	phase struct{ clean bool }
}

func (c *execContext) RequestExport(ctx context.Context, dep task.Class, export string) (any, error) {
	if c.phase.clean {
		return c.exec.requestExportClean(dep, export)
	}
	return c.exec.requestExportRun(ctx, c.self, dep, export)
}

func (c *execContext) RegisterRuntimeDependency(dep task.Class) {
	if c.phase.clean {
		return // the clean phase runs over a graph already closed by the run phase
	}
	c.exec.registerRuntimeDependency(c.self, dep)
}
