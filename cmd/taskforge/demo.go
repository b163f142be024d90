package main

import (
	"context"
	"fmt"

	"taskforge/internal/task"
)

// demoClass is a minimal task.Class for the built-in smoke-test graph
// the CLI's "run" command drives: declaring tasks and extracting their
// static dependencies from source is an external collaborator's job
// (out of scope here), so the binary ships one hand-built graph to
// exercise the engine end to end.
type demoClass struct {
	name string
	deps []task.Class
	body func(ctx context.Context, tc task.Context) (string, error)
}

func (c *demoClass) Name() string                  { return c.name }
func (c *demoClass) Exports() []string             { return []string{"value"} }
func (c *demoClass) CreateInstance() task.Instance { return &demoInstance{class: c} }

type demoInstance struct {
	class  *demoClass
	result string
}

func (i *demoInstance) Run(ctx context.Context, tc task.Context) error {
	v, err := i.class.body(ctx, tc)
	if err != nil {
		return err
	}
	i.result = v
	return nil
}

func (i *demoInstance) Export(name string) (any, bool) {
	if name != "value" {
		return nil, false
	}
	return i.result, true
}

func demoProvider(c task.Class) []task.Class {
	dc, ok := c.(*demoClass)
	if !ok {
		return nil
	}
	return dc.deps
}

// buildDemoGraph returns the root of a three-task chain (A -> B -> C)
// matching the engine's canonical linear-chain scenario: C exports a
// value, B reads it and derives its own, A reads B's and derives its
// own.
func buildDemoGraph() task.Class {
	var b, a *demoClass
	c := &demoClass{
		name: "C",
		body: func(ctx context.Context, tc task.Context) (string, error) {
			return "C", nil
		},
	}
	b = &demoClass{
		name: "B",
		deps: []task.Class{c},
		body: func(ctx context.Context, tc task.Context) (string, error) {
			v, err := tc.RequestExport(ctx, c, "value")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("B->%v", v), nil
		},
	}
	a = &demoClass{
		name: "A",
		deps: []task.Class{b},
		body: func(ctx context.Context, tc task.Context) (string, error) {
			v, err := tc.RequestExport(ctx, b, "value")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("A->%v", v), nil
		},
	}
	return a
}
