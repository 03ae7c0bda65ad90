package graph

import (
	"context"
	"log/slog"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Runtime is what an action sees of the invocation it runs in.
type Runtime struct {
	Vars   *vars.Store
	Exec   *execctx.Context
	Logger *slog.Logger
	// Task is the name of the task being executed.
	Task string
}

// Action is the body of a leaf task.
type Action func(ctx context.Context, rt *Runtime) error

// Task is an immutable node of a built Graph.
type Task struct {
	Name   string
	Desc   string
	Deps   []string
	Steps  []string
	Action Action
	Hidden bool
}

// IsGroup reports whether the task is a composite of ordered steps.
func (t *Task) IsGroup() bool { return t.Action == nil }
