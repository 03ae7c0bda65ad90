// Package scheduler runs a task and everything it needs from a built graph.
//
// Dependencies are visited depth-first before a task body, composite steps run
// in declared order, and every task runs at most once per invocation. When the
// invocation fails the "<root>:failed" event is fired once before the error is
// returned.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/hooks"
	"github.com/unleashedtech/cmsdeploy/internal/logging"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Observer is notified around every task the scheduler runs, hooks included.
type Observer interface {
	TaskStarted(inv *Invocation, task string)
	TaskFinished(inv *Invocation, task string, elapsed time.Duration, err error)
}

// Invocation is the mutable state of one run against one host. It must not be
// shared between goroutines.
type Invocation struct {
	// ID identifies the run in logs and history.
	ID     string
	Host   string
	Vars   *vars.Store
	Exec   *execctx.Context
	Logger *slog.Logger

	// HookFailures collects hooks that failed while compensating.
	HookFailures []*hooks.HookFailure

	fired hooks.Fired
}

// NewInvocation binds a store and execution context into invocation state.
func NewInvocation(id, host string, store *vars.Store, exec *execctx.Context, logger *slog.Logger) *Invocation {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Invocation{ID: id, Host: host, Vars: store, Exec: exec, Logger: logger}
}

// Scheduler executes tasks of an immutable graph. One Scheduler may serve many
// concurrent invocations.
type Scheduler struct {
	graph     *graph.Graph
	hooks     *hooks.Dispatcher
	observers []Observer
}

// New returns a Scheduler. A nil dispatcher disables hooks.
func New(g *graph.Graph, d *hooks.Dispatcher, observers ...Observer) *Scheduler {
	if d == nil {
		d = hooks.NewDispatcher(nil)
	}
	return &Scheduler{graph: g, hooks: d, observers: observers}
}

// Graph returns the graph the scheduler runs.
func (s *Scheduler) Graph() *graph.Graph { return s.graph }

// TaskError reports which task broke an invocation of Root.
type TaskError struct {
	Root string
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	if e.Root == e.Task {
		return fmt.Sprintf("task %q: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("%s: task %q: %v", e.Root, e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// memo records tasks already started within one scope.
type memo map[string]struct{}

// Invoke runs root with its dependencies. On failure it fires "<root>:failed"
// and returns a *TaskError wrapping the original error.
func (s *Scheduler) Invoke(ctx context.Context, inv *Invocation, root string) error {
	if _, err := s.graph.Task(root); err != nil {
		return err
	}

	err := s.run(ctx, inv, memo{}, root, root)
	if err == nil {
		return nil
	}

	var te *TaskError
	if !errors.As(err, &te) {
		te = &TaskError{Root: root, Task: root, Err: err}
	}
	inv.Logger.Error("task failed", "host", inv.Host, "task", te.Task, "error", te.Err)
	s.compensate(ctx, inv, hooks.FailedEvent(root))
	return te
}

// compensate fires event. Hook targets share one fresh memo so that a task which
// already ran during the invocation, such as an unlock, runs again.
func (s *Scheduler) compensate(ctx context.Context, inv *Invocation, event string) {
	hookCtx := context.WithoutCancel(ctx)
	scope := memo{}
	failures := s.hooks.Fire(hookCtx, event, &inv.fired, func(ctx context.Context, task string) error {
		if _, err := s.graph.Task(task); err != nil {
			return err
		}
		return s.run(ctx, inv, scope, event, task)
	})
	inv.HookFailures = append(inv.HookFailures, failures...)
}

func (s *Scheduler) run(ctx context.Context, inv *Invocation, done memo, root, name string) error {
	if _, ok := done[name]; ok {
		return nil
	}
	done[name] = struct{}{}

	task, err := s.graph.Task(name)
	if err != nil {
		return &TaskError{Root: root, Task: name, Err: err}
	}

	for _, dep := range task.Deps {
		if err := s.run(ctx, inv, done, root, dep); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return &TaskError{Root: root, Task: name, Err: err}
	}

	if task.IsGroup() {
		inv.Logger.Debug("entering group", "host", inv.Host, "task", name, "steps", len(task.Steps))
		for _, step := range task.Steps {
			if err := s.run(ctx, inv, done, root, step); err != nil {
				return err
			}
		}
		return nil
	}

	return s.execute(ctx, inv, root, task)
}

func (s *Scheduler) execute(ctx context.Context, inv *Invocation, root string, task *graph.Task) error {
	logger := inv.Logger.With("host", inv.Host, "task", task.Name)
	logger.Info("task started")
	for _, o := range s.observers {
		o.TaskStarted(inv, task.Name)
	}

	start := time.Now()
	depth := inv.Exec.Depth()
	err := task.Action(ctx, &graph.Runtime{Vars: inv.Vars, Exec: inv.Exec, Logger: logger, Task: task.Name})
	elapsed := time.Since(start)
	if d := inv.Exec.Depth(); d != depth {
		logger.Warn("task left directory scopes open", "depth", d, "expected", depth)
	}

	for _, o := range s.observers {
		o.TaskFinished(inv, task.Name, elapsed, err)
	}
	if err != nil {
		return &TaskError{Root: root, Task: task.Name, Err: err}
	}
	logger.Debug("task finished", "duration", elapsed)
	return nil
}
