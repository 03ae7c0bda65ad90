// Package hooks binds compensating tasks to lifecycle events such as
// "deploy:failed" and runs them when the event fires.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/unleashedtech/cmsdeploy/internal/logging"
)

// FailedEvent returns the event fired when an invocation of task fails.
func FailedEvent(task string) string {
	return task + ":failed"
}

// HookFailure records a hook task that itself failed. It is reported, never
// propagated in place of the failure that fired the event.
type HookFailure struct {
	Event string
	Task  string
	Err   error
}

func (e *HookFailure) Error() string {
	return fmt.Sprintf("hook %q for %q failed: %v", e.Task, e.Event, e.Err)
}

func (e *HookFailure) Unwrap() error { return e.Err }

// RunFunc executes one hook target.
type RunFunc func(ctx context.Context, task string) error

// Dispatcher maps events to hook targets. Registration happens while the graph
// is built; afterwards the dispatcher is read-only and may be shared by
// concurrent invocations.
type Dispatcher struct {
	mu     sync.RWMutex
	events map[string][]string
	logger *slog.Logger
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{events: make(map[string][]string), logger: logger}
}

// On registers task to run when event fires. Registering the same pair again is
// a no-op. It reports whether the pair was new.
func (d *Dispatcher) On(event, task string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.events[event] {
		if existing == task {
			return false
		}
	}
	d.events[event] = append(d.events[event], task)
	return true
}

// Targets returns the tasks registered for event, in registration order.
func (d *Dispatcher) Targets(event string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.events[event]...)
}

// Events returns every event with at least one target, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.events))
	for e := range d.events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Fire runs every target of event in registration order. Failures are logged and
// returned as HookFailures; they never stop the remaining targets. fired guards
// against firing the same event twice in one invocation and may be nil.
func (d *Dispatcher) Fire(ctx context.Context, event string, fired *Fired, run RunFunc) []*HookFailure {
	if fired != nil && !fired.mark(event) {
		d.logger.Debug("event already fired", "event", event)
		return nil
	}

	var failures []*HookFailure
	for _, task := range d.Targets(event) {
		d.logger.Info("running hook", "event", event, "task", task)
		if err := run(ctx, task); err != nil {
			hf := &HookFailure{Event: event, Task: task, Err: err}
			d.logger.Error("hook failed", "event", event, "task", task, "error", err)
			failures = append(failures, hf)
		}
	}
	return failures
}

// Fired remembers which events already fired during one invocation.
type Fired struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// mark records event and reports whether it was not yet recorded.
func (f *Fired) mark(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	if _, ok := f.seen[event]; ok {
		return false
	}
	f.seen[event] = struct{}{}
	return true
}
