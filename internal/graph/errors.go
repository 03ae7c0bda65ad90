package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateTask is returned by Build when a name is registered twice.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrCycle is returned by Build when dependencies or steps loop.
	ErrCycle = errors.New("task cycle")
	// ErrUnknownTask is returned when looking up a task that does not exist.
	ErrUnknownTask = errors.New("unknown task")
)

// UnresolvedDependencyError reports a dependency or step that names a task
// nobody registered.
type UnresolvedDependencyError struct {
	Task string
	Ref  string
	// Kind is "dependency", "step" or "alias".
	Kind string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("task %q: %s %q is not defined", e.Task, e.Kind, e.Ref)
}

func cycleError(path []string) error {
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
}
