package graph

import (
	"errors"
	"fmt"
	"sort"
)

// Builder collects task definitions. It is not safe for concurrent use.
type Builder struct {
	defs  map[string]*Def
	order []string
	errs  []error
}

// Def is a task definition under construction.
type Def struct {
	task *Task
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{defs: make(map[string]*Def)}
}

// Task registers a leaf task.
func (b *Builder) Task(name string, action Action) *Def {
	return b.add(&Task{Name: name, Action: action})
}

// Group registers a composite task whose steps run in the given order.
func (b *Builder) Group(name string, steps ...string) *Def {
	return b.add(&Task{Name: name, Steps: append([]string(nil), steps...)})
}

// Alias registers name as another way to invoke target.
func (b *Builder) Alias(name, target string) *Def {
	return b.Group(name, target).Hidden()
}

// Replace swaps the body of an existing task for action, keeping its
// description and dependencies. Replacing an unknown task registers it.
func (b *Builder) Replace(name string, action Action) *Def {
	if d, ok := b.defs[name]; ok {
		d.task.Action = action
		d.task.Steps = nil
		return d
	}
	return b.Task(name, action)
}

// ReplaceSteps turns an existing task into a composite of steps.
func (b *Builder) ReplaceSteps(name string, steps ...string) *Def {
	if d, ok := b.defs[name]; ok {
		d.task.Action = nil
		d.task.Steps = append([]string(nil), steps...)
		return d
	}
	return b.Group(name, steps...)
}

// Has reports whether name is registered.
func (b *Builder) Has(name string) bool {
	_, ok := b.defs[name]
	return ok
}

// Lookup returns the definition registered under name.
func (b *Builder) Lookup(name string) (*Def, bool) {
	d, ok := b.defs[name]
	return d, ok
}

func (b *Builder) add(t *Task) *Def {
	if t.Name == "" {
		b.errs = append(b.errs, errors.New("task name is required"))
		return &Def{task: t}
	}
	if _, exists := b.defs[t.Name]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name))
		return &Def{task: t}
	}
	d := &Def{task: t}
	b.defs[t.Name] = d
	b.order = append(b.order, t.Name)
	return d
}

// Desc sets the description shown by list.
func (d *Def) Desc(desc string) *Def {
	d.task.Desc = desc
	return d
}

// Deps appends dependencies that run before the task body.
func (d *Def) Deps(names ...string) *Def {
	d.task.Deps = append(d.task.Deps, names...)
	return d
}

// Hidden omits the task from listings.
func (d *Def) Hidden() *Def {
	d.task.Hidden = true
	return d
}

// Build validates every definition and returns the immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	tasks := make(map[string]*Task, len(b.defs))
	for name, d := range b.defs {
		t := *d.task
		t.Deps = append([]string(nil), t.Deps...)
		t.Steps = append([]string(nil), t.Steps...)
		tasks[name] = &t
	}

	var errs []error
	for _, name := range b.order {
		t := tasks[name]
		for _, dep := range t.Deps {
			if _, ok := tasks[dep]; !ok {
				errs = append(errs, &UnresolvedDependencyError{Task: name, Ref: dep, Kind: "dependency"})
			}
		}
		for _, step := range t.Steps {
			if _, ok := tasks[step]; !ok {
				errs = append(errs, &UnresolvedDependencyError{Task: name, Ref: step, Kind: "step"})
			}
		}
		if t.Action == nil && len(t.Steps) == 0 {
			errs = append(errs, fmt.Errorf("task %q has neither an action nor steps", name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := &Graph{tasks: tasks, order: append([]string(nil), b.order...)}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic walks deps and steps depth-first in a stable order.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.tasks))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			start := 0
			for i, p := range path {
				if p == name {
					start = i
				}
			}
			return cycleError(append(append([]string(nil), path[start:]...), name))
		case done:
			return nil
		}
		state[name] = visiting
		path = append(path, name)
		t := g.tasks[name]
		for _, next := range append(append([]string(nil), t.Deps...), t.Steps...) {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	names := append([]string(nil), g.order...)
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
