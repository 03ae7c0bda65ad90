package graph

import (
	"fmt"
	"sort"
)

// Graph is a validated, immutable set of tasks. It is safe for concurrent use.
type Graph struct {
	tasks map[string]*Task
	order []string
}

// Task returns the task registered under name.
func (g *Graph) Task(name string) (*Task, error) {
	t, ok := g.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns all task names sorted alphabetically.
func (g *Graph) Names() []string {
	out := append([]string(nil), g.order...)
	sort.Strings(out)
	return out
}

// Plan returns the leaf and group tasks in the order an invocation of root would
// start them, each name at most once.
func (g *Graph) Plan(root string) ([]string, error) {
	if _, err := g.Task(root); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		t := g.tasks[name]
		for _, dep := range t.Deps {
			walk(dep)
		}
		out = append(out, name)
		for _, step := range t.Steps {
			walk(step)
		}
	}
	walk(root)
	return out, nil
}
