package config

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/hooks"
	"github.com/unleashedtech/cmsdeploy/internal/logging"
	"github.com/unleashedtech/cmsdeploy/internal/recipe"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Project is a loaded configuration turned into a built task graph and the
// shared read-only variable defaults.
type Project struct {
	*Loaded
	Recipe   recipe.Recipe
	Defaults *vars.Store
	Graph    *graph.Graph
	Hooks    *hooks.Dispatcher
}

// Build installs the recipe, applies fill and set, registers custom tasks and
// hooks, and validates the resulting graph.
func (l *Loaded) Build(logger *slog.Logger) (*Project, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := l.Config

	r, err := recipe.Lookup(cfg.Recipe)
	if err != nil {
		return nil, err
	}

	store := vars.New()
	store.Set("env", l.Env.Map())
	for _, k := range sortedKeys(cfg.Fill) {
		store.Fill(k, cfg.Fill[k])
	}

	b := graph.NewBuilder()
	d := hooks.NewDispatcher(logger)
	r.Install(store, b, d)

	for _, k := range sortedKeys(cfg.Set) {
		store.Set(k, cfg.Set[k])
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := registerTask(b, name, cfg.Tasks[name]); err != nil {
			return nil, err
		}
	}

	events := make([]string, 0, len(cfg.Hooks))
	for event := range cfg.Hooks {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		for _, target := range cfg.Hooks[event] {
			if !b.Has(target) {
				return nil, &graph.UnresolvedDependencyError{Task: event, Ref: target, Kind: "hook"}
			}
			d.On(event, target)
		}
	}

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build task graph: %w", err)
	}
	return &Project{Loaded: l, Recipe: r, Defaults: store, Graph: g, Hooks: d}, nil
}

// HostStore forks the defaults for one host and applies its variables.
func (p *Project) HostStore(h remote.Host) *vars.Store {
	store := p.Defaults.Fork()
	store.Set("alias", h.Name)
	hostname := h.Hostname
	if hostname == "" {
		hostname = h.Name
	}
	store.Set("hostname", hostname)
	if h.User != "" {
		store.Set("remote_user", h.User)
	}
	hc := p.Config.Hosts[h.Name]
	for _, k := range sortedKeys(hc.Vars) {
		store.Set(k, hc.Vars[k])
	}
	return store
}

// SelectHosts returns the named hosts, or every host when names is empty.
func (p *Project) SelectHosts(names []string) ([]remote.Host, error) {
	if len(names) == 0 {
		names = p.Config.HostNames()
	}
	seen := make(map[string]bool, len(names))
	out := make([]remote.Host, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		h, err := p.Config.RemoteHost(name)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func registerTask(b *graph.Builder, name string, tc TaskConfig) error {
	var def *graph.Def
	if len(tc.Steps) > 0 {
		def = b.ReplaceSteps(name, tc.Steps...)
	} else {
		action, err := commandAction(tc)
		if err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
		def = b.Replace(name, action)
	}
	if tc.Desc != "" {
		def.Desc(tc.Desc)
	}
	if len(tc.Deps) > 0 {
		def.Deps(tc.Deps...)
	}
	if tc.Hidden {
		def.Hidden()
	}
	return nil
}

// commandAction runs a custom task's commands in order inside Within.
func commandAction(tc TaskConfig) (graph.Action, error) {
	timeout, err := parseTimeout("timeout", tc.Timeout)
	if err != nil {
		return nil, err
	}
	var opts []execctx.RunOption
	switch {
	case timeout == 0:
		opts = append(opts, execctx.NoTimeout())
	case timeout > 0:
		opts = append(opts, execctx.Timeout(timeout))
	}
	commands := append([]string(nil), tc.Run...)

	return func(ctx context.Context, rt *graph.Runtime) error {
		run := func() error {
			for _, cmd := range commands {
				_, err := rt.Exec.Run(ctx, cmd, opts...)
				if err == nil {
					continue
				}
				if _, ok := execctx.AsCommandFailed(err); ok && tc.ContinueOnError {
					rt.Logger.Warn("command failed, continuing", "command", cmd, "error", err)
					continue
				}
				return err
			}
			return nil
		}
		if tc.Within == "" {
			return run()
		}
		return rt.Exec.Within(tc.Within, run)
	}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
