// Package config contains the loader and strongly typed model for deploy.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unleashedtech/cmsdeploy/internal/env"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

// DefaultRecipe is used when deploy.yaml does not name one.
const DefaultRecipe = "common"

// DeployConfig is the parsed content of deploy.yaml.
type DeployConfig struct {
	// Recipe selects the task set: common, magento2 or drupal.
	Recipe string `yaml:"recipe,omitempty"`
	// EnvFiles lists .env files whose keys are exposed as {{env.KEY}}.
	// A leading "?" marks a file as optional.
	EnvFiles []string `yaml:"env_files,omitempty"`
	// Fill provides defaults. They beat the recipe's own defaults but not values
	// the recipe sets unconditionally.
	Fill map[string]any `yaml:"fill,omitempty"`
	// Set provides overrides that win over everything except host vars.
	Set map[string]any `yaml:"set,omitempty"`
	// Hosts maps host aliases to connection settings.
	Hosts map[string]HostConfig `yaml:"hosts"`
	// Tasks defines custom tasks or replaces recipe tasks of the same name.
	Tasks map[string]TaskConfig `yaml:"tasks,omitempty"`
	// Hooks maps an event such as "deploy:failed" to tasks run when it fires.
	Hooks map[string][]string `yaml:"hooks,omitempty"`
	// CommandTimeout is the default timeout for remote commands (e.g. "15m").
	// Empty means no timeout.
	CommandTimeout string `yaml:"command_timeout,omitempty"`
	// History is the path of the SQLite deploy history database.
	History string `yaml:"history,omitempty"`
}

// HostConfig describes one deploy target.
type HostConfig struct {
	// Hostname is the ssh address; defaults to the alias.
	Hostname string `yaml:"hostname,omitempty"`
	// User is the remote login user.
	User string `yaml:"user,omitempty"`
	// Port is the ssh port.
	Port int `yaml:"port,omitempty"`
	// IdentityFile is a private key path; "~" is expanded.
	IdentityFile string `yaml:"identity_file,omitempty"`
	// SSHOptions are extra ssh arguments, either one shell-quoted string or a list.
	SSHOptions Commands `yaml:"ssh_options,omitempty"`
	// Local runs this host's commands on the machine running cmsdeploy.
	Local bool `yaml:"local,omitempty"`
	// Vars are set on top of the global configuration for this host only.
	Vars map[string]any `yaml:"vars,omitempty"`
}

// TaskConfig describes a task defined in deploy.yaml. Exactly one of Run or
// Steps must be given.
type TaskConfig struct {
	// Desc is shown by the list command.
	Desc string `yaml:"desc,omitempty"`
	// Deps run before the task.
	Deps []string `yaml:"deps,omitempty"`
	// Steps makes the task a composite of other tasks, run in order.
	Steps []string `yaml:"steps,omitempty"`
	// Within is the directory template the commands run in.
	Within string `yaml:"within,omitempty"`
	// Run holds one command or a list of commands.
	Run Commands `yaml:"run,omitempty"`
	// Timeout bounds each command ("0" disables the default timeout).
	Timeout string `yaml:"timeout,omitempty"`
	// ContinueOnError logs failed commands instead of failing the task.
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	// Hidden omits the task from listings.
	Hidden bool `yaml:"hidden,omitempty"`
}

// Commands accepts either a single string or a list of strings.
type Commands []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Commands) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*c = nil
			return nil
		}
		*c = Commands{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// LoadOptions carries command-line additions applied on top of deploy.yaml.
type LoadOptions struct {
	// VarFiles are YAML or .env files merged into Set, in order.
	VarFiles []string
	// InlineVars come from --vars and win over var files.
	InlineVars env.Vars
	// Sets come from repeated --set flags and win over everything else.
	Sets env.Vars
}

// Loaded is a validated configuration together with everything read alongside it.
type Loaded struct {
	Config *DeployConfig
	// Path is the absolute path of deploy.yaml.
	Path string
	// Env holds the process environment merged with env_files.
	Env env.Vars
	// CommandTimeout is CommandTimeout parsed.
	CommandTimeout time.Duration
}

// Load reads, parses and validates deploy.yaml and applies opts.
func Load(path string, opts LoadOptions) (*Loaded, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(absPath), err)
	}

	baseDir := filepath.Dir(absPath)
	fileVars, err := env.LoadEnvFiles(baseDir, cfg.EnvFiles)
	if err != nil {
		return nil, err
	}

	if cfg.Set == nil {
		cfg.Set = make(map[string]any)
	}
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		values, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		for k, v := range values {
			cfg.Set[k] = v
		}
	}
	for k, v := range opts.InlineVars {
		cfg.Set[k] = v
	}
	for k, v := range opts.Sets {
		cfg.Set[k] = v
	}

	timeout, err := parseTimeout("command_timeout", cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	if timeout < 0 {
		timeout = 0
	}

	if cfg.History != "" {
		if cfg.History, err = env.Expand(baseDir, cfg.History); err != nil {
			return nil, err
		}
	}
	for name, h := range cfg.Hosts {
		if h.IdentityFile == "" {
			continue
		}
		if h.IdentityFile, err = env.Expand(baseDir, h.IdentityFile); err != nil {
			return nil, fmt.Errorf("host %q: %w", name, err)
		}
		cfg.Hosts[name] = h
	}

	return &Loaded{
		Config:         cfg,
		Path:           absPath,
		Env:            env.Merge(env.FromOS(), fileVars),
		CommandTimeout: timeout,
	}, nil
}

// Parse decodes and validates deploy.yaml content. Unknown keys are errors.
func Parse(raw []byte) (*DeployConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cfg DeployConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Recipe == "" {
		cfg.Recipe = DefaultRecipe
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that do not depend on the
// recipe. Task references are checked when the graph is built.
func (c *DeployConfig) Validate() error {
	var errs []error
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("at least one host is required"))
	}
	for name, h := range c.Hosts {
		if h.Port < 0 || h.Port > 65535 {
			errs = append(errs, fmt.Errorf("host %q: invalid port %d", name, h.Port))
		}
	}
	for name, t := range c.Tasks {
		hasRun := len(t.Run) > 0
		hasSteps := len(t.Steps) > 0
		switch {
		case hasRun && hasSteps:
			errs = append(errs, fmt.Errorf("task %q: run and steps are mutually exclusive", name))
		case !hasRun && !hasSteps:
			errs = append(errs, fmt.Errorf("task %q: one of run or steps is required", name))
		}
		if _, err := parseTimeout("task "+name+" timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	for event, targets := range c.Hooks {
		if len(targets) == 0 {
			errs = append(errs, fmt.Errorf("hook %q has no tasks", event))
		}
	}
	return errors.Join(errs...)
}

// HostNames returns the configured host aliases, sorted.
func (c *DeployConfig) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoteHost converts a configured host into the runner's host description.
func (c *DeployConfig) RemoteHost(name string) (remote.Host, error) {
	h, ok := c.Hosts[name]
	if !ok {
		return remote.Host{}, fmt.Errorf("unknown host %q (configured: %s)", name, strings.Join(c.HostNames(), ", "))
	}
	var sshOpts []string
	for _, raw := range h.SSHOptions {
		parsed, err := remote.ParseSSHOptions(raw)
		if err != nil {
			return remote.Host{}, fmt.Errorf("host %q: %w", name, err)
		}
		sshOpts = append(sshOpts, parsed...)
	}
	return remote.Host{
		Name:         name,
		Hostname:     h.Hostname,
		User:         h.User,
		Port:         h.Port,
		IdentityFile: h.IdentityFile,
		SSHOptions:   sshOpts,
		Local:        h.Local,
	}, nil
}

// parseTimeout parses a duration string. Empty means "not configured" and is
// returned as -1; "0" means no timeout.
func parseTimeout(what, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return -1, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", what, value)
	}
	return d, nil
}
