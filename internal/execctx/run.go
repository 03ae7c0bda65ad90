package execctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

// RunOption tunes a single Run, Probe or Branch call.
type RunOption func(*runConfig)

type runConfig struct {
	timeout    time.Duration
	timeoutSet bool
	tolerate   map[int]struct{}
}

// Timeout bounds the command.
func Timeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// NoTimeout lets the command run as long as it needs, overriding any default.
func NoTimeout() RunOption {
	return Timeout(0)
}

// Tolerate treats the given non-zero exit codes as success for Run.
func Tolerate(codes ...int) RunOption {
	return func(c *runConfig) {
		if c.tolerate == nil {
			c.tolerate = make(map[int]struct{}, len(codes))
		}
		for _, code := range codes {
			c.tolerate[code] = struct{}{}
		}
	}
}

// Run executes command in the current frame. A non-zero exit that was not
// tolerated is returned as *CommandFailed together with the result.
func (c *Context) Run(ctx context.Context, command string, opts ...RunOption) (remote.Result, error) {
	cfg := c.config(opts)
	cmd, frame, res, err := c.execute(ctx, command, cfg)
	if err != nil {
		return res, err
	}
	if res.Succeeded() {
		return res, nil
	}
	if _, ok := cfg.tolerate[res.ExitCode]; ok {
		c.logger.Debug("tolerated exit code", "host", frame.Host.String(), "command", cmd, "exit_code", res.ExitCode)
		return res, nil
	}
	return res, &CommandFailed{Command: cmd, Host: frame.Host.String(), Dir: frame.Dir, Result: res}
}

// Probe executes command and returns its result without treating a non-zero exit
// as an error. Callers match on Result.ExitCode.
func (c *Context) Probe(ctx context.Context, command string, opts ...RunOption) (remote.Result, error) {
	_, _, res, err := c.execute(ctx, command, c.config(opts))
	return res, err
}

// Test runs a precondition check. It reports true on exit 0 and false on any
// other exit; only transport, template and cancellation problems are errors.
func (c *Context) Test(ctx context.Context, command string) (bool, error) {
	res, err := c.Probe(ctx, command)
	if err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}

func (c *Context) config(opts []RunOption) runConfig {
	cfg := runConfig{timeout: c.DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *Context) execute(ctx context.Context, command string, cfg runConfig) (string, Frame, remote.Result, error) {
	frame := c.Top()
	cmd, err := c.store.Resolve(command)
	if err != nil {
		return command, frame, remote.Result{}, fmt.Errorf("resolve command %q: %w", command, err)
	}
	if strings.TrimSpace(cmd) == "" {
		return cmd, frame, remote.Result{}, fmt.Errorf("empty command")
	}

	c.logger.Info("run", "host", frame.Host.String(), "dir", frame.Dir, "command", cmd)
	res, err := c.runner.Execute(ctx, frame.Host, frame.Dir, cmd, remote.Options{Timeout: cfg.timeout})
	if err != nil {
		return cmd, frame, res, fmt.Errorf("run %q: %w", cmd, err)
	}
	c.logger.Debug("command finished", "host", frame.Host.String(), "command", cmd, "exit_code", res.ExitCode, "duration", res.Duration)
	return cmd, frame, res, nil
}
