// Package remote defines the contract between the deploy engine and whatever
// actually executes shell commands on a host, plus adapters for the local shell
// and the ssh binary.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Host describes a deploy target.
type Host struct {
	// Name is the alias used in deploy.yaml and logs.
	Name string
	// Hostname is the address passed to ssh. Empty means Name.
	Hostname string
	// User is the remote login user.
	User string
	// Port is the ssh port; 0 keeps the ssh default.
	Port int
	// IdentityFile is a private key path passed with -i.
	IdentityFile string
	// SSHOptions are extra arguments inserted before the destination.
	SSHOptions []string
	// Local runs commands on this machine instead of over ssh.
	Local bool
}

// Address returns user@hostname (or hostname alone).
func (h Host) Address() string {
	host := h.Hostname
	if host == "" {
		host = h.Name
	}
	if h.User == "" {
		return host
	}
	return h.User + "@" + host
}

// String returns the host alias for logging.
func (h Host) String() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address()
}

// Options tune a single execution.
type Options struct {
	// Timeout bounds the command; zero means no timeout.
	Timeout time.Duration
}

// Result is what a finished command produced. A non-zero ExitCode is not an
// error at this layer.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the command exited with status 0.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

// Runner executes command in dir on host and waits for it to finish. The
// returned error is reserved for failures to run the command at all (transport,
// timeout, cancellation); a command that ran and exited non-zero is reported only
// through Result.ExitCode.
type Runner interface {
	Execute(ctx context.Context, host Host, dir, command string, opts Options) (Result, error)
}

// FuncRunner adapts a function to the Runner interface.
type FuncRunner func(ctx context.Context, host Host, dir, command string, opts Options) (Result, error)

// Execute calls f.
func (f FuncRunner) Execute(ctx context.Context, host Host, dir, command string, opts Options) (Result, error) {
	return f(ctx, host, dir, command, opts)
}

// Mux sends local hosts to Local and every other host to Remote.
type Mux struct {
	Local  Runner
	Remote Runner
}

// Execute dispatches on host.Local.
func (m Mux) Execute(ctx context.Context, host Host, dir, command string, opts Options) (Result, error) {
	target := m.Remote
	if host.Local {
		target = m.Local
	}
	if target == nil {
		return Result{}, fmt.Errorf("no runner configured for host %s", host)
	}
	return target.Execute(ctx, host, dir, command, opts)
}

// Script returns command prefixed with a cd into dir, quoted for a POSIX shell.
func Script(dir, command string) string {
	if strings.TrimSpace(dir) == "" {
		return command
	}
	return "cd " + Quote(dir) + " && (" + command + ")"
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:@%+=,", r)
}
