package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/unleashedtech/cmsdeploy/internal/logging"
)

// LocalRunner runs commands through bash on this machine.
type LocalRunner struct {
	// Shell defaults to bash.
	Shell  string
	Logger *slog.Logger
}

// Execute runs command with dir as the working directory.
func (r *LocalRunner) Execute(ctx context.Context, host Host, dir, command string, opts Options) (Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = "bash"
	}
	return run(ctx, r.Logger, host, opts, shell, "-c", Script(dir, command))
}

// SSHRunner runs commands on remote hosts through the system ssh client.
// Connection reuse, agent forwarding and the like are left to ssh_config.
type SSHRunner struct {
	// Binary defaults to ssh.
	Binary string
	Logger *slog.Logger
}

// Execute runs command on host via ssh, changing into dir first.
func (r *SSHRunner) Execute(ctx context.Context, host Host, dir, command string, opts Options) (Result, error) {
	bin := r.Binary
	if bin == "" {
		bin = "ssh"
	}
	res, err := run(ctx, r.Logger, host, opts, bin, SSHArgs(host, Script(dir, command))...)
	if err == nil && res.ExitCode == sshErrorExit {
		return res, &TransportError{Host: host, Stderr: res.Stderr}
	}
	return res, err
}

const waitDelay = 2 * time.Second

// sshErrorExit is the status ssh itself exits with on connection failures.
const sshErrorExit = 255

// TransportError reports that ssh could not reach or authenticate to a host.
type TransportError struct {
	Host   Host
	Stderr string
}

func (e *TransportError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "ssh exited with status 255"
	}
	return fmt.Sprintf("ssh %s: %s", e.Host.Address(), msg)
}

// ParseSSHOptions splits a configured option string such as
// "-o StrictHostKeyChecking=no -J bastion" into arguments.
func ParseSSHOptions(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ssh options %q: %w", raw, err)
	}
	return args, nil
}

// SSHArgs builds the ssh argument vector for running script on host.
func SSHArgs(host Host, script string) []string {
	args := []string{"-o", "BatchMode=yes"}
	if host.Port > 0 {
		args = append(args, "-p", strconv.Itoa(host.Port))
	}
	if host.IdentityFile != "" {
		args = append(args, "-i", host.IdentityFile)
	}
	args = append(args, host.SSHOptions...)
	return append(args, host.Address(), "bash -c "+Quote(script))
}

func run(ctx context.Context, logger *slog.Logger, host Host, opts Options, name string, args ...string) (Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	outLog := logging.NewWriter(logger, host.String(), "stdout")
	errLog := logging.NewWriter(logger, host.String(), "stderr")
	defer outLog.Flush()
	defer errLog.Flush()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.MultiWriter(&stdout, outLog)
	cmd.Stderr = io.MultiWriter(&stderr, errLog)
	// grandchildren holding the pipes open must not stall Wait after a kill
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, fmt.Errorf("run on %s: %w", host, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fmt.Errorf("run on %s: %w", host, err)
	}
}
