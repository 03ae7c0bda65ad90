package execctx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

// CommandFailed reports a command that ran and exited non-zero. Result is kept
// exactly as the runner returned it.
type CommandFailed struct {
	Command string
	Host    string
	Dir     string
	Result  remote.Result
}

// ExitCode returns the command's exit status.
func (e *CommandFailed) ExitCode() int { return e.Result.ExitCode }

func (e *CommandFailed) Error() string {
	msg := fmt.Sprintf("command %q failed on %s with exit code %d", e.Command, e.Host, e.Result.ExitCode)
	if detail := strings.TrimSpace(e.Result.Stderr); detail != "" {
		msg += ": " + lastLine(detail)
	}
	return msg
}

// AsCommandFailed unwraps err to a *CommandFailed if there is one.
func AsCommandFailed(err error) (*CommandFailed, bool) {
	var target *CommandFailed
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
