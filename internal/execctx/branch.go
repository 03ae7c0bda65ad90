package execctx

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Signals maps documented non-zero exit codes of a status command to the
// meaning a task acts on, e.g. {2: "import"} for "configuration differs".
type Signals map[int]string

// Branch runs a status command and classifies its exit code. It returns "" on
// success and the signal name for a listed code; any other failure comes back as
// the original *CommandFailed.
func (c *Context) Branch(ctx context.Context, command string, signals Signals, opts ...RunOption) (string, error) {
	_, err := c.Run(ctx, command, opts...)
	if err == nil {
		return "", nil
	}
	failed, ok := AsCommandFailed(err)
	if !ok {
		return "", err
	}
	if signal, known := signals[failed.ExitCode()]; known {
		c.logger.Info("status signal", "command", failed.Command, "exit_code", failed.ExitCode(), "signal", signal)
		return signal, nil
	}
	return "", err
}

// SignalsFrom reads an exit-code table stored as a mapping variable, e.g.
//
//	magento_config_status_codes: {"2": "import"}
func SignalsFrom(store *vars.Store, name string) (Signals, error) {
	raw, err := store.Map(name)
	if err != nil {
		return nil, err
	}
	out := make(Signals, len(raw))
	for key, value := range raw {
		code, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("variable %q: exit code %q is not a number", name, key)
		}
		out[code] = fmt.Sprint(value)
	}
	return out, nil
}
