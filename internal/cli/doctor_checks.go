package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

// connectTimeout bounds each host's connectivity probe.
const connectTimeout = 30 * time.Second

var (
	requiredTools = []string{"bash", "ssh"}
	optionalTools = []string{"git"}
)

func runDoctorChecks(_ context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	missing := make([]string, 0, len(requiredTools))
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			logger.Error("doctor check failed: missing required tool", "tool", tool, "error", err)
			missing = append(missing, tool)
			continue
		}
		logger.Info("doctor check ok", "tool", tool)
	}

	for _, tool := range optionalTools {
		if _, err := exec.LookPath(tool); err != nil {
			logger.Warn("optional tool not found; local tasks using it will fail", "tool", tool)
			continue
		}
		logger.Info("doctor check ok", "tool", tool)
	}

	if len(missing) > 0 {
		return fmt.Errorf("required tools missing from PATH: %s", strings.Join(missing, ", "))
	}

	return nil
}

// runConnectChecks runs a no-op command on every host and reports the ones that
// could not be reached.
func runConnectChecks(ctx context.Context, logger *slog.Logger, runner remote.Runner, hosts []remote.Host) error {
	var unreachable []string
	for _, h := range hosts {
		res, err := runner.Execute(ctx, h, "", "true", remote.Options{Timeout: connectTimeout})
		if err == nil && !res.Succeeded() {
			err = fmt.Errorf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		if err != nil {
			logger.Error("host connectivity check failed", "host", h.Name, "error", err)
			unreachable = append(unreachable, h.Name)
			continue
		}
		logger.Info("doctor check ok", "host", h.Name)
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("hosts unreachable: %s", strings.Join(unreachable, ", "))
	}
	return nil
}
