// Package ghoutput publishes deploy results as GitHub Actions step outputs.
package ghoutput

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Deploy statuses written as the "status" output.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// DeployResult summarises a deploy across hosts.
type DeployResult struct {
	// Release is the release name created by the deploy, if any.
	Release string
	// FailedHosts lists hosts whose invocation failed.
	FailedHosts []string
}

// Outputs returns the step outputs for r.
func (r DeployResult) Outputs() map[string]string {
	status := StatusSuccess
	if len(r.FailedHosts) > 0 {
		status = StatusFailure
	}
	failed := append([]string(nil), r.FailedHosts...)
	sort.Strings(failed)
	return map[string]string{
		"release_name": r.Release,
		"status":       status,
		"failed_hosts": strings.Join(failed, ","),
	}
}

// WriteDeploy appends r to the GITHUB_OUTPUT file when running in Actions.
func WriteDeploy(r DeployResult) error {
	return Write(r.Outputs())
}

// Write appends outputs to the file named by GITHUB_OUTPUT. It is a no-op outside
// GitHub Actions.
func Write(values map[string]string) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" || len(values) == 0 {
		return nil
	}
	return WriteFile(path, values)
}

// WriteFile appends outputs to path in sorted key order. Multi-line values use
// the delimiter syntax.
func WriteFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		if !strings.ContainsAny(value, "\r\n") {
			if _, err := fmt.Fprintf(f, "%s=%s\n", key, value); err != nil {
				return err
			}
			continue
		}
		delim := "ghadelimiter_" + uuid.NewString()
		if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", key, delim, strings.ReplaceAll(value, "\r", ""), delim); err != nil {
			return err
		}
	}
	return nil
}
