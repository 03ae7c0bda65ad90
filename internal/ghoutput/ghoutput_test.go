package ghoutput

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteDeploy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	t.Setenv("GITHUB_OUTPUT", path)

	err := WriteDeploy(DeployResult{
		Release:     "20240501120000",
		FailedHosts: []string{"web3", "web1"},
	})
	if err != nil {
		t.Fatalf("WriteDeploy: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "failed_hosts=web1,web3\nrelease_name=20240501120000\nstatus=failure\n"
	if string(raw) != want {
		t.Fatalf("output = %q, want %q", raw, want)
	}
}

func TestWriteWithoutGitHubOutputIsNoop(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")
	if err := Write(map[string]string{"status": "success"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestWriteFileMultiline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	if err := WriteFile(path, map[string]string{"log": "line one\r\nline two"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	raw, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "log<<ghadelimiter_") {
		t.Fatalf("unexpected output %q", raw)
	}
	delim := strings.TrimPrefix(lines[0], "log<<")
	if lines[1] != "line one" || lines[2] != "line two" || lines[3] != delim {
		t.Fatalf("unexpected output %q", raw)
	}
}

func TestOutputsSuccess(t *testing.T) {
	out := DeployResult{Release: "r1"}.Outputs()
	if out["status"] != StatusSuccess || out["failed_hosts"] != "" {
		t.Fatalf("unexpected outputs %v", out)
	}
}
