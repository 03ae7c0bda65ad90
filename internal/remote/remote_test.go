package remote

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":                  "''",
		"/var/www/current":  "/var/www/current",
		"with space":        "'with space'",
		"it's":              `'it'\''s'`,
		"$HOME":             "'$HOME'",
		"releases/20240101": "releases/20240101",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScript(t *testing.T) {
	if got := Script("", "ls"); got != "ls" {
		t.Fatalf("expected bare command, got %q", got)
	}
	if got := Script("/srv/app dir", "bin/magento cache:flush"); got != "cd '/srv/app dir' && (bin/magento cache:flush)" {
		t.Fatalf("unexpected script %q", got)
	}
}

func TestSSHArgs(t *testing.T) {
	host := Host{Name: "prod", Hostname: "shop.example.com", User: "deploy", Port: 2222, IdentityFile: "/keys/id", SSHOptions: []string{"-J", "bastion"}}
	got := SSHArgs(host, "cd /srv && (ls)")
	want := []string{"-o", "BatchMode=yes", "-p", "2222", "-i", "/keys/id", "-J", "bastion", "deploy@shop.example.com", "bash -c 'cd /srv && (ls)'"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestParseSSHOptions(t *testing.T) {
	got, err := ParseSSHOptions(`-o "ProxyCommand=ssh -W %h:%p jump" -A`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"-o", "ProxyCommand=ssh -W %h:%p jump", "-A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, _ := ParseSSHOptions("  "); got != nil {
		t.Fatalf("expected nil for blank options, got %q", got)
	}
}

func TestMuxDispatch(t *testing.T) {
	var hit string
	local := FuncRunner(func(context.Context, Host, string, string, Options) (Result, error) {
		hit = "local"
		return Result{}, nil
	})
	ssh := FuncRunner(func(context.Context, Host, string, string, Options) (Result, error) {
		hit = "ssh"
		return Result{}, nil
	})
	m := Mux{Local: local, Remote: ssh}

	_, _ = m.Execute(context.Background(), Host{Name: "a", Local: true}, "", "true", Options{})
	if hit != "local" {
		t.Fatalf("expected local runner, got %s", hit)
	}
	_, _ = m.Execute(context.Background(), Host{Name: "b"}, "", "true", Options{})
	if hit != "ssh" {
		t.Fatalf("expected ssh runner, got %s", hit)
	}

	if _, err := (Mux{}).Execute(context.Background(), Host{Name: "c"}, "", "true", Options{}); err == nil {
		t.Fatalf("expected error for missing runner")
	}
}

func TestLocalRunner(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	r := &LocalRunner{}
	host := Host{Name: "localhost", Local: true}

	res, err := r.Execute(context.Background(), host, dir, "pwd; echo oops >&2; exit 3", Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, dir) {
		t.Fatalf("expected command to run in %s, stdout %q", dir, res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	if res.Succeeded() {
		t.Fatalf("non-zero exit must not report success")
	}
}

func TestLocalRunnerTimeout(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	r := &LocalRunner{}
	_, err := r.Execute(context.Background(), Host{Name: "localhost", Local: true}, "", "sleep 5", Options{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
