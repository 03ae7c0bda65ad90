package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/history"
	"github.com/unleashedtech/cmsdeploy/internal/logging"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

const localProject = `
recipe: common
fill:
  greeting: hello
set:
  deploy_path: %[1]s
hosts:
  local:
    local: true
tasks:
  greet:
    desc: Writes a greeting
    run: echo "{{greeting}}" > {{deploy_path}}/greeting.txt
  boom:
    run:
      - touch {{deploy_path}}/before
      - exit 3
  mark:
    run: touch {{deploy_path}}/hooked
  deploy:
    steps: [boom]
hooks:
  deploy:failed: [mark]
`

func writeLocalProject(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "deploy.yaml")
	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(localProject, dir)), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir, configPath
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&Options{ConfigPath: defaultConfigPath}, logging.Discard())
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunTaskOnLocalHost(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	dir, configPath := writeLocalProject(t)
	historyDB := filepath.Join(dir, "history.db")

	if _, err := executeCLI(t, "-c", configPath, "--history", historyDB, "run", "greet", "--set", "greeting=bonjour"); err != nil {
		t.Fatalf("run greet: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if string(got) != "bonjour\n" {
		t.Fatalf("greeting = %q, want %q", got, "bonjour\n")
	}

	store, err := history.Open(historyDB, nil)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = store.Close() }()
	runs, err := store.Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Task != "greet" || runs[0].Host != "local" || runs[0].Status != history.StatusSucceeded {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestDeployFailureFiresHooksAndWritesOutputs(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	dir, configPath := writeLocalProject(t)
	historyDB := filepath.Join(dir, "history.db")
	outputs := filepath.Join(dir, "github_output")
	t.Setenv("GITHUB_OUTPUT", outputs)

	_, err := executeCLI(t, "-c", configPath, "--history", historyDB, "deploy")
	if err == nil {
		t.Fatal("expected deploy to fail")
	}
	if !strings.Contains(err.Error(), "deploy failed on 1 of 1 host(s): local") {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"before", "hooked"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
	}

	raw, err := os.ReadFile(outputs)
	if err != nil {
		t.Fatalf("read outputs: %v", err)
	}
	for _, want := range []string{"status=failure\n", "failed_hosts=local\n"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("outputs missing %q:\n%s", want, raw)
		}
	}

	store, err := history.Open(historyDB, nil)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = store.Close() }()
	runs, err := store.Runs(context.Background(), 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	if runs[0].Status != history.StatusFailed {
		t.Fatalf("run status = %q", runs[0].Status)
	}
	outcomes, err := store.Tasks(context.Background(), runs[0].ID)
	if err != nil || len(outcomes) == 0 {
		t.Fatalf("outcomes = %+v, %v", outcomes, err)
	}
	if outcomes[0].Task != "boom" || outcomes[0].ExitCode != 3 {
		t.Fatalf("first outcome = %+v", outcomes[0])
	}
}

func TestRunUnknownTask(t *testing.T) {
	_, configPath := writeLocalProject(t)
	_, err := executeCLI(t, "-c", configPath, "--no-history", "run", "nope")
	if !errors.Is(err, graph.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestPlanCommand(t *testing.T) {
	_, configPath := writeLocalProject(t)
	out, err := executeCLI(t, "-c", configPath, "plan", "deploy")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := "  1. deploy (group)\n  2. boom\non failure: deploy:unlock, mark\n"
	if out != want {
		t.Fatalf("plan output:\n%s\nwant:\n%s", out, want)
	}
}

func TestListHidesHiddenTasks(t *testing.T) {
	_, configPath := writeLocalProject(t)

	out, err := executeCLI(t, "-c", configPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Writes a greeting") || !strings.Contains(out, "deploy:symlink") {
		t.Fatalf("list output missing tasks:\n%s", out)
	}
	if strings.Contains(out, "deploy:success") {
		t.Fatalf("hidden task listed without --all:\n%s", out)
	}
	if !strings.Contains(out, "deploy:failed") || !strings.Contains(out, "deploy:unlock, mark") {
		t.Fatalf("list output missing hooks:\n%s", out)
	}

	out, err = executeCLI(t, "-c", configPath, "list", "--all")
	if err != nil {
		t.Fatalf("list --all: %v", err)
	}
	if !strings.Contains(out, "deploy:success") {
		t.Fatalf("hidden task missing with --all:\n%s", out)
	}
}

func TestApplyBaseEnvRespectsFlags(t *testing.T) {
	t.Setenv("CMSDEPLOY_CONFIG", "env.yaml")
	t.Setenv("CMSDEPLOY_HISTORY", "env.db")
	t.Setenv("CMSDEPLOY_NO_HISTORY", "true")
	t.Setenv("CMSDEPLOY_LOG_LEVEL", "debug")

	opts := &Options{ConfigPath: defaultConfigPath}
	cmd := newRootCommand(opts, logging.Discard())
	if err := cmd.ParseFlags([]string{"--history", "flag.db"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := applyBaseEnv(cmd, opts); err != nil {
		t.Fatalf("applyBaseEnv: %v", err)
	}

	if opts.ConfigPath != "env.yaml" {
		t.Errorf("ConfigPath = %q", opts.ConfigPath)
	}
	if opts.HistoryPath != "flag.db" {
		t.Errorf("HistoryPath = %q, flag should win", opts.HistoryPath)
	}
	if !opts.NoHistory {
		t.Error("NoHistory not applied from env")
	}
	if got := cmd.Flag("log-level").Value.String(); got != "debug" {
		t.Errorf("log-level = %q", got)
	}
}

func TestParseInlineVarsAndFiles(t *testing.T) {
	t.Setenv("CMSDEPLOY_VAR_FILE", "vars.yml")
	t.Setenv("CMSDEPLOY_VARS", "ignored=1")

	cmd := &cobra.Command{Use: "x"}
	addVarsFlags(cmd)
	if err := cmd.ParseFlags([]string{"--vars", "a=1,b=2", "--set", "c=3", "--set", "a=4"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loadOpts, err := parseInlineVarsAndFiles(cmd)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(loadOpts.VarFiles, []string{"vars.yml"}) {
		t.Errorf("VarFiles = %v", loadOpts.VarFiles)
	}
	if loadOpts.InlineVars["a"] != "1" || loadOpts.InlineVars["b"] != "2" || len(loadOpts.InlineVars) != 2 {
		t.Errorf("InlineVars = %v", loadOpts.InlineVars)
	}
	if loadOpts.Sets["c"] != "3" || loadOpts.Sets["a"] != "4" {
		t.Errorf("Sets = %v", loadOpts.Sets)
	}

	bad := &cobra.Command{Use: "x"}
	addVarsFlags(bad)
	if err := bad.ParseFlags([]string{"--set", "novalue"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := parseInlineVarsAndFiles(bad); err == nil {
		t.Fatal("expected malformed --set to fail")
	}
}

func TestApplyDeployEnv(t *testing.T) {
	t.Setenv("CMSDEPLOY_PARALLEL", "4")
	t.Setenv("CMSDEPLOY_HOSTS", "prod, stage")

	cmd := &cobra.Command{Use: "x"}
	dOpts := &deployOptions{}
	addDeployFlags(cmd, dOpts)
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	hosts, err := applyDeployEnv(cmd, dOpts, nil)
	if err != nil {
		t.Fatalf("applyDeployEnv: %v", err)
	}
	if dOpts.parallel != 4 {
		t.Errorf("parallel = %d", dOpts.parallel)
	}
	if !reflect.DeepEqual(hosts, []string{"prod", "stage"}) {
		t.Errorf("hosts = %v", hosts)
	}

	hosts, err = applyDeployEnv(cmd, dOpts, []string{"prod"})
	if err != nil || !reflect.DeepEqual(hosts, []string{"prod"}) {
		t.Errorf("explicit hosts overridden: %v, %v", hosts, err)
	}
}

func TestRunHostsIsolatesFailuresAndHonoursLimit(t *testing.T) {
	hosts := []remote.Host{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	var (
		active, peak atomic.Int32
		mu           sync.Mutex
		ran          []string
	)
	outcomes := runHosts(context.Background(), hosts, 2, func(_ context.Context, h remote.Host) hostOutcome {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)

		mu.Lock()
		ran = append(ran, h.Name)
		mu.Unlock()
		if h.Name == "b" {
			return hostOutcome{host: h.Name, err: errors.New("boom")}
		}
		return hostOutcome{host: h.Name, release: "r1"}
	})

	if len(ran) != 4 {
		t.Fatalf("ran = %v, every host should run", ran)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
	for i, o := range outcomes {
		if o.host != hosts[i].Name {
			t.Fatalf("outcome %d is for %q", i, o.host)
		}
		if (o.err != nil) != (o.host == "b") {
			t.Fatalf("unexpected outcome %+v", o)
		}
	}
}

func TestHistoryPath(t *testing.T) {
	got, err := historyPath(&Options{HistoryPath: "/tmp/flag.db"}, "/tmp/config.db")
	if err != nil || got != "/tmp/flag.db" {
		t.Fatalf("flag path = %q, %v", got, err)
	}
	got, err = historyPath(&Options{}, "/tmp/config.db")
	if err != nil || got != "/tmp/config.db" {
		t.Fatalf("config path = %q, %v", got, err)
	}
	got, err = historyPath(&Options{}, "")
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if strings.HasPrefix(got, "~") || !strings.HasSuffix(got, filepath.Join(".cmsdeploy", "history.db")) {
		t.Fatalf("default path = %q", got)
	}
}
