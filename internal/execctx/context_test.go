package execctx

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

type call struct {
	Host    string
	Dir     string
	Command string
	Timeout time.Duration
}

// recorder returns a runner that records every call and answers with exit codes
// looked up by command (default 0).
func recorder(codes map[string]remote.Result) (remote.Runner, *[]call) {
	calls := &[]call{}
	return remote.FuncRunner(func(_ context.Context, host remote.Host, dir, command string, opts remote.Options) (remote.Result, error) {
		*calls = append(*calls, call{Host: host.Name, Dir: dir, Command: command, Timeout: opts.Timeout})
		return codes[command], nil
	}), calls
}

func newContext(runner remote.Runner) (*Context, *vars.Store) {
	store := vars.New()
	store.Set("deploy_path", "/srv/shop")
	store.Set("release_path", "{{deploy_path}}/releases/7")
	return New(runner, store, remote.Host{Name: "web1"}, nil), store
}

func TestWithScopeNestsAndUnwinds(t *testing.T) {
	runner, calls := recorder(nil)
	c, _ := newContext(runner)
	ctx := context.Background()

	err := c.Within("{{release_path}}", func() error {
		if _, err := c.Run(ctx, "pwd"); err != nil {
			return err
		}
		return c.Within("docroot", func() error {
			other := remote.Host{Name: "db1"}
			return c.WithScope("/tmp", &other, func() error {
				_, err := c.Run(ctx, "ls")
				return err
			})
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Depth() != 0 {
		t.Fatalf("expected empty stack, depth %d", c.Depth())
	}

	want := []call{
		{Host: "web1", Dir: "/srv/shop/releases/7", Command: "pwd"},
		{Host: "db1", Dir: "/tmp", Command: "ls"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("calls = %+v\nwant %+v", *calls, want)
	}
}

func TestWithScopeRelativeJoin(t *testing.T) {
	runner, calls := recorder(nil)
	c, _ := newContext(runner)

	_ = c.Within("/srv/shop/current", func() error {
		return c.Within("docroot/app", func() error {
			_, err := c.Run(context.Background(), "true")
			return err
		})
	})
	if got := (*calls)[0].Dir; got != "/srv/shop/current/docroot/app" {
		t.Fatalf("unexpected dir %q", got)
	}
}

func TestScopePoppedOnFailureAndPanic(t *testing.T) {
	runner, _ := recorder(map[string]remote.Result{"false": {ExitCode: 1}})
	c, _ := newContext(runner)

	err := c.Within("/a", func() error {
		return c.Within("b", func() error {
			_, err := c.Run(context.Background(), "false")
			return err
		})
	})
	if _, ok := AsCommandFailed(err); !ok {
		t.Fatalf("expected CommandFailed, got %v", err)
	}
	if c.Depth() != 0 {
		t.Fatalf("stack not unwound after failure: %d", c.Depth())
	}

	func() {
		defer func() { _ = recover() }()
		_ = c.Within("/a", func() error { panic("boom") })
	}()
	if c.Depth() != 0 {
		t.Fatalf("stack not unwound after panic: %d", c.Depth())
	}
}

func TestWithScopeUndefinedDirectory(t *testing.T) {
	runner, calls := recorder(nil)
	c, _ := newContext(runner)
	ran := false
	err := c.Within("{{missing}}", func() error { ran = true; return nil })
	if !vars.IsUndefined(err) {
		t.Fatalf("expected undefined variable, got %v", err)
	}
	if ran || len(*calls) != 0 || c.Depth() != 0 {
		t.Fatalf("scope body must not run on resolution failure")
	}
}

func TestRunCommandFailedPreservesResult(t *testing.T) {
	want := remote.Result{ExitCode: 5, Stdout: "partial\x00out\n", Stderr: "line1\nline2"}
	runner, _ := recorder(map[string]remote.Result{"bin/magento setup:upgrade": want})
	c, store := newContext(runner)
	store.Set("mage", "bin/magento")

	res, err := c.Run(context.Background(), "{{mage}} setup:upgrade")
	failed, ok := AsCommandFailed(err)
	if !ok {
		t.Fatalf("expected CommandFailed, got %v", err)
	}
	if !reflect.DeepEqual(failed.Result, want) || !reflect.DeepEqual(res, want) {
		t.Fatalf("result not preserved: %+v", failed.Result)
	}
	if failed.Command != "bin/magento setup:upgrade" || failed.Host != "web1" {
		t.Fatalf("unexpected failure metadata %+v", failed)
	}
}

func TestRunTolerate(t *testing.T) {
	runner, _ := recorder(map[string]remote.Result{"crontab -r": {ExitCode: 1}})
	c, _ := newContext(runner)
	if _, err := c.Run(context.Background(), "crontab -r", Tolerate(1)); err != nil {
		t.Fatalf("tolerated code returned error: %v", err)
	}
	if _, err := c.Run(context.Background(), "crontab -r"); err == nil {
		t.Fatalf("expected failure without tolerate")
	}
}

func TestTestNeverFails(t *testing.T) {
	runner, _ := recorder(map[string]remote.Result{"[ -d /srv/shop/current ]": {ExitCode: 1}})
	c, store := newContext(runner)
	store.Set("current_path", "{{deploy_path}}/current")

	ok, err := c.Test(context.Background(), "[ -d {{current_path}} ]")
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
	ok, err = c.Test(context.Background(), "true")
	if err != nil || !ok {
		t.Fatalf("expected (true, nil), got (%v, %v)", ok, err)
	}
}

func TestTransportErrorIsNotCommandFailed(t *testing.T) {
	boom := errors.New("connection refused")
	runner := remote.FuncRunner(func(context.Context, remote.Host, string, string, remote.Options) (remote.Result, error) {
		return remote.Result{}, boom
	})
	c, _ := newContext(runner)
	_, err := c.Test(context.Background(), "true")
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, ok := AsCommandFailed(err); ok {
		t.Fatalf("transport error must not look like CommandFailed")
	}
}

func TestTimeoutOptions(t *testing.T) {
	runner, calls := recorder(nil)
	c, _ := newContext(runner)
	c.DefaultTimeout = 5 * time.Minute
	ctx := context.Background()

	_, _ = c.Run(ctx, "a")
	_, _ = c.Run(ctx, "b", NoTimeout())
	_, _ = c.Run(ctx, "c", Timeout(time.Hour))

	got := []time.Duration{(*calls)[0].Timeout, (*calls)[1].Timeout, (*calls)[2].Timeout}
	want := []time.Duration{5 * time.Minute, 0, time.Hour}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("timeouts = %v, want %v", got, want)
	}
}

func TestBranch(t *testing.T) {
	statusOut := remote.Result{ExitCode: 3, Stdout: "boom", Stderr: "bad\n"}
	runner, _ := recorder(map[string]remote.Result{
		"status ok":      {ExitCode: 0},
		"status differs": {ExitCode: 2},
		"status broken":  statusOut,
	})
	c, _ := newContext(runner)
	ctx := context.Background()
	signals := Signals{2: "import"}

	if sig, err := c.Branch(ctx, "status ok", signals); err != nil || sig != "" {
		t.Fatalf("ok: got (%q, %v)", sig, err)
	}
	if sig, err := c.Branch(ctx, "status differs", signals); err != nil || sig != "import" {
		t.Fatalf("differs: got (%q, %v)", sig, err)
	}
	sig, err := c.Branch(ctx, "status broken", signals)
	failed, ok := AsCommandFailed(err)
	if !ok || sig != "" {
		t.Fatalf("broken: expected CommandFailed, got (%q, %v)", sig, err)
	}
	if !reflect.DeepEqual(failed.Result, statusOut) {
		t.Fatalf("result changed: %+v", failed.Result)
	}
}

func TestSignalsFrom(t *testing.T) {
	store := vars.New()
	store.Set("codes", map[string]any{"2": "import", " 3 ": "skip"})
	got, err := SignalsFrom(store, "codes")
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if !reflect.DeepEqual(got, Signals{2: "import", 3: "skip"}) {
		t.Fatalf("unexpected signals %v", got)
	}

	store.Set("bad", map[string]any{"two": "import"})
	if _, err := SignalsFrom(store, "bad"); err == nil {
		t.Fatalf("expected error for non-numeric code")
	}
}
