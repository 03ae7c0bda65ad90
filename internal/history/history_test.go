package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/scheduler"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	id, err := s.Start(ctx, "prod", "deploy")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock = clock.Add(90 * time.Second)
	if err := s.Finish(ctx, id, "20240501120000", nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	runs, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.Host != "prod" || r.Task != "deploy" || r.Release != "20240501120000" || r.Status != StatusSucceeded {
		t.Fatalf("unexpected run %+v", r)
	}
	if r.Duration() != 90*time.Second {
		t.Fatalf("duration = %v", r.Duration())
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := openStore(t)
	if err := s.Finish(context.Background(), "missing", "", nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		if _, err := s.Start(ctx, fmt.Sprintf("web%d", i), "deploy"); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	runs, err := s.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Host != "web2" || runs[1].Host != "web1" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[0].Status != StatusRunning || !runs[0].FinishedAt.IsZero() {
		t.Fatalf("unfinished run reported as %+v", runs[0])
	}
}

func TestObserverRecordsTaskOutcomes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Start(ctx, "prod", "deploy")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	inv := scheduler.NewInvocation(id, "prod", nil, nil, nil)
	obs := s.Observer()
	obs.TaskFinished(inv, "deploy:lock", 120*time.Millisecond, nil)
	failed := &execctx.CommandFailed{Command: "bin/magento setup:upgrade", Host: "prod", Result: remote.Result{ExitCode: 3}}
	obs.TaskFinished(inv, "magento:setup:upgrade", time.Second, fmt.Errorf("wrapped: %w", failed))

	if err := s.Finish(ctx, id, "", failed); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	tasks, err := s.Tasks(ctx, id)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", tasks)
	}
	if tasks[0].Task != "deploy:lock" || tasks[0].Status != StatusSucceeded || tasks[0].Duration != 120*time.Millisecond {
		t.Fatalf("unexpected first outcome %+v", tasks[0])
	}
	if tasks[1].Status != StatusFailed || tasks[1].ExitCode != 3 {
		t.Fatalf("unexpected second outcome %+v", tasks[1])
	}

	runs, _ := s.Runs(ctx, 0)
	if runs[0].Status != StatusFailed || runs[0].Error == "" {
		t.Fatalf("run not marked failed: %+v", runs[0])
	}
}

func TestConcurrentInvocations(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	obs := s.Observer()

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		id, err := s.Start(ctx, fmt.Sprintf("web%d", i), "deploy")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		ids[i] = id
	}
	for i, id := range ids {
		wg.Add(1)
		go func(host, id string) {
			defer wg.Done()
			inv := scheduler.NewInvocation(id, host, nil, nil, nil)
			for j := 0; j < 10; j++ {
				obs.TaskFinished(inv, fmt.Sprintf("task%d", j), time.Millisecond, nil)
			}
		}(fmt.Sprintf("web%d", i), id)
	}
	wg.Wait()

	for _, id := range ids {
		tasks, err := s.Tasks(ctx, id)
		if err != nil {
			t.Fatalf("Tasks: %v", err)
		}
		if len(tasks) != 10 || tasks[9].Task != "task9" {
			t.Fatalf("run %s recorded %d tasks", id, len(tasks))
		}
	}
}
