package hooks

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestOnDeduplicates(t *testing.T) {
	d := NewDispatcher(nil)
	if !d.On("deploy:failed", "deploy:unlock") {
		t.Fatalf("first registration should be new")
	}
	if d.On("deploy:failed", "deploy:unlock") {
		t.Fatalf("duplicate registration should be ignored")
	}
	d.On("deploy:failed", "magento:maintenance:disable")

	want := []string{"deploy:unlock", "magento:maintenance:disable"}
	if got := d.Targets("deploy:failed"); !reflect.DeepEqual(got, want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
}

func TestFireRunsInOrderAndSwallowsFailures(t *testing.T) {
	d := NewDispatcher(nil)
	d.On("deploy:failed", "a")
	d.On("deploy:failed", "b")
	d.On("deploy:failed", "c")

	var ran []string
	boom := errors.New("boom")
	failures := d.Fire(context.Background(), "deploy:failed", &Fired{}, func(_ context.Context, task string) error {
		ran = append(ran, task)
		if task == "b" {
			return boom
		}
		return nil
	})

	if !reflect.DeepEqual(ran, []string{"a", "b", "c"}) {
		t.Fatalf("ran %v", ran)
	}
	if len(failures) != 1 || failures[0].Task != "b" || !errors.Is(failures[0], boom) {
		t.Fatalf("unexpected failures %v", failures)
	}
}

func TestFireOncePerInvocation(t *testing.T) {
	d := NewDispatcher(nil)
	d.On("deploy:failed", "deploy:unlock")

	count := 0
	run := func(context.Context, string) error { count++; return nil }
	fired := &Fired{}
	d.Fire(context.Background(), "deploy:failed", fired, run)
	d.Fire(context.Background(), "deploy:failed", fired, run)
	if count != 1 {
		t.Fatalf("expected one run, got %d", count)
	}

	d.Fire(context.Background(), "deploy:failed", &Fired{}, run)
	if count != 2 {
		t.Fatalf("a new invocation should fire again, got %d", count)
	}
}

func TestFailedEvent(t *testing.T) {
	if got := FailedEvent("deploy"); got != "deploy:failed" {
		t.Fatalf("unexpected event %q", got)
	}
	if got := FailedEvent("deploy:magento2"); got != "deploy:magento2:failed" {
		t.Fatalf("unexpected event %q", got)
	}
}

func TestEvents(t *testing.T) {
	d := NewDispatcher(nil)
	d.On("b:failed", "x")
	d.On("a:failed", "y")
	if got := d.Events(); !reflect.DeepEqual(got, []string{"a:failed", "b:failed"}) {
		t.Fatalf("events = %v", got)
	}
}
