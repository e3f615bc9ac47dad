package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "cronkeeper.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestStartSeedsAndRestores(t *testing.T) {
	dir := t.TempDir()
	cfg := `
logging:
  level: error
storage:
  driver: file
  path: ` + filepath.Join(dir, "state.json") + `
jobs:
  - target: "log:a"
    cron: "*/5 * * * *"
  - target: "log:b"
    cron: "0 0 * * *"
`
	path := writeConfig(t, dir, cfg)

	run := func() *App {
		a, err := New(path, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		return a
	}
	stop := func(a *App) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Stop(ctx, StopAppStop); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}

	a := run()
	if a.Registry().Len() != 2 {
		t.Fatalf("seeded %d jobs, want 2", a.Registry().Len())
	}
	waitGoroutine(t, a, "config.watch")
	waitGoroutine(t, a, "config.reload")
	if err := a.Registry().Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	stop(a)

	// The second start restores from storage; the config jobs are not
	// seeded again.
	a = run()
	defer stop(a)
	ids := a.Registry().ActiveIDs()
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("ids after restart = %v", ids)
	}
}

func TestNewRejectsBadTrigger(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "agent:\n  enabled: true\n  trigger: \"every fortnight\"\n")
	_, err := New(path, nil)
	if err == nil || !strings.Contains(err.Error(), "agent.trigger") {
		t.Fatalf("New = %v, want agent.trigger error", err)
	}
}

func waitGoroutine(t *testing.T, a *App, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, g := range a.Snapshot().Goroutines {
			if g.Name == name && g.Active > 0 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutine %q not running: %+v", name, a.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
