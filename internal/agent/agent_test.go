package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"cronkeeper/internal/invoke"
	"cronkeeper/internal/keeper"
	"cronkeeper/internal/registry"
	logx "cronkeeper/pkg/logx"
)

// 2024-01-01T00:00:00Z
const t0 = int64(1704067200)

type countingInvoker struct {
	mu    sync.Mutex
	calls []int64
	block chan struct{}
}

func (c *countingInvoker) Invoke(ctx context.Context, call invoke.Call) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.calls = append(c.calls, call.JobID)
	c.mu.Unlock()
	return nil
}

// newKeeper registers n every-minute jobs at t0 and returns a keeper whose
// clock sits one minute later, so all n are due exactly once.
func newKeeper(t *testing.T, inv invoke.Invoker, n int) *keeper.Keeper {
	t.Helper()
	reg := registry.New(registry.WithClock(registry.ClockFunc(func() int64 { return t0 })))
	for i := 0; i < n; i++ {
		if _, err := reg.Create(context.Background(), "log:x", "", "* * * * *"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	return keeper.New(reg, inv, keeper.WithClock(registry.ClockFunc(func() int64 { return t0 + 60 })))
}

func TestParseTrigger(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	tests := []struct {
		raw    string
		source string
		next   time.Time
	}{
		{"* * * * *", "crontab", time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)},
		{"cron:*/15 * * * *", "crontab", time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)},
		{"@every 1h", "cron", from.Add(time.Hour)},
		{"*/10 * * * * *", "cron", time.Date(2024, 1, 1, 0, 0, 40, 0, time.UTC)},
		{"15s", "interval", from.Add(15 * time.Second)},
		{"every:2m", "interval", from.Add(2 * time.Minute)},
		{"00:05", "interval", from.Add(5 * time.Minute)},
	}
	for _, tt := range tests {
		tr, err := ParseTrigger(tt.raw)
		if err != nil {
			t.Fatalf("ParseTrigger(%q): %v", tt.raw, err)
		}
		if tr.Source != tt.source {
			t.Fatalf("ParseTrigger(%q).Source = %q, want %q", tt.raw, tr.Source, tt.source)
		}
		if got := tr.Schedule.Next(from); !got.Equal(tt.next) {
			t.Fatalf("ParseTrigger(%q).Next = %v, want %v", tt.raw, got, tt.next)
		}
	}
	for _, bad := range []string{"", "soon", "0s", "61 * * * *", "00:75", "cron:"} {
		if _, err := ParseTrigger(bad); err == nil {
			t.Fatalf("ParseTrigger(%q) accepted", bad)
		}
	}
}

func TestRunPassRespectsBudget(t *testing.T) {
	t.Parallel()
	inv := &countingInvoker{}
	s := New(Config{Budget: 3}, newKeeper(t, inv, 5), logx.Nop())
	if rep := s.RunPass(context.Background()); rep.Executed != 3 {
		t.Fatalf("first pass = %+v, want 3 executed", rep)
	}
	if rep := s.RunPass(context.Background()); rep.Executed != 2 {
		t.Fatalf("second pass = %+v, want the remaining 2", rep)
	}
	if rep := s.RunPass(context.Background()); rep.Executed != 0 {
		t.Fatalf("third pass = %+v, want nothing due", rep)
	}

	seen := map[int64]int{}
	for _, id := range inv.calls {
		seen[id]++
	}
	if len(seen) != 5 || len(inv.calls) != 5 {
		t.Fatalf("calls = %v, want every job once", inv.calls)
	}
	if snap := s.Snapshot(); snap.Passes != 3 || snap.Executed != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunPassSkipsOverlap(t *testing.T) {
	t.Parallel()
	inv := &countingInvoker{block: make(chan struct{})}
	s := New(Config{Budget: 1}, newKeeper(t, inv, 1), logx.Nop())

	done := make(chan PassReport)
	go func() { done <- s.RunPass(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.inPass.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first pass never started")
		}
		time.Sleep(time.Millisecond)
	}
	if rep := s.RunPass(context.Background()); !rep.Skipped {
		t.Fatalf("overlapping pass = %+v, want skipped", rep)
	}
	close(inv.block)
	if rep := <-done; rep.Executed != 1 {
		t.Fatalf("first pass = %+v", rep)
	}
	if s.Snapshot().Overlaps != 1 {
		t.Fatal("overlap not counted")
	}
}

func TestStartApplyStop(t *testing.T) {
	t.Parallel()
	inv := &countingInvoker{}
	s := New(Config{Enabled: true, Trigger: "@every 1s", Budget: 4}, newKeeper(t, inv, 2), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Snapshot().Executed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("agent never executed: %+v", s.Snapshot())
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := s.Apply(Config{Enabled: true, Trigger: "nonsense", Budget: 4}); err == nil {
		t.Fatal("Apply accepted an invalid trigger")
	}
	if s.Snapshot().Running {
		t.Fatal("agent still running with an invalid trigger")
	}
	if err := s.Apply(Config{Enabled: true, Trigger: "0 0 1 1 *", Budget: 4}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Running || snap.Next.Month() != time.January || snap.Next.Day() != 1 {
		t.Fatalf("snapshot after apply = %+v", snap)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Snapshot().Running {
		t.Fatal("agent running after Stop")
	}
}
