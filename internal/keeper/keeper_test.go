package keeper

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cronkeeper/internal/invoke"
	"cronkeeper/internal/registry"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

// 2024-01-01T00:00:00Z
const t0 = int64(1704067200)

type testClock struct{ now atomic.Int64 }

func (c *testClock) Now() int64 { return c.now.Load() }

func newClock(t int64) *testClock {
	c := &testClock{}
	c.now.Store(t)
	return c
}

type recorder struct {
	mu    sync.Mutex
	calls []invoke.Call
	fail  map[int64]error
}

func (r *recorder) Invoke(ctx context.Context, c invoke.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.fail[c.JobID]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func setup(t *testing.T, exprs ...string) (*registry.Registry, *testClock) {
	t.Helper()
	clk := newClock(t0)
	reg := registry.New(registry.WithClock(clk))
	for i, e := range exprs {
		if _, err := reg.Create(context.Background(), "test:"+strconv.Itoa(i), "h", e); err != nil {
			t.Fatalf("Create(%q): %v", e, err)
		}
	}
	return reg, clk
}

func TestPollNothingDue(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "0 * * * *")
	k := New(reg, &recorder{})
	if _, ok := k.Poll(t0+60, 0); ok {
		t.Fatal("Poll reported a due job before its tick")
	}
	d, ok := k.Poll(t0+3600, 0)
	if !ok || d.ID != 1 || d.Tick != t0+3600 {
		t.Fatalf("Poll at tick = %+v, %v", d, ok)
	}
}

func TestPollIsPure(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *", "*/2 * * * *")
	k := New(reg, &recorder{})
	before := reg.List()
	for i := 0; i < 10; i++ {
		k.Poll(t0+3600, uint64(i))
	}
	after := reg.List()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("Poll mutated job %d: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
}

func TestExactlyOnce(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "*/5 * * * *")
	rec := &recorder{}
	k := New(reg, rec)
	ctx := context.Background()

	d, ok := k.Poll(t0+300, 0)
	if !ok {
		t.Fatal("nothing due")
	}
	res, err := k.Execute(ctx, d.ID, d.Tick)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Tick != t0+300 || res.NextTick != t0+600 {
		t.Fatalf("Result = %+v", res)
	}
	if _, err := k.Execute(ctx, d.ID, d.Tick); !errors.Is(err, ErrStaleTick) {
		t.Fatalf("replay err = %v, want ErrStaleTick", err)
	}
	// A forged future tick is rejected just like a replay.
	if _, err := k.Execute(ctx, d.ID, t0+900); !errors.Is(err, ErrStaleTick) {
		t.Fatalf("forged tick err = %v, want ErrStaleTick", err)
	}
	if rec.count() != 1 {
		t.Fatalf("callback ran %d times", rec.count())
	}
}

func TestExecuteConcurrentReplays(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *")
	rec := &recorder{}
	k := New(reg, rec)
	d, _ := k.Poll(t0+60, 0)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := k.Execute(context.Background(), d.ID, d.Tick); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || rec.count() != 1 {
		t.Fatalf("successes = %d, callbacks = %d; want 1, 1", ok.Load(), rec.count())
	}
}

func TestFairRotation(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *", "* * * * *", "* * * * *", "* * * * *")
	rec := &recorder{}
	k := New(reg, rec)
	now := t0 + 60

	seen := map[int64]int{}
	var order []int64
	for seed := uint64(0); seed < 4; seed++ {
		d, ok := k.Poll(now, seed)
		if !ok {
			t.Fatalf("seed %d: nothing due", seed)
		}
		if _, err := k.Execute(context.Background(), d.ID, d.Tick); err != nil {
			t.Fatalf("seed %d: Execute: %v", seed, err)
		}
		seen[d.ID]++
		order = append(order, d.ID)
	}
	if len(seen) != 4 {
		t.Fatalf("visited %v, want all 4 jobs once", order)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %d ran %d times", id, n)
		}
	}
	// With the due set shrinking by one each step, seed s picks index
	// s mod (4-s) of the remaining jobs.
	want := []int64{1, 3, 2, 4}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if _, ok := k.Poll(now, 4); ok {
		t.Fatal("jobs still due after a full rotation")
	}
}

func TestFairRotationWithoutExecution(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *", "* * * * *", "* * * * *", "* * * * *")
	k := New(reg, &recorder{})
	seen := map[int64]bool{}
	for seed := uint64(10); seed < 14; seed++ {
		d, _ := k.Poll(t0+60, seed)
		if want := int64(seed%4) + 1; d.ID != want {
			t.Fatalf("seed %d picked %d, want %d", seed, d.ID, want)
		}
		seen[d.ID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("seen = %v", seen)
	}
}

func TestCallbackFailureDoesNotStall(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "*/10 * * * *")
	rec := &recorder{fail: map[int64]error{1: errors.New("revert")}}
	k := New(reg, rec)
	ctx := context.Background()

	res, err := k.Execute(ctx, 1, t0+600)
	if err != nil {
		t.Fatalf("Execute returned engine error for callback failure: %v", err)
	}
	if res.Success || res.Error != "revert" {
		t.Fatalf("Result = %+v", res)
	}
	j, _ := reg.Get(1)
	if j.NextTick != t0+1200 {
		t.Fatalf("NextTick = +%d, want advanced past failed tick", j.NextTick-t0)
	}
	if _, err := k.Execute(ctx, 1, t0+1200); err != nil {
		t.Fatalf("next tick Execute: %v", err)
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *")
	k := New(reg, invoke.Func(func(ctx context.Context, c invoke.Call) error {
		panic("boom")
	}))
	res, err := k.Execute(context.Background(), 1, t0+60)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !res.Panicked || res.Error != "panic: boom" {
		t.Fatalf("Result = %+v", res)
	}
}

func TestCallbackTimeout(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *")
	k := New(reg, invoke.Func(func(ctx context.Context, c invoke.Call) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithInvokeTimeout(20*time.Millisecond))
	res, err := k.Execute(context.Background(), 1, t0+60)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("Result = %+v", res)
	}
}

func TestExecuteDeleted(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *")
	rec := &recorder{}
	k := New(reg, rec)
	d, _ := k.Poll(t0+60, 0)
	if err := reg.Delete(context.Background(), d.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := k.Execute(context.Background(), d.ID, d.Tick); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Execute deleted = %v, want ErrJobNotFound", err)
	}
	if _, ok := k.Poll(t0+60, 0); ok {
		t.Fatal("deleted job still due")
	}
	if rec.count() != 0 {
		t.Fatal("callback ran for deleted job")
	}
}

func TestLatePollDoesNotSkipIntervals(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "0 * * * *")
	k := New(reg, &recorder{})
	ctx := context.Background()

	// Three hours late: each missed hour is still delivered once, in order.
	now := t0 + 3*3600 + 30
	var ticks []int64
	for i := 0; i < 5; i++ {
		d, ok := k.Poll(now, uint64(i))
		if !ok {
			break
		}
		if _, err := k.Execute(ctx, d.ID, d.Tick); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		ticks = append(ticks, d.Tick-t0)
	}
	if len(ticks) != 3 || ticks[0] != 3600 || ticks[1] != 7200 || ticks[2] != 10800 {
		t.Fatalf("ticks = %v", ticks)
	}
}

func TestRunsAreRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	reg, _ := setup(t, "* * * * *")
	rec := &recorder{fail: map[int64]error{1: errors.New("nope")}}
	n := 0
	k := New(reg, rec, WithStore(st), WithRunIDs(func() string {
		n++
		return "run-" + strconv.Itoa(n)
	}))
	if _, err := k.Execute(ctx, 1, t0+60); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rec.fail = nil
	if _, err := k.Execute(ctx, 1, t0+120); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || !runs[0].Success || runs[1].Success || runs[1].Error != "nope" {
		t.Fatalf("runs = %+v", runs)
	}
	if rec.calls[0].RunID != "run-1" || rec.calls[0].Tick != t0+60 {
		t.Fatalf("call = %+v", rec.calls[0])
	}
}

func TestPanickingTargetTripsBreaker(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t, "* * * * *")
	calls := 0
	br := invoke.NewBreaker(invoke.Func(func(ctx context.Context, c invoke.Call) error {
		calls++
		panic("boom")
	}), invoke.BreakerConfig{Trip: 2, BaseDelay: time.Hour})
	k := New(reg, br)
	ctx := context.Background()

	for i, tick := range []int64{t0 + 60, t0 + 120} {
		res, err := k.Execute(ctx, 1, tick)
		if err != nil || !res.Panicked {
			t.Fatalf("tick %d: %+v, %v", i, res, err)
		}
	}
	res, err := k.Execute(ctx, 1, t0+180)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Panicked || !strings.Contains(res.Error, "circuit open") {
		t.Fatalf("Result = %+v, want refused by open circuit", res)
	}
	if calls != 2 {
		t.Fatalf("target called %d times", calls)
	}
	if j, _ := reg.Get(1); j.NextTick != t0+240 {
		t.Fatalf("NextTick = +%d, want tick consumed", j.NextTick-t0)
	}
}
