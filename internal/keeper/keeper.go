// Package keeper selects due jobs and executes them exactly once per tick.
//
// Poll is a pure read: it returns one due job and the tick it is due for.
// Execute consumes that tick with a compare-and-advance on the registry and
// only then calls the job's target. A failing or panicking callback is
// recorded in the Result; it never becomes an engine error and never rolls
// the schedule back.
package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cronkeeper/internal/invoke"
	"cronkeeper/internal/registry"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

var (
	ErrJobNotFound = registry.ErrJobNotFound
	ErrStaleTick   = registry.ErrStaleTick
)

// Clock is the keeper's time source; it is the registry's by default.
type Clock = registry.Clock

// Due identifies a job and the tick it is due for. Tick must be echoed back
// to Execute unchanged.
type Due struct {
	ID   int64 `json:"id"`
	Tick int64 `json:"tick"`
}

// Result describes one execution. Success is false when the callback
// returned an error, panicked or timed out.
type Result struct {
	RunID     string        `json:"run_id"`
	JobID     int64         `json:"job_id"`
	Tick      int64         `json:"tick"`
	NextTick  int64         `json:"next_tick"`
	Target    string        `json:"target"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Panicked  bool          `json:"panicked,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

type Option func(*Keeper)

func WithClock(c Clock) Option {
	return func(k *Keeper) {
		if c != nil {
			k.clock = c
		}
	}
}

// WithStore records every execution as a storage.RunRecord.
func WithStore(st storage.Store) Option {
	return func(k *Keeper) { k.store = st }
}

func WithLogger(log logx.Logger) Option {
	return func(k *Keeper) { k.log = log }
}

// WithInvokeTimeout bounds each callback; 0 means no timeout.
func WithInvokeTimeout(d time.Duration) Option {
	return func(k *Keeper) { k.timeout = d }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(k *Keeper) {
		if fn != nil {
			k.newRunID = fn
		}
	}
}

type Keeper struct {
	reg *registry.Registry
	inv invoke.Invoker

	clock    Clock
	store    storage.Store
	log      logx.Logger
	timeout  time.Duration
	newRunID func() string
}

func New(reg *registry.Registry, inv invoke.Invoker, opts ...Option) *Keeper {
	k := &Keeper{
		reg:      reg,
		inv:      inv,
		clock:    reg.Clock(),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(k)
	}
	if k.log.IsZero() {
		k.log = logx.Nop()
	}
	k.log = k.log.With(logx.String("comp", "keeper"))
	return k
}

// Now returns the keeper's current instant.
func (k *Keeper) Now() int64 { return k.clock.Now() }

// DueJobs lists jobs with NextTick <= now in active-id order.
func (k *Keeper) DueJobs(now int64) []Due {
	var due []Due
	k.reg.Visit(func(j *registry.Job) bool {
		if j.NextTick <= now {
			due = append(due, Due{ID: j.ID, Tick: j.NextTick})
		}
		return true
	})
	return due
}

// Poll picks due[seed % len(due)]. Advancing the seed between polls rotates
// through simultaneously due jobs. It reports false when nothing is due.
func (k *Keeper) Poll(now int64, seed uint64) (Due, bool) {
	due := k.DueJobs(now)
	if len(due) == 0 {
		return Due{}, false
	}
	return due[seed%uint64(len(due))], true
}

// Execute runs job id for matchedTick. It fails with ErrJobNotFound or
// ErrStaleTick before anything is invoked; otherwise the tick is consumed
// and the callback outcome is reported in Result.
func (k *Keeper) Execute(ctx context.Context, id, matchedTick int64) (Result, error) {
	job, err := k.reg.Claim(ctx, id, matchedTick)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RunID:     k.newRunID(),
		JobID:     job.ID,
		Tick:      matchedTick,
		NextTick:  job.NextTick,
		Target:    job.Target,
		StartedAt: time.Now(),
	}
	call := invoke.Call{
		RunID:   res.RunID,
		JobID:   job.ID,
		Target:  job.Target,
		Handler: job.Handler,
		Tick:    matchedTick,
	}

	cerr, panicked := k.invoke(ctx, call)
	res.Duration = time.Since(res.StartedAt)
	res.Success = cerr == nil
	res.Panicked = panicked
	if cerr != nil {
		res.Error = cerr.Error()
	}

	fields := []logx.Field{
		logx.Int64("job_id", job.ID),
		logx.String("run_id", res.RunID),
		logx.String("target", job.Target),
		logx.Int64("tick", matchedTick),
		logx.Int64("next_tick", job.NextTick),
		logx.Duration("took", res.Duration),
	}
	if res.Success {
		k.log.Info("job executed", fields...)
	} else {
		k.log.Warn("job callback failed", append(fields, logx.Err(cerr), logx.Bool("panicked", panicked))...)
	}

	if k.store != nil {
		if err := k.store.AppendRun(ctx, res.record()); err != nil {
			k.log.Warn("run record failed", logx.String("run_id", res.RunID), logx.Err(err))
		}
	}
	return res, nil
}

func (k *Keeper) invoke(ctx context.Context, c invoke.Call) (err error, panicked bool) {
	if k.inv == nil {
		return fmt.Errorf("no invoker configured"), false
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("job callback panicked",
				logx.Int64("job_id", c.JobID),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 16)),
			)
			err = fmt.Errorf("panic: %v", r)
			panicked = true
		}
	}()
	if err := k.inv.Invoke(ctx, c); err != nil {
		return err, false
	}
	// A callback that ignores its context still counts as failed when the
	// deadline passed.
	if k.timeout > 0 && ctx.Err() != nil {
		return ctx.Err(), false
	}
	return nil, false
}

func (r Result) record() storage.RunRecord {
	return storage.RunRecord{
		RunID:     r.RunID,
		JobID:     r.JobID,
		Tick:      r.Tick,
		Target:    r.Target,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Success:   r.Success,
		Error:     r.Error,
		Panicked:  r.Panicked,
		NextTick:  r.NextTick,
	}
}
