// Package registry owns the set of scheduled jobs: id assignment, the
// active-id index and each job's cached next tick.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cronkeeper/internal/crontab"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

const DefaultMaxJobs = 100

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrExceedsMaxJobs = errors.New("exceeds max jobs")
	ErrStaleTick      = errors.New("stale or replayed tick")
	ErrEmptyTarget    = errors.New("job target is required")
)

// Clock supplies the current instant in Unix seconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// Job is a registered recurring job. Values returned by the registry are
// copies; mutate through Update.
type Job struct {
	ID        int64        `json:"id"`
	Target    string       `json:"target"`
	Handler   string       `json:"handler"`
	Expr      string       `json:"cron"`
	Spec      crontab.Spec `json:"-"`
	NextTick  int64        `json:"next_tick"`
	CreatedAt int64        `json:"created_at"`
	UpdatedAt int64        `json:"updated_at"`
}

// Definition describes a job to create, as found in configuration.
type Definition struct {
	Target  string
	Handler string
	Cron    string
}

type Option func(*Registry)

func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithMaxJobs sets the active job ceiling; n <= 0 keeps the default.
func WithMaxJobs(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxJobs = n
		}
	}
}

// WithStore makes every mutation write through to st before it is applied.
func WithStore(st storage.Store) Option {
	return func(r *Registry) { r.store = st }
}

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[int64]*Job
	order   []int64
	lastID  int64
	maxJobs int

	clock Clock
	store storage.Store
	log   logx.Logger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:    map[int64]*Job{},
		maxJobs: DefaultMaxJobs,
		clock:   SystemClock{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "registry"))
	return r
}

// Clock returns the registry's clock so collaborators share one time source.
func (r *Registry) Clock() Clock { return r.clock }

// SetMaxJobs changes the ceiling at runtime. Existing jobs are kept even if
// they exceed a lowered ceiling; only creation is refused.
func (r *Registry) SetMaxJobs(n int) {
	if n <= 0 {
		n = DefaultMaxJobs
	}
	r.mu.Lock()
	r.maxJobs = n
	r.mu.Unlock()
}

// Create compiles expr and registers a new job.
func (r *Registry) Create(ctx context.Context, target, handler, expr string) (Job, error) {
	spec, err := crontab.Compile(expr)
	if err != nil {
		return Job{}, err
	}
	return r.CreateSpec(ctx, target, handler, spec)
}

// CreateSpec registers a new job from an already compiled spec.
func (r *Registry) CreateSpec(ctx context.Context, target, handler string, spec crontab.Spec) (Job, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Job{}, ErrEmptyTarget
	}
	if err := spec.Validate(); err != nil {
		return Job{}, err
	}
	now := r.clock.Now()
	next, err := spec.Next(now)
	if err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order)+1 > r.maxJobs {
		return Job{}, fmt.Errorf("%w: limit %d", ErrExceedsMaxJobs, r.maxJobs)
	}
	j := &Job{
		ID:        r.lastID + 1,
		Target:    target,
		Handler:   handler,
		Expr:      spec.String(),
		Spec:      spec,
		NextTick:  next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if r.store != nil {
		// The counter goes first so a crash between the writes can only skip
		// an id, never reuse one.
		if err := r.store.SetLastID(ctx, j.ID); err != nil {
			return Job{}, fmt.Errorf("persist last id: %w", err)
		}
		if err := r.store.PutJob(ctx, j.record()); err != nil {
			return Job{}, fmt.Errorf("persist job %d: %w", j.ID, err)
		}
	}
	r.lastID = j.ID
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.log.Info("job created", logx.Int64("job_id", j.ID), logx.String("cron", j.Expr), logx.String("target", j.Target))
	return *j, nil
}

// Update compiles expr and replaces the job's fields. The next tick is
// recomputed from now, not from the previous next tick.
func (r *Registry) Update(ctx context.Context, id int64, target, handler, expr string) (Job, error) {
	spec, err := crontab.Compile(expr)
	if err != nil {
		return Job{}, err
	}
	return r.UpdateSpec(ctx, id, target, handler, spec)
}

func (r *Registry) UpdateSpec(ctx context.Context, id int64, target, handler string, spec crontab.Spec) (Job, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Job{}, ErrEmptyTarget
	}
	if err := spec.Validate(); err != nil {
		return Job{}, err
	}
	now := r.clock.Now()
	next, err := spec.Next(now)
	if err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	j := *cur
	j.Target = target
	j.Handler = handler
	j.Expr = spec.String()
	j.Spec = spec
	j.NextTick = next
	j.UpdatedAt = now
	if r.store != nil {
		if err := r.store.PutJob(ctx, j.record()); err != nil {
			return Job{}, fmt.Errorf("persist job %d: %w", id, err)
		}
	}
	*cur = j
	r.log.Info("job updated", logx.Int64("job_id", id), logx.String("cron", j.Expr))
	return j, nil
}

// Delete removes the job entirely; later lookups fail with ErrJobNotFound.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if r.store != nil {
		if err := r.store.DeleteJob(ctx, id); err != nil {
			return fmt.Errorf("delete job %d: %w", id, err)
		}
	}
	delete(r.jobs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("job deleted", logx.Int64("job_id", id))
	return nil
}

func (r *Registry) Get(id int64) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return *j, nil
}

// ActiveIDs returns live ids in creation order.
func (r *Registry) ActiveIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.order...)
}

// List returns copies of all live jobs in creation order.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.jobs[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// LastID returns the highest id ever assigned.
func (r *Registry) LastID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastID
}

// Visit calls fn for every live job in creation order under the read lock.
// fn must not call back into the registry.
func (r *Registry) Visit(fn func(j *Job) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if !fn(r.jobs[id]) {
			return
		}
	}
}

// Claim consumes matchedTick for job id: if it equals the job's current next
// tick, the next tick advances from matchedTick and the updated job is
// returned. Any other tick, or Never, fails with ErrStaleTick. The check and
// the advance happen under one write lock, so a tick can be claimed at most
// once.
func (r *Registry) Claim(ctx context.Context, id, matchedTick int64) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if matchedTick != cur.NextTick {
		return Job{}, fmt.Errorf("%w: job %d tick %d, current %d", ErrStaleTick, id, matchedTick, cur.NextTick)
	}
	if cur.NextTick == crontab.Never {
		return Job{}, fmt.Errorf("%w: job %d has no further tick", ErrStaleTick, id)
	}
	j := *cur
	next, err := j.Spec.Next(matchedTick)
	if err != nil {
		next = crontab.Never
	}
	j.NextTick = next
	if r.store != nil {
		if err := r.store.PutJob(ctx, j.record()); err != nil {
			return Job{}, fmt.Errorf("persist job %d: %w", id, err)
		}
	}
	*cur = j
	return j, nil
}

// Restore replaces the in-memory state with the store's contents. Stored
// next ticks are kept, so a tick missed while the process was down is still
// due exactly once.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	lastID, err := r.store.LastID(ctx)
	if err != nil {
		return fmt.Errorf("load last id: %w", err)
	}

	jobs := make(map[int64]*Job, len(recs))
	order := make([]int64, 0, len(recs))
	for _, rec := range recs {
		spec, err := crontab.Compile(rec.Expr)
		if err != nil {
			r.log.Warn("skipping stored job with invalid cron", logx.Int64("job_id", rec.ID), logx.String("cron", rec.Expr), logx.Err(err))
			continue
		}
		jobs[rec.ID] = &Job{
			ID:        rec.ID,
			Target:    rec.Target,
			Handler:   rec.Handler,
			Expr:      spec.String(),
			Spec:      spec,
			NextTick:  rec.NextTick,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
		order = append(order, rec.ID)
		lastID = max(lastID, rec.ID)
	}

	r.mu.Lock()
	r.jobs = jobs
	r.order = order
	r.lastID = lastID
	r.mu.Unlock()
	r.log.Info("registry restored", logx.Int("jobs", len(order)), logx.Int64("last_id", lastID))
	return nil
}

// Seed creates defs when the registry has never assigned an id, so
// configured jobs are installed once and later edits survive restarts.
func (r *Registry) Seed(ctx context.Context, defs []Definition) (int, error) {
	if r.LastID() != 0 {
		return 0, nil
	}
	n := 0
	for _, d := range defs {
		if _, err := r.Create(ctx, d.Target, d.Handler, d.Cron); err != nil {
			return n, fmt.Errorf("seed job %q %q: %w", d.Target, d.Cron, err)
		}
		n++
	}
	return n, nil
}

func (j Job) record() storage.JobRecord {
	return storage.JobRecord{
		ID:        j.ID,
		Target:    j.Target,
		Handler:   j.Handler,
		Expr:      j.Expr,
		NextTick:  j.NextTick,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
