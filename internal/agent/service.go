package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"cronkeeper/internal/keeper"
	logx "cronkeeper/pkg/logx"
)

// Config is the runtime agent config (already defaulted).
type Config struct {
	Enabled    bool
	Trigger    string
	Budget     int
	RatePerSec int
}

// Keeper is the part of *keeper.Keeper the agent drives.
type Keeper interface {
	Now() int64
	Poll(now int64, seed uint64) (keeper.Due, bool)
	Execute(ctx context.Context, id, tick int64) (keeper.Result, error)
}

// PassReport summarizes one pass.
type PassReport struct {
	Executed int           `json:"executed"`
	Failed   int           `json:"failed"`
	Stale    int           `json:"stale"`
	Skipped  bool          `json:"skipped,omitempty"` // another pass was running
	Took     time.Duration `json:"took"`
}

type Snapshot struct {
	Enabled    bool      `json:"enabled"`
	Running    bool      `json:"running"`
	Trigger    string    `json:"trigger"`
	Budget     int       `json:"budget"`
	RatePerSec int       `json:"rate_per_sec"`
	Next       time.Time `json:"next,omitempty"`
	Prev       time.Time `json:"prev,omitempty"`

	Passes     uint64    `json:"passes"`
	Overlaps   uint64    `json:"overlaps"`
	Executed   uint64    `json:"executed"`
	Failed     uint64    `json:"failed"`
	LastPassAt time.Time `json:"last_pass_at,omitempty"`
}

// Service fires passes on its trigger. A pass polls with an incrementing
// seed so simultaneously due jobs are served in rotation.
type Service struct {
	kp  Keeper
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	limiter *rate.Limiter
	ctx     context.Context

	seed    atomic.Uint64
	inPass  atomic.Bool
	passes  atomic.Uint64
	overlap atomic.Uint64
	execs   atomic.Uint64
	fails   atomic.Uint64
	lastAt  atomic.Int64
}

func New(cfg Config, kp Keeper, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		kp:      kp,
		log:     log.With(logx.String("comp", "agent")),
		cfg:     cfg,
		limiter: rate.NewLimiter(limitOf(cfg.RatePerSec), 1),
	}
}

func limitOf(perSec int) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// Start begins triggering if the config enables it. ctx bounds every pass.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	trig, err := ParseTrigger(s.cfg.Trigger)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := s.ctx
	id := c.Schedule(trig.Schedule, cron.FuncJob(func() { s.RunPass(ctx) }))
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("agent started",
		logx.String("trigger", s.cfg.Trigger),
		logx.String("source", trig.Source),
		logx.Int("budget", s.cfg.Budget),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

func (s *Service) stopLocked(ctx context.Context) {
	c := s.c
	s.c, s.entry = nil, 0
	if c == nil {
		return
	}
	s.mu.Unlock()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.mu.Lock()
}

// Stop halts triggering and waits for a running pass, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopLocked(ctx)
	s.mu.Unlock()
	s.log.Info("agent stopped")
}

// Apply swaps in a new config, restarting the trigger if it changed.
// An invalid trigger leaves the agent stopped and is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	s.limiter.SetLimit(limitOf(cfg.RatePerSec))
	if s.ctx == nil {
		return nil
	}
	if s.c != nil && (!cfg.Enabled || cfg.Trigger != old.Trigger) {
		s.stopLocked(s.ctx)
	}
	if cfg.Enabled && s.c == nil {
		return s.startLocked()
	}
	return nil
}

// RunPass polls and executes until nothing is due or the budget is spent.
// Concurrent calls are skipped rather than queued.
func (s *Service) RunPass(ctx context.Context) PassReport {
	if !s.inPass.CompareAndSwap(false, true) {
		s.overlap.Add(1)
		s.log.Debug("pass skipped; previous pass still running")
		return PassReport{Skipped: true}
	}
	defer s.inPass.Store(false)

	s.mu.Lock()
	budget := s.cfg.Budget
	lim := s.limiter
	s.mu.Unlock()
	if budget <= 0 {
		budget = 1
	}

	start := time.Now()
	var rep PassReport
	for i := 0; i < budget; i++ {
		if err := lim.Wait(ctx); err != nil {
			break
		}
		d, ok := s.kp.Poll(s.kp.Now(), s.seed.Add(1)-1)
		if !ok {
			break
		}
		res, err := s.kp.Execute(ctx, d.ID, d.Tick)
		switch {
		case errors.Is(err, keeper.ErrStaleTick), errors.Is(err, keeper.ErrJobNotFound):
			// Lost a race with another executor; poll again.
			rep.Stale++
		case err != nil:
			s.log.Warn("execute failed", logx.Int64("job_id", d.ID), logx.Err(err))
			rep.Failed++
		case !res.Success:
			rep.Failed++
		default:
			rep.Executed++
		}
	}
	rep.Took = time.Since(start)

	s.passes.Add(1)
	s.execs.Add(uint64(rep.Executed))
	s.fails.Add(uint64(rep.Failed))
	s.lastAt.Store(start.Unix())
	if rep.Executed+rep.Failed > 0 {
		s.log.Debug("pass done",
			logx.Int("executed", rep.Executed),
			logx.Int("failed", rep.Failed),
			logx.Int("stale", rep.Stale),
			logx.Duration("took", rep.Took),
		)
	}
	return rep
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:    s.cfg.Enabled,
		Running:    s.c != nil,
		Trigger:    s.cfg.Trigger,
		Budget:     s.cfg.Budget,
		RatePerSec: s.cfg.RatePerSec,
	}
	if s.c != nil {
		e := s.c.Entry(s.entry)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	s.mu.Unlock()

	snap.Passes = s.passes.Load()
	snap.Overlaps = s.overlap.Load()
	snap.Executed = s.execs.Load()
	snap.Failed = s.fails.Load()
	if at := s.lastAt.Load(); at != 0 {
		snap.LastPassAt = time.Unix(at, 0).UTC()
	}
	return snap
}

// cronLogger routes robfig/cron's logr-style logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
