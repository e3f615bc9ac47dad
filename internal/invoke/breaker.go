package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling a target that failed
// Trip times in a row and is still cooling down.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig configures a consecutive-failure circuit breaker.
// Zero fields take defaults; Trip < 0 disables the breaker.
type BreakerConfig struct {
	Trip       int           // default 5
	BaseDelay  time.Duration // default 5s
	MaxDelay   time.Duration // default 2m
	ResetAfter time.Duration // default 5m
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Trip == 0 {
		c.Trip = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

type circuit struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// Breaker wraps an Invoker with one circuit per target. While a circuit is
// open calls fail fast with ErrCircuitOpen; the keeper still consumes the
// tick, so a dead target never stalls its schedule.
type Breaker struct {
	next Invoker
	now  func() time.Time

	mu       sync.Mutex
	cfg      BreakerConfig
	circuits map[string]*circuit
}

func NewBreaker(next Invoker, cfg BreakerConfig) *Breaker {
	return &Breaker{
		next:     next,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		circuits: map[string]*circuit{},
	}
}

// SetConfig replaces the thresholds; existing circuit state is kept.
func (b *Breaker) SetConfig(cfg BreakerConfig) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

// Invoke calls the wrapped invoker unless the target's circuit is open. A
// panicking target counts as a failure and the panic is re-raised for the
// caller to recover.
func (b *Breaker) Invoke(ctx context.Context, c Call) error {
	if until, open := b.open(c.Target); open {
		return fmt.Errorf("%w for %s until %s", ErrCircuitOpen, c.Target, until.UTC().Format(time.RFC3339))
	}
	defer func() {
		if r := recover(); r != nil {
			b.record(c.Target, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err := b.next.Invoke(ctx, c)
	b.record(c.Target, err)
	return err
}

// CircuitStats counts targets with recent failures and those refused right
// now.
type CircuitStats struct {
	Tracked int `json:"tracked"`
	Open    int `json:"open"`
}

func (b *Breaker) Stats() CircuitStats {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := CircuitStats{Tracked: len(b.circuits)}
	for _, c := range b.circuits {
		if now.Before(c.openUntil) {
			st.Open++
		}
	}
	return st
}

func (b *Breaker) open(target string) (time.Time, bool) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.Trip < 0 {
		return time.Time{}, false
	}
	st := b.circuits[target]
	if st == nil {
		return time.Time{}, false
	}
	b.expireLocked(st, now)
	if now.Before(st.openUntil) {
		return st.openUntil, true
	}
	return time.Time{}, false
}

func (b *Breaker) record(target string, err error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.Trip < 0 {
		return
	}
	st := b.circuits[target]
	if err == nil {
		// Success closes the circuit; healthy targets are not tracked.
		delete(b.circuits, target)
		return
	}
	if st == nil {
		st = &circuit{}
		b.circuits[target] = st
	}
	b.expireLocked(st, now)
	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.Trip {
		return
	}
	d := b.cfg.BaseDelay
	for i := st.fails - b.cfg.Trip; i > 0 && d < b.cfg.MaxDelay; i-- {
		d *= 2
	}
	if d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	st.openUntil = now.Add(d)
}

// expireLocked forgets failures older than ResetAfter.
func (b *Breaker) expireLocked(st *circuit, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.ResetAfter {
		*st = circuit{}
	}
}
