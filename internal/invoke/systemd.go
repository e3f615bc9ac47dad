package invoke

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// unitConn is the subset of *dbus.Conn used to control units.
type unitConn interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd runs "start", "stop" or "restart" (the job handler) against the
// unit named by "systemd:<unit>". A bare unit name gets a ".service" suffix.
// When an allow list is set, other units are refused.
type Systemd struct {
	dial func(ctx context.Context) (unitConn, error)

	mu      sync.Mutex
	conn    unitConn
	allowed map[string]struct{}
}

// NewSystemd connects lazily to the system bus on first use.
func NewSystemd(allowed []string) *Systemd {
	s := &Systemd{
		dial: func(ctx context.Context) (unitConn, error) {
			conn, err := dbus.NewSystemConnectionContext(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
	s.SetAllowed(allowed)
	return s
}

// SetAllowed replaces the unit allow list. Empty means any unit.
func (s *Systemd) SetAllowed(units []string) {
	m := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u = unitName(u); u != "" {
			m[u] = struct{}{}
		}
	}
	s.mu.Lock()
	s.allowed = m
	s.mu.Unlock()
}

func (s *Systemd) Invoke(ctx context.Context, c Call) error {
	_, addr, err := SplitTarget(c.Target)
	if err != nil {
		return err
	}
	unit := unitName(addr)
	if unit == "" {
		return fmt.Errorf("%w: empty systemd unit", ErrInvalidTarget)
	}
	if !s.isAllowed(unit) {
		return fmt.Errorf("%w: unit %s is not in systemd.units", ErrInvalidTarget, unit)
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	var op func(context.Context, string, string, chan<- string) (int, error)
	switch action := strings.ToLower(strings.TrimSpace(c.Handler)); action {
	case "start":
		op = conn.StartUnitContext
	case "stop":
		op = conn.StopUnitContext
	case "restart", "":
		op = conn.RestartUnitContext
	default:
		return fmt.Errorf("%w: systemd action %q (want start, stop or restart)", ErrInvalidHandler, action)
	}

	done := make(chan string, 1)
	if _, err := op(ctx, unit, "replace", done); err != nil {
		s.reset()
		return fmt.Errorf("systemd %s: %w", unit, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("systemd %s: job %s", unit, result)
		}
		return nil
	}
}

// Close releases the bus connection.
func (s *Systemd) Close() {
	s.reset()
}

func (s *Systemd) isAllowed(unit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[unit]
	return ok
}

func (s *Systemd) connect(ctx context.Context) (unitConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("systemd dbus: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// reset drops a connection that may be broken; the next call redials.
func (s *Systemd) reset() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func unitName(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.Contains(u, ".") {
		return u
	}
	return u + ".service"
}
