package invoke

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches calls to the Invoker registered for the target scheme.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Invoker
}

func NewRouter() *Router {
	return &Router{routes: map[string]Invoker{}}
}

// Handle registers inv for scheme, replacing any previous registration.
// A nil inv removes the scheme.
func (r *Router) Handle(scheme string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv == nil {
		delete(r.routes, scheme)
		return
	}
	r.routes[scheme] = inv
}

// Schemes lists registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check reports whether target has a registered scheme.
func (r *Router) Check(target string) error {
	_, err := r.lookup(target)
	return err
}

func (r *Router) Invoke(ctx context.Context, c Call) error {
	inv, err := r.lookup(c.Target)
	if err != nil {
		return err
	}
	return inv.Invoke(ctx, c)
}

func (r *Router) lookup(target string) (Invoker, error) {
	scheme, _, err := SplitTarget(target)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	inv, ok := r.routes[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, scheme)
	}
	return inv, nil
}
