// Package invoke delivers job callbacks to their targets.
//
// A target is "<scheme>:<address>". Router dispatches on the scheme to one
// Invoker per collaborator type:
//
//	log:<name>                     structured log line
//	telegram:<chat_id>[/<thread>]  message with the handler as text
//	systemd:<unit>                 start, stop or restart the unit
package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTarget  = errors.New("unknown target scheme")
	ErrInvalidTarget  = errors.New("invalid target")
	ErrInvalidHandler = errors.New("invalid handler")
)

// Call is one callback request produced by the keeper.
type Call struct {
	RunID   string
	JobID   int64
	Target  string
	Handler string
	Tick    int64
}

// Invoker runs a callback. A nil error means the callback succeeded.
type Invoker interface {
	Invoke(ctx context.Context, c Call) error
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, c Call) error

func (f Func) Invoke(ctx context.Context, c Call) error { return f(ctx, c) }

// SplitTarget splits "scheme:address". The scheme is lower-cased.
func SplitTarget(target string) (scheme, address string, err error) {
	scheme, address, ok := strings.Cut(strings.TrimSpace(target), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%w: want <scheme>:<address>, got %q", ErrInvalidTarget, target)
	}
	return scheme, strings.TrimSpace(address), nil
}
