package invoke

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	logx "cronkeeper/pkg/logx"
)

func TestSplitTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, scheme, addr string
		ok               bool
	}{
		{"log:heartbeat", "log", "heartbeat", true},
		{"Telegram:-100123/7", "telegram", "-100123/7", true},
		{" systemd: nginx ", "systemd", "nginx", true},
		{"nocolon", "", "", false},
		{":x", "", "", false},
	}
	for _, tt := range tests {
		s, a, err := SplitTarget(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("SplitTarget(%q) err = %v", tt.in, err)
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("SplitTarget(%q) err = %v, want ErrInvalidTarget", tt.in, err)
			}
			continue
		}
		if s != tt.scheme || a != tt.addr {
			t.Fatalf("SplitTarget(%q) = %q, %q", tt.in, s, a)
		}
	}
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()
	var got []string
	r := NewRouter()
	r.Handle("log", NewLog(logx.Nop()))
	r.Handle("test", Func(func(ctx context.Context, c Call) error {
		got = append(got, c.Target+"|"+c.Handler)
		return nil
	}))

	ctx := context.Background()
	if err := r.Invoke(ctx, Call{Target: "test:a", Handler: "h"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := r.Invoke(ctx, Call{Target: "log:a"}); err != nil {
		t.Fatalf("Invoke log: %v", err)
	}
	if err := r.Invoke(ctx, Call{Target: "ftp:x"}); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("unknown scheme err = %v", err)
	}
	if len(got) != 1 || got[0] != "test:a|h" {
		t.Fatalf("calls = %v", got)
	}
	if s := r.Schemes(); len(s) != 2 || s[0] != "log" || s[1] != "test" {
		t.Fatalf("Schemes = %v", s)
	}
	r.Handle("test", nil)
	if err := r.Check("test:a"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("Check after removal = %v", err)
	}
}

type fakeBot struct {
	mu   sync.Mutex
	to   []int64
	text []string
	opts []*tele.SendOptions
	err  error
}

func (b *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	chat := to.(*tele.Chat)
	b.to = append(b.to, chat.ID)
	b.text = append(b.text, what.(string))
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			b.opts = append(b.opts, so)
		}
	}
	return &tele.Message{ID: len(b.to)}, nil
}

func TestTelegramInvoke(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	tg := &Telegram{bot: bot}
	ctx := context.Background()

	if err := tg.Invoke(ctx, Call{JobID: 3, Target: "telegram:-1001/42", Handler: "backup done"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := tg.Invoke(ctx, Call{JobID: 4, Target: "telegram:55", Tick: 60}); err != nil {
		t.Fatalf("Invoke default text: %v", err)
	}
	if bot.to[0] != -1001 || bot.opts[0].ThreadID != 42 || bot.text[0] != "backup done" {
		t.Fatalf("first send = %d %+v %q", bot.to[0], bot.opts[0], bot.text[0])
	}
	if bot.to[1] != 55 || bot.opts[1].ThreadID != 0 || !strings.Contains(bot.text[1], "#4") {
		t.Fatalf("second send = %d %q", bot.to[1], bot.text[1])
	}

	for _, bad := range []string{"telegram:", "telegram:abc", "telegram:1/x", "telegram:1/-2"} {
		if err := tg.Invoke(ctx, Call{Target: bad}); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("Invoke(%q) = %v, want ErrInvalidTarget", bad, err)
		}
	}

	bot.err = errors.New("429 too many requests")
	if err := tg.Invoke(ctx, Call{Target: "telegram:1", Handler: "x"}); err == nil {
		t.Fatal("send error was swallowed")
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 5) // 10 bytes
	if got := truncateUTF8(s, 5); got != "éé" {
		t.Fatalf("truncateUTF8 = %q", got)
	}
}

type fakeUnits struct {
	mu     sync.Mutex
	calls  []string
	result string
	closed int
}

func (f *fakeUnits) record(op, name string, ch chan<- string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+name)
	res := f.result
	f.mu.Unlock()
	if res == "" {
		res = "done"
	}
	ch <- res
	return len(f.calls), nil
}

func (f *fakeUnits) StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.record("start", name, ch)
}

func (f *fakeUnits) StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.record("stop", name, ch)
}

func (f *fakeUnits) RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.record("restart", name, ch)
}

func (f *fakeUnits) Close() { f.closed++ }

func TestSystemdInvoke(t *testing.T) {
	t.Parallel()
	units := &fakeUnits{}
	dials := 0
	s := NewSystemd([]string{"nginx", "backup.timer"})
	s.dial = func(ctx context.Context) (unitConn, error) {
		dials++
		return units, nil
	}
	ctx := context.Background()

	for _, c := range []Call{
		{Target: "systemd:nginx", Handler: "restart"},
		{Target: "systemd:nginx.service", Handler: "Stop"},
		{Target: "systemd:backup.timer", Handler: "start"},
	} {
		if err := s.Invoke(ctx, c); err != nil {
			t.Fatalf("Invoke(%+v): %v", c, err)
		}
	}
	want := []string{"restart nginx.service", "stop nginx.service", "start backup.timer"}
	if strings.Join(units.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v", units.calls)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}

	if err := s.Invoke(ctx, Call{Target: "systemd:sshd", Handler: "stop"}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("disallowed unit err = %v", err)
	}
	if err := s.Invoke(ctx, Call{Target: "systemd:nginx", Handler: "reload"}); !errors.Is(err, ErrInvalidHandler) {
		t.Fatalf("bad action err = %v", err)
	}

	units.result = "failed"
	if err := s.Invoke(ctx, Call{Target: "systemd:nginx", Handler: "start"}); err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("failed job err = %v", err)
	}
	s.Close()
	if units.closed != 1 {
		t.Fatalf("closed = %d", units.closed)
	}
}
