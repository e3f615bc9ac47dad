package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a log line to a chat. The telegram invoker implements it,
// so log forwarding and job callbacks share one bot session.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

const (
	chatQueueSize   = 256
	chatMaxMessage  = 3500
	chatMaxValue    = 600
	chatMaxStack    = 900
	chatSendTimeout = 10 * time.Second
)

// Keys shown first in a chat message, in this order. Everything else
// follows sorted by key.
var chatKeyOrder = []string{"job_id", "target", "tick", "run_id", "err", "comp"}

type chatItem struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog.LevelWriter that formats records for a chat and
// sends them from one goroutine. It never blocks logging: records past the
// rate limit or a full queue are dropped.
type chatSink struct {
	sender Sender
	queue  chan chatItem

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{
		sender: sender,
		queue:  make(chan chatItem, chatQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.threadID = cfg.ThreadID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled && c.sender != nil {
		c.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.cancel = cancel
			c.mu.Unlock()
			go c.run(ctx)
		})
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			if err := c.sender.SendText(sctx, it.chatID, it.threadID, it.text); err != nil {
				// Logging the failure would feed it back into this sink.
				fmt.Fprintf(os.Stderr, "logx: chat send failed: %v\n", err)
			}
			cancel()
		}
	}
}

func (c *chatSink) stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		// Give queued records a moment to go out.
		deadline := time.Now().Add(time.Second)
		for len(c.queue) > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
		<-c.done
	})
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.NoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, threadID, minLevel, lim := c.chatID, c.threadID, c.minLevel, c.limiter
	c.mu.Unlock()

	if c.sender == nil || chatID == 0 || level < minLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		return len(p), nil
	}
	text := formatChat(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{chatID: chatID, threadID: threadID, text: text}:
	default:
	}
	return len(p), nil
}

// formatChat turns one JSON record into "[LEVEL] message" followed by one
// "- key=value" line per field.
func formatChat(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return truncate(string(p), chatMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)
	delete(m, zerolog.CallerFieldName)
	stack, hasStack := m["stack"]
	delete(m, "stack")

	for _, k := range chatKeys(m) {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), chatMaxValue))
	}
	if hasStack {
		b.WriteString("\n- stack=\n")
		b.WriteString(truncate(fmt.Sprint(stack), chatMaxStack))
	}
	return truncate(b.String(), chatMaxMessage)
}

func chatKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(chatKeyOrder))
	for _, k := range chatKeyOrder {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
