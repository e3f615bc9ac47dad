package invoke

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

// messageSender is the part of *tele.Bot the invoker needs.
type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts the job handler as message text to
// "telegram:<chat_id>[/<thread_id>]". It also satisfies logx.Sender so the
// log sink can reuse the bot.
type Telegram struct {
	bot messageSender
}

// NewTelegram creates an offline bot (no update polling); it only sends.
func NewTelegram(token string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Invoke(ctx context.Context, c Call) error {
	_, addr, err := SplitTarget(c.Target)
	if err != nil {
		return err
	}
	chatID, threadID, err := parseChatAddress(addr)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(c.Handler)
	if text == "" {
		text = fmt.Sprintf("cron job #%d fired at %s", c.JobID, time.Unix(c.Tick, 0).UTC().Format(time.RFC3339))
	}
	return t.SendText(ctx, chatID, threadID, text)
}

// SendText sends text to a chat, optionally inside a forum thread.
func (t *Telegram) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	}
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, truncateUTF8(text, telegramTextLimit), opt)
	return err
}

func parseChatAddress(addr string) (int64, int, error) {
	chat, thread, hasThread := strings.Cut(addr, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("%w: bad telegram chat id %q", ErrInvalidTarget, chat)
	}
	if !hasThread {
		return chatID, 0, nil
	}
	threadID, err := strconv.Atoi(strings.TrimSpace(thread))
	if err != nil || threadID <= 0 {
		return 0, 0, fmt.Errorf("%w: bad telegram thread id %q", ErrInvalidTarget, thread)
	}
	return chatID, threadID, nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
