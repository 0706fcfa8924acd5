package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"gpvbot/internal/schedule"
	kit "gpvbot/internal/transport"
	logx "gpvbot/pkg/logx"
)

func (b *Bot) reply(ctx context.Context, req *Request, text string, keyboard [][]string) error {
	opt := &kit.SendOptions{ParseMode: parseModeHTML, DisablePreview: true, Keyboard: keyboard}
	_, err := b.deps.Sender.SendText(ctx, req.Chat, text, opt)
	return err
}

// enabled reads the flag for keyboard rendering; storage errors fall back to
// the default.
func (b *Bot) enabled(ctx context.Context, chatID int64) bool {
	on, err := b.deps.Subscribers.Enabled(ctx, chatID)
	if err != nil {
		b.log.Warn("read subscriber failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return true
	}
	return on
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	if err := b.deps.Subscribers.Upsert(ctx, req.Chat.ChatID, true); err != nil {
		_ = b.reply(ctx, req, textStorageFailed, nil)
		return fmt.Errorf("subscribe: %w", err)
	}
	b.log.Info("subscriber started", logx.Int64("chat_id", req.Chat.ChatID), logx.String("username", req.Message.FromUsername))
	return b.reply(ctx, req, fmt.Sprintf(textGreeting, html.EscapeString(b.deps.Group)), Keyboard(true))
}

func (b *Bot) handleDay(offset int) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		now := b.deps.Now().In(b.deps.Location)
		date := now.AddDate(0, 0, offset)

		day, err := b.deps.Schedule.Fetch(ctx, date)
		switch {
		case errors.Is(err, schedule.ErrNotFound):
			text := textTodayMissing
			if offset > 0 {
				text = textTomorrowMissing
			}
			return b.reply(ctx, req, text, nil)
		case err != nil:
			b.log.Warn("schedule query failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
			return b.reply(ctx, req, textUnavailable, nil)
		}
		return b.reply(ctx, req, FormatDay(day), nil)
	}
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	on := b.enabled(ctx, req.Chat.ChatID)
	state := textStatusOn
	if !on {
		state = textStatusOff
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Сповіщення: %s\n👥 Група: %s", state, html.EscapeString(b.deps.Group))
	if b.deps.Status != nil {
		if last, ok := b.deps.Status.LastTick(); ok && !last.StartedAt.IsZero() {
			fmt.Fprintf(&sb, "\n🕒 Остання перевірка: %s", last.StartedAt.In(b.deps.Location).Format("02.01 15:04:05"))
		}
	}
	return b.reply(ctx, req, sb.String(), Keyboard(on))
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, textHelp, Keyboard(b.enabled(ctx, req.Chat.ChatID)))
}

func (b *Bot) handleToggle(enable bool) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if err := b.deps.Subscribers.SetEnabled(ctx, req.Chat.ChatID, enable); err != nil {
			_ = b.reply(ctx, req, textStorageFailed, nil)
			return fmt.Errorf("set enabled: %w", err)
		}
		b.log.Info("notifications toggled", logx.Int64("chat_id", req.Chat.ChatID), logx.Bool("enabled", enable))
		text := textDisabled
		if enable {
			text = textEnabled
		}
		return b.reply(ctx, req, text, Keyboard(enable))
	}
}

func (b *Bot) handleUnknown(ctx context.Context, req *Request) error {
	// Unknown slash commands and group chatter are ignored.
	if strings.HasPrefix(req.Command, "/") || req.Chat.ChatID < 0 {
		return nil
	}
	return b.reply(ctx, req, textUnknown, Keyboard(b.enabled(ctx, req.Chat.ChatID)))
}
