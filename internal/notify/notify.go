package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"chatwatch/internal/model"
	"chatwatch/internal/rules"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers match notifications to a single Telegram chat.
// Sends are rate limited (Telegram allows roughly 20 messages per second)
// and retried a bounded number of times; a delivery failure is reported to
// the caller but never rolls back the durable match record.
type Telegram struct {
	api     telegramAPI
	chatID  int64
	aliases map[string]string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewTelegram creates a Telegram notifier on an existing bot API client.
func NewTelegram(api *tgbotapi.BotAPI, chatID int64, aliases map[string]string, log *slog.Logger) *Telegram {
	return newTelegram(api, chatID, aliases, log)
}

func newTelegram(api telegramAPI, chatID int64, aliases map[string]string, log *slog.Logger) *Telegram {
	return &Telegram{
		api:     api,
		chatID:  chatID,
		aliases: aliases,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		log:     log,
	}
}

// Notify formats and sends one match notification.
func (t *Telegram) Notify(ctx context.Context, msg model.Message, match rules.Match, snippet string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	out := tgbotapi.NewMessage(t.chatID, FormatNotification(msg, match, snippet, t.aliases))
	out.ParseMode = tgbotapi.ModeMarkdown
	out.DisableWebPagePreview = true

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := t.api.Send(out); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	t.log.Debug("notification sent", "source", msg.SourceKey, "rule", match.RuleName)
	return nil
}
