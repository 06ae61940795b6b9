package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatwatch/internal/model"
	"chatwatch/internal/rules"
)

type fakeAPI struct {
	sent     []tgbotapi.MessageConfig
	failures int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func testMatchMessage() (model.Message, rules.Match) {
	msg := model.Message{
		SourceKey:     "@team",
		BaseSourceKey: "@team",
		MessageID:     42,
		Date:          time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
	}
	return msg, rules.Match{RuleName: "leak", Reason: "keyword(s): breach"}
}

func TestNotifySends(t *testing.T) {
	api := &fakeAPI{}
	n := newTelegram(api, 555, map[string]string{"@team": "Team"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg, match := testMatchMessage()

	if err := n.Notify(context.Background(), msg, match, "snippet"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(api.sent))
	}
	out := api.sent[0]
	if out.ChatID != 555 {
		t.Errorf("chat id = %d, want 555", out.ChatID)
	}
	if out.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("parse mode = %q, want markdown", out.ParseMode)
	}
	if !out.DisableWebPagePreview {
		t.Error("web page preview not disabled")
	}
	if !strings.Contains(out.Text, "Team (@team)") {
		t.Errorf("body missing source label:\n%s", out.Text)
	}
}

func TestNotifyRetriesTransientFailure(t *testing.T) {
	api := &fakeAPI{failures: 1}
	n := newTelegram(api, 555, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg, match := testMatchMessage()

	if err := n.Notify(context.Background(), msg, match, "snippet"); err != nil {
		t.Fatalf("notify after one transient failure: %v", err)
	}
	if len(api.sent) != 1 {
		t.Errorf("sends = %d, want 1", len(api.sent))
	}
}

func TestNotifyGivesUpEventually(t *testing.T) {
	api := &fakeAPI{failures: 10}
	n := newTelegram(api, 555, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg, match := testMatchMessage()

	if err := n.Notify(context.Background(), msg, match, "snippet"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(api.sent) != 0 {
		t.Errorf("sends = %d, want 0", len(api.sent))
	}
}
