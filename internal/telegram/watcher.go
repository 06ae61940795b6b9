package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatwatch/internal/model"
	"chatwatch/internal/pipeline"
)

// longPollTimeout is the getUpdates timeout in seconds. Kept short enough
// that shutdown does not hang on an idle poll.
const longPollTimeout = 25

// pollRetryDelay spaces out polls after a transport error.
const pollRetryDelay = 3 * time.Second

type requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Submitter receives live messages for per-source sequential processing.
type Submitter interface {
	Submit(ctx context.Context, msg model.Message)
}

// Watcher consumes the live update stream via long polling and feeds mapped
// messages into the pipeline lanes.
type Watcher struct {
	api   requester
	lanes Submitter
	log   *slog.Logger
}

// NewWatcher creates a Watcher on an existing bot API client.
func NewWatcher(api *tgbotapi.BotAPI, lanes Submitter, log *slog.Logger) *Watcher {
	return &Watcher{api: api, lanes: lanes, log: log}
}

// Run blocks consuming updates until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info("listening for messages")

	var offset int64
	for ctx.Err() == nil {
		batch, err := w.poll(offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for i := range batch {
			u := &batch[i]
			offset = u.UpdateID + 1
			msg, ok := Map(u)
			if !ok {
				continue
			}
			w.lanes.Submit(ctx, msg)
		}
	}
}

// poll issues one getUpdates call against the raw endpoint so fields the
// library does not model yet still come through.
func (w *Watcher) poll(offset int64) ([]update, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("offset", offset)
	params.AddNonZero("timeout", longPollTimeout)
	if err := params.AddInterface("allowed_updates", []string{"message", "channel_post"}); err != nil {
		return nil, fmt.Errorf("encode allowed_updates: %w", err)
	}

	resp, err := w.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var batch []update
	if err := json.Unmarshal(resp.Result, &batch); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return batch, nil
}

// History implements the catch-up boundary. The Bot API exposes no way to
// read a chat's past messages, so every source reports history unavailable
// and catch-up proceeds without replay.
func (w *Watcher) History(ctx context.Context, sourceKey string, limit int) ([]model.Message, error) {
	return nil, pipeline.ErrHistoryUnavailable
}
