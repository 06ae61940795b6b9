package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chatwatch/internal/config"
	"chatwatch/internal/model"
	"chatwatch/internal/sourcekey"
	"chatwatch/internal/storage"
)

// ErrHistoryUnavailable is returned by history fetchers whose backing
// transport exposes no message history. Catch-up skips such sources.
var ErrHistoryUnavailable = errors.New("message history unavailable")

// HistoryFetcher is the boundary to the external message source's historical
// fetch: up to limit messages for the configured source key, newest first.
type HistoryFetcher interface {
	History(ctx context.Context, sourceKey string, limit int) ([]model.Message, error)
}

// Reconciler replays recent history through the pipeline at startup so
// messages that arrived while the process was down are not lost.
type Reconciler struct {
	store   storage.Storage
	proc    *Processor
	fetcher HistoryFetcher
	lanes   *Lanes
	cfg     config.CatchupConfig
	log     *slog.Logger
}

// NewReconciler builds the catch-up reconciler.
func NewReconciler(
	store storage.Storage,
	proc *Processor,
	fetcher HistoryFetcher,
	lanes *Lanes,
	cfg config.CatchupConfig,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{store: store, proc: proc, fetcher: fetcher, lanes: lanes, cfg: cfg, log: log}
}

// Run reconciles every enabled source and returns when all are caught up.
// Live messages arriving during a source's replay are buffered by its held
// lane and processed afterwards, preserving per-source ordering. A failure
// for one source never blocks the others.
func (r *Reconciler) Run(ctx context.Context, sources []model.Source) error {
	if !r.cfg.Enabled {
		return nil
	}

	marks, err := r.store.ListWatermarks(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		src := src
		watermark, tracked := trackedWatermark(src.Key, marks)

		// Lanes run per delivered base key, which may be any chat-id
		// variant of the configured spelling; hold every form so live
		// delivery cannot interleave with this source's replay.
		base, _ := sourcekey.Split(src.Key)
		laneKeys := sourcekey.ExpandVariants(base)
		for _, key := range laneKeys {
			r.lanes.Hold(ctx, key)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				for _, key := range laneKeys {
					r.lanes.Release(key)
				}
			}()
			if tracked {
				r.replay(ctx, src, watermark)
			} else {
				r.initialize(ctx, src)
			}
		}()
	}
	wg.Wait()

	r.log.Info("catch-up complete", "sources", len(sources))
	return nil
}

// trackedWatermark reports whether any stored watermark belongs to the
// configured source. Watermarks live under the delivered key spelling: a
// chat-id variant of the configured base, plus a topic suffix for forum
// messages, so the match runs across variants and topics rather than on the
// literal configured string. The lowest matching position is returned so
// replay never skips a topic that is further behind; the per-key watermark
// check inside Process drops whatever a specific topic already handled.
func trackedWatermark(configuredKey string, marks map[string]int64) (int64, bool) {
	cfgBase, cfgTopic := sourcekey.Split(configuredKey)
	variants := make(map[string]struct{})
	for _, v := range sourcekey.ExpandVariants(cfgBase) {
		variants[v] = struct{}{}
	}

	var lowest int64
	found := false
	for key, position := range marks {
		base, topic := sourcekey.Split(key)
		if _, ok := variants[base]; !ok {
			continue
		}
		if cfgTopic != 0 && topic != cfgTopic {
			continue
		}
		if !found || position < lowest {
			lowest = position
			found = true
		}
	}
	return lowest, found
}

// replay fetches recent history for a tracked source and runs everything
// newer than the stored watermark through the pipeline, oldest first.
func (r *Reconciler) replay(ctx context.Context, src model.Source, watermark int64) {
	batch, err := r.fetcher.History(ctx, src.Key, r.cfg.MessagesPerSource)
	if err != nil {
		if errors.Is(err, ErrHistoryUnavailable) {
			r.log.Debug("history unavailable, skipping catch-up", "source", src.Key)
			return
		}
		r.log.Error("catch-up fetch failed", "source", src.Key, "error", err)
		return
	}

	var processed int
	touched := make(map[string]int64)
	for i := len(batch) - 1; i >= 0; i-- {
		msg := batch[i]
		if msg.MessageID <= watermark {
			continue
		}
		if _, err := r.proc.Process(ctx, msg); err != nil {
			r.log.Error("catch-up process failed",
				"source", src.Key, "message_id", msg.MessageID, "error", err)
			continue
		}
		if msg.MessageID > touched[msg.SourceKey] {
			touched[msg.SourceKey] = msg.MessageID
		}
		processed++
	}

	// Pin each delivered key to the newest id touched so the next restart
	// does not rescan this window. SetWatermark never moves backward, so
	// pinning an already-current key is a no-op.
	for key, position := range touched {
		if err := r.store.SetWatermark(ctx, key, position); err != nil {
			r.log.Error("catch-up watermark update failed", "source", key, "error", err)
		}
	}
	if processed > 0 {
		r.log.Info("catch-up replayed", "source", src.Key, "messages", processed)
	}
}

// initialize sets a first watermark for a source with no history of
// processing, stored under the delivered key of the newest message. No
// replay happens: long-silent sources would otherwise flood notifications
// with old messages the moment they are configured.
func (r *Reconciler) initialize(ctx context.Context, src model.Source) {
	batch, err := r.fetcher.History(ctx, src.Key, 1)
	if err != nil {
		if !errors.Is(err, ErrHistoryUnavailable) {
			r.log.Error("catch-up init fetch failed", "source", src.Key, "error", err)
		}
		return
	}
	if len(batch) == 0 {
		return
	}
	newest := batch[0]
	if err := r.store.SetWatermark(ctx, newest.SourceKey, newest.MessageID); err != nil {
		r.log.Error("catch-up init watermark failed", "source", newest.SourceKey, "error", err)
		return
	}
	r.log.Info("watermark initialized", "source", newest.SourceKey, "position", newest.MessageID)
}
