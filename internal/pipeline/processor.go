// Package pipeline composes source resolution, idempotency, rule evaluation,
// deduplication, persistence, and notification into a single decision per
// message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"chatwatch/internal/config"
	"chatwatch/internal/dedup"
	"chatwatch/internal/model"
	"chatwatch/internal/rules"
	"chatwatch/internal/sourcekey"
	"chatwatch/internal/storage"
)

// Notifier delivers a single match notification. Delivery owns its own retry
// policy; a failure here never rolls back the durable match record.
type Notifier interface {
	Notify(ctx context.Context, msg model.Message, match rules.Match, snippet string) error
}

// storageTimeout bounds every persistence call so the pipeline never blocks
// indefinitely on the store.
const storageTimeout = 10 * time.Second

// Processor runs the full decision pipeline for one message at a time.
// Process is safe for concurrent use across different sources; per-source
// ordering is the caller's responsibility (see Lanes).
type Processor struct {
	resolver *sourcekey.Resolver
	rules    []rules.Rule
	store    storage.Storage
	notifier Notifier
	dedupCfg config.DedupConfig
	snippet  int
	log      *slog.Logger
	now      func() time.Time
}

// NewProcessor builds a Processor from compiled configuration.
func NewProcessor(
	resolver *sourcekey.Resolver,
	compiled []rules.Rule,
	store storage.Storage,
	notifier Notifier,
	dedupCfg config.DedupConfig,
	snippetChars int,
	log *slog.Logger,
) *Processor {
	return &Processor{
		resolver: resolver,
		rules:    compiled,
		store:    store,
		notifier: notifier,
		dedupCfg: dedupCfg,
		snippet:  snippetChars,
		log:      log,
		now:      time.Now,
	}
}

// Process runs one message through the pipeline and returns the decision.
// A non-nil error means a transient persistence failure; the message may be
// resubmitted and will re-enter from the same step, with the idempotency
// guard absorbing any duplicate work.
func (p *Processor) Process(ctx context.Context, msg model.Message) (model.Outcome, error) {
	src, ok := p.resolver.ResolveKey(msg.BaseSourceKey, msg.TopicID)
	if !ok {
		return model.Ignored(model.IgnoreUnknownSource), nil
	}
	if !src.Enabled {
		return model.Ignored(model.IgnoreSourceDisabled), nil
	}

	// Media-only messages without captions carry no text to match.
	if isBlank(msg.Text) {
		return model.Ignored(model.IgnoreEmptyText), nil
	}

	watermark, err := p.getWatermark(ctx, msg.SourceKey)
	if err != nil {
		return model.Outcome{}, err
	}
	if msg.MessageID <= watermark {
		return model.Ignored(model.IgnoreBelowWatermark), nil
	}

	// Idempotency guard. Storage errors fail closed: the message is retried
	// rather than treated as unseen.
	seen, err := p.hasSeen(ctx, msg)
	if err != nil {
		return model.Outcome{}, err
	}
	if seen {
		// Processed before the watermark caught up; advance it now.
		if err := p.advance(ctx, msg); err != nil {
			return model.Outcome{}, err
		}
		return model.Ignored(model.IgnoreAlreadySeen), nil
	}

	mode := dedup.Mode(p.dedupCfg.Mode)
	fingerprint := dedup.Fingerprint(msg.SourceKey, dedup.Normalize(msg.Text), mode)

	// In full dedup mode known-duplicate content short-circuits rule
	// evaluation unless suppressed matches are being recorded for audit.
	if fingerprint != "" && !p.dedupCfg.OnlyOnMatch {
		dup, err := p.isDuplicate(ctx, fingerprint)
		if err != nil {
			return model.Outcome{}, err
		}
		if dup && !p.dedupCfg.RecordSuppressed {
			if err := p.finish(ctx, msg); err != nil {
				return model.Outcome{}, err
			}
			p.log.Info("duplicate content skipped", "source", msg.SourceKey, "message_id", msg.MessageID)
			return model.Ignored(model.IgnoreDuplicate), nil
		}
		if dup {
			matches := rules.Evaluate(msg.Text, p.rules)
			if len(matches) == 0 {
				if err := p.finish(ctx, msg); err != nil {
					return model.Outcome{}, err
				}
				return model.Ignored(model.IgnoreDuplicate), nil
			}
			return p.handleMatches(ctx, msg, matches, "", true)
		}
	}

	matches := rules.Evaluate(msg.Text, p.rules)
	if len(matches) == 0 {
		if fingerprint != "" && !p.dedupCfg.OnlyOnMatch {
			if err := p.recordFingerprint(ctx, fingerprint); err != nil {
				return model.Outcome{}, err
			}
		}
		if err := p.finish(ctx, msg); err != nil {
			return model.Outcome{}, err
		}
		return model.NoMatch(), nil
	}

	// Content-level dedup for matched messages.
	suppressed := false
	if fingerprint != "" && p.dedupCfg.OnlyOnMatch {
		dup, err := p.isDuplicate(ctx, fingerprint)
		if err != nil {
			return model.Outcome{}, err
		}
		suppressed = dup
	}
	return p.handleMatches(ctx, msg, matches, fingerprint, suppressed)
}

// handleMatches persists match records, advances the watermark, and notifies
// unless the match is suppressed by dedup.
func (p *Processor) handleMatches(
	ctx context.Context,
	msg model.Message,
	matches []rules.Match,
	fingerprint string,
	suppressed bool,
) (model.Outcome, error) {
	if suppressed && !p.dedupCfg.RecordSuppressed {
		if err := p.finish(ctx, msg); err != nil {
			return model.Outcome{}, err
		}
		p.log.Info("duplicate match suppressed", "source", msg.SourceKey, "message_id", msg.MessageID)
		return model.Matched(ruleNames(matches), true), nil
	}

	snippet := clip(msg.Text, p.snippet)
	for _, match := range matches {
		rec := &model.MatchRecord{
			SourceKey:  msg.SourceKey,
			ChatID:     msg.ChatID,
			MessageID:  msg.MessageID,
			Date:       msg.Date,
			RuleName:   match.RuleName,
			Reason:     match.Reason,
			Snippet:    snippet,
			Permalink:  msg.Permalink,
			Suppressed: suppressed,
		}
		if err := p.withRetry(ctx, "insert match", func(ctx context.Context) error {
			return p.store.InsertMatch(ctx, rec)
		}); err != nil {
			// No notification without a durable record. The watermark is
			// deliberately not advanced so a retry picks this message up.
			return model.Outcome{}, err
		}
	}

	if !suppressed && fingerprint != "" {
		if err := p.recordFingerprint(ctx, fingerprint); err != nil {
			return model.Outcome{}, err
		}
	}
	if err := p.finish(ctx, msg); err != nil {
		return model.Outcome{}, err
	}

	if !suppressed {
		for _, match := range matches {
			if err := p.notifier.Notify(ctx, msg, match, snippet); err != nil {
				p.log.Error("notify failed", "source", msg.SourceKey, "rule", match.RuleName, "error", err)
			}
		}
	}
	for _, match := range matches {
		p.log.Info("match recorded",
			"source", msg.SourceKey, "rule", match.RuleName,
			"message_id", msg.MessageID, "suppressed", suppressed)
	}
	return model.Matched(ruleNames(matches), suppressed), nil
}

// finish marks the message seen and advances the watermark, in that order.
// Both writes are idempotent.
func (p *Processor) finish(ctx context.Context, msg model.Message) error {
	if err := p.withRetry(ctx, "mark seen", func(ctx context.Context) error {
		return p.store.MarkSeen(ctx, msg.SourceKey, msg.MessageID)
	}); err != nil {
		return err
	}
	return p.advance(ctx, msg)
}

func (p *Processor) advance(ctx context.Context, msg model.Message) error {
	return p.withRetry(ctx, "set watermark", func(ctx context.Context) error {
		return p.store.SetWatermark(ctx, msg.SourceKey, msg.MessageID)
	})
}

func (p *Processor) getWatermark(ctx context.Context, sourceKey string) (int64, error) {
	var position int64
	err := p.withRetry(ctx, "get watermark", func(ctx context.Context) error {
		wm, err := p.store.GetWatermark(ctx, sourceKey)
		if errors.Is(err, storage.ErrNotFound) {
			position = 0
			return nil
		}
		position = wm
		return err
	})
	return position, err
}

func (p *Processor) hasSeen(ctx context.Context, msg model.Message) (bool, error) {
	var seen bool
	err := p.withRetry(ctx, "check seen", func(ctx context.Context) error {
		s, err := p.store.HasSeen(ctx, msg.SourceKey, msg.MessageID)
		seen = s
		return err
	})
	return seen, err
}

// isDuplicate reports whether a fresh dedup entry exists for the fingerprint.
// Entries older than the TTL are treated as absent (lazy expiry); the sweeper
// deletes them out of band.
func (p *Processor) isDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	var entry *model.DedupEntry
	err := p.withRetry(ctx, "lookup dedup", func(ctx context.Context) error {
		e, err := p.store.LookupDedup(ctx, fingerprint)
		if errors.Is(err, storage.ErrNotFound) {
			entry = nil
			return nil
		}
		entry = e
		return err
	})
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	ttl := time.Duration(p.dedupCfg.TTLDays) * 24 * time.Hour
	return p.now().Sub(entry.FirstSeen) < ttl, nil
}

func (p *Processor) recordFingerprint(ctx context.Context, fingerprint string) error {
	return p.withRetry(ctx, "record dedup", func(ctx context.Context) error {
		return p.store.UpsertDedup(ctx, fingerprint, p.now())
	})
}

// withRetry runs a persistence operation with a timeout and bounded
// fibonacci backoff. Exhausted retries surface as a transient error.
func (p *Processor) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, storageTimeout)
		defer cancel()
		if err := fn(opCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func ruleNames(matches []rules.Match) []string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.RuleName)
	}
	return names
}

func clip(text string, max int) string {
	runes := []rune(text)
	if len(runes) > max {
		text = string(runes[:max])
	}
	return strings.TrimSpace(text)
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
