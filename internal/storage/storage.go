// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"chatwatch/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	// InsertMatch persists a match record. It is idempotent on
	// (source key, message id, rule name); replays never create duplicates.
	InsertMatch(ctx context.Context, rec *model.MatchRecord) error
	ListMatches(ctx context.Context, limit int) ([]model.MatchRecord, error)

	// GetWatermark returns the last processed position for a source, or
	// ErrNotFound when the source has never been processed.
	GetWatermark(ctx context.Context, sourceKey string) (int64, error)
	// SetWatermark advances the stored position. It never moves backward.
	SetWatermark(ctx context.Context, sourceKey string, position int64) error
	ListWatermarks(ctx context.Context) (map[string]int64, error)

	HasSeen(ctx context.Context, sourceKey string, messageID int64) (bool, error)
	MarkSeen(ctx context.Context, sourceKey string, messageID int64) error

	LookupDedup(ctx context.Context, fingerprint string) (*model.DedupEntry, error)
	UpsertDedup(ctx context.Context, fingerprint string, now time.Time) error
	// PurgeDedup deletes fingerprints first seen before the cutoff and
	// returns the number removed.
	PurgeDedup(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
