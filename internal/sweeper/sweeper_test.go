package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"chatwatch/internal/config"
	"chatwatch/internal/storage"
)

type purgeStore struct {
	storage.Storage
	cutoffs []time.Time
	err     error
}

func (p *purgeStore) PurgeDedup(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := config.DedupConfig{TTLDays: 30, SweepSchedule: "not a schedule"}
	if _, err := New(&purgeStore{}, cfg, testLogger()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunOnce(t *testing.T) {
	store := &purgeStore{}
	cfg := config.DedupConfig{TTLDays: 30, SweepSchedule: "@hourly"}
	s, err := New(store, cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	before := time.Now().Add(-30 * 24 * time.Hour)
	s.RunOnce(context.Background())
	after := time.Now().Add(-30 * 24 * time.Hour)

	if len(store.cutoffs) != 1 {
		t.Fatalf("purge calls = %d, want 1", len(store.cutoffs))
	}
	cutoff := store.cutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff %v not within the TTL window [%v, %v]", cutoff, before, after)
	}
}

func TestRunOnceSurvivesStoreError(t *testing.T) {
	store := &purgeStore{err: errors.New("locked")}
	cfg := config.DedupConfig{TTLDays: 30, SweepSchedule: "@hourly"}
	s, err := New(store, cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.RunOnce(context.Background())
	if len(store.cutoffs) != 1 {
		t.Errorf("purge calls = %d, want 1", len(store.cutoffs))
	}
}
