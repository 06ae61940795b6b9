package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"chatwatch/internal/model"
	"chatwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertMatch appends a match record. Replaying the same (source, message,
// rule) is a no-op thanks to the unique index on the identity columns.
func (s *SQLite) InsertMatch(ctx context.Context, rec *model.MatchRecord) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches
		 (source_key, chat_id, message_id, date, rule_name, reason, snippet, permalink, suppressed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceKey, rec.ChatID, rec.MessageID, rec.Date.UTC().Format(timeLayout),
		rec.RuleName, rec.Reason, rec.Snippet, nullString(rec.Permalink),
		boolToInt(rec.Suppressed), now,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListMatches returns the most recent match records, newest first.
func (s *SQLite) ListMatches(ctx context.Context, limit int) ([]model.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_key, chat_id, message_id, date, rule_name, reason, snippet, permalink, suppressed, created_at
		 FROM matches ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MatchRecord
	for rows.Next() {
		var rec model.MatchRecord
		var date, created string
		var permalink sql.NullString
		var suppressed int
		err := rows.Scan(&rec.ID, &rec.SourceKey, &rec.ChatID, &rec.MessageID, &date,
			&rec.RuleName, &rec.Reason, &rec.Snippet, &permalink, &suppressed, &created)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		rec.Date, _ = time.Parse(timeLayout, date)
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		rec.Permalink = permalink.String
		rec.Suppressed = suppressed == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetWatermark returns the last processed position for a source.
func (s *SQLite) GetWatermark(ctx context.Context, sourceKey string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM watermarks WHERE source_key = ?`, sourceKey,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark: %w", err)
	}
	return position, nil
}

// SetWatermark upserts the last processed position for a source. A position
// lower than the stored one is ignored so the watermark only moves forward.
func (s *SQLite) SetWatermark(ctx context.Context, sourceKey string, position int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (source_key, position) VALUES (?, ?)
		 ON CONFLICT(source_key) DO UPDATE SET position = excluded.position
		 WHERE excluded.position > watermarks.position`,
		sourceKey, position,
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// ListWatermarks returns every stored watermark keyed by source.
func (s *SQLite) ListWatermarks(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_key, position FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	marks := make(map[string]int64)
	for rows.Next() {
		var key string
		var position int64
		if err := rows.Scan(&key, &position); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		marks[key] = position
	}
	return marks, rows.Err()
}

// HasSeen checks whether a message identity has already been processed.
func (s *SQLite) HasSeen(ctx context.Context, sourceKey string, messageID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_messages WHERE source_key = ? AND message_id = ?`,
		sourceKey, messageID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// MarkSeen records a processed message identity.
func (s *SQLite) MarkSeen(ctx context.Context, sourceKey string, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (source_key, message_id, seen_at) VALUES (?, ?, ?)`,
		sourceKey, messageID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// LookupDedup returns a stored fingerprint entry.
func (s *SQLite) LookupDedup(ctx context.Context, fingerprint string) (*model.DedupEntry, error) {
	var firstSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen FROM dedup_entries WHERE fingerprint = ?`, fingerprint,
	).Scan(&firstSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup dedup: %w", err)
	}
	entry := &model.DedupEntry{Fingerprint: fingerprint}
	entry.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	return entry, nil
}

// UpsertDedup records a fingerprint. Re-recording overwrites the first-seen
// timestamp (last writer wins), which restarts the suppression window after
// an entry has lapsed.
func (s *SQLite) UpsertDedup(ctx context.Context, fingerprint string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_entries (fingerprint, first_seen) VALUES (?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET first_seen = excluded.first_seen`,
		fingerprint, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert dedup: %w", err)
	}
	return nil
}

// PurgeDedup deletes fingerprints first seen before the cutoff.
func (s *SQLite) PurgeDedup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE first_seen < ?`, cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge dedup: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge dedup rows: %w", err)
	}
	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
