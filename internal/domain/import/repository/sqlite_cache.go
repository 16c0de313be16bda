package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

const sqliteMatchSchema = `
CREATE TABLE IF NOT EXISTS import_match_cache (
    owner_id     TEXT NOT NULL,
    format       TEXT NOT NULL,
    title_key    TEXT NOT NULL,
    party_key    TEXT NOT NULL DEFAULT '',
    candidate_id TEXT NOT NULL,
    confidence   REAL NOT NULL,
    method       TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    PRIMARY KEY (owner_id, format, title_key, party_key)
)`

// sqliteTime is fixed width so stored timestamps compare as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteMatchCache keeps accepted matches in a local database file so
// repeated CLI imports of the same feed reuse earlier decisions without a
// Postgres connection.
type SQLiteMatchCache struct {
	db *sql.DB
}

// OpenSQLiteMatchCache opens (or creates) the cache at path. Use ":memory:"
// for a throwaway cache.
func OpenSQLiteMatchCache(ctx context.Context, path string) (*SQLiteMatchCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMatchSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create match cache schema: %w", err)
	}
	return &SQLiteMatchCache{db: db}, nil
}

// Close closes the database.
func (c *SQLiteMatchCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteMatchCache) Lookup(ctx context.Context, owner uuid.UUID, key catalog.MatchKey) (*catalog.CachedMatch, error) {
	var (
		m         catalog.CachedMatch
		method    string
		updatedAt string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT candidate_id, confidence, method, updated_at
		FROM import_match_cache
		WHERE owner_id = ? AND format = ? AND title_key = ? AND party_key = ?`,
		owner.String(), string(key.Format), key.Title, key.Party,
	).Scan(&m.CandidateID, &m.Confidence, &method, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cached match: %w", err)
	}
	m.Method = catalog.MatchMethod(method)
	if ts, perr := time.Parse(sqliteTime, updatedAt); perr == nil {
		m.UpdatedAt = ts
	}
	return &m, nil
}

func (c *SQLiteMatchCache) Save(ctx context.Context, owner uuid.UUID, key catalog.MatchKey, m catalog.CachedMatch) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO import_match_cache (owner_id, format, title_key, party_key, candidate_id, confidence, method, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, format, title_key, party_key) DO UPDATE SET
			candidate_id = excluded.candidate_id,
			confidence = excluded.confidence,
			method = excluded.method,
			updated_at = excluded.updated_at`,
		owner.String(), string(key.Format), key.Title, key.Party,
		m.CandidateID, m.Confidence, string(m.Method), m.UpdatedAt.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("save cached match: %w", err)
	}
	return nil
}

// PurgeOlderThan drops cached matches not refreshed since cutoff.
func (c *SQLiteMatchCache) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM import_match_cache WHERE updated_at < ?`,
		cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fmt.Errorf("purge cached matches: %w", err)
	}
	return res.RowsAffected()
}
