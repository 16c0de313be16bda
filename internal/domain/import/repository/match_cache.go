package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// PostgresMatchCache persists accepted matches per owner, format and
// normalized names.
type PostgresMatchCache struct {
	db DBTX
}

// NewPostgresMatchCache creates a new match cache
func NewPostgresMatchCache(db DBTX) *PostgresMatchCache {
	return &PostgresMatchCache{db: db}
}

func (c *PostgresMatchCache) Lookup(ctx context.Context, owner uuid.UUID, key catalog.MatchKey) (*catalog.CachedMatch, error) {
	query := `
		SELECT candidate_id, confidence, method, updated_at
		FROM import_match_cache
		WHERE owner_id = $1 AND format = $2 AND title_key = $3 AND party_key = $4`

	var (
		m      catalog.CachedMatch
		method string
	)
	err := c.db.QueryRow(ctx, query, owner, string(key.Format), key.Title, key.Party).
		Scan(&m.CandidateID, &m.Confidence, &method, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	m.Method = catalog.MatchMethod(method)
	return &m, nil
}

func (c *PostgresMatchCache) Save(ctx context.Context, owner uuid.UUID, key catalog.MatchKey, m catalog.CachedMatch) error {
	query := `
		INSERT INTO import_match_cache (owner_id, format, title_key, party_key, candidate_id, confidence, method, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, format, title_key, party_key) DO UPDATE SET
			candidate_id = EXCLUDED.candidate_id,
			confidence = EXCLUDED.confidence,
			method = EXCLUDED.method,
			updated_at = EXCLUDED.updated_at`

	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := c.db.Exec(ctx, query,
		owner, string(key.Format), key.Title, key.Party,
		m.CandidateID, m.Confidence, string(m.Method), m.UpdatedAt.UTC())
	return classify(err)
}
