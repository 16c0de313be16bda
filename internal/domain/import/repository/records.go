package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// PostgresRecordStore implements catalog.RecordStore and
// catalog.CorpusProvider on the catalog_entities tables.
type PostgresRecordStore struct {
	db DBTX
}

// NewPostgresRecordStore creates a new record store
func NewPostgresRecordStore(db DBTX) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// FindByKey resolves a matched id first, then the idempotency key.
func (s *PostgresRecordStore) FindByKey(ctx context.Context, key catalog.Key) (*catalog.StoredRecord, error) {
	var (
		query string
		args  []any
	)
	if key.MatchedID != "" {
		query = `
			SELECT id::text, fields
			FROM catalog_entities
			WHERE owner_id = $1 AND id::text = $2`
		args = []any{key.Owner, key.MatchedID}
	} else {
		query = `
			SELECT id::text, fields
			FROM catalog_entities
			WHERE owner_id = $1 AND idempotency_key = $2`
		args = []any{key.Owner, key.IdempotencyKey}
	}

	var (
		rec catalog.StoredRecord
		raw []byte
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(&rec.ID, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// Insert allocates the next sequence number for the owner and kind. Two
// concurrent inserts may pick the same number; the loser gets
// catalog.ErrSequenceConflict.
func (s *PostgresRecordStore) Insert(ctx context.Context, owner uuid.UUID, rec catalog.Record) (string, error) {
	query := `
		INSERT INTO catalog_entities (owner_id, kind, seq_no, idempotency_key, external_id, title, counterparty, fields)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq_no), 0) + 1 FROM catalog_entities WHERE owner_id = $1 AND kind = $2),
			$3, $4, $5, $6, $7
		)
		RETURNING id::text`

	fields, err := json.Marshal(rec.Fields())
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx, query,
		owner,
		string(rec.Kind),
		rec.IdempotencyKey(owner),
		nullable(rec.ExternalID),
		rec.Title,
		rec.Counterparty,
		fields,
	).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// Update merges fields into the stored column set.
func (s *PostgresRecordStore) Update(ctx context.Context, id string, fields map[string]string) error {
	query := `
		UPDATE catalog_entities
		SET fields = fields || $2::jsonb,
			title = COALESCE($3, title),
			counterparty = COALESCE($4, counterparty),
			updated_at = now()
		WHERE id::text = $1`

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, id, raw, optional(fields, "title"), optional(fields, "counterparty"))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, catalog.ErrMalformed)
	}
	return nil
}

// ReplaceChildren swaps the parent's sub-entities for children in one
// transaction.
func (s *PostgresRecordStore) ReplaceChildren(ctx context.Context, parentID string, children []catalog.Child) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range childTables {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE entity_id = $1::uuid", parentID); err != nil {
			return classify(err)
		}
	}
	for _, c := range children {
		if err := insertChild(ctx, tx, parentID, c); err != nil {
			return classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

var childTables = []string{"entity_shares", "entity_recordings", "royalty_allocations"}

func insertChild(ctx context.Context, tx pgx.Tx, parentID string, c catalog.Child) error {
	var err error
	switch c.Type {
	case catalog.ChildWriter, catalog.ChildPublisher:
		_, err = tx.Exec(ctx, `
			INSERT INTO entity_shares (entity_id, share_type, name, ipi, role, percent)
			VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
			parentID, string(c.Type), c.Name, c.IPI, c.Role, c.Percent)
	case catalog.ChildRecording:
		_, err = tx.Exec(ctx, `
			INSERT INTO entity_recordings (entity_id, title, isrc, artist, release_date)
			VALUES ($1::uuid, $2, $3, $4, $5::date)`,
			parentID, c.Title, c.ISRC, c.Name, nullable(c.ReleaseDate))
	case catalog.ChildAllocation:
		_, err = tx.Exec(ctx, `
			INSERT INTO royalty_allocations (entity_id, payee, percent, amount_minor, currency)
			VALUES ($1::uuid, $2, $3, $4, $5)`,
			parentID, c.Name, c.Percent, c.AmountMinor, c.Currency)
	default:
		return fmt.Errorf("unknown sub-entity type %q: %w", c.Type, catalog.ErrMalformed)
	}
	return err
}

// FetchExisting returns the owner's works and contracts with their writer
// shares and recording ISRCs. Royalty lines are never match targets.
func (s *PostgresRecordStore) FetchExisting(ctx context.Context, owner uuid.UUID) ([]catalog.ExistingEntity, error) {
	query := `
		SELECT e.id::text, e.kind, e.title, e.counterparty, COALESCE(e.external_id, ''),
			COALESCE(e.fields->>'alt_titles', ''),
			COALESCE((
				SELECT json_agg(json_build_object('name', s.name, 'percent', s.percent) ORDER BY s.id)
				FROM entity_shares s
				WHERE s.entity_id = e.id AND s.share_type = 'writer'
			), '[]'::json),
			COALESCE((
				SELECT array_agg(r.isrc ORDER BY r.id)
				FROM entity_recordings r
				WHERE r.entity_id = e.id AND r.isrc <> ''
			), '{}'::text[])
		FROM catalog_entities e
		WHERE e.owner_id = $1 AND e.kind <> 'royalty'
		ORDER BY e.kind, e.seq_no`

	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []catalog.ExistingEntity
	for rows.Next() {
		var (
			e        catalog.ExistingEntity
			kind     string
			alts     string
			writers  []byte
			recorded []string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Title, &e.Counterparty, &e.ExternalID, &alts, &writers, &recorded); err != nil {
			return nil, fmt.Errorf("scan existing entity: %w", err)
		}
		e.Kind = catalog.Kind(kind)
		e.AltTitles = splitAlts(alts)
		e.ISRCs = recorded

		var shares []struct {
			Name    string          `json:"name"`
			Percent decimal.Decimal `json:"percent"`
		}
		if err := json.Unmarshal(writers, &shares); err != nil {
			return nil, fmt.Errorf("decode writers of %s: %w", e.ID, err)
		}
		for _, sh := range shares {
			e.Writers = append(e.Writers, catalog.Share{Name: sh.Name, Percent: sh.Percent, HasPercent: true})
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func splitAlts(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(joined, ";") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optional(fields map[string]string, key string) *string {
	if v, ok := fields[key]; ok && v != "" {
		return &v
	}
	return nil
}
