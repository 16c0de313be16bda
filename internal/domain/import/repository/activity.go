package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// PostgresActivityLog stores one audit row per committed record.
type PostgresActivityLog struct {
	db DBTX
}

// NewPostgresActivityLog creates a new activity log
func NewPostgresActivityLog(db DBTX) *PostgresActivityLog {
	return &PostgresActivityLog{db: db}
}

func (l *PostgresActivityLog) Record(ctx context.Context, e catalog.ActivityEvent) error {
	query := `
		INSERT INTO import_activity (id, owner_id, session_id, action, row_number, title, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var session *uuid.UUID
	if e.SessionID != uuid.Nil {
		session = &e.SessionID
	}

	_, err := l.db.Exec(ctx, query,
		e.ID, e.Owner, session, e.Action, e.RowNumber, e.Title, e.EntityID, e.Detail, e.At.UTC())
	return classify(err)
}

// PurgeActivity deletes audit rows older than cutoff and reports how many
// were removed.
func (l *PostgresActivityLog) PurgeActivity(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM import_activity WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}
