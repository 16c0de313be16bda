// Package repository implements the catalog ports on Postgres (pgx) and a
// local SQLite match cache for CLI runs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// DBTX is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it in tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	constraintSequence = "catalog_entities_seq_key"
)

// classify maps driver errors onto the catalog error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == constraintSequence:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, catalog.ErrSequenceConflict)
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, catalog.ErrDuplicateKey)
		case pgErr.Code == "42501":
			return fmt.Errorf("%s: %w", pgErr.Message, catalog.ErrPermissionDenied)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03", pgErr.Code == "53300":
			return catalog.NewTransientError(err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return catalog.NewTransientError(err)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%s: %w", pgErr.Message, catalog.ErrMalformed)
		}
		return err
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return catalog.NewTransientError(err)
	}
	return err
}
