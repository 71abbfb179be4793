// Package postgres persists inventory items and mapping profiles in
// PostgreSQL.
//
// An import runs inside one transaction opened by [Store.BeginImport]. Each
// item insert is wrapped in its own savepoint, so a failed row is rolled back
// on its own and the transaction stays usable for the rows after it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/store"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// querier is implemented by both DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the PostgreSQL persistence backend.
type Store struct {
	db DB
}

// New wraps db.
func New(db DB) *Store {
	return &Store{db: db}
}

// builder emits $n placeholders.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Categories lists existing categories.
func (s *Store) Categories(ctx context.Context) ([]importer.Reference, error) {
	return listReferences(ctx, s.db, "categories")
}

// Rooms lists existing rooms.
func (s *Store) Rooms(ctx context.Context) ([]importer.Reference, error) {
	return listReferences(ctx, s.db, "rooms")
}

func listReferences(ctx context.Context, q querier, table string) ([]importer.Reference, error) {
	query, args, err := builder.Select("id", "name").From(table).OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", table, err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, table)
	}
	defer rows.Close()

	refs := []importer.Reference{}
	for rows.Next() {
		var r importer.Reference
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, mapError(err, table)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, table)
	}
	return refs, nil
}

// mapError converts pgx errors to store sentinels. Context errors pass
// through unchanged.
func mapError(err error, entity string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", entity, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", entity, store.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", entity, store.ErrDuplicate)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record: %w", entity, store.ErrNotFound)
		}
	}

	return fmt.Errorf("%s: %w", entity, err)
}
