package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/homeinventory/internal/importer"
)

// ImportTx is one import's transaction. It implements importer.Persistence.
type ImportTx struct {
	tx  pgx.Tx
	seq int
}

var _ importer.Persistence = (*ImportTx)(nil)

// BeginImport opens the transaction an import writes through.
func (s *Store) BeginImport(ctx context.Context) (*ImportTx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &ImportTx{tx: tx}, nil
}

// Opener adapts BeginImport for importer.Service.
func (s *Store) Opener() importer.Opener {
	return func(ctx context.Context) (importer.Persistence, error) {
		return s.BeginImport(ctx)
	}
}

// Categories lists categories visible to the transaction.
func (t *ImportTx) Categories(ctx context.Context) ([]importer.Reference, error) {
	return listReferences(ctx, t.tx, "categories")
}

// Rooms lists rooms visible to the transaction.
func (t *ImportTx) Rooms(ctx context.Context) ([]importer.Reference, error) {
	return listReferences(ctx, t.tx, "rooms")
}

// CreateItem inserts item under its own savepoint. On failure the savepoint
// is rolled back and the transaction remains usable.
func (t *ImportTx) CreateItem(ctx context.Context, item importer.NewItem) (uuid.UUID, error) {
	t.seq++
	savepoint := fmt.Sprintf("sp_%d", t.seq)

	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return uuid.Nil, fmt.Errorf("create savepoint: %w", err)
	}

	id, err := t.insertItem(ctx, item)
	if err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return uuid.Nil, fmt.Errorf("rollback savepoint: %w", errors.Join(err, rbErr))
		}
		return uuid.Nil, err
	}

	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return uuid.Nil, fmt.Errorf("release savepoint: %w", err)
	}
	return id, nil
}

func (t *ImportTx) insertItem(ctx context.Context, item importer.NewItem) (uuid.UUID, error) {
	query, args, err := builder.Insert("items").
		Columns(
			"name", "brand", "model_number", "serial_number",
			"purchase_price", "purchase_date", "warranty_expiration",
			"condition", "notes", "category_id", "room_id",
		).
		Values(
			item.Name,
			nullString(item.Brand),
			nullString(item.ModelNumber),
			nullString(item.SerialNumber),
			item.PurchasePrice,
			item.PurchaseDate,
			item.WarrantyExpiration,
			string(item.Condition),
			nullString(item.Notes),
			item.CategoryID,
			item.RoomID,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build item insert: %w", err)
	}

	var id uuid.UUID
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return uuid.Nil, mapError(err, "item")
	}
	return id, nil
}

// Commit makes every created item visible.
func (t *ImportTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction is
// a no-op.
func (t *ImportTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// nullString stores empty text as NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
