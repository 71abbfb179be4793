package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/store"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var (
	categoriesSQL = regexp.QuoteMeta("SELECT id, name FROM categories ORDER BY name")
	roomsSQL      = regexp.QuoteMeta("SELECT id, name FROM rooms ORDER BY name")
)

func expectSavepoint(mock pgxmock.PgxPoolIface, n int) {
	mock.ExpectExec(fmt.Sprintf("^SAVEPOINT sp_%d$", n)).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
}

func expectInsert(mock pgxmock.PgxPoolIface, id uuid.UUID) {
	mock.ExpectQuery(`INSERT INTO items`).
		WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func expectRelease(mock pgxmock.PgxPoolIface, n int) {
	mock.ExpectExec(fmt.Sprintf("^RELEASE SAVEPOINT sp_%d$", n)).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
}

// ============================================================================
// Import transaction
// ============================================================================

func TestImportTx_CreateItem(t *testing.T) {
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantIDs []uuid.UUID
		wantErr []error
	}{
		{
			name: "both rows insert",
			setup: func(mock pgxmock.PgxPoolIface) {
				expectSavepoint(mock, 1)
				expectInsert(mock, first)
				expectRelease(mock, 1)
				expectSavepoint(mock, 2)
				expectInsert(mock, second)
				expectRelease(mock, 2)
			},
			wantIDs: []uuid.UUID{first, second},
			wantErr: []error{nil, nil},
		},
		{
			name: "failed row rolls back to its savepoint",
			setup: func(mock pgxmock.PgxPoolIface) {
				expectSavepoint(mock, 1)
				mock.ExpectQuery(`INSERT INTO items`).
					WithArgs(anyArgs(11)...).
					WillReturnError(&pgconn.PgError{Code: "23503"})
				mock.ExpectExec("^ROLLBACK TO SAVEPOINT sp_1$").
					WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
				expectSavepoint(mock, 2)
				expectInsert(mock, second)
				expectRelease(mock, 2)
			},
			wantIDs: []uuid.UUID{uuid.Nil, second},
			wantErr: []error{store.ErrNotFound, nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectBegin()
			tt.setup(mock)
			mock.ExpectCommit()

			tx, err := New(mock).BeginImport(ctx)
			require.NoError(t, err)

			for i := range tt.wantIDs {
				id, err := tx.CreateItem(ctx, importer.NewItem{Name: "Lamp", Condition: mapping.ConditionGood})
				if tt.wantErr[i] != nil {
					assert.ErrorIs(t, err, tt.wantErr[i])
				} else {
					assert.NoError(t, err)
				}
				assert.Equal(t, tt.wantIDs[i], id)
			}

			require.NoError(t, tx.Commit(ctx))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestImportTx_SavepointFailure(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT sp_1$").WillReturnError(errors.New("conn busy"))

	tx, err := New(mock).BeginImport(ctx)
	require.NoError(t, err)

	_, err = tx.CreateItem(ctx, importer.NewItem{Name: "Lamp"})
	assert.ErrorContains(t, err, "create savepoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportTx_BeginFailure(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := New(mock).Opener()(context.Background())
	assert.ErrorContains(t, err, "begin transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestImportTx_Session drives a whole import through the transaction.
func TestImportTx_Session(t *testing.T) {
	ctx := context.Background()
	kitchen := uuid.New()

	sess := importer.NewSession(uuid.New(), importer.SessionOptions{})
	csv := "Name,Room,Quantity\nToaster,Kitchen,2\nLamp,,1\n"
	require.NoError(t, sess.ParseFile(ctx, importer.Source{Name: "items.csv", Data: []byte(csv)}))
	_, _, err := sess.ValidateRows()
	require.NoError(t, err)

	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(categoriesSQL).WillReturnRows(pgxmock.NewRows([]string{"id", "name"}))
	mock.ExpectQuery(roomsSQL).WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(kitchen, "Kitchen"))
	for n := 1; n <= 3; n++ {
		expectSavepoint(mock, n)
		expectInsert(mock, uuid.New())
		expectRelease(mock, n)
	}
	mock.ExpectCommit()

	tx, err := New(mock).BeginImport(ctx)
	require.NoError(t, err)

	summary, err := sess.ExecuteImport(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ImportedCount)
	assert.Equal(t, 0, summary.SkippedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportTx_CommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	sess := importer.NewSession(uuid.New(), importer.SessionOptions{})
	require.NoError(t, sess.ParseFile(ctx, importer.Source{Name: "items.csv", Data: []byte("Name\nLamp\n")}))
	_, _, err := sess.ValidateRows()
	require.NoError(t, err)

	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(categoriesSQL).WillReturnRows(pgxmock.NewRows([]string{"id", "name"}))
	mock.ExpectQuery(roomsSQL).WillReturnRows(pgxmock.NewRows([]string{"id", "name"}))
	expectSavepoint(mock, 1)
	expectInsert(mock, uuid.New())
	expectRelease(mock, 1)
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	tx, err := New(mock).BeginImport(ctx)
	require.NoError(t, err)

	_, err = sess.ExecuteImport(ctx, tx)
	assert.ErrorIs(t, err, importer.ErrCommitFailed)
	assert.Equal(t, importer.PhaseFailed, sess.Phase())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_References(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	mock := newMock(t)
	mock.ExpectQuery(categoriesSQL).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(id, "Electronics"))
	mock.ExpectQuery(roomsSQL).
		WillReturnError(context.DeadlineExceeded)

	s := New(mock)
	cats, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []importer.Reference{{ID: id, Name: "Electronics"}}, cats)

	_, err = s.Rooms(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Ping(t *testing.T) {
	mock := newMock(t)
	mock.ExpectPing()
	assert.NoError(t, New(mock).Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Mapping profiles
// ============================================================================

func TestStore_SaveProfile(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()
	profile := mapping.Profile{
		Name:    "Sortly export",
		Headers: []string{"Item", "Cost"},
		Fields:  map[string]mapping.Field{"item": mapping.FieldName, "cost": mapping.FieldPurchasePrice},
	}

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "inserted",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO mapping_profiles`).
					WithArgs("Sortly export", pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))
			},
		},
		{
			name: "duplicate name",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO mapping_profiles`).
					WithArgs(anyArgs(3)...).
					WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			wantErr: store.ErrDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			saved, err := New(mock).SaveProfile(ctx, profile)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, id, saved.ID)
				assert.Equal(t, profile.Fields, saved.Fields)
				assert.True(t, now.Equal(saved.CreatedAt))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_GetAndListProfiles(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()
	row := func() *pgxmock.Rows {
		return pgxmock.NewRows(profileColumns).
			AddRow(id, "legacy", []byte(`["Thing","Spent"]`), []byte(`{"thing":"name","spent":"purchasePrice"}`), now, now)
	}

	mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM mapping_profiles WHERE id = \$1`).WithArgs(id).WillReturnRows(row())
	mock.ExpectQuery(`SELECT .+ FROM mapping_profiles WHERE id = \$1`).WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ FROM mapping_profiles ORDER BY name`).WillReturnRows(row())

	s := New(mock)

	p, err := s.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "legacy", p.Name)
	assert.Equal(t, []string{"Thing", "Spent"}, p.Headers)
	assert.Equal(t, mapping.FieldPurchasePrice, p.Fields["spent"])

	_, err = s.GetProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteProfile(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM mapping_profiles`).WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM mapping_profiles`).WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))

	s := New(mock)
	assert.NoError(t, s.DeleteProfile(ctx, id))
	assert.ErrorIs(t, s.DeleteProfile(ctx, id), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, store.ErrDuplicate},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, store.ErrNotFound},
		{"context canceled", context.Canceled, context.Canceled},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			if want == nil {
				want = tt.err
			}
			got := mapError(tt.err, "item")
			require.Error(t, got)
			assert.ErrorIs(t, got, want)
			assert.Contains(t, got.Error(), "item")
		})
	}
	assert.NoError(t, mapError(nil, "item"))
}
