package dbx

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dbx.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE attachments (id TEXT PRIMARY KEY, state TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func states(t *testing.T, db *sql.DB) map[string]string {
	t.Helper()
	rows, err := db.Query(`SELECT id, state FROM attachments`)
	require.NoError(t, err)
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, state string
		require.NoError(t, rows.Scan(&id, &state))
		out[id] = state
	}
	require.NoError(t, rows.Err())
	return out
}

func insert(ctx context.Context, tx DBTX, id, state string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments (id, state) VALUES (?, ?)`, id, state)
	return err
}

func TestWithTx(t *testing.T) {
	errFail := errors.New("photo row rejected")

	tests := []struct {
		name    string
		fn      func(ctx context.Context, tx DBTX) error
		wantErr error
		want    map[string]string
	}{
		{
			name: "commits every statement",
			fn: func(ctx context.Context, tx DBTX) error {
				if err := insert(ctx, tx, "a1", "QUEUED_UPLOAD"); err != nil {
					return err
				}
				return insert(ctx, tx, "a2", "QUEUED_UPLOAD")
			},
			want: map[string]string{"a1": "QUEUED_UPLOAD", "a2": "QUEUED_UPLOAD"},
		},
		{
			name: "rolls back on error",
			fn: func(ctx context.Context, tx DBTX) error {
				if err := insert(ctx, tx, "a1", "QUEUED_UPLOAD"); err != nil {
					return err
				}
				return errFail
			},
			wantErr: errFail,
			want:    map[string]string{},
		},
		{
			name: "statement error rolls back earlier writes",
			fn: func(ctx context.Context, tx DBTX) error {
				if err := insert(ctx, tx, "a1", "QUEUED_UPLOAD"); err != nil {
					return err
				}
				return insert(ctx, tx, "a1", "SYNCED")
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupDB(t)
			err := WithTx(context.Background(), db, nil, tt.fn)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case len(tt.want) == 0:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, states(t, db))
		})
	}
}

func TestWithTx_RollsBackAndRethrowsPanic(t *testing.T) {
	db := setupDB(t)

	assert.PanicsWithValue(t, "kaput", func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, insert(ctx, tx, "a1", "QUEUED_UPLOAD"))
			panic("kaput")
		})
	})
	assert.Empty(t, states(t, db))
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error { return nil })
	require.ErrorContains(t, err, "begin tx")
}

func TestRequireOneRow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, insert(ctx, db, "a1", "QUEUED_UPLOAD"))
	require.NoError(t, insert(ctx, db, "a2", "QUEUED_UPLOAD"))

	res, err := db.ExecContext(ctx, `UPDATE attachments SET state = 'SYNCED' WHERE id = 'a1'`)
	require.NoError(t, err)
	require.NoError(t, RequireOneRow(res))

	res, err = db.ExecContext(ctx, `UPDATE attachments SET state = 'SYNCED' WHERE id = 'missing'`)
	require.NoError(t, err)
	require.ErrorIs(t, RequireOneRow(res), sql.ErrNoRows)

	res, err = db.ExecContext(ctx, `UPDATE attachments SET state = 'QUEUED_SYNC'`)
	require.NoError(t, err)
	require.ErrorContains(t, RequireOneRow(res), "wrong rows affected count: 2")
}
