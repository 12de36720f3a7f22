package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/storage"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func entry(tx string, op models.ChangeOp, table, row string, data string) *models.ChangeEntry {
	e := &models.ChangeEntry{TxID: tx, Op: op, Table: table, RowID: row}
	if data != "" {
		e.Data = json.RawMessage(data)
	}
	return e
}

func TestAppendAndListUnapplied(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e1 := entry("tx1", models.OpPut, models.TableSchedules, "s1", `{"title":"a"}`)
	require.NoError(t, r.Append(ctx, e1))
	require.NoError(t, r.Append(ctx, entry("tx2", models.OpDelete, models.TableSchedules, "s2", "")))
	require.NoError(t, r.Append(ctx, entry("tx1", models.OpPatch, models.TablePhotoBundles, "s1", `{}`)))
	assert.NotZero(t, e1.ID)

	list, err := r.ListUnapplied(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "tx1", list[0].TxID)
	assert.Equal(t, "tx2", list[1].TxID)
	assert.Equal(t, "tx1", list[2].TxID)
	assert.JSONEq(t, `{"title":"a"}`, string(list[0].Data))
	assert.Nil(t, list[1].Data)

	batches := models.GroupByTx(list)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Entries, 2)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMarkAppliedKeepsBatchVisibleUntilComplete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := entry("tx1", models.OpPut, models.TableSchedules, "s1", `{}`)
	b := entry("tx1", models.OpPatch, models.TablePhotoBundles, "s1", `{}`)
	require.NoError(t, r.Append(ctx, a))
	require.NoError(t, r.Append(ctx, b))

	require.NoError(t, r.MarkApplied(ctx, a.ID))
	list, err := r.ListUnapplied(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Applied)
	assert.False(t, list[1].Applied)

	require.NoError(t, r.MarkApplied(ctx, b.ID))
	list, err = r.ListUnapplied(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	batch, err := r.ListBatch(ctx, "tx1")
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	require.NoError(t, r.DeleteBatch(ctx, "tx1"))
	batch, err = r.ListBatch(ctx, "tx1")
	require.NoError(t, err)
	assert.Empty(t, batch)

	require.ErrorIs(t, r.MarkApplied(ctx, a.ID), common.ErrNotFound)
}

func TestAppend_RequiresTxID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	require.Error(t, r.Append(context.Background(), entry("", models.OpPut, "t", "1", "")))
}
