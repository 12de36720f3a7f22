package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
)

// recordChange appends one change-log entry in its own batch.
func recordChange(ctx context.Context, tx repomanager.RepositoryManager, op models.ChangeOp, table, rowID string, data any) error {
	e := &models.ChangeEntry{TxID: uuid.NewString(), Op: op, Table: table, RowID: rowID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode change: %w", err)
		}
		e.Data = raw
	}
	return tx.Changes().Append(ctx, e)
}
