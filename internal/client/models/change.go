package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// ChangeOp is the kind of write intent recorded in the local change log.
type ChangeOp string

const (
	OpPut    ChangeOp = "PUT"
	OpPatch  ChangeOp = "PATCH"
	OpDelete ChangeOp = "DELETE"
)

// Method maps the intent to the HTTP verb used when it is replayed alone.
func (o ChangeOp) Method() string {
	switch o {
	case OpPut:
		return http.MethodPut
	case OpPatch:
		return http.MethodPatch
	case OpDelete:
		return http.MethodDelete
	}
	return ""
}

// Tables with special replay handling.
const (
	TablePhotoBundles = "photo_bundles"
	TableSchedules    = "schedules"
)

// ChangeEntry is one row of the local change log. Entries sharing TxID were
// written by the same local transaction and are replayed as a batch.
type ChangeEntry struct {
	ID        int64
	TxID      string
	Op        ChangeOp
	Table     string
	RowID     string
	Data      json.RawMessage
	Applied   bool
	CreatedAt time.Time
}

// ChangeBatch groups change-log entries of one local transaction.
type ChangeBatch struct {
	TxID    string
	Entries []*ChangeEntry
}

// GroupByTx splits entries (ordered by ID) into batches, keeping the order of
// first appearance of each transaction.
func GroupByTx(entries []*ChangeEntry) []ChangeBatch {
	index := make(map[string]int)
	var batches []ChangeBatch
	for _, e := range entries {
		i, ok := index[e.TxID]
		if !ok {
			i = len(batches)
			index[e.TxID] = i
			batches = append(batches, ChangeBatch{TxID: e.TxID})
		}
		batches[i].Entries = append(batches[i].Entries, e)
	}
	return batches
}
