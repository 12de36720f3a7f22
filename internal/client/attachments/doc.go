// Package attachments implements the durable attachment queue and the
// concurrent uploader that drains it.
//
// Captured files are normalized by a Preparer, copied into a private
// directory and recorded in the local store as QUEUED_UPLOAD together with
// their Photo row. The Uploader fetches transfer credentials for a whole batch
// in one call, transfers files in parallel and reconciles each success in a
// single transaction: the Photo gets its remote URL, an add operation and a
// change-log entry are written and the record becomes SYNCED.
package attachments
