// Package services contains the domain services of the sync agent. Every
// local write they perform is paired, in the same transaction, with a
// change-log entry that the connector later replays to the backend.
package services
