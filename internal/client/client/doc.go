// Package client contains the transports used to replay the local change log
// against the backend.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Backend interface): Sync and
//     SyncBulk for plain row mutations, UpdatePhotos and DeletePhoto for photo
//     bundles, and Ping.
//  2. An HTTP implementation (see HTTPBackend) sending JSON with a bearer
//     token obtained from an auth.TokenSource before every call.
//  3. A gRPC implementation (see GRPCBackend) exchanging structpb messages,
//     injecting the token via an interceptor and mapping status codes.
//
// # Error Handling
//
// Every failed call returns a *CallError carrying an Outcome:
// OutcomeBusinessReject, OutcomeRetryable or OutcomeAuthPause. Use Classify
// to obtain the outcome of any error. The sentinel errors ErrUnavailable and
// ErrUnauthorized can be matched with errors.Is.
//
// Implementations are safe for concurrent use. All operations accept
// context.Context and honor cancellation.
package client
