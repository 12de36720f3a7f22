// Package common defines shared constants and sentinel errors used across the
// sync agent. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Validation errors.
	ErrIncorrectMetadata = errors.New("incorrect metadata")

	// Session errors.
	ErrNoSession    = errors.New("no session token available")
	ErrInvalidToken = errors.New("invalid token")
)
