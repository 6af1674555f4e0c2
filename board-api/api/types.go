package api

import (
	"context"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// Authenticator is implemented by types able to derive the acting identity
// from an Authorization header.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
	// Complete records the board a processed key changed.
	Complete(ctx context.Context, userID, key, boardID string) error
	// Lookup returns the board recorded for a key, or "" while the first
	// request is still in flight or changed no board.
	Lookup(ctx context.Context, userID, key string) (string, error)
}
