// Package sync implements the favorite-reconciliation engine for marksync.
// It compares the on-device favorites snapshot against the cloud-hosted
// snapshot for the authenticated user, partitions the difference into
// upload-only, download-only, and conflicting sets using per-entity-type
// identity mappers, and applies each set through the two store adapters.
//
// The package contains three main components:
//
//   - [Reconciler] executes one complete pass and returns a [Report].
//   - [Engine] wraps a pass with OTel tracing and counters.
//   - [Scheduler] admits triggers (throttle, debounce) and guarantees at
//     most one pass per owner is in flight.
package sync

import (
	"context"

	"github.com/harborlight/marksync/internal/model"
)

// LocalStore provides read/write access to on-device favorite records.
// Implemented by [state.Store].
type LocalStore interface {
	GetAllFavorites(ctx context.Context, ownerID string) ([]*model.FavoriteRecord, error)
	UpsertFavorite(ctx context.Context, rec *model.FavoriteRecord) error
	// SetRemoteID persists a remote-assigned surrogate id onto the local
	// record identified by rec's owner and domain fields.
	SetRemoteID(ctx context.Context, rec *model.FavoriteRecord, remoteID string) error
}

// RemoteStore provides read/write access to cloud-hosted favorite records,
// scoped to the authenticated user. Implemented by [supabase.Adapter].
type RemoteStore interface {
	GetAllFavorites(ctx context.Context, ownerID string) ([]*model.FavoriteRecord, error)
	// InsertFavorite creates the record remotely and returns the
	// server-generated surrogate id.
	InsertFavorite(ctx context.Context, rec *model.FavoriteRecord) (remoteID string, err error)
	// UpdateFavorite overwrites the favorite flag and timestamp of the
	// remote record identified by rec's RemoteID, or by its owner and
	// domain fields when no surrogate id exists.
	UpdateFavorite(ctx context.Context, rec *model.FavoriteRecord) error
}

// Session resolves the authenticated owner. Called at the start of every
// pass; a failure aborts the pass before any read or write.
// Implemented by [session.Provider].
type Session interface {
	// CurrentOwnerID returns the authenticated user's id, or an error
	// wrapping [ErrAuthenticationRequired] when no valid session exists.
	CurrentOwnerID(ctx context.Context) (string, error)
}
