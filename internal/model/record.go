// Package model defines shared types used across the sync engine and adapters.
package model

import (
	"fmt"
	"time"
)

// EntityType identifies one favoritable navigational entity category.
// Each type registers exactly one identity-mapping strategy.
type EntityType string

const (
	// EntityTideStation is a NOAA tide prediction station.
	EntityTideStation EntityType = "tide_station"
	// EntityCurrentStation is a current prediction station; a single station
	// publishes predictions at several depth bins, so the station id alone is
	// ambiguous.
	EntityCurrentStation EntityType = "current_station"
	// EntityNavUnit is a navigation unit (buoy, light, daymark).
	EntityNavUnit EntityType = "nav_unit"
	// EntityWeatherLocation is a saved weather location. Users may keep
	// several saved views of the same location, so identity is the remote
	// store's surrogate id once assigned.
	EntityWeatherLocation EntityType = "weather_location"
	// EntityRoute is a user-created route.
	EntityRoute EntityType = "route"
)

// AllEntityTypes lists every type the engine reconciles, in a stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTideStation,
		EntityCurrentStation,
		EntityNavUnit,
		EntityWeatherLocation,
		EntityRoute,
	}
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTideStation, EntityCurrentStation, EntityNavUnit,
		EntityWeatherLocation, EntityRoute:
		return true
	}
	return false
}

// KeyKind returns the identity strategy for records of type t. The store
// and the identity registry both derive their per-type behaviour from this
// mapping so they cannot drift apart.
func (t EntityType) KeyKind() KeyKind {
	switch t {
	case EntityCurrentStation:
		return KeyComposite
	case EntityWeatherLocation:
		return KeySurrogate
	default:
		return KeyNatural
	}
}

// KeyKind tags which identity strategy produced an [EntityKey].
type KeyKind int

const (
	// KeyNatural means the key is the entity's own domain identifier.
	KeyNatural KeyKind = iota
	// KeyComposite means the key combines the domain identifier with a
	// secondary discriminator (e.g. a depth bin).
	KeyComposite
	// KeySurrogate means the key is the remote store's generated id.
	KeySurrogate
)

// String returns the strategy label for logging.
func (k KeyKind) String() string {
	switch k {
	case KeyNatural:
		return "natural"
	case KeyComposite:
		return "composite"
	case KeySurrogate:
		return "surrogate"
	default:
		return "unknown"
	}
}

// EntityKey is the canonical identity of one favorited entity within its
// type. It is a comparable tagged value: two records represent the same
// favorite if and only if their keys are equal under ==. Keys are never
// delimiter-joined strings; the fields stay separate so a discriminator
// containing arbitrary text cannot collide with another key.
type EntityKey struct {
	Kind KeyKind

	// Primary is the domain identifier (station id, unit id, location id).
	// Set for natural and composite keys, and for surrogate keys that have
	// not been uploaded yet.
	Primary string

	// Discriminator distinguishes sub-records sharing Primary. Set only for
	// composite keys.
	Discriminator string

	// Surrogate is the remote-assigned id. Set only once a surrogate-strategy
	// record has been uploaded (or downloaded).
	Surrogate string
}

// String renders the key for logs and error messages. Not an identity; use
// == on the struct for matching.
func (k EntityKey) String() string {
	switch k.Kind {
	case KeyComposite:
		return fmt.Sprintf("%s/%s", k.Primary, k.Discriminator)
	case KeySurrogate:
		if k.Surrogate != "" {
			return "id:" + k.Surrogate
		}
		return "new:" + k.Primary
	default:
		return k.Primary
	}
}

// FavoriteRecord is one user's favorite-or-not state for one entity
// instance, as held by either the local or the remote store.
//
// Toggling a favorite off sets IsFavorite to false; rows are never deleted
// outside the account-deletion flow, so false is a legitimate persisted
// state that must survive reconciliation.
type FavoriteRecord struct {
	// Type selects the identity mapper for this record.
	Type EntityType

	// StationID is the primary domain identifier.
	StationID string

	// Discriminator is the secondary domain field for composite-key types
	// (depth bin for current stations). Empty for other types.
	Discriminator string

	// RemoteID is the surrogate id assigned by the remote store on first
	// insert. Empty means the record has never been successfully uploaded.
	RemoteID string

	IsFavorite bool

	// LastModified is set by whichever side last wrote the record. It is
	// monotonically non-decreasing per key as observed by a single store.
	LastModified time.Time

	// OwnerID scopes the record to the authenticated user.
	OwnerID string

	// OriginDevice identifies the device that produced the last write.
	// Diagnostic only; not used to break conflict ties.
	OriginDevice string
}

// Clone returns a copy of the record.
func (r *FavoriteRecord) Clone() *FavoriteRecord {
	cp := *r
	return &cp
}
