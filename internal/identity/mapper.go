// Package identity defines how local and remote favorite records are
// recognised as the same entity. Each entity type registers one of three
// strategies:
//
//   - natural: the domain identifier is the key.
//   - composite: the domain identifier plus a discriminator is the key;
//     a missing constituent field is an error, never a silent mismatch.
//   - surrogate: the remote store's generated id becomes the key once the
//     record has been uploaded; before that, the domain identifier is used
//     to match new candidates.
package identity

import (
	"fmt"

	"github.com/harborlight/marksync/internal/model"
)

// MappingError reports that a key could not be constructed from a record,
// usually because a constituent field is absent. It indicates a schema or
// logic defect rather than a transient condition and should be logged
// loudly by callers.
type MappingError struct {
	Type   model.EntityType
	Field  string
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity mapping for %s: %s %s: %v", e.Type, e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("identity mapping for %s: %s %s", e.Type, e.Field, e.Reason)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Mapper produces canonical entity keys for one entity type.
// Implementations must be stateless and safe for concurrent use.
type Mapper interface {
	// EntityType returns the type this mapper serves.
	EntityType() model.EntityType

	// Kind returns the key strategy.
	Kind() model.KeyKind

	// LocalKey computes the matching key for a record read from the local
	// store.
	LocalKey(rec *model.FavoriteRecord) (model.EntityKey, error)

	// RemoteKey computes the matching key for a record read from the remote
	// store.
	RemoteKey(rec *model.FavoriteRecord) (model.EntityKey, error)
}

// NaturalMapper matches records by their domain identifier alone.
type NaturalMapper struct {
	Type model.EntityType
}

func (m NaturalMapper) EntityType() model.EntityType { return m.Type }

func (m NaturalMapper) Kind() model.KeyKind { return model.KeyNatural }

func (m NaturalMapper) LocalKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	return m.key(rec)
}

func (m NaturalMapper) RemoteKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	return m.key(rec)
}

func (m NaturalMapper) key(rec *model.FavoriteRecord) (model.EntityKey, error) {
	if rec.StationID == "" {
		return model.EntityKey{}, &MappingError{Type: m.Type, Field: "station id", Reason: "is empty"}
	}
	return model.EntityKey{Kind: model.KeyNatural, Primary: rec.StationID}, nil
}

// CompositeMapper matches records by domain identifier plus discriminator.
// Both constituents are required; the remote schema stores them as separate
// columns so the key can always be reconstructed without ambiguity.
type CompositeMapper struct {
	Type model.EntityType
}

func (m CompositeMapper) EntityType() model.EntityType { return m.Type }

func (m CompositeMapper) Kind() model.KeyKind { return model.KeyComposite }

func (m CompositeMapper) LocalKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	return m.key(rec)
}

func (m CompositeMapper) RemoteKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	return m.key(rec)
}

func (m CompositeMapper) key(rec *model.FavoriteRecord) (model.EntityKey, error) {
	if rec.StationID == "" {
		return model.EntityKey{}, &MappingError{Type: m.Type, Field: "station id", Reason: "is empty"}
	}
	if rec.Discriminator == "" {
		return model.EntityKey{}, &MappingError{Type: m.Type, Field: "discriminator", Reason: "is empty"}
	}
	return model.EntityKey{
		Kind:          model.KeyComposite,
		Primary:       rec.StationID,
		Discriminator: rec.Discriminator,
	}, nil
}

// SurrogateMapper matches uploaded records by their remote-assigned id.
// A local record that has never been uploaded keys on its domain identifier
// instead; such keys never equal an uploaded key, which makes the record an
// upload candidate unless the reconciler claims an unmatched remote record
// with the same domain identifier first.
type SurrogateMapper struct {
	Type model.EntityType
}

func (m SurrogateMapper) EntityType() model.EntityType { return m.Type }

func (m SurrogateMapper) Kind() model.KeyKind { return model.KeySurrogate }

func (m SurrogateMapper) LocalKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	if rec.RemoteID != "" {
		return model.EntityKey{Kind: model.KeySurrogate, Surrogate: rec.RemoteID}, nil
	}
	if rec.StationID == "" {
		return model.EntityKey{}, &MappingError{Type: m.Type, Field: "station id", Reason: "is empty on never-uploaded record"}
	}
	return model.EntityKey{Kind: model.KeySurrogate, Primary: rec.StationID}, nil
}

func (m SurrogateMapper) RemoteKey(rec *model.FavoriteRecord) (model.EntityKey, error) {
	if rec.RemoteID == "" {
		return model.EntityKey{}, &MappingError{Type: m.Type, Field: "remote id", Reason: "is missing on remote record"}
	}
	return model.EntityKey{Kind: model.KeySurrogate, Surrogate: rec.RemoteID}, nil
}

// Registry holds the mapper for each entity type the engine reconciles.
type Registry struct {
	mappers map[model.EntityType]Mapper
}

// NewRegistry builds a registry from the given mappers. Registering two
// mappers for the same type is a programming error.
func NewRegistry(mappers ...Mapper) (*Registry, error) {
	r := &Registry{mappers: make(map[model.EntityType]Mapper, len(mappers))}
	for _, m := range mappers {
		if _, dup := r.mappers[m.EntityType()]; dup {
			return nil, fmt.Errorf("duplicate mapper for entity type %q", m.EntityType())
		}
		r.mappers[m.EntityType()] = m
	}
	return r, nil
}

// DefaultRegistry returns the production mapper set: tide stations, nav
// units, and routes use natural keys; current stations composite keys
// (station id + depth bin); weather locations surrogate ids. The strategy
// per type comes from [model.EntityType.KeyKind].
func DefaultRegistry() *Registry {
	var mappers []Mapper
	for _, t := range model.AllEntityTypes() {
		switch t.KeyKind() {
		case model.KeyComposite:
			mappers = append(mappers, CompositeMapper{Type: t})
		case model.KeySurrogate:
			mappers = append(mappers, SurrogateMapper{Type: t})
		default:
			mappers = append(mappers, NaturalMapper{Type: t})
		}
	}
	r, err := NewRegistry(mappers...)
	if err != nil {
		// Static mapper set; duplicates cannot occur.
		panic(err)
	}
	return r
}

// Lookup returns the mapper for the given type, or an error if the type is
// unknown.
func (r *Registry) Lookup(t model.EntityType) (Mapper, error) {
	m, ok := r.mappers[t]
	if !ok {
		return nil, &MappingError{Type: t, Field: "entity type", Reason: "has no registered mapper"}
	}
	return m, nil
}

// Types returns the registered entity types in registration-independent
// stable order (the order of [model.AllEntityTypes], filtered).
func (r *Registry) Types() []model.EntityType {
	var types []model.EntityType
	for _, t := range model.AllEntityTypes() {
		if _, ok := r.mappers[t]; ok {
			types = append(types, t)
		}
	}
	return types
}
