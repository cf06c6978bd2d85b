package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/harborlight/marksync/internal/model"
)

// --- Mock local store --------------------------------------------------------

// localKey mirrors the real store's row addressing: surrogate-keyed rows are
// unique per remote id (several may share a station), everything else per
// domain identity.
type localKey struct {
	t       model.EntityType
	station string
	disc    string
	remote  string
}

func keyFor(rec *model.FavoriteRecord) localKey {
	if rec.Type.KeyKind() == model.KeySurrogate && rec.RemoteID != "" {
		return localKey{t: rec.Type, remote: rec.RemoteID}
	}
	return localKey{t: rec.Type, station: rec.StationID, disc: rec.Discriminator}
}

type mockLocal struct {
	mu   sync.Mutex
	recs map[localKey]*model.FavoriteRecord

	failGet         error
	failUpsert      error
	failSetRemoteID error

	upserts int
}

func newMockLocal(recs ...*model.FavoriteRecord) *mockLocal {
	m := &mockLocal{recs: make(map[localKey]*model.FavoriteRecord)}
	for _, rec := range recs {
		m.recs[keyFor(rec)] = rec.Clone()
	}
	return m
}

func (m *mockLocal) GetAllFavorites(_ context.Context, ownerID string) ([]*model.FavoriteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}

	var result []*model.FavoriteRecord
	for _, rec := range m.recs {
		if rec.OwnerID == ownerID {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

func (m *mockLocal) UpsertFavorite(_ context.Context, rec *model.FavoriteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		return m.failUpsert
	}

	cp := rec.Clone()
	m.upserts++

	if cp.Type.KeyKind() == model.KeySurrogate && cp.RemoteID == "" {
		// A surrogate upsert without an id touches every view of the station.
		updated := false
		for _, existing := range m.recs {
			if existing.Type == cp.Type && existing.StationID == cp.StationID &&
				existing.Discriminator == cp.Discriminator && existing.OwnerID == cp.OwnerID {
				existing.IsFavorite = cp.IsFavorite
				existing.LastModified = cp.LastModified
				existing.OriginDevice = cp.OriginDevice
				updated = true
			}
		}
		if !updated {
			m.recs[keyFor(cp)] = cp
		}
		return nil
	}

	key := keyFor(cp)
	if existing, ok := m.recs[key]; ok && cp.RemoteID == "" {
		cp.RemoteID = existing.RemoteID
	}
	m.recs[key] = cp
	return nil
}

func (m *mockLocal) SetRemoteID(_ context.Context, rec *model.FavoriteRecord, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetRemoteID != nil {
		return m.failSetRemoteID
	}

	key := localKey{t: rec.Type, station: rec.StationID, disc: rec.Discriminator}
	existing, ok := m.recs[key]
	if !ok {
		return fmt.Errorf("no local record %v without a remote id", key)
	}
	existing.RemoteID = remoteID
	delete(m.recs, key)
	m.recs[keyFor(existing)] = existing
	return nil
}

func (m *mockLocal) get(t model.EntityType, station, disc string) *model.FavoriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.Type == t && rec.StationID == station && rec.Discriminator == disc {
			return rec.Clone()
		}
	}
	return nil
}

func (m *mockLocal) getByRemoteID(t model.EntityType, remoteID string) *model.FavoriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.Type == t && rec.RemoteID == remoteID {
			return rec.Clone()
		}
	}
	return nil
}

func (m *mockLocal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// --- Mock remote store -------------------------------------------------------

type mockRemote struct {
	mu     sync.Mutex
	recs   []*model.FavoriteRecord
	nextID int

	failGet       error
	failUpdate    error
	failInsertFor map[string]error // station id → injected insert error

	getCalls int
	inserts  int
	updates  int

	// blockGet, when non-nil, is received from at the start of every
	// GetAllFavorites call so tests can hold a pass open.
	blockGet chan struct{}
}

func newMockRemote(recs ...*model.FavoriteRecord) *mockRemote {
	m := &mockRemote{nextID: 100}
	for _, rec := range recs {
		m.recs = append(m.recs, rec.Clone())
	}
	return m
}

func (m *mockRemote) GetAllFavorites(_ context.Context, ownerID string) ([]*model.FavoriteRecord, error) {
	m.mu.Lock()
	block := m.blockGet
	m.getCalls++
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}

	var result []*model.FavoriteRecord
	for _, rec := range m.recs {
		if rec.OwnerID == ownerID {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

func (m *mockRemote) InsertFavorite(_ context.Context, rec *model.FavoriteRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failInsertFor[rec.StationID]; ok {
		return "", err
	}

	m.nextID++
	id := fmt.Sprintf("r-%d", m.nextID)
	cp := rec.Clone()
	cp.RemoteID = id
	m.recs = append(m.recs, cp)
	m.inserts++
	return id, nil
}

func (m *mockRemote) UpdateFavorite(_ context.Context, rec *model.FavoriteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}

	for _, existing := range m.recs {
		sameID := rec.RemoteID != "" && existing.RemoteID == rec.RemoteID
		sameIdentity := existing.Type == rec.Type &&
			existing.StationID == rec.StationID &&
			existing.Discriminator == rec.Discriminator &&
			existing.OwnerID == rec.OwnerID
		if sameID || sameIdentity {
			existing.IsFavorite = rec.IsFavorite
			existing.LastModified = rec.LastModified
			existing.OriginDevice = rec.OriginDevice
			m.updates++
			return nil
		}
	}
	return fmt.Errorf("no remote record for %s/%s", rec.Type, rec.StationID)
}

func (m *mockRemote) find(t model.EntityType, station, disc string) *model.FavoriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.Type == t && rec.StationID == station && rec.Discriminator == disc {
			return rec.Clone()
		}
	}
	return nil
}

func (m *mockRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func (m *mockRemote) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- Mock session ------------------------------------------------------------

type mockSession struct {
	owner string
	err   error
}

func (m *mockSession) CurrentOwnerID(context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.owner, nil
}
