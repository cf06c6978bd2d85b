// Package state manages the on-device SQLite database holding favorite
// records for all entity types.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/harborlight/marksync/internal/model"
)

// Surrogate-keyed types are unique per remote id, not per domain identity:
// a user may keep several saved views of one weather location. All other
// types hold exactly one row per (owner, type, station, discriminator).
var schema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS favorites (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id         TEXT    NOT NULL,
    entity_type      TEXT    NOT NULL,
    station_id       TEXT    NOT NULL,
    discriminator    TEXT    NOT NULL DEFAULT '',
    remote_id        TEXT    NOT NULL DEFAULT '',
    is_favorite      INTEGER NOT NULL DEFAULT 0,
    last_modified    TEXT    NOT NULL DEFAULT '',
    origin_device_id TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_favorites_identity
    ON favorites (owner_id, entity_type, station_id, discriminator)
    WHERE entity_type != '%[1]s';
CREATE UNIQUE INDEX IF NOT EXISTS idx_favorites_surrogate
    ON favorites (owner_id, entity_type, remote_id)
    WHERE entity_type = '%[1]s' AND remote_id != '';
CREATE INDEX IF NOT EXISTS idx_favorites_owner ON favorites (owner_id);
`, model.EntityWeatherLocation)

// upsertIdentityQuery addresses a row by its domain identity. The conflict
// target names the partial identity index, so its WHERE clause must repeat
// the index predicate.
var upsertIdentityQuery = fmt.Sprintf(`
	INSERT INTO favorites
	    (owner_id, entity_type, station_id, discriminator,
	     remote_id, is_favorite, last_modified, origin_device_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, entity_type, station_id, discriminator)
	WHERE entity_type != '%s'
	DO UPDATE SET
	    remote_id        = CASE WHEN excluded.remote_id != ''
	                            THEN excluded.remote_id
	                            ELSE favorites.remote_id END,
	    is_favorite      = excluded.is_favorite,
	    last_modified    = excluded.last_modified,
	    origin_device_id = excluded.origin_device_id`, model.EntityWeatherLocation)

// Store is the SQLite-backed local favorites repository. It implements the
// sync engine's LocalStore contract.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the favorites database:
// ~/.local/share/marksync/favorites.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "marksync", "favorites.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL. Safe to run on every start.
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// GetAllFavorites returns every favorite record for the owner, including
// rows with is_favorite = 0 (toggling off never deletes a row).
func (s *Store) GetAllFavorites(ctx context.Context, ownerID string) ([]*model.FavoriteRecord, error) {
	const q = `
		SELECT owner_id, entity_type, station_id, discriminator,
		       remote_id, is_favorite, last_modified, origin_device_id
		FROM favorites WHERE owner_id = ?`
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying favorites for owner %q: %w", ownerID, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*model.FavoriteRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpsertFavorite inserts or updates a record. Natural- and composite-keyed
// types address the row by owner and domain fields; surrogate-keyed types
// by owner and remote id, since several of their rows may share one domain
// identifier. An empty RemoteID on the incoming record never clears a
// previously stored surrogate id.
func (s *Store) UpsertFavorite(ctx context.Context, rec *model.FavoriteRecord) error {
	if rec.Type.KeyKind() == model.KeySurrogate {
		return s.upsertSurrogate(ctx, rec)
	}

	_, err := s.db.ExecContext(ctx, upsertIdentityQuery,
		rec.OwnerID,
		string(rec.Type),
		rec.StationID,
		rec.Discriminator,
		rec.RemoteID,
		boolToInt(rec.IsFavorite),
		formatTime(rec.LastModified),
		rec.OriginDevice,
	)
	if err != nil {
		return fmt.Errorf("upserting favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}
	return nil
}

// upsertSurrogate updates by remote id when the record carries one, and by
// domain fields otherwise (a toggle before first upload touches every saved
// view of the station). The single-writer connection makes update-then-insert
// race-free.
func (s *Store) upsertSurrogate(ctx context.Context, rec *model.FavoriteRecord) error {
	var (
		res sql.Result
		err error
	)
	if rec.RemoteID != "" {
		const q = `
			UPDATE favorites SET
			    station_id       = ?,
			    discriminator    = ?,
			    is_favorite      = ?,
			    last_modified    = ?,
			    origin_device_id = ?
			WHERE owner_id = ? AND entity_type = ? AND remote_id = ?`
		res, err = s.db.ExecContext(ctx, q,
			rec.StationID, rec.Discriminator, boolToInt(rec.IsFavorite),
			formatTime(rec.LastModified), rec.OriginDevice,
			rec.OwnerID, string(rec.Type), rec.RemoteID)
	} else {
		const q = `
			UPDATE favorites SET
			    is_favorite      = ?,
			    last_modified    = ?,
			    origin_device_id = ?
			WHERE owner_id = ? AND entity_type = ? AND station_id = ? AND discriminator = ?`
		res, err = s.db.ExecContext(ctx, q,
			boolToInt(rec.IsFavorite), formatTime(rec.LastModified), rec.OriginDevice,
			rec.OwnerID, string(rec.Type), rec.StationID, rec.Discriminator)
	}
	if err != nil {
		return fmt.Errorf("upserting favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	const ins = `
		INSERT INTO favorites
		    (owner_id, entity_type, station_id, discriminator,
		     remote_id, is_favorite, last_modified, origin_device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, ins,
		rec.OwnerID,
		string(rec.Type),
		rec.StationID,
		rec.Discriminator,
		rec.RemoteID,
		boolToInt(rec.IsFavorite),
		formatTime(rec.LastModified),
		rec.OriginDevice,
	)
	if err != nil {
		return fmt.Errorf("inserting favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}
	return nil
}

// SetRemoteID persists the remote-assigned surrogate id onto the record
// identified by rec's owner and domain fields. Only a row that does not yet
// carry a remote id is eligible, so an uploaded sibling view of the same
// station is never re-pointed. Updating zero rows is an error: the record
// must already exist locally.
func (s *Store) SetRemoteID(ctx context.Context, rec *model.FavoriteRecord, remoteID string) error {
	const q = `
		UPDATE favorites SET remote_id = ?
		WHERE owner_id = ? AND entity_type = ? AND station_id = ? AND discriminator = ?
		  AND remote_id = ''`
	res, err := s.db.ExecContext(ctx, q,
		remoteID, rec.OwnerID, string(rec.Type), rec.StationID, rec.Discriminator)
	if err != nil {
		return fmt.Errorf("writing remote id for %s/%s: %w", rec.Type, rec.StationID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("no local record for %s/%s to attach remote id to", rec.Type, rec.StationID)
	}
	return nil
}

// SetFavorite flips the favorite flag for one entity, creating the row on
// first toggle-on and stamping last_modified with the current time. Used by
// the toggle command; the sync engine goes through UpsertFavorite instead.
func (s *Store) SetFavorite(ctx context.Context, ownerID string, t model.EntityType, stationID, discriminator string, fav bool, deviceID string) error {
	rec := &model.FavoriteRecord{
		Type:          t,
		StationID:     stationID,
		Discriminator: discriminator,
		IsFavorite:    fav,
		LastModified:  time.Now().UTC(),
		OwnerID:       ownerID,
		OriginDevice:  deviceID,
	}
	return s.UpsertFavorite(ctx, rec)
}

// CountFavorites returns the number of rows currently flagged as favorites
// for the owner. Used by the status command.
func (s *Store) CountFavorites(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM favorites WHERE owner_id = ? AND is_favorite = 1`, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting favorites: %w", err)
	}
	return count, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanRecord can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*model.FavoriteRecord, error) {
	var rec model.FavoriteRecord
	var entityType string
	var fav int
	var modified string

	err := s.Scan(
		&rec.OwnerID,
		&entityType,
		&rec.StationID,
		&rec.Discriminator,
		&rec.RemoteID,
		&fav,
		&modified,
		&rec.OriginDevice,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning favorite row: %w", err)
	}

	rec.Type = model.EntityType(entityType)
	rec.IsFavorite = fav != 0
	rec.LastModified, _ = parseTime(modified)

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
