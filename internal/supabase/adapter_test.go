package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harborlight/marksync/internal/model"
	"github.com/harborlight/marksync/internal/sync"
)

// staticTokens is a TokenSource returning a fixed token, or an error.
type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return s.token, s.err
}

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdapterWithClient(srv.URL, "anon-key", staticTokens{token: "jwt-abc"}, srv.Client(), slog.Default())
}

func TestGetAllFavorites(t *testing.T) {
	var gotPath, gotAPIKey, gotAuth string
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]favoriteRow{{
			ID:           "uuid-1",
			OwnerID:      "owner-1",
			EntityType:   "tide_station",
			StationID:    "9447130",
			IsFavorite:   true,
			LastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}})
	})

	recs, err := a.GetAllFavorites(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("GetAllFavorites: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Type != model.EntityTideStation || rec.StationID != "9447130" || rec.RemoteID != "uuid-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if gotPath != "/rest/v1/favorites?owner_id=eq.owner-1" {
		t.Errorf("unexpected request path: %s", gotPath)
	}
	if gotAPIKey != "anon-key" {
		t.Errorf("apikey header = %q", gotAPIKey)
	}
	if gotAuth != "Bearer jwt-abc" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestInsertFavorite_ReturnsServerID(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("Prefer header = %q", got)
		}
		var rows []favoriteRow
		_ = json.NewDecoder(r.Body).Decode(&rows)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]favoriteRow{{ID: "uuid-new"}})
	})

	rec := &model.FavoriteRecord{
		Type:      model.EntityWeatherLocation,
		StationID: "wx-home",
		OwnerID:   "owner-1",
	}
	id, err := a.InsertFavorite(context.Background(), rec)
	if err != nil {
		t.Fatalf("InsertFavorite: %v", err)
	}
	if id != "uuid-new" {
		t.Errorf("id = %q, want uuid-new", id)
	}
}

func TestInsertFavorite_SendsSingleObject(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var row favoriteRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			t.Errorf("decode insert body: %v", err)
		}
		if row.EntityType != "route" || row.StationID != "route-7" {
			t.Errorf("unexpected insert body: %+v", row)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]favoriteRow{{ID: "uuid-r"}})
	})

	rec := &model.FavoriteRecord{Type: model.EntityRoute, StationID: "route-7", OwnerID: "owner-1"}
	if _, err := a.InsertFavorite(context.Background(), rec); err != nil {
		t.Fatalf("InsertFavorite: %v", err)
	}
}

func TestUpdateFavorite_ByRemoteID(t *testing.T) {
	var gotQuery string
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})

	rec := &model.FavoriteRecord{
		Type:      model.EntityWeatherLocation,
		StationID: "wx-home",
		RemoteID:  "uuid-9",
		OwnerID:   "owner-1",
	}
	if err := a.UpdateFavorite(context.Background(), rec); err != nil {
		t.Fatalf("UpdateFavorite: %v", err)
	}
	if gotQuery != "id=eq.uuid-9" {
		t.Errorf("query = %q, want id filter", gotQuery)
	}
}

func TestUpdateFavorite_ByIdentityColumns(t *testing.T) {
	var gotQuery string
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})

	rec := &model.FavoriteRecord{
		Type:          model.EntityCurrentStation,
		StationID:     "PUG1515",
		Discriminator: "12",
		OwnerID:       "owner-1",
	}
	if err := a.UpdateFavorite(context.Background(), rec); err != nil {
		t.Fatalf("UpdateFavorite: %v", err)
	}
	want := "owner_id=eq.owner-1&entity_type=eq.current_station&station_id=eq.PUG1515&discriminator=eq.12"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestDo_UnauthorizedMapsToAuthError(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := a.GetAllFavorites(context.Background(), "owner-1")
	if !errors.Is(err, sync.ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestDo_TransportFailureMapsToNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	a := NewAdapterWithClient(url, "anon-key", staticTokens{token: "jwt-abc"}, &http.Client{}, slog.Default())
	_, err := a.GetAllFavorites(context.Background(), "owner-1")
	if !errors.Is(err, sync.ErrNetworkUnavailable) {
		t.Errorf("expected ErrNetworkUnavailable, got %v", err)
	}
}

func TestDo_TokenSourceErrorPropagates(t *testing.T) {
	authErr := sync.ErrAuthenticationRequired
	a := NewAdapterWithClient("http://unused", "anon-key", staticTokens{err: authErr}, &http.Client{}, slog.Default())

	_, err := a.GetAllFavorites(context.Background(), "owner-1")
	if !errors.Is(err, sync.ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestErrorMessage_PrefersPostgrestMessage(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"duplicate key value"}`))
	})

	_, err := a.GetAllFavorites(context.Background(), "owner-1")
	if err == nil || !strings.Contains(err.Error(), "duplicate key value") {
		t.Errorf("expected postgrest message in error, got %v", err)
	}
}
