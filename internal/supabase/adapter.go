package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harborlight/marksync/internal/model"
	"github.com/harborlight/marksync/internal/sync"
)

const favoritesTable = "favorites"

// Doer is the subset of [http.Client] used by the adapter. Defining it as an
// interface allows mock injection in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for PostgREST requests. The session
// provider implements it; requests fail with an authentication error when no
// valid session exists.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Adapter provides sync-engine oriented operations on the Supabase favorites
// table via PostgREST. Create one with [NewAdapter] or [NewAdapterWithClient].
type Adapter struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	hc      Doer
	logger  *slog.Logger
}

// NewAdapter creates an Adapter backed by a real HTTP client.
func NewAdapter(baseURL, apiKey string, tokens TokenSource, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		hc:      &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// NewAdapterWithClient creates an Adapter with a caller-supplied HTTP client.
// Intended for testing with a mock [Doer] or an httptest server client.
func NewAdapterWithClient(baseURL, apiKey string, tokens TokenSource, hc Doer, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		hc:      hc,
		logger:  logger,
	}
}

// favoriteRow is the PostgREST JSON representation of one favorites row.
type favoriteRow struct {
	ID            string    `json:"id,omitempty"`
	OwnerID       string    `json:"owner_id"`
	EntityType    string    `json:"entity_type"`
	StationID     string    `json:"station_id"`
	Discriminator string    `json:"discriminator"`
	IsFavorite    bool      `json:"is_favorite"`
	LastModified  time.Time `json:"last_modified"`
	OriginDevice  string    `json:"origin_device_id"`
}

func rowFromRecord(rec *model.FavoriteRecord) favoriteRow {
	return favoriteRow{
		OwnerID:       rec.OwnerID,
		EntityType:    string(rec.Type),
		StationID:     rec.StationID,
		Discriminator: rec.Discriminator,
		IsFavorite:    rec.IsFavorite,
		LastModified:  rec.LastModified.UTC(),
		OriginDevice:  rec.OriginDevice,
	}
}

func (r favoriteRow) toRecord() *model.FavoriteRecord {
	return &model.FavoriteRecord{
		Type:          model.EntityType(r.EntityType),
		StationID:     r.StationID,
		Discriminator: r.Discriminator,
		RemoteID:      r.ID,
		IsFavorite:    r.IsFavorite,
		LastModified:  r.LastModified,
		OwnerID:       r.OwnerID,
		OriginDevice:  r.OriginDevice,
	}
}

// GetAllFavorites fetches every favorites row for the owner with retry.
func (a *Adapter) GetAllFavorites(ctx context.Context, ownerID string) ([]*model.FavoriteRecord, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?owner_id=eq.%s",
		a.baseURL, favoritesTable, url.QueryEscape(ownerID))

	var rows []favoriteRow
	err := Retry(ctx, defaultMaxAttempts, func() error {
		body, callErr := a.do(ctx, http.MethodGet, endpoint, nil, "")
		if callErr != nil {
			return callErr
		}
		rows = nil
		return json.Unmarshal(body, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("get favorites for owner %s: %w", ownerID, err)
	}

	recs := make([]*model.FavoriteRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.toRecord())
	}
	return recs, nil
}

// InsertFavorite creates a new favorites row and returns the server-assigned
// id, using Prefer: return=representation to read it back from the response.
func (a *Adapter) InsertFavorite(ctx context.Context, rec *model.FavoriteRecord) (string, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", a.baseURL, favoritesTable)
	payload, err := json.Marshal(rowFromRecord(rec))
	if err != nil {
		return "", fmt.Errorf("encode favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}

	var inserted []favoriteRow
	err = Retry(ctx, defaultMaxAttempts, func() error {
		body, callErr := a.do(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), "return=representation")
		if callErr != nil {
			return callErr
		}
		inserted = nil
		return json.Unmarshal(body, &inserted)
	})
	if err != nil {
		return "", fmt.Errorf("insert favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}
	if len(inserted) != 1 || inserted[0].ID == "" {
		return "", fmt.Errorf("insert favorite %s/%s: server returned no id", rec.Type, rec.StationID)
	}
	return inserted[0].ID, nil
}

// UpdateFavorite patches an existing row. Rows are addressed by remote id
// when the record carries one, otherwise by the owner and identity columns.
func (a *Adapter) UpdateFavorite(ctx context.Context, rec *model.FavoriteRecord) error {
	var filter string
	if rec.RemoteID != "" {
		filter = "id=eq." + url.QueryEscape(rec.RemoteID)
	} else {
		filter = fmt.Sprintf("owner_id=eq.%s&entity_type=eq.%s&station_id=eq.%s&discriminator=eq.%s",
			url.QueryEscape(rec.OwnerID),
			url.QueryEscape(string(rec.Type)),
			url.QueryEscape(rec.StationID),
			url.QueryEscape(rec.Discriminator),
		)
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", a.baseURL, favoritesTable, filter)

	patch := map[string]any{
		"is_favorite":      rec.IsFavorite,
		"last_modified":    rec.LastModified.UTC(),
		"origin_device_id": rec.OriginDevice,
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode favorite patch %s/%s: %w", rec.Type, rec.StationID, err)
	}

	err = Retry(ctx, defaultMaxAttempts, func() error {
		_, callErr := a.do(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload), "")
		return callErr
	})
	if err != nil {
		return fmt.Errorf("update favorite %s/%s: %w", rec.Type, rec.StationID, err)
	}
	return nil
}

// Ping validates connectivity and credentials with a minimal query.
func (a *Adapter) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?limit=0", a.baseURL, favoritesTable)
	err := Retry(ctx, defaultMaxAttempts, func() error {
		_, callErr := a.do(ctx, http.MethodGet, endpoint, nil, "")
		return callErr
	})
	if err != nil {
		return fmt.Errorf("ping supabase: %w", err)
	}
	return nil
}

// do executes one PostgREST request with auth headers and maps failures onto
// the engine's error sentinels: transport failures become network errors,
// 401/403 become authentication errors.
func (a *Adapter) do(ctx context.Context, method, endpoint string, body io.Reader, prefer string) ([]byte, error) {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%w: %v", sync.ErrNetworkUnavailable, err)
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: supabase returned %d", sync.ErrAuthenticationRequired, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

// errorMessage extracts PostgREST's error message field, falling back to a
// truncated raw body.
func errorMessage(body []byte) string {
	var pg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &pg); err == nil && pg.Message != "" {
		return pg.Message
	}
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
