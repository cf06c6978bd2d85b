// Package session manages the stored Supabase session: a JSON file holding
// the access token, from which the owner id is read off the JWT subject
// claim. A missing, unreadable, or expired session surfaces as the engine's
// authentication sentinel so callers can distinguish "sign in again" from
// real failures.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harborlight/marksync/internal/sync"
)

// storedSession is the on-disk session file format.
type storedSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Provider reads the session file on demand. It implements the sync engine's
// Session contract and the Supabase adapter's TokenSource.
type Provider struct {
	path string

	mu     gosync.Mutex
	cached *claims
}

// claims holds the fields extracted from the access token.
type claims struct {
	token   string
	subject string
	expires time.Time
}

// DefaultSessionPath returns the default session file location:
// ~/.local/share/marksync/session.json
func DefaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "marksync", "session.json"), nil
}

// NewProvider creates a Provider reading the session file at path.
func NewProvider(path string) *Provider {
	return &Provider{path: path}
}

// CurrentOwnerID returns the authenticated account id (the JWT subject), or
// an error wrapping [sync.ErrAuthenticationRequired] when no valid session
// exists.
func (p *Provider) CurrentOwnerID(ctx context.Context) (string, error) {
	c, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return c.subject, nil
}

// AccessToken returns the bearer token for remote requests, or an error
// wrapping [sync.ErrAuthenticationRequired] when no valid session exists.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	c, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return c.token, nil
}

// Save writes the session file with owner-only permissions and drops the
// in-memory cache so the next read picks up the new token.
func (p *Provider) Save(accessToken, refreshToken string) error {
	data, err := json.MarshalIndent(storedSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	return nil
}

// Clear removes the session file (sign-out).
func (p *Provider) Clear() error {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// load returns the cached claims if the token is still valid, otherwise
// re-reads and re-parses the session file.
func (p *Provider) load(ctx context.Context) (*claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Now().Before(p.cached.expires) {
		return p.cached, nil
	}
	p.cached = nil

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no session file at %s", sync.ErrAuthenticationRequired, p.path)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: session file is malformed: %v", sync.ErrAuthenticationRequired, err)
	}
	if stored.AccessToken == "" {
		return nil, fmt.Errorf("%w: session file has no access token", sync.ErrAuthenticationRequired)
	}

	c, err := parseToken(stored.AccessToken)
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(c.expires) {
		return nil, fmt.Errorf("%w: session expired at %s", sync.ErrAuthenticationRequired, c.expires.Format(time.RFC3339))
	}

	p.cached = c
	return c, nil
}

// parseToken extracts subject and expiry without verifying the signature.
// The token is only used as a bearer credential; Supabase verifies it
// server-side.
func parseToken(token string) (*claims, error) {
	var mc jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &mc); err != nil {
		return nil, fmt.Errorf("%w: access token is not a valid JWT: %v", sync.ErrAuthenticationRequired, err)
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: access token has no subject claim", sync.ErrAuthenticationRequired)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: access token has no expiry claim", sync.ErrAuthenticationRequired)
	}

	return &claims{token: token, subject: sub, expires: exp.Time}, nil
}
