package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// heartbeatInterval keeps the Phoenix channel alive; Supabase closes
	// connections that stay silent for more than a minute.
	heartbeatInterval = 30 * time.Second

	// readTimeout bounds how long a read may block; two missed heartbeat
	// acks mean the connection is dead.
	readTimeout = 70 * time.Second
)

// phoenixMessage is the Phoenix channel wire frame the Realtime service
// speaks.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// Listener subscribes to postgres_changes events on the favorites table and
// invokes a callback for every remote write. It reconnects with backoff
// until its context is cancelled.
type Listener struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	logger  *slog.Logger
}

// NewListener creates a realtime listener for the given Supabase project.
func NewListener(baseURL, apiKey string, tokens TokenSource, logger *slog.Logger) *Listener {
	return &Listener{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		logger:  logger,
	}
}

// Run connects and dispatches change notifications to onChange. It blocks
// until ctx is cancelled, reconnecting after connection failures. onChange
// is called from the read loop and must return quickly; the scheduler's
// debounce absorbs bursts.
func (l *Listener) Run(ctx context.Context, ownerID string, onChange func()) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.listenOnce(ctx, ownerID, onChange)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("realtime connection lost, reconnecting", "error", err)

		delay := backoffDelay(min(attempt, 4))
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// listenOnce runs one connection lifetime: dial, join, heartbeat, read loop.
func (l *Listener) listenOnce(ctx context.Context, ownerID string, onChange func()) error {
	token, err := l.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("realtime auth: %w", err)
	}

	wsURL := l.websocketURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer func() { _ = conn.Close() }()

	topic := "realtime:public:" + favoritesTable
	if err := l.join(conn, topic, ownerID, token); err != nil {
		return err
	}
	l.logger.Info("realtime channel joined", "topic", topic)

	// Heartbeats run until the connection dies; closing the conn below
	// stops the goroutine via write failure.
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go l.heartbeat(hbCtx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg phoenixMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read realtime frame: %w", err)
		}

		switch msg.Event {
		case "postgres_changes", "INSERT", "UPDATE", "DELETE":
			l.logger.Debug("remote change observed", "event", msg.Event)
			onChange()
		case "phx_error", "phx_close":
			return fmt.Errorf("channel closed by server: %s", msg.Event)
		default:
			// Heartbeat acks and join replies need no handling.
		}
	}
}

// join sends the phx_join frame subscribing to changes on the owner's rows.
func (l *Listener) join(conn *websocket.Conn, topic, ownerID, token string) error {
	payload := map[string]any{
		"access_token": token,
		"config": map[string]any{
			"postgres_changes": []map[string]string{{
				"event":  "*",
				"schema": "public",
				"table":  favoritesTable,
				"filter": "owner_id=eq." + ownerID,
			}},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode join payload: %w", err)
	}
	msg := phoenixMessage{Topic: topic, Event: "phx_join", Payload: raw, Ref: "1"}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	return nil
}

// heartbeat sends Phoenix heartbeat frames until ctx is cancelled or a write
// fails.
func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := phoenixMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: json.RawMessage("{}"),
				Ref:     "hb",
			}
			if err := conn.WriteJSON(msg); err != nil {
				l.logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

// websocketURL derives the realtime endpoint from the project's REST URL.
func (l *Listener) websocketURL() string {
	ws := strings.Replace(l.baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", ws, url.QueryEscape(l.apiKey))
}
