package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// Endpoint upgrades HTTP requests to websocket connections on an Adapter.
type Endpoint struct {
	adapter      *Adapter
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointLogger sets the endpoint logger.
func WithEndpointLogger(logger *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		e.logger = logger
	}
}

// WithWriteTimeout bounds each websocket write. A client that does not
// accept a message within the timeout fails the send and is pruned.
func WithWriteTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		e.writeTimeout = d
	}
}

// WithCheckOrigin replaces the upgrader's same-origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) EndpointOption {
	return func(e *Endpoint) {
		e.upgrader.CheckOrigin = fn
	}
}

// NewEndpoint creates a websocket endpoint for a.
func NewEndpoint(a *Adapter, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		adapter:      a,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "websocket")
	return e
}

// Serve upgrades the request and pumps client messages to activityID until
// the client goes away. It returns ErrUnknownActivity before upgrading if
// the activity does not accept connections.
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request, activityID uuid.UUID) error {
	if !e.adapter.Registered(activityID) {
		return fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
	}

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return fmt.Errorf("upgrading connection: %w", err)
	}

	ctx := context.WithoutCancel(r.Context())
	sender := &wsSender{conn: ws, writeTimeout: e.writeTimeout}
	connID, err := e.adapter.Connect(ctx, activityID, sender)
	if err != nil {
		ws.Close()
		return err
	}

	logger := e.logger.With("activity_id", activityID, "connection_id", connID)
	logger.Info("websocket client connected", "remote", r.RemoteAddr)

	e.readLoop(ctx, ws, connID, logger)

	if err := e.adapter.Disconnect(ctx, connID); err != nil && !errors.Is(err, ErrUnknownConnection) {
		logger.Warn("disconnect failed", "error", err)
	}
	logger.Info("websocket client disconnected")
	return nil
}

func (e *Endpoint) readLoop(ctx context.Context, ws *websocket.Conn, connID string, logger *slog.Logger) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			logger.Debug("ignoring non-text message", "type", msgType)
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			logger.Warn("ignoring malformed message", "error", err)
			continue
		}
		if err := e.adapter.Receive(ctx, connID, payload); err != nil {
			// The connection was pruned by a failed send.
			logger.Debug("receive after close", "error", err)
			return
		}
	}
}

// wsSender serializes writes to a websocket connection.
type wsSender struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (s *wsSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
