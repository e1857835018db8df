// Package stream fans session events out to browsers connected directly to
// the API server over WebSocket.
package stream

import (
	"context"
	"sync"
	"time"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/messaging"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// Hub tracks live connections per session and implements ports.Notifier
type Hub struct {
	mu       sync.RWMutex
	sessions map[valueobjects.SessionID]map[*Client]struct{}
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[valueobjects.SessionID]map[*Client]struct{}),
		logger:   logger,
	}
}

// Name implements ports.Notifier
func (h *Hub) Name() string { return "stream" }

// Notify implements ports.Notifier. A client whose buffer is full is
// disconnected rather than allowed to slow the session down.
func (h *Hub) Notify(_ context.Context, sessionID valueobjects.SessionID, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	payloads, err := messaging.Encode(records)
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode events").WithCause(err)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		for _, p := range payloads {
			if !c.enqueue(p) {
				h.logger.Warn("Stream client too slow, disconnecting",
					zap.String("sessionID", sessionID.String()),
					zap.String("connectionID", c.id),
				)
				c.close()
				break
			}
		}
	}
	return nil
}

// Attach registers an upgraded connection for a session and starts its pumps
func (h *Hub) Attach(conn *websocket.Conn, sessionID valueobjects.SessionID) (*Client, error) {
	c := &Client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil, pkgerrors.NewUnavailableError("event stream")
	}
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*Client]struct{})
	}
	h.sessions[sessionID][c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()

	h.logger.Info("Stream client connected",
		zap.String("sessionID", sessionID.String()),
		zap.String("connectionID", c.id),
	)
	return c, nil
}

// ConnectionCount returns the number of live clients for a session
func (h *Hub) ConnectionCount(sessionID valueobjects.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close disconnects every client and waits for their pumps to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, set := range h.sessions {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
}

// Client is one WebSocket connection following a session. Clients only
// receive; anything they send besides control frames is ignored.
type Client struct {
	id        string
	sessionID valueobjects.SessionID
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Stream read ended", zap.String("connectionID", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Stream write failed", zap.String("connectionID", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
