package handlers

import (
	"net/http"

	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/infrastructure/messaging/stream"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamHandler upgrades requests to WebSocket connections that receive the
// session's events as they are committed.
type StreamHandler struct {
	hub      *stream.Hub
	queryBus *querybus.QueryBus
	upgrader websocket.Upgrader
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewStreamHandler creates a stream handler. An empty origin list accepts
// any origin.
func NewStreamHandler(hub *stream.Hub, queryBus *querybus.QueryBus, allowedOrigins []string, errorHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *StreamHandler {
	h := &StreamHandler{
		hub:      hub,
		queryBus: queryBus,
		errors:   errorHandler,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Stream handles GET /sessions/{sessionID}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	raw := sessionID(r)
	if _, err := h.queryBus.Ask(r.Context(), queries.GetSessionQuery{SessionID: raw}); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	id, err := valueobjects.NewSessionIDFromString(raw)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("WebSocket upgrade failed", zap.String("sessionID", raw), zap.Error(err))
		return
	}
	if _, err := h.hub.Attach(conn, id); err != nil {
		h.logger.Warn("Stream unavailable", zap.String("sessionID", raw), zap.Error(err))
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
