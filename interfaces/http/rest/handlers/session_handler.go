package handlers

import (
	"net/http"
	"strconv"
	"time"

	"ideaflow/application/commands"
	"ideaflow/application/commands/bus"
	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/domain/core/entities"
	"ideaflow/pkg/common"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *SessionHandler {
	return &SessionHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errorHandler,
		logger:     logger,
	}
}

// Routes mounts the session endpoints. streamHandler may be nil; the ingest
// middleware only wraps message ingestion.
func (h *SessionHandler) Routes(r chi.Router, streamHandler http.HandlerFunc, ingestMiddleware ...func(http.Handler) http.Handler) {
	r.Post("/", h.CreateSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.CloseSession)
		r.Post("/participants", h.RegisterParticipants)
		r.Get("/messages", h.GetMessageHistory)
		r.With(ingestMiddleware...).Post("/messages", h.IngestMessage)
		r.Get("/ideas", h.ListIdeas)
		r.Post("/ideas/{ideaID}/engagement", h.RecordEngagement)
		r.Get("/clusters", h.ListClusters)
		r.Get("/strengths", h.ListStrengths)
		r.Get("/consensus", h.GetConsensus)
		r.Post("/consensus/tiebreak", h.ResolveTie)
		r.Get("/plan", h.GetPlan)
		r.Post("/plan", h.RequestPlan)
		r.Get("/events", h.ListEvents)
		if streamHandler != nil {
			r.Get("/stream", streamHandler)
		}
	})
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	SessionID    string   `json:"session_id,omitempty"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

// ParticipantsRequest is the body of POST /sessions/{id}/participants
type ParticipantsRequest struct {
	Participants []string `json:"participants"`
}

// IngestMessageRequest is the body of POST /sessions/{id}/messages
type IngestMessageRequest struct {
	MessageID string                 `json:"message_id"`
	Author    string                 `json:"author"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Platform  string                 `json:"platform,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EngagementRequest is the body of POST /sessions/{id}/ideas/{ideaID}/engagement
type EngagementRequest struct {
	Participant string `json:"participant,omitempty"`
	Kind        string `json:"kind"`
}

// TiebreakRequest is the body of POST /sessions/{id}/consensus/tiebreak
type TiebreakRequest struct {
	IdeaID string `json:"idea_id"`
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusCreated, commands.CreateSessionCommand{
		SessionID:    req.SessionID,
		Title:        req.Title,
		Participants: req.Participants,
	})
}

// GetSession handles GET /sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetSessionQuery{SessionID: sessionID(r)})
}

// CloseSession handles DELETE /sessions/{sessionID}
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	cmd := commands.CloseSessionCommand{SessionID: sessionID(r), Reason: r.URL.Query().Get("reason")}
	if _, err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterParticipants handles POST /sessions/{sessionID}/participants
func (h *SessionHandler) RegisterParticipants(w http.ResponseWriter, r *http.Request) {
	var req ParticipantsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusOK, commands.RegisterParticipantsCommand{
		SessionID:    sessionID(r),
		Participants: req.Participants,
	})
}

// IngestMessage handles POST /sessions/{sessionID}/messages
func (h *SessionHandler) IngestMessage(w http.ResponseWriter, r *http.Request) {
	var req IngestMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusAccepted, commands.IngestMessageCommand{
		SessionID: sessionID(r),
		MessageID: req.MessageID,
		Author:    req.Author,
		Content:   req.Content,
		Timestamp: req.Timestamp,
		Platform:  req.Platform,
		Metadata:  req.Metadata,
	})
}

// GetMessageHistory handles GET /sessions/{sessionID}/messages
func (h *SessionHandler) GetMessageHistory(w http.ResponseWriter, r *http.Request) {
	params := common.ExtractPaginationParams(r)
	result, err := h.queryBus.Ask(r.Context(), queries.GetMessageHistoryQuery{
		SessionID:  sessionID(r),
		Pagination: &params,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	page, ok := result.(common.PaginatedResult[entities.MessageView])
	if !ok {
		h.errors.Handle(w, r, pkgerrors.NewInternalError("unexpected history result"))
		return
	}
	common.RespondWithMeta(w, http.StatusOK, page.Items, &common.MetaInfo{
		RequestID:  chimiddleware.GetReqID(r.Context()),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Pagination: page.Pagination,
	})
}

// ListIdeas handles GET /sessions/{sessionID}/ideas
func (h *SessionHandler) ListIdeas(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListIdeasQuery{SessionID: sessionID(r), ClusterID: r.URL.Query().Get("cluster_id")})
}

// RecordEngagement handles POST /sessions/{sessionID}/ideas/{ideaID}/engagement
func (h *SessionHandler) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	var req EngagementRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusOK, commands.RecordEngagementCommand{
		SessionID:   sessionID(r),
		IdeaID:      chi.URLParam(r, "ideaID"),
		Participant: req.Participant,
		Kind:        req.Kind,
	})
}

// ListClusters handles GET /sessions/{sessionID}/clusters
func (h *SessionHandler) ListClusters(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListClustersQuery{SessionID: sessionID(r)})
}

// ListStrengths handles GET /sessions/{sessionID}/strengths
func (h *SessionHandler) ListStrengths(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListStrengthsQuery{SessionID: sessionID(r), ClusterID: r.URL.Query().Get("cluster_id")})
}

// GetConsensus handles GET /sessions/{sessionID}/consensus
func (h *SessionHandler) GetConsensus(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetConsensusQuery{SessionID: sessionID(r)})
}

// ResolveTie handles POST /sessions/{sessionID}/consensus/tiebreak
func (h *SessionHandler) ResolveTie(w http.ResponseWriter, r *http.Request) {
	var req TiebreakRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusOK, commands.ResolveConsensusTieCommand{SessionID: sessionID(r), IdeaID: req.IdeaID})
}

// GetPlan handles GET /sessions/{sessionID}/plan
func (h *SessionHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetPlanQuery{SessionID: sessionID(r)})
}

// RequestPlan handles POST /sessions/{sessionID}/plan
func (h *SessionHandler) RequestPlan(w http.ResponseWriter, r *http.Request) {
	if _, err := h.commandBus.Send(r.Context(), commands.RequestPlanCommand{SessionID: sessionID(r)}); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// ListEvents handles GET /sessions/{sessionID}/events
func (h *SessionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := queries.ListEventsQuery{SessionID: sessionID(r)}
	var err error
	if q.AfterVersion, err = intParam(r, "after_version"); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.ask(w, r, q)
}

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(w, r, v, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body").
			WithCode("INVALID_BODY").
			WithDetail("reason", err.Error()))
		return false
	}
	return true
}

func (h *SessionHandler) send(w http.ResponseWriter, r *http.Request, status int, cmd bus.Command) {
	result, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, status, result)
}

func (h *SessionHandler) ask(w http.ResponseWriter, r *http.Request, q querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), q)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.NewValidationError("query parameter must be an integer").WithDetail("parameter", name)
	}
	return v, nil
}
