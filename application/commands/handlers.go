package commands

import (
	"context"

	"ideaflow/application/commands/bus"
	"ideaflow/application/services"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/validators"
	"ideaflow/domain/core/valueobjects"
	domain "ideaflow/domain/services"

	"go.uber.org/zap"
)

// SessionCreated is the result of CreateSessionCommand
type SessionCreated struct {
	SessionID    string                       `json:"session_id"`
	Title        string                       `json:"title"`
	Participants []valueobjects.ParticipantID `json:"participants"`
}

// EngagementRecorded is the result of RecordEngagementCommand
type EngagementRecorded struct {
	IdeaID     valueobjects.IdeaID   `json:"idea_id"`
	State      string                `json:"consensus_state"`
	Deferred   bool                  `json:"deferred"`
	Candidates []valueobjects.IdeaID `json:"tie_candidates,omitempty"`
}

// SessionHandlers executes session commands through the session manager
type SessionHandlers struct {
	manager   *services.SessionManager
	validator *validators.MessageValidator
	logger    *zap.Logger
}

// NewSessionHandlers creates the command handlers
func NewSessionHandlers(manager *services.SessionManager, validator *validators.MessageValidator, logger *zap.Logger) *SessionHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandlers{manager: manager, validator: validator, logger: logger}
}

// Register wires every handler into the bus
func (h *SessionHandlers) Register(b *bus.CommandBus) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandlerFunc
	}{
		{CreateSessionCommand{}, func(ctx context.Context, c bus.Command) (any, error) { return h.CreateSession(ctx, c.(CreateSessionCommand)) }},
		{RegisterParticipantsCommand{}, func(ctx context.Context, c bus.Command) (any, error) {
			return h.RegisterParticipants(ctx, c.(RegisterParticipantsCommand))
		}},
		{IngestMessageCommand{}, func(ctx context.Context, c bus.Command) (any, error) { return h.IngestMessage(ctx, c.(IngestMessageCommand)) }},
		{RecordEngagementCommand{}, func(ctx context.Context, c bus.Command) (any, error) {
			return h.RecordEngagement(ctx, c.(RecordEngagementCommand))
		}},
		{ResolveConsensusTieCommand{}, func(ctx context.Context, c bus.Command) (any, error) {
			return h.ResolveTie(ctx, c.(ResolveConsensusTieCommand))
		}},
		{RequestPlanCommand{}, func(ctx context.Context, c bus.Command) (any, error) {
			return nil, h.RequestPlan(ctx, c.(RequestPlanCommand))
		}},
		{CloseSessionCommand{}, func(ctx context.Context, c bus.Command) (any, error) { return nil, h.CloseSession(ctx, c.(CloseSessionCommand)) }},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession starts a session and its worker
func (h *SessionHandlers) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*SessionCreated, error) {
	id := valueobjects.NewSessionID()
	if cmd.SessionID != "" {
		parsed, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	if err := h.validator.ValidateParticipants(cmd.Participants, 0); err != nil {
		return nil, err
	}

	session, err := aggregates.NewSession(id, cmd.Title, toParticipantIDs(cmd.Participants), h.manager.Clock().Now())
	if err != nil {
		return nil, err
	}
	if err := h.manager.Create(ctx, session); err != nil {
		return nil, err
	}

	h.logger.Info("Session created",
		zap.String("sessionID", id.String()),
		zap.Int("participants", len(cmd.Participants)),
	)
	return &SessionCreated{SessionID: id.String(), Title: session.Title(), Participants: session.ParticipantIDs()}, nil
}

// RegisterParticipants adds late joiners
func (h *SessionHandlers) RegisterParticipants(ctx context.Context, cmd RegisterParticipantsCommand) ([]valueobjects.ParticipantID, error) {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return nil, err
	}
	value, err := h.manager.Execute(ctx, id, func(_ context.Context, s *aggregates.Session) (any, error) {
		if err := h.validator.ValidateParticipants(cmd.Participants, len(s.ParticipantIDs())); err != nil {
			return nil, err
		}
		return s.RegisterParticipants(toParticipantIDs(cmd.Participants), h.manager.Clock().Now())
	})
	if err != nil {
		return nil, err
	}
	added, _ := value.([]valueobjects.ParticipantID)
	if added == nil {
		added = []valueobjects.ParticipantID{}
	}
	return added, nil
}

// IngestMessage validates the raw message and hands it to the session
func (h *SessionHandlers) IngestMessage(ctx context.Context, cmd IngestMessageCommand) (*services.IngestReceipt, error) {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if err := h.validator.ValidateContent(cmd.Content); err != nil {
		return nil, err
	}
	if err := h.validator.ValidatePlatform(cmd.Platform); err != nil {
		return nil, err
	}
	metadata := valueobjects.NewMetadata(cmd.Metadata)
	if err := h.validator.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	receipt, err := h.manager.Ingest(ctx, id, services.IncomingMessage{
		ID:        valueobjects.MessageID(cmd.MessageID),
		Author:    valueobjects.ParticipantID(cmd.Author),
		Content:   cmd.Content,
		Timestamp: cmd.Timestamp,
		Platform:  cmd.Platform,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RecordEngagement applies a reaction or a support change
func (h *SessionHandlers) RecordEngagement(ctx context.Context, cmd RecordEngagementCommand) (*EngagementRecorded, error) {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return nil, err
	}
	ideaID := valueobjects.IdeaID(cmd.IdeaID)
	value, err := h.manager.Execute(ctx, id, func(_ context.Context, s *aggregates.Session) (any, error) {
		return h.manager.Pipeline().Engage(s, services.EngagementKind(cmd.Kind), ideaID, valueobjects.ParticipantID(cmd.Participant))
	})
	if err != nil {
		return nil, err
	}
	return engagementResult(ideaID, value.(domain.ConsensusEvaluation)), nil
}

// ResolveTie picks the primary idea among tied candidates
func (h *SessionHandlers) ResolveTie(ctx context.Context, cmd ResolveConsensusTieCommand) (*EngagementRecorded, error) {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return nil, err
	}
	ideaID := valueobjects.IdeaID(cmd.IdeaID)
	eval, err := h.manager.ResolveTie(ctx, id, ideaID)
	if err != nil {
		return nil, err
	}
	return engagementResult(ideaID, eval), nil
}

// RequestPlan re-arms plan generation
func (h *SessionHandlers) RequestPlan(ctx context.Context, cmd RequestPlanCommand) error {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return err
	}
	return h.manager.RequestPlan(ctx, id)
}

// CloseSession tears the session down
func (h *SessionHandlers) CloseSession(ctx context.Context, cmd CloseSessionCommand) error {
	id, err := valueobjects.NewSessionIDFromString(cmd.SessionID)
	if err != nil {
		return err
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "closed by request"
	}
	return h.manager.Close(ctx, id, reason)
}

func engagementResult(ideaID valueobjects.IdeaID, eval domain.ConsensusEvaluation) *EngagementRecorded {
	return &EngagementRecorded{
		IdeaID:     ideaID,
		State:      string(eval.Outcome.Tracker.State),
		Deferred:   eval.Deferred,
		Candidates: eval.Outcome.Tracker.TieCandidates,
	}
}

func toParticipantIDs(ids []string) []valueobjects.ParticipantID {
	out := make([]valueobjects.ParticipantID, 0, len(ids))
	for _, id := range ids {
		out = append(out, valueobjects.ParticipantID(id))
	}
	return out
}
