package commands

import (
	"time"

	apperrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"
)

// CreateSessionCommand starts a new discussion session
type CreateSessionCommand struct {
	SessionID    string   `json:"session_id" validate:"omitempty,uuid"`
	Title        string   `json:"title" validate:"max=200"`
	Participants []string `json:"participants" validate:"max=500,dive,required,max=128"`
}

// Validate implements bus.Command
func (c CreateSessionCommand) Validate() error { return utils.ValidateStruct(c) }

// RegisterParticipantsCommand adds participants to a running session
type RegisterParticipantsCommand struct {
	SessionID    string   `json:"session_id" validate:"required,uuid"`
	Participants []string `json:"participants" validate:"min=1,max=500,dive,required,max=128"`
}

// Validate implements bus.Command
func (c RegisterParticipantsCommand) Validate() error { return utils.ValidateStruct(c) }

// IngestMessageCommand feeds one discussion message into the pipeline
type IngestMessageCommand struct {
	SessionID string                 `json:"session_id" validate:"required,uuid"`
	MessageID string                 `json:"message_id" validate:"required,max=128"`
	Author    string                 `json:"author" validate:"required,max=128"`
	Content   string                 `json:"content" validate:"required"`
	Timestamp time.Time              `json:"timestamp"`
	Platform  string                 `json:"platform" validate:"max=32"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Validate implements bus.Command
func (c IngestMessageCommand) Validate() error { return utils.ValidateStruct(c) }

// RecordEngagementCommand records a reaction, support or retraction on an idea
type RecordEngagementCommand struct {
	SessionID   string `json:"session_id" validate:"required,uuid"`
	IdeaID      string `json:"idea_id" validate:"required"`
	Participant string `json:"participant" validate:"max=128"`
	Kind        string `json:"kind" validate:"required,oneof=reaction support retract"`
}

// Validate implements bus.Command
func (c RecordEngagementCommand) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	if c.Kind != "reaction" && c.Participant == "" {
		return apperrors.NewValidationError("participant is required for support changes").
			WithDetail("kind", c.Kind)
	}
	return nil
}

// ResolveConsensusTieCommand picks the primary idea among tied candidates
type ResolveConsensusTieCommand struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	IdeaID    string `json:"idea_id" validate:"required"`
}

// Validate implements bus.Command
func (c ResolveConsensusTieCommand) Validate() error { return utils.ValidateStruct(c) }

// RequestPlanCommand re-arms plan generation after a failed attempt
type RequestPlanCommand struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Validate implements bus.Command
func (c RequestPlanCommand) Validate() error { return utils.ValidateStruct(c) }

// CloseSessionCommand tears a session down
type CloseSessionCommand struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Reason    string `json:"reason" validate:"max=200"`
}

// Validate implements bus.Command
func (c CloseSessionCommand) Validate() error { return utils.ValidateStruct(c) }
