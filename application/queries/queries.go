package queries

import (
	"ideaflow/pkg/common"
	"ideaflow/pkg/utils"
)

// GetSessionQuery returns a summary of one session
type GetSessionQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Validate implements bus.Query
func (q GetSessionQuery) Validate() error { return utils.ValidateStruct(q) }

// GetMessageHistoryQuery pages through the processed message log
type GetMessageHistoryQuery struct {
	SessionID  string                   `json:"session_id" validate:"required,uuid"`
	Pagination *common.PaginationParams `json:"pagination" validate:"omitempty"`
}

// Validate implements bus.Query
func (q GetMessageHistoryQuery) Validate() error { return utils.ValidateStruct(q) }

// ListIdeasQuery lists ideas, optionally restricted to one cluster
type ListIdeasQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	ClusterID string `json:"cluster_id"`
}

// Validate implements bus.Query
func (q ListIdeasQuery) Validate() error { return utils.ValidateStruct(q) }

// ListClustersQuery lists clusters with their labels and members
type ListClustersQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Validate implements bus.Query
func (q ListClustersQuery) Validate() error { return utils.ValidateStruct(q) }

// ListStrengthsQuery lists idea strengths, optionally for one cluster
type ListStrengthsQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	ClusterID string `json:"cluster_id"`
}

// Validate implements bus.Query
func (q ListStrengthsQuery) Validate() error { return utils.ValidateStruct(q) }

// GetConsensusQuery returns the consensus tracker of a session
type GetConsensusQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Validate implements bus.Query
func (q GetConsensusQuery) Validate() error { return utils.ValidateStruct(q) }

// GetPlanQuery returns the plan state and the plan when one exists
type GetPlanQuery struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Validate implements bus.Query
func (q GetPlanQuery) Validate() error { return utils.ValidateStruct(q) }

// ListEventsQuery lists recorded events after a version
type ListEventsQuery struct {
	SessionID    string `json:"session_id" validate:"required,uuid"`
	AfterVersion int    `json:"after_version" validate:"min=0"`
	Limit        int    `json:"limit" validate:"min=0,max=1000"`
}

// Validate implements bus.Query
func (q ListEventsQuery) Validate() error { return utils.ValidateStruct(q) }
