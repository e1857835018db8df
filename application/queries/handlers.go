package queries

import (
	"context"
	"time"

	"ideaflow/application/ports"
	"ideaflow/application/queries/bus"
	"ideaflow/application/services"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/pkg/common"
)

const defaultEventLimit = 100

// SessionSummary is the read model returned by GetSessionQuery
type SessionSummary struct {
	ID             valueobjects.SessionID  `json:"id"`
	Title          string                  `json:"title"`
	Mode           entities.SessionMode    `json:"mode"`
	Closed         bool                    `json:"closed"`
	Version        int                     `json:"version"`
	Participants   []entities.Participant  `json:"participants"`
	MessageCount   int                     `json:"messageCount"`
	IdeaCount      int                     `json:"ideaCount"`
	ClusterCount   int                     `json:"clusterCount"`
	ConsensusState entities.ConsensusState `json:"consensusState"`
	PlanState      aggregates.PlanState    `json:"planState"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// IdeaSummary pairs an idea with its current strength
type IdeaSummary struct {
	entities.IdeaView
	Strength *entities.IdeaStrength `json:"strength,omitempty"`
}

// ClusterSummary is a cluster without its centroid
type ClusterSummary struct {
	ID      valueobjects.ClusterID `json:"id"`
	Label   string                 `json:"label"`
	IdeaIDs []valueobjects.IdeaID  `json:"ideaIds"`
	Size    int                    `json:"size"`
	TopIdea valueobjects.IdeaID    `json:"topIdea,omitempty"`
}

// PlanResult reports the plan lifecycle and the plan when generated
type PlanResult struct {
	State aggregates.PlanState  `json:"state"`
	Plan  *entities.ProjectPlan `json:"plan,omitempty"`
	Mode  entities.SessionMode  `json:"mode"`
	Idea  valueobjects.IdeaID   `json:"ideaId,omitempty"`
}

// SessionQueries answers read queries from the live session worker
type SessionQueries struct {
	manager *services.SessionManager
	store   ports.SessionStore
}

// NewSessionQueries creates the query handlers
func NewSessionQueries(manager *services.SessionManager, store ports.SessionStore) *SessionQueries {
	return &SessionQueries{manager: manager, store: store}
}

// Register wires every handler into the bus
func (h *SessionQueries) Register(b *bus.QueryBus) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandlerFunc
	}{
		{GetSessionQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.GetSession(ctx, q.(GetSessionQuery)) }},
		{GetMessageHistoryQuery{}, func(ctx context.Context, q bus.Query) (any, error) {
			return h.GetMessageHistory(ctx, q.(GetMessageHistoryQuery))
		}},
		{ListIdeasQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.ListIdeas(ctx, q.(ListIdeasQuery)) }},
		{ListClustersQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.ListClusters(ctx, q.(ListClustersQuery)) }},
		{ListStrengthsQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.ListStrengths(ctx, q.(ListStrengthsQuery)) }},
		{GetConsensusQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.GetConsensus(ctx, q.(GetConsensusQuery)) }},
		{GetPlanQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.GetPlan(ctx, q.(GetPlanQuery)) }},
		{ListEventsQuery{}, func(ctx context.Context, q bus.Query) (any, error) { return h.ListEvents(ctx, q.(ListEventsQuery)) }},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// view runs fn on the session worker and asserts the result type.
func view[T any](ctx context.Context, m *services.SessionManager, rawID string, fn func(*aggregates.Session) T) (T, error) {
	var zero T
	id, err := valueobjects.NewSessionIDFromString(rawID)
	if err != nil {
		return zero, err
	}
	value, err := m.View(ctx, id, func(s *aggregates.Session) (any, error) {
		return fn(s), nil
	})
	if err != nil {
		return zero, err
	}
	return value.(T), nil
}

// GetSession returns the session summary
func (h *SessionQueries) GetSession(ctx context.Context, q GetSessionQuery) (*SessionSummary, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) *SessionSummary {
		return &SessionSummary{
			ID:             s.ID(),
			Title:          s.Title(),
			Mode:           s.Mode(),
			Closed:         s.IsClosed(),
			Version:        s.Version(),
			Participants:   s.Participants(),
			MessageCount:   len(s.Messages()),
			IdeaCount:      len(s.Ideas()),
			ClusterCount:   len(s.Clusters()),
			ConsensusState: s.Consensus().State,
			PlanState:      s.PlanState(),
			CreatedAt:      s.CreatedAt(),
			UpdatedAt:      s.UpdatedAt(),
		}
	})
}

// GetMessageHistory returns one page of the processed message log in
// sequence order.
func (h *SessionQueries) GetMessageHistory(ctx context.Context, q GetMessageHistoryQuery) (common.PaginatedResult[entities.MessageView], error) {
	params := common.DefaultPaginationParams()
	if q.Pagination != nil {
		params = *q.Pagination
	}
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) common.PaginatedResult[entities.MessageView] {
		messages := s.Messages()
		views := make([]entities.MessageView, 0, len(messages))
		for _, m := range messages {
			views = append(views, m.View())
		}
		return common.Paginate(views, params)
	})
}

// ListIdeas returns ideas in extraction order with their strengths
func (h *SessionQueries) ListIdeas(ctx context.Context, q ListIdeasQuery) ([]IdeaSummary, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) []IdeaSummary {
		out := []IdeaSummary{}
		for _, idea := range s.Ideas() {
			if q.ClusterID != "" && string(idea.ClusterID()) != q.ClusterID {
				continue
			}
			summary := IdeaSummary{IdeaView: idea.View()}
			if st, ok := s.Strength(idea.ID()); ok {
				summary.Strength = &st
			}
			out = append(out, summary)
		}
		return out
	})
}

// ListClusters returns clusters in creation order
func (h *SessionQueries) ListClusters(ctx context.Context, q ListClustersQuery) ([]ClusterSummary, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) []ClusterSummary {
		top := map[valueobjects.ClusterID]valueobjects.IdeaID{}
		for _, st := range s.Strengths() {
			if st.Rank == 1 {
				top[st.ClusterID] = st.IdeaID
			}
		}
		out := []ClusterSummary{}
		for _, c := range s.Clusters() {
			v := c.View()
			out = append(out, ClusterSummary{
				ID:      v.ID,
				Label:   v.Label,
				IdeaIDs: v.IdeaIDs,
				Size:    len(v.IdeaIDs),
				TopIdea: top[v.ID],
			})
		}
		return out
	})
}

// ListStrengths returns strengths grouped by cluster, best first
func (h *SessionQueries) ListStrengths(ctx context.Context, q ListStrengthsQuery) ([]entities.IdeaStrength, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) []entities.IdeaStrength {
		out := []entities.IdeaStrength{}
		for _, st := range s.Strengths() {
			if q.ClusterID == "" || string(st.ClusterID) == q.ClusterID {
				out = append(out, st)
			}
		}
		return out
	})
}

// GetConsensus returns the consensus tracker including its history
func (h *SessionQueries) GetConsensus(ctx context.Context, q GetConsensusQuery) (entities.ConsensusTracker, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) entities.ConsensusTracker {
		return s.Consensus()
	})
}

// GetPlan returns the plan state and the generated plan
func (h *SessionQueries) GetPlan(ctx context.Context, q GetPlanQuery) (*PlanResult, error) {
	return view(ctx, h.manager, q.SessionID, func(s *aggregates.Session) *PlanResult {
		return &PlanResult{
			State: s.PlanState(),
			Plan:  s.Plan(),
			Mode:  s.Mode(),
			Idea:  s.Consensus().Current.IdeaID,
		}
	})
}

// ListEvents reads recorded events straight from the store
func (h *SessionQueries) ListEvents(ctx context.Context, q ListEventsQuery) ([]events.Record, error) {
	id, err := valueobjects.NewSessionIDFromString(q.SessionID)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultEventLimit
	}
	records, err := h.store.ListEvents(ctx, id, q.AfterVersion, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []events.Record{}
	}
	return records, nil
}
