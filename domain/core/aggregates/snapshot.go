package aggregates

import (
	"sort"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
)

// SessionSnapshot is the persisted document of a session. Messages are kept
// separately by stores that maintain an append-only log.
type SessionSnapshot struct {
	ID           valueobjects.SessionID                         `json:"id"`
	Title        string                                         `json:"title"`
	Mode         entities.SessionMode                           `json:"mode"`
	Closed       bool                                           `json:"closed"`
	Participants []entities.Participant                         `json:"participants"`
	Ideas        []entities.IdeaView                            `json:"ideas"`
	Embeddings   map[valueobjects.IdeaID]valueobjects.Embedding `json:"embeddings,omitempty"`
	Clusters     []entities.ClusterView                         `json:"clusters"`
	Strengths    []entities.IdeaStrength                        `json:"strengths"`
	Consensus    entities.ConsensusTracker                      `json:"consensus"`
	Plan         *entities.ProjectPlan                          `json:"plan,omitempty"`
	PlanState    PlanState                                      `json:"planState"`
	LastSequence int64                                          `json:"lastSequence"`
	EventSeq     int                                            `json:"eventSeq"`
	CreatedAt    time.Time                                      `json:"createdAt"`
	UpdatedAt    time.Time                                      `json:"updatedAt"`
	Version      int                                            `json:"version"`
}

// Snapshot captures the session document without the message log.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:           s.id,
		Title:        s.title,
		Mode:         s.mode,
		Closed:       s.closed,
		Participants: s.Participants(),
		Ideas:        make([]entities.IdeaView, 0, len(s.ideaOrder)),
		Embeddings:   make(map[valueobjects.IdeaID]valueobjects.Embedding, len(s.embeddings)),
		Clusters:     make([]entities.ClusterView, 0, len(s.clusterOrder)),
		Strengths:    s.Strengths(),
		Consensus:    s.consensus.Clone(),
		PlanState:    s.planState,
		LastSequence: s.lastSequence,
		EventSeq:     s.eventSeq,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		Version:      s.version,
	}
	for _, idea := range s.Ideas() {
		snap.Ideas = append(snap.Ideas, idea.View())
	}
	for id, e := range s.embeddings {
		snap.Embeddings[id] = e.Clone()
	}
	for _, c := range s.Clusters() {
		snap.Clusters = append(snap.Clusters, c.View())
	}
	if s.plan != nil {
		plan := *s.plan
		snap.Plan = &plan
	}
	return snap
}

// MessageLog returns the serialized message log in order.
func (s *Session) MessageLog() []entities.MessageView {
	out := make([]entities.MessageView, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.View())
	}
	return out
}

// RestoreSession rebuilds a session from its snapshot and message log.
func RestoreSession(snap SessionSnapshot, messages []*entities.Message) *Session {
	s := newEmptySession(snap.ID)
	s.title = snap.Title
	s.mode = snap.Mode
	if s.mode == "" {
		s.mode = entities.ModeDiscussion
	}
	s.closed = snap.Closed
	s.planState = snap.PlanState
	if s.planState == "" {
		s.planState = PlanIdle
	}
	s.lastSequence = snap.LastSequence
	s.eventSeq = snap.EventSeq
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.version = snap.Version

	for i := range snap.Participants {
		p := snap.Participants[i]
		s.participants[p.ID] = &p
	}
	for _, v := range snap.Ideas {
		idea := entities.ReconstructIdea(v)
		s.ideas[idea.ID()] = idea
		s.ideaOrder = append(s.ideaOrder, idea.ID())
	}
	for id, e := range snap.Embeddings {
		s.embeddings[id] = e.Clone()
	}
	for _, v := range snap.Clusters {
		c := entities.ReconstructCluster(v)
		s.clusters[c.ID()] = c
		s.clusterOrder = append(s.clusterOrder, c.ID())
	}
	for _, st := range snap.Strengths {
		s.strengths[st.IdeaID] = st
	}
	s.consensus = snap.Consensus.Clone()
	if s.consensus.State == "" {
		s.consensus = entities.NewConsensusTracker()
	}
	if snap.Plan != nil {
		plan := *snap.Plan
		s.plan = &plan
	}

	s.messages = append([]*entities.Message(nil), messages...)
	sort.SliceStable(s.messages, func(i, j int) bool { return s.messages[i].Before(s.messages[j]) })
	for _, m := range s.messages {
		s.messageIndex[m.ID()] = m
	}
	return s
}
