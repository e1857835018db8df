package aggregates

import (
	"sort"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	pkgerrors "ideaflow/pkg/errors"
)

// PlanState tracks the plan lifecycle of a session.
type PlanState string

const (
	PlanIdle      PlanState = "idle"
	PlanPending   PlanState = "pending"
	PlanGenerated PlanState = "generated"
	PlanFailed    PlanState = "failed"
)

// Labeler derives cluster labels. Implemented by the clustering engine.
type Labeler interface {
	NeedsRelabel(cluster *entities.Cluster, created bool) bool
	Label(cluster *entities.Cluster, members []*entities.Idea) string
}

// ClusterDecision is the outcome of a cluster assignment.
type ClusterDecision struct {
	ClusterID  valueobjects.ClusterID
	Create     bool
	Similarity float64
	Fallback   bool
}

// Session is the aggregate root for one discussion. All derived state of the
// discussion lives here and is mutated only through its methods.
type Session struct {
	id           valueobjects.SessionID
	title        string
	mode         entities.SessionMode
	closed       bool
	participants map[valueobjects.ParticipantID]*entities.Participant
	messages     []*entities.Message
	messageIndex map[valueobjects.MessageID]*entities.Message
	ideas        map[valueobjects.IdeaID]*entities.Idea
	ideaOrder    []valueobjects.IdeaID
	embeddings   map[valueobjects.IdeaID]valueobjects.Embedding
	clusters     map[valueobjects.ClusterID]*entities.Cluster
	clusterOrder []valueobjects.ClusterID
	strengths    map[valueobjects.IdeaID]entities.IdeaStrength
	consensus    entities.ConsensusTracker
	plan         *entities.ProjectPlan
	planState    PlanState
	lastSequence int64
	eventSeq     int
	createdAt    time.Time
	updatedAt    time.Time
	version      int

	pendingMessages []valueobjects.MessageID
	events          []events.DomainEvent
}

// NewSession creates a session in discussion mode.
func NewSession(id valueobjects.SessionID, title string, participants []valueobjects.ParticipantID, now time.Time) (*Session, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("session id required")
	}
	if title == "" {
		title = "Discussion " + now.UTC().Format("2006-01-02 15:04")
	}

	s := newEmptySession(id)
	s.title = title
	s.createdAt = now
	s.updatedAt = now
	for _, p := range participants {
		if p == "" {
			return nil, pkgerrors.NewValidationError("participant id cannot be empty")
		}
		s.participants[p] = &entities.Participant{ID: p, JoinedAt: now}
	}

	s.eventSeq = 1
	s.addEvent(events.NewSessionCreated(id, title, s.ParticipantIDs(), now))
	return s, nil
}

func newEmptySession(id valueobjects.SessionID) *Session {
	return &Session{
		id:           id,
		mode:         entities.ModeDiscussion,
		participants: make(map[valueobjects.ParticipantID]*entities.Participant),
		messageIndex: make(map[valueobjects.MessageID]*entities.Message),
		ideas:        make(map[valueobjects.IdeaID]*entities.Idea),
		embeddings:   make(map[valueobjects.IdeaID]valueobjects.Embedding),
		clusters:     make(map[valueobjects.ClusterID]*entities.Cluster),
		strengths:    make(map[valueobjects.IdeaID]entities.IdeaStrength),
		consensus:    entities.NewConsensusTracker(),
		planState:    PlanIdle,
		events:       []events.DomainEvent{},
	}
}

// Getters

func (s *Session) ID() valueobjects.SessionID { return s.id }
func (s *Session) Title() string { return s.title }
func (s *Session) Mode() entities.SessionMode { return s.mode }
func (s *Session) IsClosed() bool { return s.closed }
func (s *Session) Version() int { return s.version }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
func (s *Session) LastSequence() int64 { return s.lastSequence }
func (s *Session) PlanState() PlanState { return s.planState }
func (s *Session) Plan() *entities.ProjectPlan { return s.plan }

// Consensus returns a copy of the consensus tracker.
func (s *Session) Consensus() entities.ConsensusTracker { return s.consensus.Clone() }

// ParticipantIDs returns participant ids sorted.
func (s *Session) ParticipantIDs() []valueobjects.ParticipantID {
	ids := make([]valueobjects.ParticipantID, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Participants returns participant records sorted by id.
func (s *Session) Participants() []entities.Participant {
	out := make([]entities.Participant, 0, len(s.participants))
	for _, id := range s.ParticipantIDs() {
		out = append(out, *s.participants[id])
	}
	return out
}

// HasParticipant reports whether p is registered.
func (s *Session) HasParticipant(p valueobjects.ParticipantID) bool {
	_, ok := s.participants[p]
	return ok
}

// Messages returns the message log in (timestamp, sequence) order.
func (s *Session) Messages() []*entities.Message {
	return append([]*entities.Message(nil), s.messages...)
}

// Message returns a message by id.
func (s *Session) Message(id valueobjects.MessageID) (*entities.Message, bool) {
	m, ok := s.messageIndex[id]
	return m, ok
}

// LatestActivity returns the timestamp of the newest message, or the creation time.
func (s *Session) LatestActivity() time.Time {
	if len(s.messages) == 0 {
		return s.createdAt
	}
	return s.messages[len(s.messages)-1].Timestamp()
}

// Ideas returns ideas in creation order.
func (s *Session) Ideas() []*entities.Idea {
	out := make([]*entities.Idea, 0, len(s.ideaOrder))
	for _, id := range s.ideaOrder {
		out = append(out, s.ideas[id])
	}
	return out
}

// Idea returns an idea by id.
func (s *Session) Idea(id valueobjects.IdeaID) (*entities.Idea, bool) {
	idea, ok := s.ideas[id]
	return idea, ok
}

// IdeaEmbedding returns the stored embedding of an idea, nil if unavailable.
func (s *Session) IdeaEmbedding(id valueobjects.IdeaID) valueobjects.Embedding {
	return s.embeddings[id]
}

// Clusters returns clusters in creation order.
func (s *Session) Clusters() []*entities.Cluster {
	out := make([]*entities.Cluster, 0, len(s.clusterOrder))
	for _, id := range s.clusterOrder {
		out = append(out, s.clusters[id])
	}
	return out
}

// Cluster returns a cluster by id.
func (s *Session) Cluster(id valueobjects.ClusterID) (*entities.Cluster, bool) {
	c, ok := s.clusters[id]
	return c, ok
}

// ClusterMembers returns the ideas of a cluster in insertion order.
func (s *Session) ClusterMembers(id valueobjects.ClusterID) []*entities.Idea {
	c, ok := s.clusters[id]
	if !ok {
		return nil
	}
	members := make([]*entities.Idea, 0, c.Size())
	for _, ideaID := range c.IdeaIDs() {
		if idea, ok := s.ideas[ideaID]; ok {
			members = append(members, idea)
		}
	}
	return members
}

// Strength returns the current strength of an idea.
func (s *Session) Strength(id valueobjects.IdeaID) (entities.IdeaStrength, bool) {
	st, ok := s.strengths[id]
	return st, ok
}

// Strengths returns all strengths grouped by cluster order then rank.
func (s *Session) Strengths() []entities.IdeaStrength {
	out := make([]entities.IdeaStrength, 0, len(s.strengths))
	for _, cid := range s.clusterOrder {
		var group []entities.IdeaStrength
		for _, ideaID := range s.clusters[cid].IdeaIDs() {
			if st, ok := s.strengths[ideaID]; ok {
				group = append(group, st)
			}
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Rank < group[j].Rank })
		out = append(out, group...)
	}
	return out
}

// Mutations

func (s *Session) ensureOpen() error {
	if s.closed {
		return pkgerrors.NewConflictError("session is closed").WithCode("SESSION_CLOSED").AsRecoverable(false)
	}
	return nil
}

// RegisterParticipants adds participants that are not yet known.
func (s *Session) RegisterParticipants(ids []valueobjects.ParticipantID, now time.Time) ([]valueobjects.ParticipantID, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var added []valueobjects.ParticipantID
	for _, id := range ids {
		if id == "" {
			return nil, pkgerrors.NewValidationError("participant id cannot be empty")
		}
		if _, ok := s.participants[id]; ok {
			continue
		}
		s.participants[id] = &entities.Participant{ID: id, JoinedAt: now}
		added = append(added, id)
	}
	if len(added) > 0 {
		s.touch(now)
		s.addEvent(events.NewParticipantsRegistered(s.id, added, now, s.nextEventVersion()))
	}
	return added, nil
}

// AppendMessage inserts a message into the ordered log and marks its author
// active. Unknown authors are registered implicitly.
func (s *Session) AppendMessage(msg *entities.Message) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, exists := s.messageIndex[msg.ID()]; exists {
		return pkgerrors.NewConflictError("message already ingested").WithCode("DUPLICATE_MESSAGE")
	}

	i := sort.Search(len(s.messages), func(i int) bool { return msg.Before(s.messages[i]) })
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	s.messageIndex[msg.ID()] = msg
	s.pendingMessages = append(s.pendingMessages, msg.ID())
	if msg.Sequence() > s.lastSequence {
		s.lastSequence = msg.Sequence()
	}

	p, ok := s.participants[msg.Author()]
	if !ok {
		p = &entities.Participant{ID: msg.Author(), JoinedAt: msg.Timestamp()}
		s.participants[msg.Author()] = p
	}
	if msg.Timestamp().After(p.LastActiveAt) {
		p.LastActiveAt = msg.Timestamp()
	}
	s.touch(msg.Timestamp())
	return nil
}

// AddIdea records a newly extracted idea and its embedding.
func (s *Session) AddIdea(idea *entities.Idea, embedding valueobjects.Embedding, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, exists := s.ideas[idea.ID()]; exists {
		return pkgerrors.NewConflictError("idea already exists")
	}
	s.ideas[idea.ID()] = idea
	s.ideaOrder = append(s.ideaOrder, idea.ID())
	if len(embedding) > 0 {
		s.embeddings[idea.ID()] = embedding.Clone()
	}
	s.touch(now)
	s.addEvent(events.NewIdeaCreated(s.id, idea.View(), now, s.nextEventVersion()))
	return nil
}

// LinkReference attaches a referencing message to an existing idea.
func (s *Session) LinkReference(ideaID valueobjects.IdeaID, msg *entities.Message, reasoning []string, asReply bool, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	idea, ok := s.ideas[ideaID]
	if !ok {
		return pkgerrors.NewNotFoundError("idea")
	}
	idea.RecordReference(msg.ID(), msg.Author(), reasoning, asReply)
	s.touch(now)
	s.addEvent(events.NewReferenceLinked(s.id, msg.ID(), asReply, idea.View(), now, s.nextEventVersion()))
	return nil
}

// ApplyClusterAssignment places an idea into the decided cluster, creating it
// when needed, and refreshes the label when the labeler asks for it.
func (s *Session) ApplyClusterAssignment(ideaID valueobjects.IdeaID, decision ClusterDecision, labeler Labeler, now time.Time) (*entities.Cluster, error) {
	idea, ok := s.ideas[ideaID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("idea")
	}
	if idea.ClusterID() != "" {
		return nil, pkgerrors.NewConflictError("idea already assigned to a cluster")
	}
	embedding := s.embeddings[ideaID]

	var cluster *entities.Cluster
	if decision.Create {
		id := decision.ClusterID
		if id == "" {
			id = valueobjects.NewClusterID()
		}
		cluster = entities.NewCluster(id, idea, embedding, len(s.clusterOrder), now)
		s.clusters[id] = cluster
		s.clusterOrder = append(s.clusterOrder, id)
	} else {
		cluster, ok = s.clusters[decision.ClusterID]
		if !ok {
			return nil, pkgerrors.NewNotFoundError("cluster")
		}
		cluster.AddIdea(idea, embedding, now)
	}
	idea.AssignCluster(cluster.ID())

	if labeler != nil && labeler.NeedsRelabel(cluster, decision.Create) {
		cluster.Relabel(labeler.Label(cluster, s.ClusterMembers(cluster.ID())))
	}

	s.touch(now)
	s.addEvent(events.NewClusterUpdated(s.id, cluster.View(), ideaID, decision.Create, decision.Fallback, now, s.nextEventVersion()))
	return cluster, nil
}

// ReplaceClusterStrengths stores a freshly ranked list for one cluster.
func (s *Session) ReplaceClusterStrengths(clusterID valueobjects.ClusterID, ranked []entities.IdeaStrength, now time.Time) {
	for _, st := range ranked {
		s.strengths[st.IdeaID] = st
	}
	s.touch(now)
	s.addEvent(events.NewStrengthUpdated(s.id, clusterID, append([]entities.IdeaStrength(nil), ranked...), now, s.nextEventVersion()))
}

// RecordReaction counts a reaction on an idea.
func (s *Session) RecordReaction(ideaID valueobjects.IdeaID, now time.Time) error {
	return s.withIdea(ideaID, now, func(idea *entities.Idea) bool {
		idea.AddReaction()
		return true
	})
}

// AddSupport records explicit support from a registered participant.
func (s *Session) AddSupport(ideaID valueobjects.IdeaID, p valueobjects.ParticipantID, now time.Time) (bool, error) {
	var changed bool
	err := s.withParticipantAndIdea(ideaID, p, now, func(idea *entities.Idea) bool {
		changed = idea.AddSupporter(p)
		return changed
	})
	return changed, err
}

// RetractSupport removes a participant from an idea's support set.
func (s *Session) RetractSupport(ideaID valueobjects.IdeaID, p valueobjects.ParticipantID, now time.Time) (bool, error) {
	var changed bool
	err := s.withParticipantAndIdea(ideaID, p, now, func(idea *entities.Idea) bool {
		changed = idea.RetractSupport(p)
		return changed
	})
	return changed, err
}

func (s *Session) withParticipantAndIdea(ideaID valueobjects.IdeaID, p valueobjects.ParticipantID, now time.Time, fn func(*entities.Idea) bool) error {
	participant, ok := s.participants[p]
	if !ok {
		return pkgerrors.NewValidationError("unknown participant").WithDetail("participantID", string(p))
	}
	return s.withIdea(ideaID, now, func(idea *entities.Idea) bool {
		if now.After(participant.LastActiveAt) {
			participant.LastActiveAt = now
		}
		return fn(idea)
	})
}

func (s *Session) withIdea(ideaID valueobjects.IdeaID, now time.Time, fn func(*entities.Idea) bool) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	idea, ok := s.ideas[ideaID]
	if !ok {
		return pkgerrors.NewNotFoundError("idea")
	}
	if fn(idea) {
		s.touch(now)
	}
	return nil
}

// ApplyConsensus stores the detector's new tracker and raises the events the
// transition implies. Entering execution mode requests a plan.
func (s *Session) ApplyConsensus(outcome ConsensusOutcome, now time.Time) {
	previous := s.consensus.Current
	s.consensus = outcome.Tracker.Clone()
	s.touch(now)

	if outcome.Broken {
		s.addEvent(events.NewConsensusBroken(s.id, previous.IdeaID, s.consensus.Current, now, s.nextEventVersion()))
	}
	if outcome.Detected {
		s.addEvent(events.NewConsensusDetected(s.id, s.consensus.State, s.consensus.Current, now, s.nextEventVersion()))
	}
	if len(outcome.TieCandidates) > 0 {
		s.addEvent(events.NewConsensusTie(s.id, outcome.TieCandidates, s.consensus.Current, now, s.nextEventVersion()))
	}
	if outcome.EnterExecution && s.mode == entities.ModeDiscussion {
		s.mode = entities.ModeExecution
		s.addEvent(events.NewModeChanged(s.id, entities.ModeDiscussion, entities.ModeExecution, now, s.nextEventVersion()))
		s.planState = PlanPending
		s.addEvent(events.NewPlanRequested(s.id, s.consensus.Current, now, s.nextEventVersion()))
	}
}

// ConsensusOutcome is what the aggregate needs from a consensus evaluation.
type ConsensusOutcome struct {
	Tracker        entities.ConsensusTracker
	Detected       bool
	Broken         bool
	TieCandidates  []valueobjects.IdeaID
	EnterExecution bool
}

// AttachPlan stores a validated plan. A plan is attached once per execution entry.
func (s *Session) AttachPlan(plan *entities.ProjectPlan, now time.Time) error {
	if s.mode != entities.ModeExecution {
		return pkgerrors.NewConflictError("plans can only be attached in execution mode")
	}
	if s.planState == PlanGenerated {
		return pkgerrors.NewConflictError("plan already generated").WithCode("PLAN_EXISTS")
	}
	s.plan = plan
	s.planState = PlanGenerated
	s.touch(now)
	s.addEvent(events.NewPlanGenerated(s.id, *plan, now, s.nextEventVersion()))
	return nil
}

// RecordPlanFailure notes a failed plan attempt. Recoverable failures leave
// the plan pending so it can be requested again.
func (s *Session) RecordPlanFailure(ideaID valueobjects.IdeaID, failure pkgerrors.Envelope, now time.Time) {
	if s.planState == PlanGenerated {
		return
	}
	if failure.Recoverable {
		s.planState = PlanPending
	} else {
		s.planState = PlanFailed
	}
	s.touch(now)
	s.addEvent(events.NewPlanFailed(s.id, ideaID, failure.Code, failure.Message, failure.Recoverable, now, s.nextEventVersion()))
}

// RequestPlan re-arms plan generation after a recoverable failure.
func (s *Session) RequestPlan(now time.Time) error {
	if s.mode != entities.ModeExecution {
		return pkgerrors.NewConflictError("no consensus has moved the session to execution mode")
	}
	if s.planState == PlanGenerated {
		return pkgerrors.NewConflictError("plan already generated").WithCode("PLAN_EXISTS")
	}
	s.planState = PlanPending
	s.touch(now)
	s.addEvent(events.NewPlanRequested(s.id, s.consensus.Current, now, s.nextEventVersion()))
	return nil
}

// Close tears the session down; no further mutations are accepted.
func (s *Session) Close(reason string, now time.Time) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.touch(now)
	s.addEvent(events.NewSessionClosed(s.id, reason, now, s.nextEventVersion()))
	return nil
}

func (s *Session) touch(now time.Time) {
	if now.After(s.updatedAt) {
		s.updatedAt = now
	}
}

// Event handling

// GetUncommittedEvents returns all uncommitted domain events
func (s *Session) GetUncommittedEvents() []events.DomainEvent {
	return append([]events.DomainEvent(nil), s.events...)
}

// MarkEventsAsCommitted clears the uncommitted events
func (s *Session) MarkEventsAsCommitted() {
	s.events = []events.DomainEvent{}
}

// PendingMessages returns messages appended since the last save.
func (s *Session) PendingMessages() []*entities.Message {
	out := make([]*entities.Message, 0, len(s.pendingMessages))
	for _, id := range s.pendingMessages {
		out = append(out, s.messageIndex[id])
	}
	return out
}

// MarkPersisted records a successful save at version.
func (s *Session) MarkPersisted(version int) {
	s.version = version
	s.pendingMessages = nil
}

func (s *Session) nextEventVersion() int {
	s.eventSeq++
	return s.eventSeq
}

func (s *Session) addEvent(event events.DomainEvent) {
	s.events = append(s.events, event)
}
