package entities

import (
	"encoding/json"
	"sort"
	"time"

	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"
)

// Engagement holds the per-idea counters and participant sets that feed
// strength and consensus.
type Engagement struct {
	Reactions   int
	Replies     int
	Mentions    int
	supporters  map[valueobjects.ParticipantID]bool
	referencers map[valueobjects.ParticipantID]bool
}

// NewEngagement returns empty engagement data.
func NewEngagement() Engagement {
	return Engagement{
		supporters:  make(map[valueobjects.ParticipantID]bool),
		referencers: make(map[valueobjects.ParticipantID]bool),
	}
}

// Supporters returns explicit supporters sorted by id.
func (e Engagement) Supporters() []valueobjects.ParticipantID {
	return sortedParticipants(e.supporters)
}

// Referencers returns participants who referenced the idea, sorted by id.
func (e Engagement) Referencers() []valueobjects.ParticipantID {
	return sortedParticipants(e.referencers)
}

// SupportSet returns supporters ∪ referencers, sorted by id.
func (e Engagement) SupportSet() []valueobjects.ParticipantID {
	union := make(map[valueobjects.ParticipantID]bool, len(e.supporters)+len(e.referencers))
	for p := range e.supporters {
		union[p] = true
	}
	for p := range e.referencers {
		union[p] = true
	}
	return sortedParticipants(union)
}

// Supports reports whether p is in the support set.
func (e Engagement) Supports(p valueobjects.ParticipantID) bool {
	return e.supporters[p] || e.referencers[p]
}

func (e Engagement) clone() Engagement {
	out := Engagement{
		Reactions:   e.Reactions,
		Replies:     e.Replies,
		Mentions:    e.Mentions,
		supporters:  make(map[valueobjects.ParticipantID]bool, len(e.supporters)),
		referencers: make(map[valueobjects.ParticipantID]bool, len(e.referencers)),
	}
	for p := range e.supporters {
		out.supporters[p] = true
	}
	for p := range e.referencers {
		out.referencers[p] = true
	}
	return out
}

func sortedParticipants(set map[valueobjects.ParticipantID]bool) []valueobjects.ParticipantID {
	out := make([]valueobjects.ParticipantID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Idea is a proposal extracted from exactly one message. Its id, author,
// content and source message never change after creation.
type Idea struct {
	id              valueobjects.IdeaID
	content         valueobjects.Content
	author          valueobjects.ParticipantID
	sourceMessageID valueobjects.MessageID
	timestamp       time.Time
	reasoning       []string
	clusterID       valueobjects.ClusterID
	engagement      Engagement
	references      []valueobjects.MessageID
}

// NewIdea creates an idea from its source message. The author is recorded as
// the first supporter.
func NewIdea(id valueobjects.IdeaID, source *Message, reasoning []string) (*Idea, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("idea id cannot be empty")
	}
	if source == nil {
		return nil, pkgerrors.NewValidationError("idea requires a source message")
	}

	idea := &Idea{
		id:              id,
		content:         source.Content(),
		author:          source.Author(),
		sourceMessageID: source.ID(),
		timestamp:       source.Timestamp(),
		reasoning:       append([]string(nil), reasoning...),
		engagement:      NewEngagement(),
		references:      []valueobjects.MessageID{},
	}
	idea.engagement.supporters[source.Author()] = true
	return idea, nil
}

func (i *Idea) ID() valueobjects.IdeaID { return i.id }
func (i *Idea) Content() valueobjects.Content { return i.content }
func (i *Idea) Author() valueobjects.ParticipantID { return i.author }
func (i *Idea) SourceMessageID() valueobjects.MessageID { return i.sourceMessageID }
func (i *Idea) Timestamp() time.Time { return i.timestamp }
func (i *Idea) ClusterID() valueobjects.ClusterID { return i.clusterID }

// Reasoning returns a copy of the justification fragments.
func (i *Idea) Reasoning() []string {
	return append([]string(nil), i.reasoning...)
}

// Engagement returns a copy of the engagement data.
func (i *Idea) Engagement() Engagement {
	return i.engagement.clone()
}

// References returns the ids of messages linked to this idea as references.
func (i *Idea) References() []valueobjects.MessageID {
	return append([]valueobjects.MessageID(nil), i.references...)
}

// AssignCluster sets the owning cluster.
func (i *Idea) AssignCluster(clusterID valueobjects.ClusterID) {
	i.clusterID = clusterID
}

// RecordReference links a referencing message: the author joins the
// referencers, the reasoning grows, and a mention or reply is counted.
func (i *Idea) RecordReference(messageID valueobjects.MessageID, author valueobjects.ParticipantID, reasoning []string, asReply bool) {
	for _, ref := range i.references {
		if ref == messageID {
			return
		}
	}
	i.references = append(i.references, messageID)
	i.reasoning = append(i.reasoning, reasoning...)
	if asReply {
		i.engagement.Replies++
	} else {
		i.engagement.Mentions++
	}
	i.engagement.referencers[author] = true
}

// AddReaction counts a reaction.
func (i *Idea) AddReaction() {
	i.engagement.Reactions++
}

// AddSupporter records explicit support; returns false if already present.
func (i *Idea) AddSupporter(p valueobjects.ParticipantID) bool {
	if i.engagement.supporters[p] {
		return false
	}
	i.engagement.supporters[p] = true
	return true
}

// RetractSupport removes p from the support set entirely.
func (i *Idea) RetractSupport(p valueobjects.ParticipantID) bool {
	if !i.engagement.Supports(p) {
		return false
	}
	delete(i.engagement.supporters, p)
	delete(i.engagement.referencers, p)
	return true
}

// IdeaView is the serialized form of an Idea.
type IdeaView struct {
	ID              valueobjects.IdeaID          `json:"id"`
	Content         string                       `json:"content"`
	Author          valueobjects.ParticipantID   `json:"author"`
	SourceMessageID valueobjects.MessageID       `json:"sourceMessageId"`
	Timestamp       time.Time                    `json:"timestamp"`
	Reasoning       []string                     `json:"reasoning"`
	ClusterID       valueobjects.ClusterID       `json:"clusterId,omitempty"`
	Reactions       int                          `json:"reactions"`
	Replies         int                          `json:"replies"`
	Mentions        int                          `json:"mentions"`
	Supporters      []valueobjects.ParticipantID `json:"supporters"`
	Referencers     []valueobjects.ParticipantID `json:"referencers"`
	References      []valueobjects.MessageID     `json:"references"`
}

// View returns the serialized form of the idea.
func (i *Idea) View() IdeaView {
	return IdeaView{
		ID:              i.id,
		Content:         i.content.String(),
		Author:          i.author,
		SourceMessageID: i.sourceMessageID,
		Timestamp:       i.timestamp,
		Reasoning:       i.Reasoning(),
		ClusterID:       i.clusterID,
		Reactions:       i.engagement.Reactions,
		Replies:         i.engagement.Replies,
		Mentions:        i.engagement.Mentions,
		Supporters:      i.engagement.Supporters(),
		Referencers:     i.engagement.Referencers(),
		References:      i.References(),
	}
}

// ReconstructIdea rebuilds an idea from its serialized form.
func ReconstructIdea(v IdeaView) *Idea {
	var content valueobjects.Content
	_ = content.UnmarshalText([]byte(v.Content))

	eng := NewEngagement()
	eng.Reactions, eng.Replies, eng.Mentions = v.Reactions, v.Replies, v.Mentions
	for _, p := range v.Supporters {
		eng.supporters[p] = true
	}
	for _, p := range v.Referencers {
		eng.referencers[p] = true
	}

	return &Idea{
		id:              v.ID,
		content:         content,
		author:          v.Author,
		sourceMessageID: v.SourceMessageID,
		timestamp:       v.Timestamp,
		reasoning:       append([]string(nil), v.Reasoning...),
		clusterID:       v.ClusterID,
		engagement:      eng,
		references:      append([]valueobjects.MessageID{}, v.References...),
	}
}

// MarshalJSON implements json.Marshaler
func (i *Idea) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.View())
}

// UnmarshalJSON implements json.Unmarshaler
func (i *Idea) UnmarshalJSON(data []byte) error {
	var v IdeaView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = *ReconstructIdea(v)
	return nil
}
