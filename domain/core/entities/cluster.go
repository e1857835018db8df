package entities

import (
	"encoding/json"
	"time"

	"ideaflow/domain/core/valueobjects"
)

// Cluster groups semantically related ideas. Membership only grows, and the
// centroid is replaced with a new vector on every change.
type Cluster struct {
	id            valueobjects.ClusterID
	label         string
	ideaIDs       []valueobjects.IdeaID
	members       map[valueobjects.IdeaID]bool
	centroid      valueobjects.Embedding
	embeddedCount int
	terms         map[string]int
	createdAt     time.Time
	updatedAt     time.Time
	ordinal       int
	sinceLabel    int
}

// NewCluster creates a singleton cluster seeded by idea. ordinal is the
// creation order within the session and breaks ties between clusters.
func NewCluster(id valueobjects.ClusterID, idea *Idea, embedding valueobjects.Embedding, ordinal int, now time.Time) *Cluster {
	c := &Cluster{
		id:        id,
		members:   make(map[valueobjects.IdeaID]bool),
		terms:     make(map[string]int),
		createdAt: now,
		updatedAt: now,
		ordinal:   ordinal,
	}
	c.add(idea, embedding)
	return c
}

// AddIdea adds idea to the cluster and folds its embedding into the centroid.
// A nil embedding leaves the centroid as is.
func (c *Cluster) AddIdea(idea *Idea, embedding valueobjects.Embedding, now time.Time) {
	if c.members[idea.ID()] {
		return
	}
	c.add(idea, embedding)
	c.updatedAt = now
	c.sinceLabel++
}

func (c *Cluster) add(idea *Idea, embedding valueobjects.Embedding) {
	c.ideaIDs = append(c.ideaIDs, idea.ID())
	c.members[idea.ID()] = true
	if len(embedding) > 0 {
		c.centroid = c.centroid.IncrementalMean(embedding, c.embeddedCount)
		c.embeddedCount++
	}
	for _, term := range idea.Content().Keywords() {
		c.terms[term]++
	}
}

func (c *Cluster) ID() valueobjects.ClusterID { return c.id }
func (c *Cluster) Label() string { return c.label }
func (c *Cluster) CreatedAt() time.Time { return c.createdAt }
func (c *Cluster) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cluster) Ordinal() int { return c.ordinal }
func (c *Cluster) Size() int { return len(c.ideaIDs) }

// AdditionsSinceLabel counts members added since the label was last set.
func (c *Cluster) AdditionsSinceLabel() int { return c.sinceLabel }

// Centroid returns the current centroid. The returned slice is never
// modified by the cluster.
func (c *Cluster) Centroid() valueobjects.Embedding { return c.centroid }

// IdeaIDs returns member ids in insertion order.
func (c *Cluster) IdeaIDs() []valueobjects.IdeaID {
	return append([]valueobjects.IdeaID(nil), c.ideaIDs...)
}

// Contains reports membership.
func (c *Cluster) Contains(id valueobjects.IdeaID) bool { return c.members[id] }

// Terms returns all member keywords as a list, for token-overlap similarity.
func (c *Cluster) Terms() []string {
	out := make([]string, 0, len(c.terms))
	for t := range c.terms {
		out = append(out, t)
	}
	return out
}

// TermFrequencies returns a copy of the keyword frequency table.
func (c *Cluster) TermFrequencies() map[string]int {
	out := make(map[string]int, len(c.terms))
	for t, n := range c.terms {
		out[t] = n
	}
	return out
}

// Relabel sets a new label and resets the refresh counter. Empty labels are ignored.
func (c *Cluster) Relabel(label string) {
	if label == "" {
		return
	}
	c.label = label
	c.sinceLabel = 0
}

// ClusterView is the serialized form of a Cluster.
type ClusterView struct {
	ID            valueobjects.ClusterID `json:"id"`
	Label         string                 `json:"label"`
	IdeaIDs       []valueobjects.IdeaID  `json:"ideaIds"`
	Centroid      valueobjects.Embedding `json:"centroid,omitempty"`
	EmbeddedCount int                    `json:"embeddedCount"`
	Terms         map[string]int         `json:"terms,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	Ordinal       int                    `json:"ordinal"`
	SinceLabel    int                    `json:"sinceLabel"`
}

// View returns the serialized form of the cluster.
func (c *Cluster) View() ClusterView {
	return ClusterView{
		ID:            c.id,
		Label:         c.label,
		IdeaIDs:       c.IdeaIDs(),
		Centroid:      c.centroid.Clone(),
		EmbeddedCount: c.embeddedCount,
		Terms:         c.TermFrequencies(),
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
		Ordinal:       c.ordinal,
		SinceLabel:    c.sinceLabel,
	}
}

// ReconstructCluster rebuilds a cluster from its serialized form.
func ReconstructCluster(v ClusterView) *Cluster {
	c := &Cluster{
		id:            v.ID,
		label:         v.Label,
		ideaIDs:       append([]valueobjects.IdeaID(nil), v.IdeaIDs...),
		members:       make(map[valueobjects.IdeaID]bool, len(v.IdeaIDs)),
		centroid:      v.Centroid.Clone(),
		embeddedCount: v.EmbeddedCount,
		terms:         make(map[string]int, len(v.Terms)),
		createdAt:     v.CreatedAt,
		updatedAt:     v.UpdatedAt,
		ordinal:       v.Ordinal,
		sinceLabel:    v.SinceLabel,
	}
	for _, id := range v.IdeaIDs {
		c.members[id] = true
	}
	for t, n := range v.Terms {
		c.terms[t] = n
	}
	return c
}

// MarshalJSON implements json.Marshaler
func (c *Cluster) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.View())
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Cluster) UnmarshalJSON(data []byte) error {
	var v ClusterView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = *ReconstructCluster(v)
	return nil
}
