package entities

import "ideaflow/domain/core/valueobjects"

// IdeaStrength is the derived score of an idea within its cluster.
type IdeaStrength struct {
	IdeaID          valueobjects.IdeaID    `json:"ideaId"`
	ClusterID       valueobjects.ClusterID `json:"clusterId"`
	EngagementScore float64                `json:"engagementScore"`
	ReasoningScore  float64                `json:"reasoningScore"`
	TotalStrength   float64                `json:"totalStrength"`
	Rank            int                    `json:"rank"`
}
