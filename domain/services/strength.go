package services

import (
	"sort"
	"strings"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
)

// StrengthEvaluator scores ideas from engagement and reasoning and ranks them
// within their cluster.
type StrengthEvaluator struct {
	cfg *config.DomainConfig
}

// NewStrengthEvaluator creates a strength evaluator
func NewStrengthEvaluator(cfg *config.DomainConfig) *StrengthEvaluator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &StrengthEvaluator{cfg: cfg}
}

// EngagementScore is a positively weighted sum, so any increase in any input
// strictly increases the score.
func (s *StrengthEvaluator) EngagementScore(e entities.Engagement) float64 {
	return float64(e.Reactions)*s.cfg.ReactionWeight +
		float64(e.Replies)*s.cfg.ReplyWeight +
		float64(e.Mentions)*s.cfg.MentionWeight +
		float64(len(e.SupportSet()))*s.cfg.SupporterWeight
}

// ReasoningScore is zero without reasoning. Otherwise it is a presence bonus
// plus a per-fragment bonus for non-trivial fragments, capped.
func (s *StrengthEvaluator) ReasoningScore(fragments []string) float64 {
	if len(fragments) == 0 {
		return 0
	}
	nonTrivial := 0
	for _, f := range fragments {
		if len(strings.Fields(f)) >= s.cfg.MinFragmentWords {
			nonTrivial++
		}
	}
	if nonTrivial > s.cfg.ReasoningMaxFragments {
		nonTrivial = s.cfg.ReasoningMaxFragments
	}
	return s.cfg.ReasoningPresenceBonus + float64(nonTrivial)*s.cfg.ReasoningFragmentBonus
}

// TotalStrength combines the two scores with the configured weights.
func (s *StrengthEvaluator) TotalStrength(engagementScore, reasoningScore float64) float64 {
	return engagementScore*s.cfg.EngagementWeight + reasoningScore*s.cfg.ReasoningWeight
}

// UpdateStrength computes the unranked strength of idea.
func (s *StrengthEvaluator) UpdateStrength(idea *entities.Idea) entities.IdeaStrength {
	eng := s.EngagementScore(idea.Engagement())
	reason := s.ReasoningScore(idea.Reasoning())
	return entities.IdeaStrength{
		IdeaID:          idea.ID(),
		ClusterID:       idea.ClusterID(),
		EngagementScore: eng,
		ReasoningScore:  reason,
		TotalStrength:   s.TotalStrength(eng, reason),
	}
}

// RankIdeas orders strengths by total strength descending, then earliest
// idea timestamp, then id, and assigns dense ranks from 1.
func (s *StrengthEvaluator) RankIdeas(strengths []entities.IdeaStrength, timestampOf func(valueobjects.IdeaID) time.Time) []entities.IdeaStrength {
	ranked := append([]entities.IdeaStrength(nil), strengths...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalStrength != b.TotalStrength {
			return a.TotalStrength > b.TotalStrength
		}
		ta, tb := timestampOf(a.IdeaID), timestampOf(b.IdeaID)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.IdeaID < b.IdeaID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// RankCluster recomputes and ranks every member of a cluster.
func (s *StrengthEvaluator) RankCluster(members []*entities.Idea) []entities.IdeaStrength {
	timestamps := make(map[valueobjects.IdeaID]time.Time, len(members))
	strengths := make([]entities.IdeaStrength, 0, len(members))
	for _, idea := range members {
		timestamps[idea.ID()] = idea.Timestamp()
		strengths = append(strengths, s.UpdateStrength(idea))
	}
	return s.RankIdeas(strengths, func(id valueobjects.IdeaID) time.Time { return timestamps[id] })
}
