package services

import (
	"slices"
	"sort"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
)

// ConsensusInput is everything the detector reads for one evaluation.
type ConsensusInput struct {
	Now          time.Time
	Reference    time.Time
	Participants []entities.Participant
	Ideas        []*entities.Idea
	StrengthOf   func(valueobjects.IdeaID) float64
	Tracker      entities.ConsensusTracker
	Mode         entities.SessionMode
	ResolveTie   valueobjects.IdeaID
}

// ConsensusEvaluation is the detector's verdict.
type ConsensusEvaluation struct {
	Outcome      aggregates.ConsensusOutcome
	Transitioned bool
	Deferred     bool
	ReevaluateAt time.Time
}

// ConsensusDetector is the per-session consensus state machine. It is pure:
// all state lives in the tracker passed in and returned.
type ConsensusDetector struct {
	cfg *config.DomainConfig
}

// NewConsensusDetector creates a consensus detector
func NewConsensusDetector(cfg *config.DomainConfig) *ConsensusDetector {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ConsensusDetector{cfg: cfg}
}

// DetermineConsensusType classifies supporters out of active participants.
// Integer comparison keeps the boundaries exact: 50% is weak, 80% is strong.
func (d *ConsensusDetector) DetermineConsensusType(supporters, active int) entities.ConsensusType {
	if active <= 0 || supporters <= 0 {
		return entities.ConsensusNone
	}
	switch {
	case supporters*100 >= d.cfg.StrongThresholdPercent*active:
		return entities.ConsensusStrong
	case supporters*100 >= d.cfg.WeakThresholdPercent*active:
		return entities.ConsensusWeak
	default:
		return entities.ConsensusNone
	}
}

// ActiveParticipants returns the ids of participants active within the
// activity window before reference.
func (d *ConsensusDetector) ActiveParticipants(participants []entities.Participant, reference time.Time) map[valueobjects.ParticipantID]bool {
	cutoff := reference.Add(-d.cfg.ActivityWindow)
	active := make(map[valueobjects.ParticipantID]bool, len(participants))
	for _, p := range participants {
		if p.ActiveSince(cutoff) {
			active[p.ID] = true
		}
	}
	return active
}

// CalculateSupportPercentage returns the share of active participants in the
// idea's support set (explicit supporters and referencers).
func (d *ConsensusDetector) CalculateSupportPercentage(idea *entities.Idea, active map[valueobjects.ParticipantID]bool) (float64, []valueobjects.ParticipantID) {
	var supporters []valueobjects.ParticipantID
	for _, p := range idea.Engagement().SupportSet() {
		if active[p] {
			supporters = append(supporters, p)
		}
	}
	if len(active) == 0 {
		return 0, supporters
	}
	return float64(len(supporters)) * 100 / float64(len(active)), supporters
}

type ideaSupport struct {
	idea       *entities.Idea
	supporters []valueobjects.ParticipantID
	percentage float64
	kind       entities.ConsensusType
	strength   float64
	crossedAt  time.Time
}

// Evaluate runs one step of the state machine against the latest session state.
func (d *ConsensusDetector) Evaluate(in ConsensusInput) (eval ConsensusEvaluation) {
	tracker := in.Tracker.Clone()
	if tracker.CrossedAt == nil {
		tracker.CrossedAt = make(map[valueobjects.IdeaID]time.Time)
	}
	if tracker.State == "" {
		tracker.State = entities.StateNone
	}

	active := d.ActiveParticipants(in.Participants, in.Reference)
	stats := make(map[valueobjects.IdeaID]*ideaSupport, len(in.Ideas))
	var qualifying []*ideaSupport
	for _, idea := range in.Ideas {
		pct, supporters := d.CalculateSupportPercentage(idea, active)
		st := &ideaSupport{
			idea:       idea,
			supporters: supporters,
			percentage: pct,
			kind:       d.DetermineConsensusType(len(supporters), len(active)),
		}
		if in.StrengthOf != nil {
			st.strength = in.StrengthOf(idea.ID())
		}
		if st.kind == entities.ConsensusNone {
			delete(tracker.CrossedAt, idea.ID())
		} else {
			if _, ok := tracker.CrossedAt[idea.ID()]; !ok {
				tracker.CrossedAt[idea.ID()] = in.Now
			}
			st.crossedAt = tracker.CrossedAt[idea.ID()]
			qualifying = append(qualifying, st)
		}
		stats[idea.ID()] = st
	}

	inCooldown := tracker.InCooldown(in.Now)
	if !inCooldown {
		tracker.PendingReeval = false
	}
	defer func() { eval.Outcome.Tracker = tracker }()

	deferTransition := func() ConsensusEvaluation {
		tracker.PendingReeval = true
		eval.Deferred = true
		eval.ReevaluateAt = tracker.CooldownUntil
		return eval
	}

	switch tracker.State {
	case entities.StateWeak, entities.StateStrong:
		current, ok := stats[tracker.Current.IdeaID]
		if !ok {
			return eval
		}
		desired := stateFor(current.kind)
		switch {
		case current.kind == entities.ConsensusNone:
			if inCooldown {
				return deferTransition()
			}
			d.transition(&tracker, entities.StateBrokenCooldown, current, len(active), in.Now, "support fell below majority")
			tracker.Current.Detected = false
			tracker.Current.Breakdown = true
			eval.Outcome.Broken = true
			eval.Transitioned = true
		case desired != tracker.State:
			if inCooldown {
				return deferTransition()
			}
			d.transition(&tracker, desired, current, len(active), in.Now, "support level changed")
			eval.Outcome.Detected = true
			eval.Transitioned = true
		default:
			tracker.Current.SupportPercentage = current.percentage
			tracker.Current.Supporters = nonNil(current.supporters)
			tracker.Current.ActiveParticipants = len(active)
		}
		return eval

	default:
		if len(qualifying) == 0 {
			if tracker.State == entities.StateBrokenCooldown && !inCooldown {
				tracker.History = append(tracker.History, entities.ConsensusTransition{
					From: entities.StateBrokenCooldown, To: entities.StateNone,
					Reason: "cooldown elapsed", Timestamp: in.Now,
				})
				tracker.State = entities.StateNone
			}
			tracker.TieCandidates = nil
			tracker.Current.Candidates = nil
			return eval
		}
		if inCooldown {
			return deferTransition()
		}

		primary, tie := d.selectPrimary(qualifying, tracker.TieCandidates, in.ResolveTie)
		if primary == nil {
			if !slices.Equal(tracker.TieCandidates, tie) {
				eval.Outcome.TieCandidates = tie
			}
			tracker.TieCandidates = tie
			tracker.Current.Candidates = tie
			return eval
		}

		d.transition(&tracker, stateFor(primary.kind), primary, len(active), in.Now, "support crossed threshold")
		tracker.Current.Detected = true
		tracker.TieCandidates = nil
		eval.Outcome.Detected = true
		eval.Transitioned = true
		if in.Mode == entities.ModeDiscussion {
			eval.Outcome.EnterExecution = true
		}
		tracker.PrimaryDetected = true
		return eval
	}
}

// selectPrimary picks the qualifying idea with the highest strength, breaking
// ties by earliest threshold crossing. Remaining exact ties are returned as
// candidates unless one of them was chosen explicitly.
func (d *ConsensusDetector) selectPrimary(qualifying []*ideaSupport, previousTie []valueobjects.IdeaID, resolved valueobjects.IdeaID) (*ideaSupport, []valueobjects.IdeaID) {
	sort.SliceStable(qualifying, func(i, j int) bool {
		a, b := qualifying[i], qualifying[j]
		if a.strength != b.strength {
			return a.strength > b.strength
		}
		return a.crossedAt.Before(b.crossedAt)
	})
	top := qualifying[0]
	group := []*ideaSupport{top}
	for _, st := range qualifying[1:] {
		if st.strength == top.strength && st.crossedAt.Equal(top.crossedAt) {
			group = append(group, st)
		}
	}
	if len(group) == 1 {
		return top, nil
	}

	if resolved != "" && slices.Contains(previousTie, resolved) {
		for _, st := range group {
			if st.idea.ID() == resolved {
				return st, nil
			}
		}
	}

	ids := make([]valueobjects.IdeaID, 0, len(group))
	for _, st := range group {
		ids = append(ids, st.idea.ID())
	}
	slices.Sort(ids)
	return nil, ids
}

func (d *ConsensusDetector) transition(tracker *entities.ConsensusTracker, to entities.ConsensusState, st *ideaSupport, active int, now time.Time, reason string) {
	tracker.History = append(tracker.History, entities.ConsensusTransition{
		From:      tracker.State,
		To:        to,
		IdeaID:    st.idea.ID(),
		Support:   st.percentage,
		Reason:    reason,
		Timestamp: now,
	})
	tracker.State = to
	tracker.Current = entities.ConsensusStatus{
		Detected:           tracker.Current.Detected,
		IdeaID:             st.idea.ID(),
		Type:               st.kind,
		SupportPercentage:  st.percentage,
		ActiveParticipants: active,
		Supporters:         nonNil(st.supporters),
		Timestamp:          now,
	}
	tracker.CooldownUntil = now.Add(d.cfg.ConsensusCooldown)
}

func stateFor(kind entities.ConsensusType) entities.ConsensusState {
	switch kind {
	case entities.ConsensusStrong:
		return entities.StateStrong
	case entities.ConsensusWeak:
		return entities.StateWeak
	default:
		return entities.StateNone
	}
}

func nonNil(ids []valueobjects.ParticipantID) []valueobjects.ParticipantID {
	if ids == nil {
		return []valueobjects.ParticipantID{}
	}
	return ids
}
