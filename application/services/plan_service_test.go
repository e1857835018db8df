package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/services/planning"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planMetrics struct {
	ports.NopMetrics
	mu       sync.Mutex
	outcomes []string
}

func (m *planMetrics) PlanFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func samplePlanContext(messages int) planning.PlanContext {
	return planning.PlanContext{
		SessionID:    valueobjects.NewSessionID(),
		SessionTitle: "Release planning",
		Consensus: entities.ConsensusStatus{
			Detected: true, IdeaID: "idea-1", Type: entities.ConsensusStrong,
			SupportPercentage: 100, ActiveParticipants: 2,
			Supporters: []valueobjects.ParticipantID{"al", "bo"},
		},
		Idea: entities.IdeaView{
			ID: "idea-1", Content: "We should build a shared release calendar",
			Author: "al", SourceMessageID: "m1", Timestamp: t0,
			Reasoning:   []string{"because launches keep colliding"},
			Supporters:  []valueobjects.ParticipantID{"al"},
			Referencers: []valueobjects.ParticipantID{"bo"},
		},
		Participants: []valueobjects.ParticipantID{"al", "bo"},
		MessageCount: messages,
	}
}

func TestPlanService_DeliverAttachesPlan(t *testing.T) {
	metrics := &planMetrics{}
	svc := NewPlanService(nil, config.NewHolder(testPolicy()), utils.NewFakeClock(t0), metrics, nil)

	var attached *entities.ProjectPlan
	err := svc.Deliver(context.Background(), samplePlanContext(4),
		func(_ context.Context, plan *entities.ProjectPlan) error {
			attached = plan
			return nil
		},
		func(context.Context, error) { t.Fatal("fail must not be called") },
	)

	require.NoError(t, err)
	require.NotNil(t, attached)
	assert.Equal(t, valueobjects.IdeaID("idea-1"), attached.ConsensusIdeaID)
	assert.Equal(t, t0, attached.GeneratedAt)
	assert.Equal(t, []valueobjects.ParticipantID{"al", "bo"}, attached.Contributors)
	assert.NoError(t, planning.ValidatePlan(attached))
	assert.Equal(t, []string{"generated"}, metrics.outcomes)
}

func TestPlanService_AttachIsRetried(t *testing.T) {
	svc := NewPlanService(nil, config.NewHolder(testPolicy()), utils.NewFakeClock(t0), nil, nil)

	calls := 0
	err := svc.Deliver(context.Background(), samplePlanContext(4),
		func(context.Context, *entities.ProjectPlan) error {
			calls++
			if calls == 1 {
				return pkgerrors.NewUnavailableError("session store")
			}
			return nil
		},
		func(context.Context, error) { t.Fatal("fail must not be called") },
	)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPlanService_InsufficientContextFails(t *testing.T) {
	metrics := &planMetrics{}
	svc := NewPlanService(nil, config.NewHolder(testPolicy()), utils.NewFakeClock(t0), metrics, nil)

	var cause error
	err := svc.Deliver(context.Background(), samplePlanContext(1),
		func(context.Context, *entities.ProjectPlan) error {
			t.Fatal("attach must not be called")
			return nil
		},
		func(_ context.Context, err error) { cause = err },
	)

	require.Error(t, err)
	require.Error(t, cause)
	assert.True(t, pkgerrors.IsClarification(cause))
	assert.True(t, pkgerrors.IsRecoverable(cause))
	assert.Equal(t, []string{"clarification"}, metrics.outcomes)
}

func TestPlanService_CancelledDeliveryIsSilent(t *testing.T) {
	svc := NewPlanService(nil, config.NewHolder(testPolicy()), utils.NewFakeClock(t0), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := svc.Deliver(ctx, samplePlanContext(4),
		func(context.Context, *entities.ProjectPlan) error {
			cancel()
			return errors.New("worker stopped")
		},
		func(context.Context, error) { t.Fatal("fail must not be called after cancellation") },
	)
	assert.Error(t, err)
}
