package sagas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga_CompletesAndPassesData(t *testing.T) {
	saga := NewSaga("double", nil).
		AddStep(SagaStep{Name: "one", Execute: func(_ context.Context, d any) (any, error) { return d.(int) * 2, nil }}).
		AddStep(SagaStep{Name: "two", Execute: func(_ context.Context, d any) (any, error) { return d.(int) + 1, nil }})

	out, err := saga.Execute(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Equal(t, SagaStateCompleted, saga.GetState())
	assert.NotEmpty(t, saga.GetID())
}

func TestSaga_RetriesThenCompensatesInReverse(t *testing.T) {
	var order []string
	calls := 0
	var failedStep string

	saga := NewSaga("flaky", nil).
		AddStep(SagaStep{
			Name:       "first",
			Execute:    func(_ context.Context, d any) (any, error) { return d, nil },
			Compensate: func(context.Context, any) error { order = append(order, "first"); return nil },
		}).
		AddStep(SagaStep{
			Name:       "second",
			Execute:    func(_ context.Context, d any) (any, error) { return d, nil },
			Compensate: func(context.Context, any) error { order = append(order, "second"); return errors.New("ignored") },
		}).
		AddStep(SagaStep{
			Name: "third",
			Execute: func(context.Context, any) (any, error) {
				calls++
				return nil, errors.New("boom")
			},
			MaxRetries: 3,
			RetryDelay: time.Millisecond,
		}).
		OnFailure(func(_ context.Context, step string, _ error) { failedStep = step })

	_, err := saga.Execute(context.Background(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "third")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, "third", failedStep)
	assert.Equal(t, SagaStateCompensated, saga.GetState())
	assert.Equal(t, 2, saga.GetCurrentStep())
}

func TestSaga_StopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	saga := NewSaga("cancelled", nil).AddStep(SagaStep{
		Name: "only",
		Execute: func(context.Context, any) (any, error) {
			calls++
			cancel()
			return nil, errors.New("failed")
		},
		MaxRetries: 5,
		RetryDelay: time.Hour,
	})

	_, err := saga.Execute(ctx, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
