package persistence

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts including the first
	BaseDelay    time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound of a single delay
	JitterFactor float64       // Fraction of the delay randomized
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
	}
}

// throttleCodes are rejections that guarantee the request was not applied.
var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"RequestLimitExceeded":                   true,
	"TransactionConflictException":           true,
}

// transientCodes may or may not have been applied before failing.
var transientCodes = map[string]bool{
	"InternalServerError": true,
	"ServiceUnavailable":  true,
	"RequestTimeout":      true,
}

// IsThrottled reports whether err is a capacity rejection
func IsThrottled(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && throttleCodes[ae.ErrorCode()]
}

// IsTransient reports whether retrying err may succeed
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return throttleCodes[ae.ErrorCode()] || transientCodes[ae.ErrorCode()]
	}
	return pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable) || pkgerrors.IsType(err, pkgerrors.ErrorTypeTimeout)
}

// RetryingStore decorates a SessionStore with bounded exponential backoff.
// Idempotent operations retry on any transient error; Create and Save retry
// only on throttling, where the write is known not to have been applied.
type RetryingStore struct {
	next    ports.SessionStore
	config  RetryConfig
	metrics ports.PipelineMetrics
	logger  *zap.Logger
}

// NewRetryingStore wraps next
func NewRetryingStore(next ports.SessionStore, config RetryConfig, metrics ports.PipelineMetrics, logger *zap.Logger) *RetryingStore {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingStore{next: next, config: config, metrics: metrics, logger: logger}
}

// Unwrap returns the decorated store
func (r *RetryingStore) Unwrap() ports.SessionStore {
	return r.next
}

func (r *RetryingStore) retry(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.metrics.StorageRetry(op)
			r.logger.Warn("Retrying storage operation",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return pkgerrors.NewCancelledError(op).WithCause(ctx.Err())
			case <-time.After(r.delay(attempt)):
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (r *RetryingStore) delay(attempt int) time.Duration {
	d := r.config.BaseDelay << (attempt - 1)
	if r.config.MaxDelay > 0 && (d > r.config.MaxDelay || d <= 0) {
		d = r.config.MaxDelay
	}
	if r.config.JitterFactor > 0 {
		jitter := float64(d) * r.config.JitterFactor
		d += time.Duration(jitter * (2*rand.Float64() - 1))
	}
	return d
}

// Create implements ports.SessionStore
func (r *RetryingStore) Create(ctx context.Context, snap aggregates.SessionSnapshot) error {
	return r.retry(ctx, "create", IsThrottled, func() error {
		return r.next.Create(ctx, snap)
	})
}

// Load implements ports.SessionStore
func (r *RetryingStore) Load(ctx context.Context, id valueobjects.SessionID) (ports.StoredSession, error) {
	var out ports.StoredSession
	err := r.retry(ctx, "load", IsTransient, func() error {
		var err error
		out, err = r.next.Load(ctx, id)
		return err
	})
	return out, err
}

// Save implements ports.SessionStore
func (r *RetryingStore) Save(ctx context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error) {
	var version int
	err := r.retry(ctx, "save", IsThrottled, func() error {
		var err error
		version, err = r.next.Save(ctx, snap, messages, expectedVersion)
		return err
	})
	return version, err
}

// AppendEvents implements ports.SessionStore
func (r *RetryingStore) AppendEvents(ctx context.Context, id valueobjects.SessionID, records []events.Record) error {
	return r.retry(ctx, "append_events", IsTransient, func() error {
		return r.next.AppendEvents(ctx, id, records)
	})
}

// ListEvents implements ports.SessionStore
func (r *RetryingStore) ListEvents(ctx context.Context, id valueobjects.SessionID, afterVersion, limit int) ([]events.Record, error) {
	var out []events.Record
	err := r.retry(ctx, "list_events", IsTransient, func() error {
		var err error
		out, err = r.next.ListEvents(ctx, id, afterVersion, limit)
		return err
	})
	return out, err
}
