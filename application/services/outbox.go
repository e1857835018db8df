package services

import (
	"context"
	"sync"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"

	"go.uber.org/zap"
)

// OutboxConfig tunes notification delivery.
type OutboxConfig struct {
	Interval    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// DefaultOutboxConfig returns the default delivery settings
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		Interval:    500 * time.Millisecond,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		MaxAttempts: 8,
	}
}

type outboxEntry struct {
	sessionID valueobjects.SessionID
	records   []events.Record
	pending   map[string]bool
	attempts  int
	nextTry   time.Time
}

// NotificationOutbox queues committed session events in memory and delivers
// them to every notifier at least once, backing off exponentially per entry.
// Entries for one session are delivered in commit order.
type NotificationOutbox struct {
	notifiers []ports.Notifier
	cfg       OutboxConfig
	metrics   ports.PipelineMetrics
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	queue   []*outboxEntry
	kick    chan struct{}
	running bool

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewNotificationOutbox creates an outbox delivering to notifiers
func NewNotificationOutbox(notifiers []ports.Notifier, cfg OutboxConfig, metrics ports.PipelineMetrics, logger *zap.Logger) *NotificationOutbox {
	if cfg.Interval <= 0 {
		cfg = DefaultOutboxConfig()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationOutbox{
		notifiers:   notifiers,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		kick:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Enqueue schedules records for delivery
func (o *NotificationOutbox) Enqueue(sessionID valueobjects.SessionID, records []events.Record) {
	if len(records) == 0 || len(o.notifiers) == 0 {
		return
	}
	pending := make(map[string]bool, len(o.notifiers))
	for _, n := range o.notifiers {
		pending[n.Name()] = true
	}
	o.mu.Lock()
	o.queue = append(o.queue, &outboxEntry{sessionID: sessionID, records: records, pending: pending})
	o.mu.Unlock()

	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Pending returns the number of undelivered entries
func (o *NotificationOutbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Start begins background delivery
func (o *NotificationOutbox) Start(ctx context.Context) {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	o.logger.Info("Starting notification outbox",
		zap.Int("notifiers", len(o.notifiers)),
		zap.Duration("interval", o.cfg.Interval),
	)
	go o.processLoop(ctx)
}

// Stop gracefully stops background delivery. Undelivered entries stay queued
// and can still be drained with Flush.
func (o *NotificationOutbox) Stop() {
	o.mu.Lock()
	running := o.running
	o.running = false
	o.mu.Unlock()
	if !running {
		return
	}
	close(o.stopChan)
	<-o.stoppedChan
	o.logger.Info("Notification outbox stopped")
}

func (o *NotificationOutbox) processLoop(ctx context.Context) {
	defer close(o.stoppedChan)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-o.kick:
			o.deliverDue(ctx, false)
		case <-ticker.C:
			o.deliverDue(ctx, false)
		}
	}
}

// Flush attempts delivery of every queued entry now, ignoring backoff, and
// returns the number of entries still undelivered.
func (o *NotificationOutbox) Flush(ctx context.Context) int {
	o.deliverDue(ctx, true)
	return o.Pending()
}

func (o *NotificationOutbox) deliverDue(ctx context.Context, force bool) {
	o.mu.Lock()
	due := make([]*outboxEntry, 0, len(o.queue))
	blocked := make(map[valueobjects.SessionID]bool)
	now := o.now()
	for _, e := range o.queue {
		if blocked[e.sessionID] {
			continue
		}
		if force || !now.Before(e.nextTry) {
			due = append(due, e)
		}
		blocked[e.sessionID] = true
	}
	o.mu.Unlock()

	for _, e := range due {
		if ctx.Err() != nil {
			return
		}
		o.deliver(ctx, e)
	}
}

func (o *NotificationOutbox) deliver(ctx context.Context, e *outboxEntry) {
	for _, n := range o.notifiers {
		o.mu.Lock()
		wanted := e.pending[n.Name()]
		o.mu.Unlock()
		if !wanted {
			continue
		}
		if err := n.Notify(ctx, e.sessionID, e.records); err != nil {
			o.metrics.NotificationFailed(n.Name())
			o.logger.Warn("Notification delivery failed",
				zap.String("notifier", n.Name()),
				zap.String("sessionID", e.sessionID.String()),
				zap.Int("attempt", e.attempts+1),
				zap.Error(err),
			)
			continue
		}
		o.mu.Lock()
		delete(e.pending, n.Name())
		o.mu.Unlock()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	e.attempts++
	if len(e.pending) > 0 && e.attempts < o.cfg.MaxAttempts {
		backoff := o.cfg.BaseBackoff << (e.attempts - 1)
		if backoff <= 0 || backoff > o.cfg.MaxBackoff {
			backoff = o.cfg.MaxBackoff
		}
		e.nextTry = o.now().Add(backoff)
		return
	}
	if len(e.pending) > 0 {
		o.logger.Error("Dropping notification after max attempts",
			zap.String("sessionID", e.sessionID.String()),
			zap.Int("events", len(e.records)),
			zap.Int("attempts", e.attempts),
		)
	}
	for i, q := range o.queue {
		if q == e {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
}
