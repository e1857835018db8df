package services

import (
	"context"
	"sync"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	domain "ideaflow/domain/services"
	"ideaflow/domain/services/planning"
	pkgerrors "ideaflow/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// JobFunc mutates one session on its worker. It may run more than once when
// the save hits an optimistic version conflict, each time against a freshly
// loaded session.
type JobFunc func(ctx context.Context, session *aggregates.Session) (any, error)

// ViewFunc reads one session on its worker. It must not mutate the session.
type ViewFunc func(session *aggregates.Session) (any, error)

// SessionManager owns one worker goroutine per live session. Every read and
// write of a session's derived state runs on that worker, so sessions are
// processed in parallel while each one sees a single ordered history.
type SessionManager struct {
	store    ports.SessionStore
	pipeline *Pipeline
	planner  *PlanService
	outbox   *NotificationOutbox
	clock    ports.Clock
	metrics  ports.PipelineMetrics
	logger   *zap.Logger

	mu       sync.Mutex
	workers  map[valueobjects.SessionID]*sessionWorker
	loads    singleflight.Group
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown bool
}

// NewSessionManager creates a session manager
func NewSessionManager(
	store ports.SessionStore,
	pipeline *Pipeline,
	planner *PlanService,
	outbox *NotificationOutbox,
	metrics ports.PipelineMetrics,
	logger *zap.Logger,
) *SessionManager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if planner == nil {
		planner = NewPlanService(nil, pipeline.policy, pipeline.clock, metrics, logger)
	}
	if outbox == nil {
		outbox = NewNotificationOutbox(nil, DefaultOutboxConfig(), metrics, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &SessionManager{
		store:    store,
		pipeline: pipeline,
		planner:  planner,
		outbox:   outbox,
		clock:    pipeline.clock,
		metrics:  metrics,
		logger:   logger,
		workers:  make(map[valueobjects.SessionID]*sessionWorker),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}
}

// Clock returns the clock used for session timestamps
func (m *SessionManager) Clock() ports.Clock {
	return m.clock
}

// Pipeline returns the pipeline the workers run
func (m *SessionManager) Pipeline() *Pipeline {
	return m.pipeline
}

// Create persists a new session and starts its worker.
func (m *SessionManager) Create(ctx context.Context, session *aggregates.Session) error {
	evs := session.GetUncommittedEvents()
	if err := m.store.Create(ctx, session.Snapshot()); err != nil {
		return err
	}
	session.MarkEventsAsCommitted()
	session.MarkPersisted(session.Version() + 1)

	records, err := events.ToRecords(evs)
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode session events").WithCause(err)
	}
	if err := m.store.AppendEvents(ctx, session.ID(), records); err != nil {
		m.logger.Warn("Failed to record session events", zap.String("sessionID", session.ID().String()), zap.Error(err))
	}
	m.outbox.Enqueue(session.ID(), records)

	_, err = m.worker(ctx, session.ID(), session)
	return err
}

// Execute runs fn on the session's worker, persists the result and publishes
// the events it raised.
func (m *SessionManager) Execute(ctx context.Context, id valueobjects.SessionID, fn JobFunc) (any, error) {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return w.submit(ctx, job{run: fn})
}

// View runs a read-only fn on the session's worker.
func (m *SessionManager) View(ctx context.Context, id valueobjects.SessionID, fn ViewFunc) (any, error) {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return w.submit(ctx, job{view: fn})
}

// Ingest hands a raw message to the session's reorder buffer and processes
// every message the buffer releases.
func (m *SessionManager) Ingest(ctx context.Context, id valueobjects.SessionID, in IncomingMessage) (IngestReceipt, error) {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return IngestReceipt{}, err
	}
	value, err := w.submit(ctx, w.ingestJob(in))
	if err != nil {
		return IngestReceipt{}, err
	}
	return value.(IngestReceipt), nil
}

// Flush processes every buffered message of the session now.
func (m *SessionManager) Flush(ctx context.Context, id valueobjects.SessionID) ([]MessageOutcome, error) {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	value, err := w.submit(ctx, w.flushJob())
	if err != nil {
		return nil, err
	}
	outcomes, _ := value.([]MessageOutcome)
	return outcomes, nil
}

// Close drains the session's buffer, closes the session and stops its
// worker. In-flight plan generation is abandoned.
func (m *SessionManager) Close(ctx context.Context, id valueobjects.SessionID, reason string) error {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return err
	}
	flush := w.flushJob()
	_, err = w.submit(ctx, job{
		run: func(ctx context.Context, s *aggregates.Session) (any, error) {
			if _, err := flush.run(ctx, s); err != nil {
				return nil, err
			}
			return nil, s.Close(reason, m.clock.Now())
		},
		abort: flush.abort,
	})
	if err != nil {
		return err
	}
	m.stopWorker(w)
	return nil
}

// Evict stops a session's worker without closing the session. The next
// command reloads it from the store.
func (m *SessionManager) Evict(id valueobjects.SessionID) {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if ok {
		m.stopWorker(w)
	}
}

// Active returns the number of running workers
func (m *SessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Shutdown stops every worker and waits for them and their plan
// generations to exit.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) worker(ctx context.Context, id valueobjects.SessionID, created *aggregates.Session) (*sessionWorker, error) {
	if created != nil {
		return m.install(created)
	}
	if w, err := m.lookup(id); w != nil || err != nil {
		return w, err
	}

	// Loads run outside m.mu so a slow store only delays callers of the
	// session being loaded.
	value, err, _ := m.loads.Do(id.String(), func() (any, error) {
		if w, err := m.lookup(id); w != nil || err != nil {
			return w, err
		}
		stored, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		return m.install(restore(stored))
	})
	if err != nil {
		return nil, err
	}
	return value.(*sessionWorker), nil
}

func (m *SessionManager) lookup(id valueobjects.SessionID) (*sessionWorker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, pkgerrors.NewUnavailableError("session manager")
	}
	return m.workers[id], nil
}

// install starts a worker for session unless one is already running.
func (m *SessionManager) install(session *aggregates.Session) (*sessionWorker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, pkgerrors.NewUnavailableError("session manager")
	}
	if w, ok := m.workers[session.ID()]; ok {
		return w, nil
	}
	w := newSessionWorker(m, session)
	m.workers[session.ID()] = w
	m.group.Go(w.run)
	return w, nil
}

func (m *SessionManager) stopWorker(w *sessionWorker) {
	m.mu.Lock()
	if m.workers[w.id] == w {
		delete(m.workers, w.id)
	}
	m.mu.Unlock()
	w.cancel()
	<-w.stopped
}

func restore(stored ports.StoredSession) *aggregates.Session {
	messages := make([]*entities.Message, 0, len(stored.Messages))
	for _, v := range stored.Messages {
		messages = append(messages, entities.ReconstructMessage(v))
	}
	return aggregates.RestoreSession(stored.Snapshot, messages)
}

// IncomingMessage is a raw message before normalization.
type IncomingMessage struct {
	ID        valueobjects.MessageID
	Author    valueobjects.ParticipantID
	Content   string
	Timestamp time.Time
	Platform  string
	Metadata  valueobjects.Metadata
}

// IngestReceipt acknowledges an ingested message and lists the messages the
// reorder buffer released while handling it.
type IngestReceipt struct {
	SessionID valueobjects.SessionID `json:"sessionId"`
	MessageID valueobjects.MessageID `json:"messageId"`
	Sequence  int64                  `json:"sequence"`
	Buffered  bool                   `json:"buffered"`
	Late      bool                   `json:"late"`
	Processed []MessageOutcome       `json:"processed"`
}

type job struct {
	run  JobFunc
	view ViewFunc
	// abort runs against the current session when run's result is not
	// persisted.
	abort func(session *aggregates.Session)
	done  chan jobResult
}

type jobResult struct {
	value any
	err   error
}

type sessionWorker struct {
	id      valueobjects.SessionID
	m       *SessionManager
	mailbox chan job
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	session      *aggregates.Session
	buffer       *reorderBuffer
	lastSequence int64
	dirty        bool
	unrecorded   []events.Record
	saveFailures int
	planInFlight bool
	planBlocked  bool

	flushTimer  *time.Timer
	reevalTimer *time.Timer
	saveTimer   *time.Timer
}

func newSessionWorker(m *SessionManager, session *aggregates.Session) *sessionWorker {
	ctx, cancel := context.WithCancel(m.ctx)
	cfg := m.pipeline.Policy()
	return &sessionWorker{
		id:           session.ID(),
		m:            m,
		mailbox:      make(chan job, cfg.SessionMailbox),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		session:      session,
		buffer:       newReorderBuffer(cfg.LatenessWindow),
		lastSequence: session.LastSequence(),
	}
}

// submit enqueues j and waits for its result.
func (w *sessionWorker) submit(ctx context.Context, j job) (any, error) {
	j.done = make(chan jobResult, 1)
	select {
	case w.mailbox <- j:
	case <-ctx.Done():
		return nil, pkgerrors.NewCancelledError("session job").WithCause(ctx.Err())
	case <-w.ctx.Done():
		return nil, pkgerrors.NewCancelledError("session job").WithDetail("sessionID", w.id.String())
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, pkgerrors.NewCancelledError("session job").WithCause(ctx.Err())
	case <-w.ctx.Done():
		return nil, pkgerrors.NewCancelledError("session job").WithDetail("sessionID", w.id.String())
	}
}

// post enqueues j without waiting. Used by timers.
func (w *sessionWorker) post(j job) {
	select {
	case w.mailbox <- j:
	case <-w.ctx.Done():
	}
}

func (w *sessionWorker) run() error {
	defer close(w.stopped)
	defer w.stopTimers()

	for {
		select {
		case <-w.ctx.Done():
			return nil
		case j := <-w.mailbox:
			value, err := w.execute(j)
			if j.done != nil {
				j.done <- jobResult{value: value, err: err}
			}
		}
	}
}

func (w *sessionWorker) execute(j job) (any, error) {
	if j.view != nil {
		return j.view(w.session)
	}
	value, err := w.attempt(j)
	if err != nil && j.abort != nil {
		j.abort(w.session)
	}
	return value, err
}

func (w *sessionWorker) attempt(j job) (any, error) {
	cfg := w.m.pipeline.Policy()
	for attempt := 0; ; attempt++ {
		value, err := j.run(w.ctx, w.session)
		if err != nil {
			w.discardUnsaved()
			return nil, err
		}

		err = w.commit()
		if err == nil {
			w.afterCommit()
			return value, nil
		}

		if pkgerrors.IsConflict(err) {
			if attempt >= cfg.StorageRetries-1 {
				if rerr := w.reload(); rerr != nil {
					return nil, rerr
				}
				return nil, err
			}
			w.m.metrics.StorageRetry("save")
			w.m.logger.Warn("Session version conflict, retrying against latest",
				zap.String("sessionID", w.id.String()),
				zap.Int("attempt", attempt+1),
			)
			if !w.sleep(cfg.StorageBaseBackoff << attempt) {
				return nil, pkgerrors.NewCancelledError("session job")
			}
			if rerr := w.reload(); rerr != nil {
				return nil, rerr
			}
			continue
		}

		// Storage is unavailable: keep the state in memory and retry later.
		w.dirty = true
		w.scheduleSaveRetry(cfg.StorageBaseBackoff)
		w.m.logger.Warn("Session save failed, keeping state in memory",
			zap.String("sessionID", w.id.String()),
			zap.Int("failures", w.saveFailures),
			zap.Error(err),
		)
		return value, nil
	}
}

func (w *sessionWorker) commit() error {
	s := w.session
	evs := s.GetUncommittedEvents()
	pending := s.PendingMessages()
	if len(evs) == 0 && len(pending) == 0 && !w.dirty && len(w.unrecorded) == 0 {
		return nil
	}

	if len(evs) > 0 || len(pending) > 0 || w.dirty {
		views := make([]entities.MessageView, 0, len(pending))
		for _, msg := range pending {
			views = append(views, msg.View())
		}
		version, err := w.m.store.Save(w.ctx, s.Snapshot(), views, s.Version())
		if err != nil {
			return err
		}
		s.MarkPersisted(version)
		s.MarkEventsAsCommitted()
		w.dirty = false
		w.saveFailures = 0
	}

	records, err := events.ToRecords(evs)
	if err != nil {
		w.m.logger.Error("Failed to encode session events", zap.String("sessionID", w.id.String()), zap.Error(err))
		return nil
	}
	w.unrecorded = append(w.unrecorded, records...)
	if err := w.m.store.AppendEvents(w.ctx, w.id, w.unrecorded); err != nil {
		w.m.logger.Warn("Failed to record session events",
			zap.String("sessionID", w.id.String()),
			zap.Int("events", len(w.unrecorded)),
			zap.Error(err),
		)
	} else {
		w.unrecorded = nil
	}
	w.m.outbox.Enqueue(w.id, records)
	return nil
}

// afterCommit arms the timers and background work the new state implies.
func (w *sessionWorker) afterCommit() {
	s := w.session
	tracker := s.Consensus()
	if tracker.PendingReeval && !s.IsClosed() {
		w.scheduleReevaluation(tracker.CooldownUntil)
	} else if w.reevalTimer != nil {
		w.reevalTimer.Stop()
		w.reevalTimer = nil
	}

	if w.buffer.Len() > 0 && !s.IsClosed() {
		w.scheduleFlush()
	}

	if s.PlanState() == aggregates.PlanPending && !w.planInFlight && !w.planBlocked && !s.IsClosed() {
		w.startPlan()
	}
}

func (w *sessionWorker) discardUnsaved() {
	if w.dirty {
		return
	}
	if len(w.session.GetUncommittedEvents()) == 0 && len(w.session.PendingMessages()) == 0 {
		return
	}
	if err := w.reload(); err != nil {
		w.m.logger.Error("Failed to discard partial session state", zap.String("sessionID", w.id.String()), zap.Error(err))
	}
}

func (w *sessionWorker) reload() error {
	stored, err := w.m.store.Load(w.ctx, w.id)
	if err != nil {
		return err
	}
	w.session = restore(stored)
	if w.session.LastSequence() > w.lastSequence {
		w.lastSequence = w.session.LastSequence()
	}
	return nil
}

func (w *sessionWorker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *sessionWorker) ingestJob(in IncomingMessage) job {
	var (
		prepared bool
		receipt  IngestReceipt
		released []*entities.Message
		late     bool
	)
	run := func(ctx context.Context, s *aggregates.Session) (any, error) {
		if !prepared {
			msg, err := w.normalize(s, in)
			if err != nil {
				return nil, err
			}
			prepared = true
			receipt = IngestReceipt{SessionID: w.id, MessageID: msg.ID(), Sequence: msg.Sequence()}
			if w.buffer.Push(msg) {
				released = w.buffer.Ready()
				receipt.Buffered = w.buffer.Contains(msg.ID())
			} else {
				late = true
				receipt.Late = true
				released = []*entities.Message{msg}
				w.m.logger.Warn("Late message processed in arrival order",
					zap.String("sessionID", w.id.String()),
					zap.String("messageID", string(msg.ID())),
					zap.Time("timestamp", msg.Timestamp()),
				)
			}
		}
		receipt.Processed = w.process(ctx, s, released, late)
		return receipt, nil
	}
	// The caller sees the error, so its own message is withdrawn and may be
	// sent again. Messages of other senders were already acknowledged and go
	// back into the buffer.
	abort := func(s *aggregates.Session) {
		if !prepared {
			return
		}
		w.buffer.Remove(in.ID)
		w.requeue(s, released, in.ID)
	}
	return job{run: run, abort: abort}
}

func (w *sessionWorker) flushJob() job {
	var (
		drained  bool
		released []*entities.Message
	)
	run := func(ctx context.Context, s *aggregates.Session) (any, error) {
		if !drained {
			released = w.buffer.Drain()
			drained = true
		}
		return w.process(ctx, s, released, false), nil
	}
	abort := func(s *aggregates.Session) {
		w.requeue(s, released, "")
	}
	return job{run: run, abort: abort}
}

// requeue returns released messages that did not reach the session log to
// the reorder buffer.
func (w *sessionWorker) requeue(s *aggregates.Session, released []*entities.Message, skip valueobjects.MessageID) {
	restored := 0
	for _, msg := range released {
		if msg.ID() == skip {
			continue
		}
		if _, ok := s.Message(msg.ID()); ok {
			continue
		}
		w.buffer.Restore(msg)
		restored++
	}
	if restored == 0 {
		return
	}
	w.m.logger.Warn("Returned unsaved messages to the reorder buffer",
		zap.String("sessionID", w.id.String()),
		zap.Int("messages", restored),
	)
	if !s.IsClosed() {
		w.scheduleFlush()
	}
}

func (w *sessionWorker) normalize(s *aggregates.Session, in IncomingMessage) (*entities.Message, error) {
	if s.IsClosed() {
		return nil, pkgerrors.NewConflictError("session is closed").WithCode("SESSION_CLOSED").AsRecoverable(false)
	}
	if _, ok := s.Message(in.ID); ok || w.buffer.Contains(in.ID) {
		return nil, pkgerrors.NewConflictError("message already ingested").
			WithCode("DUPLICATE_MESSAGE").
			WithDetail("messageID", string(in.ID))
	}
	content, err := valueobjects.NewContent(in.Content, w.m.pipeline.Policy().MaxContentLength)
	if err != nil {
		return nil, err
	}
	timestamp := in.Timestamp
	if timestamp.IsZero() {
		timestamp = w.m.clock.Now()
	}
	w.lastSequence++
	return entities.NewMessage(in.ID, in.Author, content, timestamp, in.Platform, in.Metadata, w.lastSequence)
}

// process runs released messages through the pipeline. Failures are isolated
// per message. Messages already in the session log are skipped, which makes
// the job safe to re-run after a version conflict.
func (w *sessionWorker) process(ctx context.Context, s *aggregates.Session, released []*entities.Message, late bool) []MessageOutcome {
	outcomes := make([]MessageOutcome, 0, len(released))
	for _, msg := range released {
		if _, ok := s.Message(msg.ID()); ok {
			continue
		}
		outcome, err := w.m.pipeline.Process(ctx, s, msg)
		if err != nil {
			w.m.logger.Warn("Dropping message that could not be processed",
				zap.String("sessionID", w.id.String()),
				zap.String("messageID", string(msg.ID())),
				zap.Error(err),
			)
			continue
		}
		outcome.Late = late
		outcomes = append(outcomes, outcome)
		w.planBlocked = false
	}
	return outcomes
}

func (w *sessionWorker) scheduleFlush() {
	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}
	cfg := w.m.pipeline.Policy()
	window := max(cfg.LatenessWindow, cfg.StorageBaseBackoff)
	flush := w.flushJob()
	w.flushTimer = time.AfterFunc(window, func() {
		w.post(flush)
	})
}

func (w *sessionWorker) scheduleReevaluation(at time.Time) {
	if w.reevalTimer != nil {
		w.reevalTimer.Stop()
	}
	delay := at.Sub(w.m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	w.reevalTimer = time.AfterFunc(delay, func() {
		w.post(job{run: func(_ context.Context, s *aggregates.Session) (any, error) {
			return w.m.pipeline.Reevaluate(s, ""), nil
		}})
	})
}

func (w *sessionWorker) scheduleSaveRetry(base time.Duration) {
	w.saveFailures++
	if w.saveTimer != nil {
		return
	}
	delay := base << min(w.saveFailures-1, 8)
	w.saveTimer = time.AfterFunc(delay, func() {
		w.post(job{run: func(context.Context, *aggregates.Session) (any, error) {
			w.saveTimer = nil
			return nil, nil
		}})
	})
}

func (w *sessionWorker) stopTimers() {
	for _, t := range []*time.Timer{w.flushTimer, w.reevalTimer, w.saveTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// startPlan captures the plan context and generates off the worker.
func (w *sessionWorker) startPlan() {
	pc, err := planning.BuildPlanContext(w.session)
	if err != nil {
		w.m.logger.Error("Cannot build plan context", zap.String("sessionID", w.id.String()), zap.Error(err))
		w.planBlocked = true
		return
	}
	w.planInFlight = true
	ctx := w.ctx

	w.m.group.Go(func() error {
		err := w.m.planner.Deliver(ctx, pc,
			func(ctx context.Context, plan *entities.ProjectPlan) error {
				_, err := w.submit(ctx, job{run: func(_ context.Context, s *aggregates.Session) (any, error) {
					w.planInFlight = false
					if s.PlanState() == aggregates.PlanGenerated {
						return nil, nil
					}
					return nil, s.AttachPlan(plan, w.m.clock.Now())
				}})
				if err != nil && !pkgerrors.IsConflict(err) {
					return err
				}
				return nil
			},
			func(ctx context.Context, cause error) {
				envelope := pkgerrors.ToEnvelope(cause, w.m.clock.Now())
				_, err := w.submit(ctx, job{run: func(_ context.Context, s *aggregates.Session) (any, error) {
					w.planInFlight = false
					w.planBlocked = true
					s.RecordPlanFailure(pc.Idea.ID, envelope, w.m.clock.Now())
					return nil, nil
				}})
				if err != nil {
					w.m.logger.Warn("Could not record plan failure", zap.String("sessionID", w.id.String()), zap.Error(err))
				}
			},
		)
		if err != nil {
			w.m.logger.Debug("Plan delivery ended without a plan", zap.String("sessionID", w.id.String()), zap.Error(err))
		}
		return nil
	})
}

// RequestPlan re-arms plan generation after a recoverable failure.
func (m *SessionManager) RequestPlan(ctx context.Context, id valueobjects.SessionID) error {
	w, err := m.worker(ctx, id, nil)
	if err != nil {
		return err
	}
	_, err = w.submit(ctx, job{run: func(_ context.Context, s *aggregates.Session) (any, error) {
		if w.planInFlight {
			return nil, pkgerrors.NewConflictError("a plan is already being generated").WithCode("PLAN_IN_FLIGHT")
		}
		w.planBlocked = false
		return nil, s.RequestPlan(m.clock.Now())
	}})
	return err
}

// ResolveTie picks one of the surfaced tie candidates as the primary idea.
func (m *SessionManager) ResolveTie(ctx context.Context, id valueobjects.SessionID, ideaID valueobjects.IdeaID) (domain.ConsensusEvaluation, error) {
	value, err := m.Execute(ctx, id, func(_ context.Context, s *aggregates.Session) (any, error) {
		tracker := s.Consensus()
		found := false
		for _, c := range tracker.TieCandidates {
			if c == ideaID {
				found = true
			}
		}
		if !found {
			return nil, pkgerrors.NewValidationError("idea is not a tie candidate").
				WithCode("NOT_A_TIE_CANDIDATE").
				WithDetail("ideaID", string(ideaID))
		}
		return m.pipeline.Reevaluate(s, ideaID), nil
	})
	if err != nil {
		return domain.ConsensusEvaluation{}, err
	}
	return value.(domain.ConsensusEvaluation), nil
}
