package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	domain "ideaflow/domain/services"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/persistence/memory"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func testPolicy() *config.DomainConfig {
	cfg := config.DefaultDomainConfig()
	cfg.LatenessWindow = 0
	cfg.StorageBaseBackoff = time.Millisecond
	return cfg
}

func newMessage(t *testing.T, id, author, text string, at time.Time, seq int64, md map[string]interface{}) *entities.Message {
	t.Helper()
	content, err := valueobjects.NewContent(text, 8000)
	require.NoError(t, err)
	msg, err := entities.NewMessage(valueobjects.MessageID(id), valueobjects.ParticipantID(author), content, at, "test", valueobjects.NewMetadata(md), seq)
	require.NoError(t, err)
	return msg
}

func newTestSession(t *testing.T, people ...valueobjects.ParticipantID) *aggregates.Session {
	t.Helper()
	s, err := aggregates.NewSession(valueobjects.NewSessionID(), "Release planning", people, t0)
	require.NoError(t, err)
	return s
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (domain.Classification, error) {
	return domain.Classification{}, errors.New("model returned garbage")
}

// recordingNotifier collects delivered records and fails the first failures calls.
type recordingNotifier struct {
	name     string
	mu       sync.Mutex
	failures int
	calls    int
	records  []events.Record
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(_ context.Context, _ valueobjects.SessionID, records []events.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.failures {
		return errors.New("transport down")
	}
	n.records = append(n.records, records...)
	return nil
}

func (n *recordingNotifier) delivered() []events.Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Record(nil), n.records...)
}

// faultyStore wraps the memory store with switchable load delays and save
// conflicts.
type faultyStore struct {
	*memory.Store
	loadDelay atomic.Int64
	conflicts atomic.Bool
}

func (s *faultyStore) Load(ctx context.Context, id valueobjects.SessionID) (ports.StoredSession, error) {
	if d := time.Duration(s.loadDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ports.StoredSession{}, ctx.Err()
		}
	}
	return s.Store.Load(ctx, id)
}

func (s *faultyStore) Save(ctx context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error) {
	if s.conflicts.Load() {
		return 0, pkgerrors.NewConflictError("version conflict")
	}
	return s.Store.Save(ctx, snap, messages, expectedVersion)
}

type managerFixture struct {
	manager *SessionManager
	store   *memory.Store
	faults  *faultyStore
	clock   *utils.FakeClock
	policy  *config.Holder
}

func newManagerFixture(t *testing.T, cfg *config.DomainConfig) *managerFixture {
	t.Helper()
	if cfg == nil {
		cfg = testPolicy()
	}
	clock := utils.NewFakeClock(t0)
	store := memory.NewStore(nil, clock, nil)
	faults := &faultyStore{Store: store}
	policy := config.NewHolder(cfg)
	pipeline := NewPipeline(policy, nil, nil, clock, nil, nil)
	manager := NewSessionManager(faults, pipeline, nil, nil, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &managerFixture{manager: manager, store: store, faults: faults, clock: clock, policy: policy}
}

func (f *managerFixture) create(t *testing.T, people ...valueobjects.ParticipantID) valueobjects.SessionID {
	t.Helper()
	s := newTestSession(t, people...)
	require.NoError(t, f.manager.Create(context.Background(), s))
	return s.ID()
}

func (f *managerFixture) say(t *testing.T, id valueobjects.SessionID, msgID, author, text string, offset time.Duration, md map[string]interface{}) IngestReceipt {
	t.Helper()
	receipt, err := f.manager.Ingest(context.Background(), id, IncomingMessage{
		ID:        valueobjects.MessageID(msgID),
		Author:    valueobjects.ParticipantID(author),
		Content:   text,
		Timestamp: t0.Add(offset),
		Platform:  "slack",
		Metadata:  valueobjects.NewMetadata(md),
	})
	require.NoError(t, err)
	return receipt
}

func (f *managerFixture) snapshot(t *testing.T, id valueobjects.SessionID) aggregates.SessionSnapshot {
	t.Helper()
	value, err := f.manager.View(context.Background(), id, func(s *aggregates.Session) (any, error) {
		return s.Snapshot(), nil
	})
	require.NoError(t, err)
	return value.(aggregates.SessionSnapshot)
}

var (
	_ ports.Notifier     = (*recordingNotifier)(nil)
	_ ports.SessionStore = (*faultyStore)(nil)
)
