package memory

import (
	"context"
	"sort"
	"sync"

	"ideaflow/application/ports"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/persistence/schema"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"go.uber.org/zap"
)

type sessionRecord struct {
	current  schema.Document
	backup   *schema.Document
	messages []entities.MessageView
	events   []events.Record
	eventIDs map[string]bool
}

// Store keeps session documents in process memory. Documents are held in
// their sealed form so readers never share state with the writer.
type Store struct {
	mu       sync.RWMutex
	sessions map[valueobjects.SessionID]*sessionRecord
	codec    *schema.SchemaEvolution
	clock    ports.Clock
	logger   *zap.Logger
}

// NewStore creates an in-memory session store
func NewStore(codec *schema.SchemaEvolution, clock ports.Clock, logger *zap.Logger) *Store {
	if codec == nil {
		codec = schema.NewSchemaEvolution(nil)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[valueobjects.SessionID]*sessionRecord),
		codec:    codec,
		clock:    clock,
		logger:   logger,
	}
}

// Create implements ports.SessionStore
func (s *Store) Create(_ context.Context, snap aggregates.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[snap.ID]; exists {
		return pkgerrors.NewConflictError("session already exists").
			WithCode("SESSION_EXISTS").
			WithDetail("sessionID", snap.ID.String())
	}
	snap.Version = 1
	doc, err := s.codec.Seal(snap, 0, s.clock.Now())
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}
	backup := doc
	s.sessions[snap.ID] = &sessionRecord{current: doc, backup: &backup, eventIDs: make(map[string]bool)}
	return nil
}

// Load implements ports.SessionStore. A document that fails its checksum is
// replaced by the backup copy and the message log is cut back to match it.
func (s *Store) Load(_ context.Context, id valueobjects.SessionID) (ports.StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return ports.StoredSession{}, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}

	snap, err := s.codec.Open(rec.current)
	if err != nil {
		if !schema.IsIntegrityError(err) || rec.backup == nil {
			return ports.StoredSession{}, pkgerrors.NewDatabaseError("load session", err).AsRecoverable(false)
		}
		snap, err = s.restoreBackup(id, rec, err)
		if err != nil {
			return ports.StoredSession{}, err
		}
	}
	return ports.StoredSession{Snapshot: snap, Messages: copyMessages(rec.messages)}, nil
}

func (s *Store) restoreBackup(id valueobjects.SessionID, rec *sessionRecord, cause error) (aggregates.SessionSnapshot, error) {
	snap, err := s.codec.Open(*rec.backup)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err).AsRecoverable(false)
	}
	dropped := len(rec.messages) - rec.backup.MessageCount
	if dropped > 0 {
		rec.messages = rec.messages[:rec.backup.MessageCount]
	}
	rec.current = *rec.backup

	s.logger.Warn("Session document failed integrity check, restored backup",
		zap.String("sessionID", id.String()),
		zap.Int("restoredVersion", rec.current.Version),
		zap.Int("messagesDropped", max(dropped, 0)),
		zap.Error(cause),
	)
	return snap, nil
}

// Save implements ports.SessionStore
func (s *Store) Save(_ context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[snap.ID]
	if !ok {
		return 0, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", snap.ID.String())
	}
	if rec.current.Version != expectedVersion {
		return 0, versionConflict(snap.ID, expectedVersion, rec.current.Version)
	}

	known := make(map[valueobjects.MessageID]bool, len(rec.messages))
	for _, m := range rec.messages {
		known[m.ID] = true
	}
	log := rec.messages
	for _, m := range messages {
		if !known[m.ID] {
			log = append(log, copyMessage(m))
			known[m.ID] = true
		}
	}

	now := s.clock.Now()
	snap.Version = expectedVersion + 1
	doc, err := s.codec.Seal(snap, len(log), now)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}

	policy := s.codec.Versioning().Policy()
	if rec.backup == nil || policy.ShouldBackup(rec.backup.SessionVersion(snap.ID.String()), len(log), now) {
		previous := rec.current
		rec.backup = &previous
	}
	rec.current = doc
	rec.messages = log
	return snap.Version, nil
}

// AppendEvents implements ports.SessionStore. Records already stored are
// skipped, which keeps redelivery idempotent.
func (s *Store) AppendEvents(_ context.Context, id valueobjects.SessionID, records []events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}
	for _, r := range records {
		if rec.eventIDs[r.EventID] {
			continue
		}
		rec.eventIDs[r.EventID] = true
		rec.events = append(rec.events, r)
	}
	return nil
}

// ListEvents implements ports.SessionStore
func (s *Store) ListEvents(_ context.Context, id valueobjects.SessionID, afterVersion, limit int) ([]events.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}
	out := make([]events.Record, 0)
	for _, r := range rec.events {
		if r.Version > afterVersion {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sessions returns the ids of every stored session
func (s *Store) Sessions() []valueobjects.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]valueobjects.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func versionConflict(id valueobjects.SessionID, expected, actual int) error {
	return pkgerrors.NewConflictError("session was modified concurrently").
		WithCode("VERSION_CONFLICT").
		WithDetail("sessionID", id.String()).
		WithDetail("expectedVersion", expected).
		WithDetail("actualVersion", actual)
}

func copyMessages(in []entities.MessageView) []entities.MessageView {
	out := make([]entities.MessageView, len(in))
	for i, m := range in {
		out[i] = copyMessage(m)
	}
	return out
}

func copyMessage(m entities.MessageView) entities.MessageView {
	if m.Metadata != nil {
		meta := make(valueobjects.Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	return m
}
