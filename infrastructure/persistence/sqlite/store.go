package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ideaflow/application/ports"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/persistence/schema"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store persists sessions in a local SQLite database. The session document
// and its backup live in one row; messages and events are append-only rows.
type Store struct {
	db     *sql.DB
	codec  *schema.SchemaEvolution
	clock  ports.Clock
	logger *zap.Logger
}

// Open opens or creates the database at path
func Open(path string, codec *schema.SchemaEvolution, clock ports.Clock, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if codec == nil {
		codec = schema.NewSchemaEvolution(nil)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{db: db, codec: codec, clock: clock, logger: logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			document TEXT NOT NULL,
			backup TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY(session_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_position ON messages(session_id, position);`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY(session_id, event_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_version ON events(session_id, version);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite schema init failed: %w", err)
		}
	}
	return nil
}

// Create implements ports.SessionStore
func (s *Store) Create(ctx context.Context, snap aggregates.SessionSnapshot) error {
	snap.Version = 1
	now := s.clock.Now()
	doc, err := s.codec.Seal(snap, 0, now)
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}
	blob, err := schema.MarshalDocument(doc)
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, version, document, backup, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		snap.ID.String(), 1, string(blob), string(blob), utils.FormatRFC3339(now))
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NewConflictError("session already exists").
			WithCode("SESSION_EXISTS").
			WithDetail("sessionID", snap.ID.String())
	}
	return nil
}

// Load implements ports.SessionStore
func (s *Store) Load(ctx context.Context, id valueobjects.SessionID) (ports.StoredSession, error) {
	var (
		docBlob    string
		backupBlob sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT document, backup FROM sessions WHERE session_id = ?`, id.String()).
		Scan(&docBlob, &backupBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.StoredSession{}, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}
	if err != nil {
		return ports.StoredSession{}, pkgerrors.NewDatabaseError("load session", err)
	}

	doc, err := schema.UnmarshalDocument([]byte(docBlob))
	if err != nil {
		return ports.StoredSession{}, pkgerrors.NewDatabaseError("load session", err).AsRecoverable(false)
	}
	snap, err := s.codec.Open(doc)
	if err != nil {
		if !schema.IsIntegrityError(err) || !backupBlob.Valid {
			return ports.StoredSession{}, pkgerrors.NewDatabaseError("load session", err).AsRecoverable(false)
		}
		snap, err = s.restoreBackup(ctx, id, backupBlob.String, err)
		if err != nil {
			return ports.StoredSession{}, err
		}
	}

	messages, err := s.loadMessages(ctx, id)
	if err != nil {
		return ports.StoredSession{}, err
	}
	return ports.StoredSession{Snapshot: snap, Messages: messages}, nil
}

func (s *Store) restoreBackup(ctx context.Context, id valueobjects.SessionID, blob string, cause error) (aggregates.SessionSnapshot, error) {
	backup, err := schema.UnmarshalDocument([]byte(blob))
	if err != nil {
		return aggregates.SessionSnapshot{}, pkgerrors.NewDatabaseError("restore session backup", err).AsRecoverable(false)
	}
	snap, err := s.codec.Open(backup)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err).AsRecoverable(false)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET document = ?, version = ?, updated_at = ? WHERE session_id = ?`,
		blob, backup.Version, utils.FormatRFC3339(s.clock.Now()), id.String()); err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ? AND position > ?`, id.String(), backup.MessageCount)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}
	if err := tx.Commit(); err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}

	dropped, _ := res.RowsAffected()
	s.logger.Warn("Session document failed integrity check, restored backup",
		zap.String("sessionID", id.String()),
		zap.Int("restoredVersion", backup.Version),
		zap.Int64("messagesDropped", dropped),
		zap.Error(cause),
	)
	return snap, nil
}

func (s *Store) loadMessages(ctx context.Context, id valueobjects.SessionID) ([]entities.MessageView, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM messages WHERE session_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("load messages", err)
	}
	defer rows.Close()

	messages := []entities.MessageView{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, pkgerrors.NewDatabaseError("load messages", err)
		}
		var view entities.MessageView
		if err := json.Unmarshal([]byte(body), &view); err != nil {
			return nil, pkgerrors.NewDatabaseError("decode message", err).AsRecoverable(false)
		}
		messages = append(messages, view)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("load messages", err)
	}
	return messages, nil
}

// Save implements ports.SessionStore
func (s *Store) Save(ctx context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version    int
		current    string
		backupBlob sql.NullString
		count      int
	)
	err = tx.QueryRowContext(ctx, `SELECT version, document, backup FROM sessions WHERE session_id = ?`, snap.ID.String()).
		Scan(&version, &current, &backupBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", snap.ID.String())
	}
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	if version != expectedVersion {
		return 0, pkgerrors.NewConflictError("session was modified concurrently").
			WithCode("VERSION_CONFLICT").
			WithDetail("sessionID", snap.ID.String()).
			WithDetail("expectedVersion", expectedVersion).
			WithDetail("actualVersion", version)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, snap.ID.String()).Scan(&count); err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}

	for _, m := range messages {
		body, err := json.Marshal(m)
		if err != nil {
			return 0, pkgerrors.NewDatabaseError("encode message", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages(session_id, message_id, position, body) VALUES(?, ?, ?, ?)
			 ON CONFLICT(session_id, message_id) DO NOTHING`,
			snap.ID.String(), string(m.ID), count+1, string(body))
		if err != nil {
			return 0, pkgerrors.NewDatabaseError("append message", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}

	now := s.clock.Now()
	snap.Version = expectedVersion + 1
	doc, err := s.codec.Seal(snap, count, now)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	blob, err := schema.MarshalDocument(doc)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}

	backup := backupBlob
	if s.shouldBackup(snap.ID, backupBlob, count) {
		backup = sql.NullString{String: current, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = ?, document = ?, backup = ?, updated_at = ? WHERE session_id = ? AND version = ?`,
		snap.Version, string(blob), backup, utils.FormatRFC3339(now), snap.ID.String(), expectedVersion)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, pkgerrors.NewConflictError("session was modified concurrently").
			WithCode("VERSION_CONFLICT").
			WithDetail("sessionID", snap.ID.String())
	}
	if err := tx.Commit(); err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	return snap.Version, nil
}

func (s *Store) shouldBackup(id valueobjects.SessionID, backupBlob sql.NullString, messageCount int) bool {
	if !backupBlob.Valid {
		return true
	}
	backup, err := schema.UnmarshalDocument([]byte(backupBlob.String))
	if err != nil {
		return true
	}
	policy := s.codec.Versioning().Policy()
	return policy.ShouldBackup(backup.SessionVersion(id.String()), messageCount, s.clock.Now())
}

// AppendEvents implements ports.SessionStore
func (s *Store) AppendEvents(ctx context.Context, id valueobjects.SessionID, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewDatabaseError("append events", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events(session_id, event_id, version, event_type, body) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, event_id) DO NOTHING`)
	if err != nil {
		return pkgerrors.NewDatabaseError("append events", err)
	}
	defer stmt.Close()

	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return pkgerrors.NewDatabaseError("encode event", err)
		}
		if _, err := stmt.ExecContext(ctx, id.String(), r.EventID, r.Version, r.EventType, string(body)); err != nil {
			return pkgerrors.NewDatabaseError("append events", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.NewDatabaseError("append events", err)
	}
	return nil
}

// ListEvents implements ports.SessionStore
func (s *Store) ListEvents(ctx context.Context, id valueobjects.SessionID, afterVersion, limit int) ([]events.Record, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list events", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM events WHERE session_id = ? AND version > ? ORDER BY version, rowid LIMIT ?`,
		id.String(), afterVersion, limit)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list events", err)
	}
	defer rows.Close()

	out := []events.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, pkgerrors.NewDatabaseError("list events", err)
		}
		var r events.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, pkgerrors.NewDatabaseError("decode event", err).AsRecoverable(false)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list events", err)
	}
	return out, nil
}
