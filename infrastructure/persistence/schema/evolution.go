package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/versioning"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

// Document is the stored form of a session snapshot. The checksum covers the
// decoded snapshot so a document that no longer matches it is detected on read.
type Document struct {
	SchemaVersion int             `json:"schema_version"`
	Version       int             `json:"version"`
	Checksum      string          `json:"checksum"`
	MessageCount  int             `json:"message_count"`
	SavedAt       time.Time       `json:"saved_at"`
	Data          json.RawMessage `json:"data"`
}

// SessionVersion describes the document for backup decisions.
func (d Document) SessionVersion(sessionID string) *versioning.SessionVersion {
	return &versioning.SessionVersion{
		SessionID:    sessionID,
		Version:      d.Version,
		Checksum:     d.Checksum,
		MessageCount: d.MessageCount,
		CreatedAt:    d.SavedAt,
	}
}

// Migration upgrades a raw document body by one schema version.
type Migration struct {
	FromVersion int
	ToVersion   int
	Description string
	Up          func(doc map[string]interface{}) error
}

// SchemaEvolution seals snapshots into documents and opens stored documents,
// upgrading older schema versions on the way.
type SchemaEvolution struct {
	versioning *versioning.VersioningService
	migrations map[int]Migration
	current    int
}

// NewSchemaEvolution creates a document codec
func NewSchemaEvolution(svc *versioning.VersioningService) *SchemaEvolution {
	if svc == nil {
		svc = versioning.NewVersioningService(versioning.DefaultVersioningPolicy())
	}
	return &SchemaEvolution{
		versioning: svc,
		migrations: make(map[int]Migration),
		current:    CurrentVersion,
	}
}

// Versioning returns the versioning service used for checksums and backups
func (s *SchemaEvolution) Versioning() *versioning.VersioningService {
	return s.versioning
}

// RegisterMigration registers a single-step upgrade and raises the current
// version when the migration targets a newer one.
func (s *SchemaEvolution) RegisterMigration(m Migration) error {
	if m.ToVersion != m.FromVersion+1 {
		return fmt.Errorf("invalid migration %d->%d: migrations must advance one version", m.FromVersion, m.ToVersion)
	}
	if m.Up == nil {
		return fmt.Errorf("migration %d->%d has no upgrade function", m.FromVersion, m.ToVersion)
	}
	if _, exists := s.migrations[m.FromVersion]; exists {
		return fmt.Errorf("migration from %d to %d already exists", m.FromVersion, m.ToVersion)
	}
	s.migrations[m.FromVersion] = m
	if m.ToVersion > s.current {
		s.current = m.ToVersion
	}
	return nil
}

// Current returns the version new documents are written with
func (s *SchemaEvolution) Current() int {
	return s.current
}

// History lists registered migrations in order
func (s *SchemaEvolution) History() []Migration {
	out := make([]Migration, 0, len(s.migrations))
	for _, m := range s.migrations {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromVersion < out[j].FromVersion })
	return out
}

// Seal encodes a snapshot into a document stamped with its checksum.
func (s *SchemaEvolution) Seal(snap aggregates.SessionSnapshot, messageCount int, at time.Time) (Document, error) {
	version, err := s.versioning.CreateVersion(snap, nil, at)
	if err != nil {
		return Document{}, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	return Document{
		SchemaVersion: s.current,
		Version:       snap.Version,
		Checksum:      version.Checksum,
		MessageCount:  messageCount,
		SavedAt:       at,
		Data:          data,
	}, nil
}

// Open decodes a document. Documents written with an older schema are
// upgraded first; the checksum is only verified for documents written with
// the current schema because upgrades change the encoding.
func (s *SchemaEvolution) Open(doc Document) (aggregates.SessionSnapshot, error) {
	var snap aggregates.SessionSnapshot
	if doc.SchemaVersion > s.current {
		return snap, fmt.Errorf("document schema version %d is newer than supported version %d", doc.SchemaVersion, s.current)
	}

	data := doc.Data
	upgraded := false
	for v := doc.SchemaVersion; v < s.current; v++ {
		m, ok := s.migrations[v]
		if !ok {
			return snap, fmt.Errorf("no migration found from version %d to %d", v, v+1)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(data, &body); err != nil {
			return snap, fmt.Errorf("failed to decode version %d document: %w", v, err)
		}
		if err := m.Up(body); err != nil {
			return snap, fmt.Errorf("migration %d->%d failed: %w", m.FromVersion, m.ToVersion, err)
		}
		next, err := json.Marshal(body)
		if err != nil {
			return snap, err
		}
		data = next
		upgraded = true
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	if !upgraded {
		if err := s.versioning.Verify(snap, nil, doc.Checksum); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// MarshalDocument encodes a document for stores that keep it as one blob
func MarshalDocument(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

// UnmarshalDocument decodes a blob written by MarshalDocument
func UnmarshalDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode session document: %w", err)
	}
	if doc.SchemaVersion == 0 {
		return doc, errors.New("session document has no schema version")
	}
	return doc, nil
}

// IsIntegrityError reports whether err means the stored document is damaged
func IsIntegrityError(err error) bool {
	var mismatch *versioning.ChecksumMismatchError
	return errors.As(err, &mismatch)
}
