package versioning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
)

// SessionVersion describes one persisted state of a session
type SessionVersion struct {
	SessionID    string    `json:"session_id"`
	Version      int       `json:"version"`
	Checksum     string    `json:"checksum"`
	MessageCount int       `json:"message_count"`
	IdeaCount    int       `json:"idea_count"`
	ClusterCount int       `json:"cluster_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// VersionDiff represents the difference between two versions
type VersionDiff struct {
	FromVersion   int           `json:"from_version"`
	ToVersion     int           `json:"to_version"`
	MessagesAdded int           `json:"messages_added"`
	IdeasAdded    int           `json:"ideas_added"`
	ClustersAdded int           `json:"clusters_added"`
	TimeDiff      time.Duration `json:"time_diff"`
}

// ChecksumMismatchError is returned when a stored document does not match
// its recorded checksum.
type ChecksumMismatchError struct {
	SessionID string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("session %s snapshot checksum mismatch: expected %s, got %s", e.SessionID, e.Expected, e.Actual)
}

// VersioningService stamps and verifies session snapshots
type VersioningService struct {
	policy VersioningPolicy
}

// NewVersioningService creates a new versioning service
func NewVersioningService(policy VersioningPolicy) *VersioningService {
	return &VersioningService{policy: policy}
}

// Policy returns the backup policy in effect
func (s *VersioningService) Policy() VersioningPolicy {
	return s.policy
}

// CreateVersion stamps a snapshot and its message log
func (s *VersioningService) CreateVersion(snap aggregates.SessionSnapshot, messages []entities.MessageView, at time.Time) (*SessionVersion, error) {
	checksum, err := Checksum(snap, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return &SessionVersion{
		SessionID:    snap.ID.String(),
		Version:      snap.Version,
		Checksum:     checksum,
		MessageCount: len(messages),
		IdeaCount:    len(snap.Ideas),
		ClusterCount: len(snap.Clusters),
		CreatedAt:    at,
	}, nil
}

// Verify recomputes the checksum of a loaded document
func (s *VersioningService) Verify(snap aggregates.SessionSnapshot, messages []entities.MessageView, expected string) error {
	actual, err := Checksum(snap, messages)
	if err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}
	if actual != expected {
		return &ChecksumMismatchError{SessionID: snap.ID.String(), Expected: expected, Actual: actual}
	}
	return nil
}

// CompareVersions compares two session versions
func (s *VersioningService) CompareVersions(v1, v2 *SessionVersion) (*VersionDiff, error) {
	if v1 == nil || v2 == nil {
		return nil, fmt.Errorf("versions cannot be nil")
	}
	if v1.SessionID != v2.SessionID {
		return nil, fmt.Errorf("versions belong to different sessions")
	}
	return &VersionDiff{
		FromVersion:   v1.Version,
		ToVersion:     v2.Version,
		MessagesAdded: v2.MessageCount - v1.MessageCount,
		IdeasAdded:    v2.IdeaCount - v1.IdeaCount,
		ClustersAdded: v2.ClusterCount - v1.ClusterCount,
		TimeDiff:      v2.CreatedAt.Sub(v1.CreatedAt),
	}, nil
}

// Checksum is the SHA-256 of the canonical JSON encoding of the document
func Checksum(snap aggregates.SessionSnapshot, messages []entities.MessageView) (string, error) {
	data := struct {
		Snapshot aggregates.SessionSnapshot `json:"snapshot"`
		Messages []entities.MessageView     `json:"messages"`
	}{
		Snapshot: snap,
		Messages: messages,
	}
	if data.Messages == nil {
		data.Messages = []entities.MessageView{}
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// VersioningPolicy decides when the backup copy of a session is refreshed
type VersioningPolicy struct {
	BackupEveryMessages int           `json:"backup_every_messages" yaml:"backup_every_messages"`
	BackupEvery         time.Duration `json:"backup_every" yaml:"backup_every"`
}

// DefaultVersioningPolicy returns the default versioning policy
func DefaultVersioningPolicy() VersioningPolicy {
	return VersioningPolicy{
		BackupEveryMessages: 25,
		BackupEvery:         5 * time.Minute,
	}
}

// ShouldBackup determines if the backup copy should be replaced
func (p VersioningPolicy) ShouldBackup(lastBackup *SessionVersion, currentMessages int, currentTime time.Time) bool {
	if lastBackup == nil {
		return true
	}
	if p.BackupEveryMessages > 0 && currentMessages-lastBackup.MessageCount >= p.BackupEveryMessages {
		return true
	}
	if p.BackupEvery > 0 && currentTime.Sub(lastBackup.CreatedAt) >= p.BackupEvery {
		return true
	}
	return false
}
