package versioning

import (
	"testing"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T) (aggregates.SessionSnapshot, []entities.MessageView) {
	t.Helper()
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s, err := aggregates.NewSession(valueobjects.NewSessionID(), "Retro", []valueobjects.ParticipantID{"al"}, at)
	require.NoError(t, err)
	content, err := valueobjects.NewContent("We should add search", 100)
	require.NoError(t, err)
	msg, err := entities.NewMessage("m1", "al", content, at, "slack", nil, 1)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(msg))
	return s.Snapshot(), s.MessageLog()
}

func TestVersioningService_VerifyDetectsTampering(t *testing.T) {
	svc := NewVersioningService(DefaultVersioningPolicy())
	snap, messages := snapshot(t)
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	version, err := svc.CreateVersion(snap, messages, at)
	require.NoError(t, err)
	assert.Len(t, version.Checksum, 64)
	assert.Equal(t, 1, version.MessageCount)

	require.NoError(t, svc.Verify(snap, messages, version.Checksum))

	snap.Title = "Edited"
	err = svc.Verify(snap, messages, version.Checksum)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, version.Checksum, mismatch.Expected)
}

func TestVersioningService_CompareVersions(t *testing.T) {
	svc := NewVersioningService(DefaultVersioningPolicy())
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	v1 := &SessionVersion{SessionID: "s", Version: 1, MessageCount: 2, IdeaCount: 1, CreatedAt: at}
	v2 := &SessionVersion{SessionID: "s", Version: 4, MessageCount: 7, IdeaCount: 3, ClusterCount: 2, CreatedAt: at.Add(time.Minute)}

	diff, err := svc.CompareVersions(v1, v2)
	require.NoError(t, err)
	assert.Equal(t, 5, diff.MessagesAdded)
	assert.Equal(t, 2, diff.IdeasAdded)
	assert.Equal(t, 2, diff.ClustersAdded)
	assert.Equal(t, time.Minute, diff.TimeDiff)

	_, err = svc.CompareVersions(v1, &SessionVersion{SessionID: "other"})
	assert.Error(t, err)
	_, err = svc.CompareVersions(nil, v2)
	assert.Error(t, err)
}

func TestVersioningPolicy_ShouldBackup(t *testing.T) {
	policy := VersioningPolicy{BackupEveryMessages: 10, BackupEvery: time.Hour}
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	last := &SessionVersion{MessageCount: 5, CreatedAt: at}

	tests := []struct {
		name     string
		last     *SessionVersion
		messages int
		now      time.Time
		expected bool
	}{
		{"no backup yet", nil, 0, at, true},
		{"few new messages", last, 9, at.Add(time.Minute), false},
		{"message threshold", last, 15, at.Add(time.Minute), true},
		{"time threshold", last, 6, at.Add(time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.ShouldBackup(tt.last, tt.messages, tt.now))
		})
	}
}
