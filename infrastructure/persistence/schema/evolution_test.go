package schema

import (
	"encoding/json"
	"testing"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func snapshot(t *testing.T) aggregates.SessionSnapshot {
	t.Helper()
	s, err := aggregates.NewSession(valueobjects.NewSessionID(), "Planning", []valueobjects.ParticipantID{"al", "bo"}, at)
	require.NoError(t, err)
	return s.Snapshot()
}

func TestSchemaEvolution_SealAndOpen(t *testing.T) {
	codec := NewSchemaEvolution(nil)
	snap := snapshot(t)

	doc, err := codec.Seal(snap, 3, at)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.SchemaVersion)
	assert.Equal(t, 3, doc.MessageCount)
	assert.Len(t, doc.Checksum, 64)

	blob, err := MarshalDocument(doc)
	require.NoError(t, err)
	decoded, err := UnmarshalDocument(blob)
	require.NoError(t, err)

	opened, err := codec.Open(decoded)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, opened.ID)
	assert.Equal(t, "Planning", opened.Title)
	assert.Len(t, opened.Participants, 2)
}

func TestSchemaEvolution_OpenDetectsTampering(t *testing.T) {
	codec := NewSchemaEvolution(nil)
	doc, err := codec.Seal(snapshot(t), 0, at)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(doc.Data, &body))
	body["title"] = "Tampered"
	doc.Data, err = json.Marshal(body)
	require.NoError(t, err)

	_, err = codec.Open(doc)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
}

func TestSchemaEvolution_UpgradesOlderDocuments(t *testing.T) {
	codec := NewSchemaEvolution(nil)
	old, err := codec.Seal(snapshot(t), 0, at)
	require.NoError(t, err)

	require.NoError(t, codec.RegisterMigration(Migration{
		FromVersion: CurrentVersion,
		ToVersion:   CurrentVersion + 1,
		Description: "prefix titles",
		Up: func(doc map[string]interface{}) error {
			doc["title"] = "Upgraded " + doc["title"].(string)
			return nil
		},
	}))
	assert.Equal(t, CurrentVersion+1, codec.Current())
	require.Len(t, codec.History(), 1)

	opened, err := codec.Open(old)
	require.NoError(t, err)
	assert.Equal(t, "Upgraded Planning", opened.Title)

	fresh, err := codec.Seal(opened, 0, at)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion+1, fresh.SchemaVersion)
}

func TestSchemaEvolution_RejectsBadMigrations(t *testing.T) {
	codec := NewSchemaEvolution(nil)
	noop := func(map[string]interface{}) error { return nil }

	tests := []struct {
		name string
		m    Migration
	}{
		{"skips a version", Migration{FromVersion: 1, ToVersion: 3, Up: noop}},
		{"goes backwards", Migration{FromVersion: 2, ToVersion: 1, Up: noop}},
		{"no upgrade function", Migration{FromVersion: 1, ToVersion: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, codec.RegisterMigration(tt.m))
		})
	}

	require.NoError(t, codec.RegisterMigration(Migration{FromVersion: 1, ToVersion: 2, Up: noop}))
	assert.Error(t, codec.RegisterMigration(Migration{FromVersion: 1, ToVersion: 2, Up: noop}))
}

func TestSchemaEvolution_RejectsNewerDocuments(t *testing.T) {
	codec := NewSchemaEvolution(nil)
	doc, err := codec.Seal(snapshot(t), 0, at)
	require.NoError(t, err)
	doc.SchemaVersion = CurrentVersion + 5

	_, err = codec.Open(doc)
	assert.Error(t, err)
}
