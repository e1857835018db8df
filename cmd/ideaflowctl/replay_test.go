package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const transcript = `
# release planning standup
{"id":"m1","author":"al","content":"Morning everyone","timestamp":"2026-05-04T09:00:00Z","platform":"slack"}
{"id":"m2","author":"bo","content":"Hi all, coffee first","timestamp":"2026-05-04T09:01:00Z","platform":"slack"}
{"id":"m3","author":"cy","content":"Hello, ready when you are","timestamp":"2026-05-04T09:02:00Z","platform":"slack"}
{"id":"m4","author":"al","content":"We should build a shared release calendar because launches keep colliding","timestamp":"2026-05-04T09:03:00Z","platform":"slack"}
{"id":"m5","author":"bo","content":"Agreed, that would help a lot","timestamp":"2026-05-04T09:04:00Z","platform":"slack","metadata":{"reply_to":"m4"}}
`

func TestReplay_TranscriptReachesPlan(t *testing.T) {
	defer goleak.VerifyNone(t)

	report, err := replay(context.Background(), strings.NewReader(transcript), replayOptions{Title: "Standup", Wait: 2 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, "Standup", report.Session.Title)
	assert.Equal(t, 5, report.Session.MessageCount)
	assert.Empty(t, report.Rejected)
	require.NotEmpty(t, report.Ideas)
	assert.True(t, report.Consensus.Current.Detected)
	assert.Equal(t, entities.ModeExecution, report.Session.Mode)

	require.Equal(t, aggregates.PlanGenerated, report.Plan.State)
	require.NotNil(t, report.Plan.Plan)
	assert.NotEmpty(t, report.Plan.Plan.Features)

	var text bytes.Buffer
	require.NoError(t, writeReport(&text, report, "text"))
	assert.Contains(t, text.String(), "Session ")
	assert.Contains(t, text.String(), "Consensus on ")
	assert.Contains(t, text.String(), "Plan: generated")

	var out bytes.Buffer
	require.NoError(t, writeReport(&out, report, "json"))
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Contains(t, decoded, "plan")
	assert.Contains(t, decoded, "consensus")
}

func TestReplay_RejectedLinesAreReported(t *testing.T) {
	defer goleak.VerifyNone(t)

	in := `{"id":"m1","author":"al","content":"Morning","timestamp":"2026-05-04T09:00:00Z"}
{"id":"m1","author":"al","content":"Morning again","timestamp":"2026-05-04T09:01:00Z"}
{"id":"m2","author":"bo","content":"","timestamp":"2026-05-04T09:02:00Z"}`

	report, err := replay(context.Background(), strings.NewReader(in), replayOptions{Wait: time.Millisecond})
	require.NoError(t, err)
	require.Len(t, report.Rejected, 2)
	assert.Equal(t, 2, report.Rejected[0].Line)
	assert.Equal(t, 3, report.Rejected[1].Line)
	assert.Equal(t, aggregates.PlanIdle, report.Plan.State)
}

func TestReadTranscript(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		count   int
		wantErr bool
	}{
		{name: "skips blanks and comments", input: "\n# note\n{\"id\":\"a\",\"author\":\"x\",\"content\":\"hi\"}\n", count: 1},
		{name: "fills missing ids", input: `{"author":"x","content":"hi"}`, count: 1},
		{name: "bad json", input: `{"id":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := readTranscript(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, lines, tt.count)
			assert.NotEmpty(t, lines[0].ID)
		})
	}
}

func TestReplay_EmptyTranscript(t *testing.T) {
	_, err := replay(context.Background(), strings.NewReader("\n\n"), replayOptions{})
	assert.Error(t, err)
}
