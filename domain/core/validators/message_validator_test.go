package validators

import (
	"strings"
	"testing"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestMessageValidator(t *testing.T) {
	v := NewMessageValidator(20, 3)

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"valid content", v.ValidateContent("We should ship"), ""},
		{"blank content", v.ValidateContent("   "), "EMPTY_CONTENT"},
		{"long content", v.ValidateContent(strings.Repeat("x", 21)), "CONTENT_TOO_LONG"},
		{"empty platform", v.ValidatePlatform(""), ""},
		{"known platform", v.ValidatePlatform("slack"), ""},
		{"bad platform", v.ValidatePlatform("Slack Workspace!"), "INVALID_PLATFORM"},
		{"metadata ok", v.ValidateMetadata(valueobjects.Metadata{"reply_to": "m1"}), ""},
		{"metadata bad key", v.ValidateMetadata(valueobjects.Metadata{"bad key": "x"}), "INVALID_METADATA_KEY"},
		{"metadata long value", v.ValidateMetadata(valueobjects.Metadata{"k": strings.Repeat("x", 2000)}), "METADATA_VALUE_TOO_LONG"},
		{"bad idea reference", v.ValidateMetadata(valueobjects.Metadata{valueobjects.MetaReferencesIdea: "idea 1"}), "INVALID_IDEA_REFERENCE"},
		{"participants ok", v.ValidateParticipants([]string{"al", "bo"}, 1), ""},
		{"too many participants", v.ValidateParticipants([]string{"al", "bo"}, 2), "TOO_MANY_PARTICIPANTS"},
		{"blank participant", v.ValidateParticipants([]string{" "}, 0), "INVALID_PARTICIPANT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				assert.NoError(t, tt.err)
				return
			}
			assert.True(t, errors.IsValidation(tt.err))
			assert.Equal(t, tt.code, errors.GetAppError(tt.err).Code)
		})
	}
}
