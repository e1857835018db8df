package validators

import (
	"fmt"
	"regexp"
	"strings"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/pkg/errors"
)

const (
	maxMetadataKeys   = 32
	maxMetadataKeyLen = 64
	maxMetadataValLen = 1024
	maxParticipantLen = 128
)

var (
	platformPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,31}$`)
	metaKeyPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// MessageValidator validates inbound messages and participant batches before
// they reach a session.
type MessageValidator struct {
	contentMaxLength int
	maxParticipants  int
}

// NewMessageValidator creates a validator with the given limits
func NewMessageValidator(contentMaxLength, maxParticipants int) *MessageValidator {
	return &MessageValidator{
		contentMaxLength: contentMaxLength,
		maxParticipants:  maxParticipants,
	}
}

// ValidateContent checks the raw message text
func (v *MessageValidator) ValidateContent(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.NewValidationError("message content cannot be empty").
			WithCode("EMPTY_CONTENT").
			WithDetail("field", "content")
	}
	if len([]rune(trimmed)) > v.contentMaxLength {
		return errors.NewValidationError("message content is too long").
			WithCode("CONTENT_TOO_LONG").
			WithDetail("field", "content").
			WithDetail("max_length", v.contentMaxLength)
	}
	return nil
}

// ValidatePlatform checks the platform tag. Empty is allowed and defaults later.
func (v *MessageValidator) ValidatePlatform(platform string) error {
	if platform == "" || platformPattern.MatchString(platform) {
		return nil
	}
	return errors.NewValidationError("invalid platform tag").
		WithCode("INVALID_PLATFORM").
		WithDetail("field", "platform").
		WithDetail("value", platform)
}

// ValidateMetadata checks size limits and the format of reserved keys
func (v *MessageValidator) ValidateMetadata(metadata valueobjects.Metadata) error {
	if len(metadata) > maxMetadataKeys {
		return errors.NewValidationError(fmt.Sprintf("cannot have more than %d metadata keys", maxMetadataKeys)).
			WithCode("TOO_MANY_METADATA_KEYS").
			WithDetail("field", "metadata").
			WithDetail("count", len(metadata))
	}
	for key, value := range metadata {
		if len(key) > maxMetadataKeyLen || !metaKeyPattern.MatchString(key) {
			return errors.NewValidationError("invalid metadata key").
				WithCode("INVALID_METADATA_KEY").
				WithDetail("field", "metadata").
				WithDetail("key", key)
		}
		if len(value) > maxMetadataValLen {
			return errors.NewValidationError("metadata value is too long").
				WithCode("METADATA_VALUE_TOO_LONG").
				WithDetail("field", "metadata").
				WithDetail("key", key)
		}
	}
	if id, ok := metadata.Get(valueobjects.MetaReferencesIdea); ok && strings.ContainsAny(id, " \t\n") {
		return errors.NewValidationError("references_idea must be an idea id").
			WithCode("INVALID_IDEA_REFERENCE").
			WithDetail("field", "metadata").
			WithDetail("key", valueobjects.MetaReferencesIdea)
	}
	return nil
}

// ValidateParticipants checks a participant batch against the session limit
func (v *MessageValidator) ValidateParticipants(ids []string, existing int) error {
	if existing+len(ids) > v.maxParticipants {
		return errors.NewValidationError(fmt.Sprintf("a session cannot have more than %d participants", v.maxParticipants)).
			WithCode("TOO_MANY_PARTICIPANTS").
			WithDetail("field", "participants").
			WithDetail("count", existing+len(ids))
	}
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || len(trimmed) > maxParticipantLen {
			return errors.NewValidationError("invalid participant id").
				WithCode("INVALID_PARTICIPANT").
				WithDetail("field", "participants").
				WithDetail("value", id)
		}
	}
	return nil
}
