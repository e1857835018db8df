package valueobjects

import (
	"fmt"
	"strconv"
)

// Reserved metadata keys understood by the pipeline. Other keys are carried
// through untouched.
const (
	MetaReplyTo        = "reply_to"
	MetaReferencesIdea = "references_idea"
	MetaThreadID       = "thread_id"
	MetaPlatformUser   = "platform_user"
)

// Metadata is an open extension map attached to a message. Reserved keys are
// validated lazily when read; core invariants never depend on them.
type Metadata map[string]string

// NewMetadata converts loosely typed values into string metadata.
func NewMetadata(raw map[string]interface{}) Metadata {
	if len(raw) == 0 {
		return nil
	}
	md := make(Metadata, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			md[k] = val
		case bool:
			md[k] = strconv.FormatBool(val)
		case float64:
			md[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			md[k] = fmt.Sprint(val)
		}
	}
	return md
}

// Get returns the value for key, if present and non-empty.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// ReplyTo returns the message this one replies to.
func (m Metadata) ReplyTo() (MessageID, bool) {
	v, ok := m.Get(MetaReplyTo)
	return MessageID(v), ok
}

// ReferencedIdea returns an explicit idea reference set by the ingestion boundary.
func (m Metadata) ReferencedIdea() (IdeaID, bool) {
	v, ok := m.Get(MetaReferencesIdea)
	return IdeaID(v), ok
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
