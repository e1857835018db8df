package valueobjects

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerrors "ideaflow/pkg/errors"
)

// Content is the normalized text of a message or idea.
type Content struct {
	text string
}

// NewContent normalizes whitespace and rejects empty or oversized text.
func NewContent(text string, maxLength int) (Content, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return Content{}, pkgerrors.NewValidationError("content cannot be empty")
	}
	if maxLength > 0 && utf8.RuneCountInString(text) > maxLength {
		return Content{}, pkgerrors.NewValidationError("content exceeds maximum length").
			WithDetail("maxLength", maxLength)
	}
	return Content{text: text}, nil
}

// String returns the normalized text
func (c Content) String() string {
	return c.text
}

// IsEmpty checks if content is empty
func (c Content) IsEmpty() bool {
	return c.text == ""
}

// Equals checks if two contents are equal
func (c Content) Equals(other Content) bool {
	return c.text == other.text
}

// WordCount returns the approximate word count
func (c Content) WordCount() int {
	return len(strings.Fields(c.text))
}

// Excerpt returns at most maxLength runes of the content
func (c Content) Excerpt(maxLength int) string {
	return Excerpt(c.text, maxLength)
}

// Keywords returns the distinct salient terms of the content in order of appearance.
func (c Content) Keywords() []string {
	return Keywords(c.text)
}

// MarshalText implements encoding.TextMarshaler
func (c Content) MarshalText() ([]byte, error) {
	return []byte(c.text), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Content) UnmarshalText(data []byte) error {
	c.text = string(data)
	return nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"we": true, "our": true, "you": true, "they": true, "them": true,
	"what": true, "which": true, "about": true, "from": true, "into": true,
	"maybe": true, "think": true, "just": true, "also": true, "than": true,
	"then": true, "there": true, "their": true, "some": true, "more": true,
	"because": true, "since": true, "lets": true, "let's": true, "propose": true,
	"suggest": true, "idea": true, "like": true, "make": true, "need": true,
}

// Tokenize lowercases text and splits it into words stripped of punctuation.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// Keywords extracts significant words from text for similarity matching
func Keywords(text string) []string {
	seen := make(map[string]bool)
	keywords := []string{}
	for _, word := range Tokenize(text) {
		if len(word) > 3 && !stopWords[word] && !seen[word] {
			keywords = append(keywords, word)
			seen[word] = true
		}
	}
	return keywords
}

// Jaccard returns |a∩b| / |a∪b| over the keyword sets; 0 when both are empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	union := len(set)
	inter := 0
	counted := make(map[string]bool, len(b))
	for _, w := range b {
		if counted[w] {
			continue
		}
		counted[w] = true
		if set[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// TopTerms returns up to n terms ordered by frequency, then alphabetically.
func TopTerms(freq map[string]int, n int) []string {
	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Excerpt truncates text to maxLength runes, adding an ellipsis when cut.
func Excerpt(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	runes := []rune(text)
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return strings.TrimSpace(string(runes[:maxLength-3])) + "..."
}
