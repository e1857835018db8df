package services

import (
	"context"
	"iter"
	"slices"
	"strings"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"go.uber.org/zap"
)

// Classification is the classifier port's verdict on one message.
type Classification struct {
	IsIdea             bool     `json:"isIdea"`
	ReasoningFragments []string `json:"reasoningFragments"`
}

// Classifier decides whether a message proposes an idea and which parts of it
// justify the proposal.
type Classifier interface {
	Classify(ctx context.Context, content string) (Classification, error)
}

var proposalMarkers = []string{
	"we should", "we could", "what if", "i propose", "i suggest", "let's", "lets ",
	"how about", "could we", "maybe we", "why don't we", "why not", "idea:",
	"proposal:", "suggestion:", "we need to", "i think we", "it would be great",
}

var reasoningMarkers = []string{
	"because", "since", "so that", "which means", "this will", "that way",
	"due to", "in order to", "otherwise", "as it", "given that", "this would",
}

// HeuristicClassifier is the default marker-based classifier.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(_ context.Context, content string) (Classification, error) {
	lower := strings.ToLower(content)
	isIdea := false
	for _, marker := range proposalMarkers {
		if strings.Contains(lower, marker) {
			isIdea = true
			break
		}
	}
	return Classification{
		IsIdea:             isIdea,
		ReasoningFragments: slices.Collect(ExtractReasoning(content)),
	}, nil
}

// ExtractReasoning lazily yields the justification clauses of content: the
// part of each sentence that starts at a reasoning marker. The sequence is
// finite and can be ranged over any number of times.
func ExtractReasoning(content string) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := content
		for rest != "" {
			end := strings.IndexAny(rest, ".!?;\n")
			sentence := rest
			if end >= 0 {
				sentence, rest = rest[:end], rest[end+1:]
			} else {
				rest = ""
			}
			if fragment := reasoningClause(sentence); fragment != "" {
				if !yield(fragment) {
					return
				}
			}
		}
	}
}

func reasoningClause(sentence string) string {
	lower := strings.ToLower(sentence)
	best := -1
	for _, marker := range reasoningMarkers {
		idx := strings.Index(lower, marker)
		for idx >= 0 && !wordBoundary(lower, idx, len(marker)) {
			next := strings.Index(lower[idx+1:], marker)
			if next < 0 {
				idx = -1
				break
			}
			idx += next + 1
		}
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	if best < 0 {
		return ""
	}
	return strings.TrimSpace(strings.Trim(sentence[best:], " ,:-"))
}

func wordBoundary(s string, start, length int) bool {
	if start > 0 && isWordByte(s[start-1]) {
		return false
	}
	end := start + length
	return end >= len(s) || !isWordByte(s[end])
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// ExtractionKind is the outcome category of one message.
type ExtractionKind string

const (
	KindComment   ExtractionKind = "comment"
	KindIdea      ExtractionKind = "idea"
	KindReference ExtractionKind = "reference"
)

// Extraction is the outcome of running the extractor over one message.
type Extraction struct {
	Kind           ExtractionKind
	Idea           *entities.Idea
	ReferencedIdea valueobjects.IdeaID
	AsReply        bool
	Similarity     float64
	Reasoning      []string
	Embedding      valueobjects.Embedding
	Fallback       bool
	Warning        error
}

// IdeaExtractor turns messages into ideas or references to existing ideas.
type IdeaExtractor struct {
	classifier Classifier
	scorer     *SimilarityScorer
	cfg        *config.DomainConfig
	logger     *zap.Logger
	newID      func() valueobjects.IdeaID
}

// NewIdeaExtractor creates an extractor.
func NewIdeaExtractor(classifier Classifier, scorer *SimilarityScorer, cfg *config.DomainConfig, logger *zap.Logger) *IdeaExtractor {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdeaExtractor{
		classifier: classifier,
		scorer:     scorer,
		cfg:        cfg,
		logger:     logger,
		newID:      valueobjects.NewIdeaID,
	}
}

// Extract classifies msg against the full current idea set of the session.
// New-idea and reference outcomes are mutually exclusive; a reference never
// creates an idea.
func (e *IdeaExtractor) Extract(ctx context.Context, msg *entities.Message, ideas []*entities.Idea, embeddingOf func(valueobjects.IdeaID) valueobjects.Embedding) Extraction {
	classification, err := e.classifier.Classify(ctx, msg.Content().String())
	if err != nil {
		e.logger.Warn("Classifier failed, treating message as comment",
			zap.String("messageID", string(msg.ID())),
			zap.Error(err),
		)
		return Extraction{Kind: KindComment, Warning: err}
	}
	reasoning := cleanFragments(classification.ReasoningFragments)

	if id, asReply, ok := explicitReference(msg, ideas); ok {
		return Extraction{Kind: KindReference, ReferencedIdea: id, AsReply: asReply, Similarity: 1, Reasoning: reasoning}
	}

	if len(ideas) == 0 && !classification.IsIdea {
		return Extraction{Kind: KindComment}
	}

	var embedding valueobjects.Embedding
	fallback := true
	if e.scorer != nil {
		embedding, fallback = e.scorer.Embed(ctx, msg.Content().String())
	}
	terms := msg.Content().Keywords()

	var (
		bestID    valueobjects.IdeaID
		bestScore float64
	)
	for _, idea := range ideas {
		var ideaEmbedding valueobjects.Embedding
		if embeddingOf != nil {
			ideaEmbedding = embeddingOf(idea.ID())
		}
		score, _ := Score(embedding, terms, ideaEmbedding, idea.Content().Keywords())
		if score > bestScore {
			bestID, bestScore = idea.ID(), score
		}
	}
	if bestID != "" && bestScore >= e.cfg.ReferenceThreshold {
		return Extraction{
			Kind:           KindReference,
			ReferencedIdea: bestID,
			Similarity:     bestScore,
			Reasoning:      reasoning,
			Embedding:      embedding,
			Fallback:       fallback,
		}
	}

	if !classification.IsIdea {
		return Extraction{Kind: KindComment, Embedding: embedding, Fallback: fallback}
	}

	idea, err := entities.NewIdea(e.newID(), msg, reasoning)
	if err != nil {
		e.logger.Warn("Could not build idea from message",
			zap.String("messageID", string(msg.ID())),
			zap.Error(err),
		)
		return Extraction{Kind: KindComment, Warning: err}
	}
	return Extraction{Kind: KindIdea, Idea: idea, Reasoning: reasoning, Embedding: embedding, Fallback: fallback}
}

// explicitReference resolves references_idea metadata and reply_to chains.
func explicitReference(msg *entities.Message, ideas []*entities.Idea) (valueobjects.IdeaID, bool, bool) {
	md := msg.Metadata()
	if id, ok := md.ReferencedIdea(); ok {
		for _, idea := range ideas {
			if idea.ID() == id {
				return id, false, true
			}
		}
	}
	target, ok := md.ReplyTo()
	if !ok {
		return "", false, false
	}
	for _, idea := range ideas {
		if idea.SourceMessageID() == target {
			return idea.ID(), true, true
		}
		for _, ref := range idea.References() {
			if ref == target {
				return idea.ID(), true, true
			}
		}
	}
	return "", false, false
}

func cleanFragments(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
