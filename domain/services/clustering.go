package services

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"go.uber.org/zap"
)

const similarityEpsilon = 1e-9

// ClusteringEngine assigns ideas to clusters and labels clusters.
type ClusteringEngine struct {
	cfg    *config.DomainConfig
	logger *zap.Logger
}

// NewClusteringEngine creates a clustering engine
func NewClusteringEngine(cfg *config.DomainConfig, logger *zap.Logger) *ClusteringEngine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClusteringEngine{cfg: cfg, logger: logger}
}

// AssignToCluster picks the most similar existing cluster, or decides to
// create a new one. It never fails: without an embedding it compares keyword
// sets instead.
func (e *ClusteringEngine) AssignToCluster(idea *entities.Idea, embedding valueobjects.Embedding, clusters []*entities.Cluster) aggregates.ClusterDecision {
	terms := idea.Content().Keywords()

	var (
		best         *entities.Cluster
		bestScore    = -1.0
		bestFallback bool
		anyFallback  = len(embedding) == 0
	)
	for _, c := range clusters {
		score, fallback := Score(embedding, terms, c.Centroid(), c.Terms())
		anyFallback = anyFallback || fallback
		if best == nil || score > bestScore+similarityEpsilon || (math.Abs(score-bestScore) <= similarityEpsilon && prefer(c, best)) {
			best, bestScore, bestFallback = c, score, fallback
		}
	}

	if anyFallback {
		e.logger.Warn("Clustering with keyword overlap",
			zap.String("ideaID", string(idea.ID())),
			zap.Bool("embeddingAvailable", len(embedding) > 0),
		)
	}

	if best != nil && bestScore >= e.cfg.AssignmentThreshold {
		return aggregates.ClusterDecision{
			ClusterID:  best.ID(),
			Similarity: bestScore,
			Fallback:   bestFallback,
		}
	}
	return aggregates.ClusterDecision{
		ClusterID:  valueobjects.NewClusterID(),
		Create:     true,
		Similarity: math.Max(bestScore, 0),
		Fallback:   len(embedding) == 0,
	}
}

// prefer reports whether a wins a similarity tie against b: larger clusters
// first, then the earliest created.
func prefer(a, b *entities.Cluster) bool {
	if a.Size() != b.Size() {
		return a.Size() > b.Size()
	}
	return a.Ordinal() < b.Ordinal()
}

// NeedsRelabel implements aggregates.Labeler.
func (e *ClusteringEngine) NeedsRelabel(cluster *entities.Cluster, created bool) bool {
	return created || cluster.Label() == "" || cluster.AdditionsSinceLabel() >= e.cfg.LabelRefreshEvery
}

// Label implements aggregates.Labeler. The label is built from the most
// frequent member keywords and is never empty.
func (e *ClusteringEngine) Label(cluster *entities.Cluster, members []*entities.Idea) string {
	terms := valueobjects.TopTerms(cluster.TermFrequencies(), e.cfg.LabelTermCount)
	if len(terms) > 0 {
		for i, t := range terms {
			r, size := utf8.DecodeRuneInString(t)
			terms[i] = string(unicode.ToUpper(r)) + t[size:]
		}
		return strings.Join(terms, " / ")
	}
	if len(members) > 0 {
		return "Uncategorized: " + members[0].Content().Excerpt(40)
	}
	return "Uncategorized"
}
