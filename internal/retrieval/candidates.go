// Package retrieval implements the hybrid read path: multi-source vector
// and graph candidate generation, priority-weighted ranking, quality and
// territory scoring, and gap detection.
package retrieval

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

// Expanded is one graph-expansion hit with its hop-decayed, type-weighted
// score.
type Expanded struct {
	Node  *domain.Node
	Score float64
	Hops  int
}

// Generator wraps the Graph Store's reads into typed candidate lists.
// Every operation degrades to an empty list on store failure; callers
// treat "no results" as a first-class outcome.
type Generator struct {
	store graph.Store
	log   *logger.Logger
}

func NewGenerator(store graph.Store, log *logger.Logger) *Generator {
	return &Generator{
		store: store,
		log:   log.With("service", "CandidateGenerator"),
	}
}

func (g *Generator) VectorCandidates(ctx context.Context, kind domain.NodeKind, embedding []float32, threshold float64, limit int, f graph.Filter) []graph.ScoredNode {
	hits, err := g.store.VectorSearch(ctx, kind, embedding, threshold, limit, f)
	if err != nil {
		g.log.Warn("Vector search failed; returning no candidates",
			"kind", string(kind),
			"threshold", threshold,
			"error", err.Error(),
		)
		return nil
	}
	return hits
}

// edgeWeight scores the relation type a node was discovered through.
func edgeWeight(e *domain.Edge) float64 {
	if e == nil {
		return 0.5
	}
	if domain.StrongRelation(e.Type) {
		return 1.0
	}
	if e.Type == domain.EdgeRelatedTo {
		return 0.6
	}
	return 0.5
}

// GraphExpand surfaces nodes reachable within maxHops of the seed set.
// A one-hop hit keeps its full edge weight; each further hop halves it.
func (g *Generator) GraphExpand(ctx context.Context, seedIDs []uuid.UUID, maxHops, limit int) []Expanded {
	if len(seedIDs) == 0 {
		return nil
	}
	hits, err := g.store.Traverse(ctx, seedIDs, 1, maxHops)
	if err != nil {
		g.log.Warn("Graph expansion failed; returning no candidates",
			"seeds", len(seedIDs),
			"max_hops", maxHops,
			"error", err.Error(),
		)
		return nil
	}

	out := make([]Expanded, 0, len(hits))
	for _, h := range hits {
		if h.Node.Kind != domain.NodeConcept {
			continue
		}
		decay := math.Pow(0.5, float64(h.Hops-1))
		out = append(out, Expanded{
			Node:  h.Node,
			Score: edgeWeight(h.Edge) * decay,
			Hops:  h.Hops,
		})
	}
	// Traverse returns hop-ascending order; keep the closest hits.
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FallbackCandidates is the serendipity path: a global seed search that
// excludes the current session so its own evidence never echoes back.
func (g *Generator) FallbackCandidates(ctx context.Context, embedding []float32, excludeSession *uuid.UUID, threshold float64, limit int) []graph.ScoredNode {
	f := graph.Filter{ExcludeSessionID: excludeSession}
	hits, err := g.store.VectorSearch(ctx, domain.NodeSeed, embedding, threshold, limit, f)
	if err != nil {
		g.log.Warn("Fallback search failed; returning no candidates", "error", err.Error())
		return nil
	}
	return hits
}
