package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

// Embedder is the slice of the LLM provider the read path needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Reranker reorders the merged candidate list for a query. It returns
// the new ordering as indexes into the input slice; it may narrow but
// never widen the list.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []domain.RankedResult) ([]int, error)
}

// Options are the tunable knobs of the read path. The defaults are
// empirically chosen; treat them as configuration, not invariants.
type Options struct {
	SessionSeedLimit    int
	SessionSeedFloor    float64
	SessionConceptFloor float64
	GlobalConceptFloor  float64
	ConceptLimit        int
	ExpandHops          int
	ExpandLimit         int
	SparsityThreshold   int
	FallbackFloor       float64
	FallbackLimit       int
	GapSeedFloor        float64
	GapLimit            int
	TerritoryKnown      float64
	TerritoryUncertain  float64
	RerankAbove         int
	ScoutTimeout        time.Duration
	QualitySaturation   int

	// Per-source priority weights applied as rank = score * priority.
	Priorities map[string]float64
}

func DefaultOptions() Options {
	return Options{
		SessionSeedLimit:    5,
		SessionSeedFloor:    0.3,
		SessionConceptFloor: 0.55,
		GlobalConceptFloor:  0.6,
		ConceptLimit:        10,
		ExpandHops:          2,
		ExpandLimit:         5,
		SparsityThreshold:   2,
		FallbackFloor:       0.5,
		FallbackLimit:       5,
		GapSeedFloor:        0.85,
		GapLimit:            3,
		TerritoryKnown:      0.75,
		TerritoryUncertain:  0.5,
		RerankAbove:         3,
		ScoutTimeout:        800 * time.Millisecond,
		QualitySaturation:   5,
		Priorities: map[string]float64{
			domain.SourceSessionSeed:    1.0,
			domain.SourceSessionConcept: 0.9,
			domain.SourceGlobalConcept:  0.85,
			domain.SourceGraphExpansion: 0.7,
			domain.SourceGlobalFallback: 0.5,
		},
	}
}

func (o Options) priority(source string) float64 {
	if p, ok := o.Priorities[source]; ok {
		return p
	}
	return 0.5
}

// Orchestrator sequences the candidate generator across sources and
// shapes the structured retrieval answer. Retrieve never returns an
// error: every sub-step failure degrades to zero results from that step.
type Orchestrator struct {
	gen      *Generator
	embedder Embedder
	reranker Reranker
	opts     Options
	log      *logger.Logger
}

func NewOrchestrator(gen *Generator, embedder Embedder, reranker Reranker, opts Options, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		gen:      gen,
		embedder: embedder,
		reranker: reranker,
		opts:     opts,
		log:      log.With("service", "RetrievalOrchestrator"),
	}
}

func emptyResponse() *domain.RetrievalResponse {
	return &domain.RetrievalResponse{
		Results:   []domain.RankedResult{},
		Concepts:  []domain.RankedResult{},
		Seeds:     []domain.RankedResult{},
		Quality:   0,
		Territory: domain.TerritoryNew,
	}
}

func (o *Orchestrator) Retrieve(ctx context.Context, query string, sessionID *uuid.UUID) *domain.RetrievalResponse {
	ctx, span := otel.Tracer("retrieval").Start(ctx, "retrieval.Retrieve")
	defer span.End()

	resp := emptyResponse()
	query = strings.TrimSpace(query)
	if query == "" {
		return resp
	}

	vecs, err := o.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		if err != nil {
			o.log.Warn("Query embedding failed; returning empty retrieval", "error", err.Error())
		}
		return resp
	}
	emb := vecs[0]

	// Best-effort global scout, concurrent with the session stages.
	// Bounded by its own deadline; a timeout is discarded, never surfaced.
	var scoutCh chan []graph.ScoredNode
	if sessionID != nil {
		scoutCh = make(chan []graph.ScoredNode, 1)
		go func() {
			scoutCtx, cancel := context.WithTimeout(ctx, o.opts.ScoutTimeout)
			defer cancel()
			scoutCh <- o.gen.FallbackCandidates(scoutCtx, emb, sessionID, o.opts.FallbackFloor, o.opts.FallbackLimit)
		}()
	}

	var (
		seeds           []graph.ScoredNode
		sessionConcepts []graph.ScoredNode
		globalConcepts  []graph.ScoredNode
	)
	g, gctx := errgroup.WithContext(ctx)
	if sessionID != nil {
		g.Go(func() error {
			seeds = o.gen.VectorCandidates(gctx, domain.NodeSeed, emb, o.opts.SessionSeedFloor, o.opts.SessionSeedLimit, graph.Filter{SessionID: sessionID})
			return nil
		})
		g.Go(func() error {
			sessionConcepts = o.gen.VectorCandidates(gctx, domain.NodeConcept, emb, o.opts.SessionConceptFloor, o.opts.ConceptLimit, graph.Filter{SessionID: sessionID})
			return nil
		})
	}
	g.Go(func() error {
		globalConcepts = o.gen.VectorCandidates(gctx, domain.NodeConcept, emb, o.opts.GlobalConceptFloor, o.opts.ConceptLimit, graph.Filter{})
		return nil
	})
	_ = g.Wait()

	merged := newCandidateSet(o.opts)
	for _, hit := range seeds {
		merged.add(hit.Node, hit.Score, domain.SourceSessionSeed, 0)
	}
	conceptBudget := o.opts.ConceptLimit
	for _, hit := range sessionConcepts {
		if conceptBudget <= 0 {
			break
		}
		if merged.add(hit.Node, hit.Score, domain.SourceSessionConcept, 0) {
			conceptBudget--
		}
	}
	for _, hit := range globalConcepts {
		if conceptBudget <= 0 {
			break
		}
		if merged.add(hit.Node, hit.Score, domain.SourceGlobalConcept, 0) {
			conceptBudget--
		}
	}

	// Transitively related concepts, only worth walking when there is a
	// concept frontier to walk from.
	conceptIDs := merged.conceptIDs()
	if len(conceptIDs) > 0 {
		for _, exp := range o.gen.GraphExpand(ctx, conceptIDs, o.opts.ExpandHops, o.opts.ExpandLimit) {
			merged.add(exp.Node, exp.Score, domain.SourceGraphExpansion, exp.Hops)
		}
	}

	// Serendipity: guarantee some context when the primary stages came
	// back sparse.
	if merged.len() < o.opts.SparsityThreshold {
		var fallback []graph.ScoredNode
		if scoutCh != nil {
			fallback = <-scoutCh
			scoutCh = nil
			if fallback == nil {
				o.log.Debug("Global scout returned nothing within its deadline")
			}
		} else {
			fallback = o.gen.FallbackCandidates(ctx, emb, sessionID, o.opts.FallbackFloor, o.opts.FallbackLimit)
		}
		for _, hit := range fallback {
			merged.add(hit.Node, hit.Score, domain.SourceGlobalFallback, 0)
		}
	}

	results := merged.ranked()

	if o.reranker != nil && len(results) > o.opts.RerankAbove {
		if order, err := o.reranker.Rerank(ctx, query, results); err != nil {
			o.log.Warn("Rerank failed; keeping priority order", "error", err.Error())
		} else if reordered := applyOrder(results, order); reordered != nil {
			results = reordered
		}
	}

	resp.Results = results
	for _, r := range results {
		switch r.Node.Kind {
		case domain.NodeConcept:
			resp.Concepts = append(resp.Concepts, r)
		case domain.NodeSeed:
			resp.Seeds = append(resp.Seeds, r)
		}
	}
	resp.Quality = o.quality(results)
	resp.Territory = o.territory(results)
	resp.Gaps = o.detectGaps(resp.Seeds, resp.Concepts)

	span.SetAttributes(
		attribute.Int("retrieval.results", len(results)),
		attribute.Float64("retrieval.quality", resp.Quality),
		attribute.String("retrieval.territory", string(resp.Territory)),
	)
	o.log.Debug("Retrieval complete",
		"results", len(results),
		"concepts", len(resp.Concepts),
		"seeds", len(resp.Seeds),
		"quality", resp.Quality,
		"territory", string(resp.Territory),
		"gaps", len(resp.Gaps),
	)
	return resp
}

// quality is advisory only: count saturation, mean similarity, and a
// small diversity bonus, clamped to [0, 1].
func (o *Orchestrator) quality(results []domain.RankedResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sat := float64(len(results)) / float64(o.opts.QualitySaturation)
	if sat > 1 {
		sat = 1
	}
	var sum float64
	sources := map[string]bool{}
	for _, r := range results {
		sum += r.Score
		sources[r.Source] = true
	}
	mean := sum / float64(len(results))
	diversity := float64(len(sources)-1) / 4.0
	if diversity > 1 {
		diversity = 1
	}
	q := 0.45*sat + 0.45*mean + 0.10*diversity
	if q > 1 {
		q = 1
	}
	if q < 0 {
		q = 0
	}
	return q
}

// territory looks only at primary (non-expansion, non-fallback) concept
// similarity; expansion scores are structural, not semantic.
func (o *Orchestrator) territory(results []domain.RankedResult) domain.Territory {
	best := 0.0
	for _, r := range results {
		if r.Node.Kind != domain.NodeConcept {
			continue
		}
		if r.Source != domain.SourceSessionConcept && r.Source != domain.SourceGlobalConcept {
			continue
		}
		if r.Score > best {
			best = r.Score
		}
	}
	switch {
	case best >= o.opts.TerritoryKnown:
		return domain.TerritoryKnown
	case best >= o.opts.TerritoryUncertain:
		return domain.TerritoryUncertain
	default:
		return domain.TerritoryNew
	}
}

// detectGaps flags high-similarity evidence not textually covered by any
// returned concept label. Heuristic hint only.
func (o *Orchestrator) detectGaps(seeds, concepts []domain.RankedResult) []domain.Gap {
	if len(seeds) == 0 {
		return nil
	}
	labels := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if l := strings.ToLower(strings.TrimSpace(c.Node.Label)); l != "" {
			labels = append(labels, l)
		}
	}
	var gaps []domain.Gap
	for _, s := range seeds {
		if s.Score < o.opts.GapSeedFloor {
			continue
		}
		text := strings.ToLower(s.Node.Body)
		covered := false
		for _, l := range labels {
			if strings.Contains(text, l) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		gaps = append(gaps, domain.Gap{
			SeedID:     s.Node.ID,
			Excerpt:    excerpt(s.Node.Body, 200),
			Similarity: s.Score,
		})
		if len(gaps) >= o.opts.GapLimit {
			break
		}
	}
	return gaps
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func applyOrder(results []domain.RankedResult, order []int) []domain.RankedResult {
	if len(order) == 0 || len(order) > len(results) {
		return nil
	}
	seen := make(map[int]bool, len(order))
	out := make([]domain.RankedResult, 0, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(results) || seen[idx] {
			return nil
		}
		seen[idx] = true
		out = append(out, results[idx])
	}
	return out
}

// candidateSet dedupes candidates by node id, keeping the higher rank.
type candidateSet struct {
	opts    Options
	byID    map[uuid.UUID]*domain.RankedResult
	inOrder []uuid.UUID
}

func newCandidateSet(opts Options) *candidateSet {
	return &candidateSet{opts: opts, byID: map[uuid.UUID]*domain.RankedResult{}}
}

// add reports whether the node was newly admitted (not a duplicate).
func (c *candidateSet) add(n *domain.Node, score float64, source string, hops int) bool {
	if n == nil {
		return false
	}
	rank := score * c.opts.priority(source)
	if existing, ok := c.byID[n.ID]; ok {
		if rank > existing.Rank {
			existing.Score = score
			existing.Priority = c.opts.priority(source)
			existing.Rank = rank
			existing.Source = source
			existing.Hops = hops
		}
		return false
	}
	c.byID[n.ID] = &domain.RankedResult{
		Node:     n,
		Score:    score,
		Priority: c.opts.priority(source),
		Rank:     rank,
		Source:   source,
		Hops:     hops,
	}
	c.inOrder = append(c.inOrder, n.ID)
	return true
}

func (c *candidateSet) len() int { return len(c.byID) }

func (c *candidateSet) conceptIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.inOrder))
	for _, id := range c.inOrder {
		if c.byID[id].Node.Kind == domain.NodeConcept {
			out = append(out, id)
		}
	}
	return out
}

func (c *candidateSet) ranked() []domain.RankedResult {
	out := make([]domain.RankedResult, 0, len(c.inOrder))
	for _, id := range c.inOrder {
		out = append(out, *c.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank > out[j].Rank })
	return out
}
