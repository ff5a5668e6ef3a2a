package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type fakeEmbedder struct {
	vec  []float32
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding provider down")
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.vec
	}
	return out, nil
}

type fakeReranker struct {
	order []int
	err   error
	calls int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, items []domain.RankedResult) ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func newOrchestrator(t *testing.T, store graph.Store, emb *fakeEmbedder, rr Reranker) *Orchestrator {
	t.Helper()
	log := logger.NewNop()
	return NewOrchestrator(NewGenerator(store, log), emb, rr, DefaultOptions(), log)
}

func seedNode(sessionID uuid.UUID, body string, emb []float32) *domain.Node {
	return &domain.Node{
		ID:        uuid.New(),
		Kind:      domain.NodeSeed,
		Label:     "seed",
		Body:      body,
		Embedding: emb,
		SessionID: &sessionID,
	}
}

func conceptNode(label string, emb []float32) *domain.Node {
	return &domain.Node{
		ID:        uuid.New(),
		Kind:      domain.NodeConcept,
		Label:     label,
		Body:      label,
		Embedding: emb,
	}
}

func TestRetrieveEmptyGraphIsNewTerritory(t *testing.T) {
	o := newOrchestrator(t, graph.NewMemoryStore(), &fakeEmbedder{vec: []float32{1, 0, 0}}, nil)

	resp := o.Retrieve(context.Background(), "what is entropy", nil)
	if resp == nil {
		t.Fatal("retrieve must never return nil")
	}
	if len(resp.Concepts) != 0 || resp.Territory != domain.TerritoryNew || resp.Quality != 0 {
		t.Fatalf("empty graph should yield new/0: %+v", resp)
	}
}

func TestRetrieveEmbeddingFailureDegrades(t *testing.T) {
	o := newOrchestrator(t, graph.NewMemoryStore(), &fakeEmbedder{fail: true}, nil)

	resp := o.Retrieve(context.Background(), "anything", nil)
	if resp == nil || resp.Territory != domain.TerritoryNew || len(resp.Results) != 0 {
		t.Fatalf("embed failure should degrade to empty response: %+v", resp)
	}
}

func TestRetrieveRankOrderingIsMonotonic(t *testing.T) {
	store := graph.NewMemoryStore()
	sessID := uuid.New()
	ctx := context.Background()
	if err := store.UpsertNode(ctx, seedNode(sessID, "evidence about entropy", []float32{1, 0, 0})); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertNode(ctx, conceptNode("Entropy", []float32{0.95, 0.3, 0})); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertNode(ctx, conceptNode("Free Energy", []float32{0.7, 0.7, 0})); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0, 0}}, nil)
	resp := o.Retrieve(ctx, "entropy", &sessID)
	if len(resp.Results) < 2 {
		t.Fatalf("expected multiple results, got %d", len(resp.Results))
	}
	for i := 1; i < len(resp.Results); i++ {
		prev, cur := resp.Results[i-1], resp.Results[i]
		if prev.Rank < cur.Rank {
			t.Fatalf("rank ordering violated at %d: %f < %f", i, prev.Rank, cur.Rank)
		}
		if prev.Rank != prev.Score*prev.Priority {
			t.Fatalf("rank must be score*priority, got %f vs %f", prev.Rank, prev.Score*prev.Priority)
		}
	}
}

func TestRetrieveTerritoryThresholds(t *testing.T) {
	cases := []struct {
		name string
		vec  []float32
		want domain.Territory
	}{
		{"known", []float32{1, 0}, domain.TerritoryKnown},
		{"uncertain", []float32{0.7, 0.72}, domain.TerritoryUncertain},
		{"new", []float32{0.2, 0.98}, domain.TerritoryNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := graph.NewMemoryStore()
			if err := store.UpsertNode(context.Background(), conceptNode("Topic", []float32{1, 0})); err != nil {
				t.Fatal(err)
			}
			o := newOrchestrator(t, store, &fakeEmbedder{vec: tc.vec}, nil)
			resp := o.Retrieve(context.Background(), "q", nil)
			if resp.Territory != tc.want {
				t.Fatalf("territory = %s, want %s", resp.Territory, tc.want)
			}
		})
	}
}

func TestRetrieveExpansionDoesNotSetTerritory(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	primary := conceptNode("Primary", []float32{0.7, 0.75})
	neighbor := conceptNode("Neighbor", []float32{0, 1})
	if err := store.UpsertNode(ctx, primary); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertNode(ctx, neighbor); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertEdge(ctx, &domain.Edge{From: primary.ID, To: neighbor.ID, Type: domain.EdgeCauses}); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0}}, nil)
	resp := o.Retrieve(ctx, "q", nil)

	foundExpansion := false
	for _, r := range resp.Results {
		if r.Source == domain.SourceGraphExpansion {
			foundExpansion = true
			if r.Score != 1.0 || r.Hops != 1 {
				t.Fatalf("strong 1-hop expansion should score 1.0 at hop 1: %+v", r)
			}
		}
	}
	if !foundExpansion {
		t.Fatal("expected a graph expansion result")
	}
	// Primary cosine is ~0.68 (uncertain); the 1.0-scored expansion hit
	// must not lift territory to known.
	if resp.Territory == domain.TerritoryKnown {
		t.Fatalf("expansion score leaked into territory: %+v", resp)
	}
}

func TestRetrieveSparsityTriggersGlobalFallback(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	sessID := uuid.New()
	// One session seed only: below the sparsity threshold of 2.
	if err := store.UpsertNode(ctx, seedNode(sessID, "session evidence", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	otherSess := uuid.New()
	other := seedNode(otherSess, "serendipitous evidence", []float32{0.9, 0.2})
	if err := store.UpsertNode(ctx, other); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0}}, nil)
	resp := o.Retrieve(ctx, "q", &sessID)

	var sources []string
	for _, r := range resp.Results {
		sources = append(sources, r.Source)
	}
	found := false
	for _, r := range resp.Results {
		if r.Source == domain.SourceGlobalFallback && r.Node.ID == other.ID {
			found = true
		}
		if r.Source == domain.SourceGlobalFallback && r.Node.SessionID != nil && *r.Node.SessionID == sessID {
			t.Fatalf("fallback surfaced the session's own evidence: %v", sources)
		}
	}
	if !found {
		t.Fatalf("sparse primary should append global fallback, sources=%v", sources)
	}
}

func TestRetrieveGapDetection(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	sessID := uuid.New()
	// High-similarity seed whose text never mentions the concept label.
	if err := store.UpsertNode(ctx, seedNode(sessID, "notes on thermodynamic arrows of time", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	covered := seedNode(sessID, "more about Entropy in closed systems", []float32{0.98, 0.05})
	if err := store.UpsertNode(ctx, covered); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertNode(ctx, conceptNode("Entropy", []float32{0.9, 0.3})); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0}}, nil)
	resp := o.Retrieve(ctx, "q", &sessID)

	if len(resp.Gaps) != 1 {
		t.Fatalf("expected exactly 1 gap, got %d: %+v", len(resp.Gaps), resp.Gaps)
	}
	if resp.Gaps[0].Similarity < 0.85 {
		t.Fatalf("gap below seed floor: %+v", resp.Gaps[0])
	}
	if resp.Gaps[0].Excerpt == "" {
		t.Fatal("gap excerpt empty")
	}
}

func TestRetrieveRerankFailureKeepsOrder(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c := conceptNode(fmt.Sprintf("Concept %d", i), []float32{1, float32(i) * 0.05})
		if err := store.UpsertNode(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	rr := &fakeReranker{err: fmt.Errorf("reranker down")}
	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0}}, rr)

	resp := o.Retrieve(ctx, "q", nil)
	if rr.calls != 1 {
		t.Fatalf("reranker should be invoked once above the threshold, got %d", rr.calls)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i-1].Rank < resp.Results[i].Rank {
			t.Fatal("failed rerank must keep the pre-rerank priority order")
		}
	}
}

func TestRetrieveRerankNarrowsButNeverWidens(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c := conceptNode(fmt.Sprintf("Concept %d", i), []float32{1, float32(i) * 0.05})
		if err := store.UpsertNode(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	rr := &fakeReranker{order: []int{4, 0}}
	o := newOrchestrator(t, store, &fakeEmbedder{vec: []float32{1, 0}}, rr)

	resp := o.Retrieve(ctx, "q", nil)
	if len(resp.Results) != 2 {
		t.Fatalf("narrowing rerank should shrink results to 2, got %d", len(resp.Results))
	}
}
