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

// failingStore overrides only what the test exercises; any other call
// panics via the nil embedded interface.
type failingStore struct {
	graph.Store
}

func (failingStore) VectorSearch(context.Context, domain.NodeKind, []float32, float64, int, graph.Filter) ([]graph.ScoredNode, error) {
	return nil, fmt.Errorf("store unreachable")
}

func (failingStore) Traverse(context.Context, []uuid.UUID, int, int) ([]graph.TraversalHit, error) {
	return nil, fmt.Errorf("store unreachable")
}

func TestGeneratorDegradesToEmptyOnStoreFailure(t *testing.T) {
	g := NewGenerator(failingStore{}, logger.NewNop())

	if got := g.VectorCandidates(context.Background(), domain.NodeConcept, []float32{1}, 0.5, 5, graph.Filter{}); len(got) != 0 {
		t.Fatalf("vector candidates on failure should be empty, got %d", len(got))
	}
	if got := g.GraphExpand(context.Background(), []uuid.UUID{uuid.New()}, 2, 5); len(got) != 0 {
		t.Fatalf("graph expand on failure should be empty, got %d", len(got))
	}
	if got := g.FallbackCandidates(context.Background(), []float32{1}, nil, 0.5, 5); len(got) != 0 {
		t.Fatalf("fallback on failure should be empty, got %d", len(got))
	}
}

func TestGraphExpandWeightsAndDecay(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()

	root := conceptNode("root", []float32{1, 0})
	strong := conceptNode("strong", []float32{0, 1})
	weak := conceptNode("weak", []float32{1, 1})
	second := conceptNode("second-hop", []float32{0.5, 1})
	for _, n := range []*domain.Node{root, strong, weak, second} {
		if err := store.UpsertNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert := func(from, to uuid.UUID, typ string) {
		t.Helper()
		if _, err := store.InsertEdge(ctx, &domain.Edge{From: from, To: to, Type: typ}); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert(root.ID, strong.ID, domain.EdgePrerequisite)
	mustInsert(root.ID, weak.ID, domain.EdgeRelatedTo)
	mustInsert(strong.ID, second.ID, domain.EdgeCauses)

	g := NewGenerator(store, logger.NewNop())
	hits := g.GraphExpand(ctx, []uuid.UUID{root.ID}, 2, 10)
	if len(hits) != 3 {
		t.Fatalf("expected 3 expansion hits, got %d", len(hits))
	}

	scores := map[uuid.UUID]Expanded{}
	for _, h := range hits {
		scores[h.Node.ID] = h
	}
	if s := scores[strong.ID]; s.Score != 1.0 || s.Hops != 1 {
		t.Fatalf("strong 1-hop: %+v", s)
	}
	if s := scores[weak.ID]; s.Score != 0.6 || s.Hops != 1 {
		t.Fatalf("weak 1-hop: %+v", s)
	}
	if s := scores[second.ID]; s.Score != 0.5 || s.Hops != 2 {
		t.Fatalf("strong 2-hop should decay x0.5: %+v", s)
	}
}

func TestGraphExpandSkipsSeeds(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	sessID := uuid.New()

	root := conceptNode("root", []float32{1, 0})
	evidence := seedNode(sessID, "raw evidence", []float32{0, 1})
	if err := store.UpsertNode(ctx, root); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertNode(ctx, evidence); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertEdge(ctx, &domain.Edge{From: root.ID, To: evidence.ID, Type: domain.EdgeHasPart}); err != nil {
		t.Fatal(err)
	}

	g := NewGenerator(store, logger.NewNop())
	hits := g.GraphExpand(ctx, []uuid.UUID{root.ID}, 2, 10)
	if len(hits) != 0 {
		t.Fatalf("expansion should only surface concepts, got %+v", hits)
	}
}
