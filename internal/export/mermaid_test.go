package export

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

func buildGraph(t *testing.T) (*graph.MemoryStore, *domain.Node, *domain.Node) {
	t.Helper()
	store := graph.NewMemoryStore()
	ctx := context.Background()

	a := &domain.Node{ID: uuid.New(), Kind: domain.NodeConcept, Label: "Entropy", Body: "Disorder measure", Embedding: []float32{1, 0}, Mastery: 0.6}
	b := &domain.Node{ID: uuid.New(), Kind: domain.NodeConcept, Label: "Second Law", Body: "Entropy increases", Embedding: []float32{0, 1}, Mastery: 0.4}
	merged := &domain.Node{ID: uuid.New(), Kind: domain.NodeConcept, Label: "Entropy (dup)", Embedding: []float32{1, 0}, MergedInto: &a.ID}
	anchor := &domain.Node{ID: uuid.New(), Kind: domain.NodeSource, Label: "thermo.pdf"}
	for _, n := range []*domain.Node{a, b, merged, anchor} {
		if err := store.UpsertNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.InsertEdge(ctx, &domain.Edge{From: a.ID, To: b.ID, Type: domain.EdgePrerequisite}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertEdge(ctx, &domain.Edge{From: anchor.ID, To: a.ID, Type: domain.EdgeHasPart}); err != nil {
		t.Fatal(err)
	}
	return store, a, b
}

func TestMermaidRendersConceptsAndEdges(t *testing.T) {
	store, _, _ := buildGraph(t)
	svc := NewService(store, logger.NewNop())

	out, err := svc.Mermaid(context.Background(), nil)
	if err != nil {
		t.Fatalf("mermaid: %v", err)
	}
	if !strings.HasPrefix(out, "graph TD\n") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "Entropy") || !strings.Contains(out, "Second Law") {
		t.Fatalf("concepts missing: %s", out)
	}
	if !strings.Contains(out, "-->|PREREQUISITE|") {
		t.Fatalf("relation missing: %s", out)
	}
	if strings.Contains(out, "(dup)") {
		t.Fatalf("merged node leaked into export: %s", out)
	}
	if strings.Contains(out, "thermo.pdf") {
		t.Fatalf("source anchor leaked into export: %s", out)
	}
}

func TestMarkdownOutline(t *testing.T) {
	store, _, _ := buildGraph(t)
	svc := NewService(store, logger.NewNop())

	out, err := svc.Markdown(context.Background(), nil)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(out, "## Entropy\n") || !strings.Contains(out, "Disorder measure") {
		t.Fatalf("concept section missing: %s", out)
	}
	if !strings.Contains(out, "- Mastery: 0.60") {
		t.Fatalf("mastery missing: %s", out)
	}
	if !strings.Contains(out, "- PREREQUISITE: Second Law") {
		t.Fatalf("relation line missing: %s", out)
	}
	if strings.Contains(out, "(dup)") {
		t.Fatalf("merged node leaked: %s", out)
	}
}
