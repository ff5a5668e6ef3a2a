package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
)

func newConcept(label string, emb []float32) *domain.Node {
	return &domain.Node{
		ID:        uuid.New(),
		Kind:      domain.NodeConcept,
		Label:     label,
		Embedding: emb,
	}
}

func mustUpsert(t *testing.T, s *MemoryStore, nodes ...*domain.Node) {
	t.Helper()
	for _, n := range nodes {
		if err := s.UpsertNode(context.Background(), n); err != nil {
			t.Fatalf("upsert %s: %v", n.Label, err)
		}
	}
}

func mustEdge(t *testing.T, s *MemoryStore, from, to uuid.UUID, typ string) {
	t.Helper()
	if _, err := s.InsertEdge(context.Background(), &domain.Edge{From: from, To: to, Type: typ}); err != nil {
		t.Fatalf("insert edge %s: %v", typ, err)
	}
}

func TestVectorSearchOrdersByScoreAndAppliesThreshold(t *testing.T) {
	s := NewMemoryStore()
	exact := newConcept("exact", []float32{1, 0, 0})
	near := newConcept("near", []float32{0.9, 0.1, 0})
	far := newConcept("far", []float32{0, 1, 0})
	mustUpsert(t, s, exact, near, far)

	got, err := s.VectorSearch(context.Background(), domain.NodeConcept, []float32{1, 0, 0}, 0.6, 10, Filter{})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(got))
	}
	if got[0].Node.ID != exact.ID || got[1].Node.ID != near.ID {
		t.Fatalf("wrong order: %s, %s", got[0].Node.Label, got[1].Node.Label)
	}
	if got[0].Score < 0.999 {
		t.Fatalf("exact match should score ~1.0, got %f", got[0].Score)
	}
}

func TestVectorSearchSkipsMergedNodes(t *testing.T) {
	s := NewMemoryStore()
	winner := newConcept("winner", []float32{1, 0})
	merged := newConcept("merged", []float32{1, 0})
	merged.MergedInto = &winner.ID
	mustUpsert(t, s, winner, merged)

	got, err := s.VectorSearch(context.Background(), domain.NodeConcept, []float32{1, 0}, 0.5, 10, Filter{})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(got) != 1 || got[0].Node.ID != winner.ID {
		t.Fatalf("merged node leaked into results: %+v", got)
	}
}

func TestVectorSearchSessionFilters(t *testing.T) {
	s := NewMemoryStore()
	sessA := uuid.New()
	sessB := uuid.New()
	inA := newConcept("in-a", []float32{1, 0})
	inA.SessionID = &sessA
	inB := newConcept("in-b", []float32{1, 0})
	inB.SessionID = &sessB
	global := newConcept("global", []float32{1, 0})
	mustUpsert(t, s, inA, inB, global)

	scoped, err := s.VectorSearch(context.Background(), domain.NodeConcept, []float32{1, 0}, 0.5, 10, Filter{SessionID: &sessA})
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Node.ID != inA.ID {
		t.Fatalf("session scope returned wrong nodes: %+v", scoped)
	}

	excluded, err := s.VectorSearch(context.Background(), domain.NodeConcept, []float32{1, 0}, 0.5, 10, Filter{ExcludeSessionID: &sessA})
	if err != nil {
		t.Fatalf("excluded search: %v", err)
	}
	if len(excluded) != 2 {
		t.Fatalf("exclude filter should keep other-session and global nodes, got %d", len(excluded))
	}
	for _, hit := range excluded {
		if hit.Node.ID == inA.ID {
			t.Fatalf("excluded session node %s surfaced", hit.Node.Label)
		}
	}
}

func TestInsertEdgeIdempotentAndValidated(t *testing.T) {
	s := NewMemoryStore()
	a := newConcept("a", []float32{1, 0})
	b := newConcept("b", []float32{0, 1})
	mustUpsert(t, s, a, b)

	created, err := s.InsertEdge(context.Background(), &domain.Edge{From: a.ID, To: b.ID, Type: domain.EdgeCauses})
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = s.InsertEdge(context.Background(), &domain.Edge{From: a.ID, To: b.ID, Type: domain.EdgeCauses})
	if err != nil || created {
		t.Fatalf("duplicate insert should no-op: created=%v err=%v", created, err)
	}
	// Same endpoints, different type is a distinct edge.
	created, err = s.InsertEdge(context.Background(), &domain.Edge{From: a.ID, To: b.ID, Type: domain.EdgeRelatedTo})
	if err != nil || !created {
		t.Fatalf("distinct type insert: created=%v err=%v", created, err)
	}

	if _, err := s.InsertEdge(context.Background(), &domain.Edge{From: a.ID, To: a.ID, Type: domain.EdgeCauses}); !errors.Is(err, apperr.ErrGraphIntegrity) {
		t.Fatalf("self-loop should fail integrity, got %v", err)
	}
	if _, err := s.InsertEdge(context.Background(), &domain.Edge{From: a.ID, To: uuid.New(), Type: domain.EdgeCauses}); !errors.Is(err, apperr.ErrGraphIntegrity) {
		t.Fatalf("missing endpoint should fail integrity, got %v", err)
	}
}

func TestTraverseReportsMinimumHops(t *testing.T) {
	s := NewMemoryStore()
	a := newConcept("a", []float32{1, 0})
	b := newConcept("b", []float32{0, 1})
	c := newConcept("c", []float32{1, 1})
	mustUpsert(t, s, a, b, c)
	mustEdge(t, s, a.ID, b.ID, domain.EdgeCauses)
	mustEdge(t, s, b.ID, c.ID, domain.EdgePartOf)
	// Shortcut makes c reachable in 1 hop too.
	mustEdge(t, s, c.ID, a.ID, domain.EdgeRelatedTo)

	hits, err := s.Traverse(context.Background(), []uuid.UUID{a.ID}, 1, 2)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 reachable nodes, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Hops != 1 {
			t.Fatalf("node %s should be discovered at min hop 1, got %d", h.Node.Label, h.Hops)
		}
		if h.Edge == nil {
			t.Fatalf("hit %s missing discovery edge", h.Node.Label)
		}
	}
}

func TestTraverseMinHopsExcludesNearNeighbors(t *testing.T) {
	s := NewMemoryStore()
	a := newConcept("a", []float32{1, 0})
	b := newConcept("b", []float32{0, 1})
	c := newConcept("c", []float32{1, 1})
	mustUpsert(t, s, a, b, c)
	mustEdge(t, s, a.ID, b.ID, domain.EdgeCauses)
	mustEdge(t, s, b.ID, c.ID, domain.EdgeCauses)

	hits, err := s.Traverse(context.Background(), []uuid.UUID{a.ID}, 2, 2)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(hits) != 1 || hits[0].Node.ID != c.ID || hits[0].Hops != 2 {
		t.Fatalf("expected only c at 2 hops, got %+v", hits)
	}
}

func TestDeleteEdgesTouching(t *testing.T) {
	s := NewMemoryStore()
	a := newConcept("a", []float32{1, 0})
	b := newConcept("b", []float32{0, 1})
	c := newConcept("c", []float32{1, 1})
	mustUpsert(t, s, a, b, c)
	mustEdge(t, s, a.ID, b.ID, domain.EdgeCauses)
	mustEdge(t, s, b.ID, c.ID, domain.EdgeCauses)
	mustEdge(t, s, c.ID, a.ID, domain.EdgeRelatedTo)

	deleted, err := s.DeleteEdges(context.Background(), EdgePredicate{Touching: &b.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 edges deleted, got %d", deleted)
	}
	remaining, err := s.EdgesTouching(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("edges touching: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Type != domain.EdgeRelatedTo {
		t.Fatalf("wrong surviving edges: %+v", remaining)
	}
}

func TestTransitionSessionCAS(t *testing.T) {
	s := NewMemoryStore()
	sess := &domain.Session{ID: uuid.New(), Status: domain.SessionActive, CreatedAt: time.Now()}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := s.TransitionSession(context.Background(), sess.ID, domain.SessionActive, domain.SessionConsolidating); err != nil {
		t.Fatalf("active -> consolidating: %v", err)
	}
	// A second caller still expecting active loses the race.
	err := s.TransitionSession(context.Background(), sess.ID, domain.SessionActive, domain.SessionConsolidating)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("stale CAS should fail invalid, got %v", err)
	}

	if err := s.TransitionSession(context.Background(), sess.ID, domain.SessionConsolidating, domain.SessionCrystallized); err != nil {
		t.Fatalf("consolidating -> crystallized: %v", err)
	}
	err = s.TransitionSession(context.Background(), sess.ID, domain.SessionCrystallized, domain.SessionActive)
	if !errors.Is(err, apperr.ErrImmutableSession) {
		t.Fatalf("crystallized session must be immutable, got %v", err)
	}
}

func TestConceptsForReviewSplitsDueAndUpcoming(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	due := newConcept("due", []float32{1, 0})
	due.ScaffoldGenerated = true
	due.NextReview = &past
	upcoming := newConcept("upcoming", []float32{0, 1})
	upcoming.ScaffoldGenerated = true
	upcoming.NextReview = &future
	unscaffolded := newConcept("unscaffolded", []float32{1, 1})
	unscaffolded.NextReview = &past
	mustUpsert(t, s, due, upcoming, unscaffolded)

	dueList, err := s.ConceptsForReview(context.Background(), now, true, 10)
	if err != nil {
		t.Fatalf("due list: %v", err)
	}
	if len(dueList) != 1 || dueList[0].ID != due.ID {
		t.Fatalf("wrong due list: %+v", dueList)
	}
	upList, err := s.ConceptsForReview(context.Background(), now, false, 10)
	if err != nil {
		t.Fatalf("upcoming list: %v", err)
	}
	if len(upList) != 1 || upList[0].ID != upcoming.ID {
		t.Fatalf("wrong upcoming list: %+v", upList)
	}
}

func TestSnapshotSessionScope(t *testing.T) {
	s := NewMemoryStore()
	sessID := uuid.New()
	in1 := newConcept("in-1", []float32{1, 0})
	in1.SessionID = &sessID
	in2 := newConcept("in-2", []float32{0, 1})
	in2.SessionID = &sessID
	out := newConcept("out", []float32{1, 1})
	mustUpsert(t, s, in1, in2, out)
	mustEdge(t, s, in1.ID, in2.ID, domain.EdgeCauses)
	mustEdge(t, s, in1.ID, out.ID, domain.EdgeRelatedTo)

	nodes, edges, err := s.Snapshot(context.Background(), &sessID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 session nodes, got %d", len(nodes))
	}
	if len(edges) != 1 || edges[0].Type != domain.EdgeCauses {
		t.Fatalf("cross-scope edge leaked: %+v", edges)
	}
}
