// Package graph defines the persistence contract the core runs against:
// typed node/edge storage with cosine-similarity search and bounded-hop
// traversal. Two implementations exist, Neo4j and in-memory; the mode is
// selected at startup.
package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
)

// Filter restricts a vector search by provenance scope.
type Filter struct {
	// SessionID limits results to nodes captured in one session.
	SessionID *uuid.UUID
	// ExcludeSessionID drops one session's nodes; used by the global
	// serendipity fallback so a session never re-surfaces its own evidence.
	ExcludeSessionID *uuid.UUID
}

type ScoredNode struct {
	Node  *domain.Node
	Score float64
}

type TraversalHit struct {
	Node *domain.Node
	Edge *domain.Edge
	Hops int
}

// EdgePredicate selects edges for deletion. Nil/empty fields match all.
type EdgePredicate struct {
	From     *uuid.UUID
	To       *uuid.UUID
	Type     string
	Touching *uuid.UUID // matches edges with the id on either end
}

type Store interface {
	GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error)
	UpsertNode(ctx context.Context, n *domain.Node) error
	NodesBySession(ctx context.Context, kind domain.NodeKind, sessionID uuid.UUID) ([]*domain.Node, error)

	// VectorSearch returns nodes of the given kind with cosine similarity
	// >= threshold against the query embedding, sorted descending.
	VectorSearch(ctx context.Context, kind domain.NodeKind, embedding []float32, threshold float64, limit int, f Filter) ([]ScoredNode, error)

	// Traverse walks any-direction edges from the start set and returns
	// each reachable node once, tagged with its minimum hop distance and
	// the edge it was first discovered through.
	Traverse(ctx context.Context, startIDs []uuid.UUID, minHops, maxHops int) ([]TraversalHit, error)

	// InsertEdge creates the edge if no (from, to, type) equivalent exists.
	// It reports whether a new edge was created and fails with
	// ErrGraphIntegrity when an endpoint is missing or from == to.
	InsertEdge(ctx context.Context, e *domain.Edge) (bool, error)
	EdgesTouching(ctx context.Context, id uuid.UUID) ([]*domain.Edge, error)
	DeleteEdges(ctx context.Context, pred EdgePredicate) (int, error)

	// Snapshot returns nodes and edges, optionally limited to a session's
	// provenance. Used by export and the graph view.
	Snapshot(ctx context.Context, sessionID *uuid.UUID) ([]*domain.Node, []*domain.Edge, error)

	// ConceptsForReview lists scaffolded concepts by next_review; due
	// selects overdue (<= now) versus upcoming (> now) ordering ascending.
	ConceptsForReview(ctx context.Context, now time.Time, due bool, limit int) ([]*domain.Node, error)

	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// TransitionSession is a compare-and-swap on session status; it fails
	// when the current status differs from expected.
	TransitionSession(ctx context.Context, id uuid.UUID, from, to domain.SessionStatus) error
}
