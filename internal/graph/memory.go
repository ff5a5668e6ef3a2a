package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
)

// MemoryStore is the local Store mode: a mutex-guarded in-process graph
// with exact cosine scan. It backs development without a Neo4j instance
// and every test in the repo.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[uuid.UUID]*domain.Node
	edges    map[edgeKey]*domain.Edge
	sessions map[uuid.UUID]*domain.Session
}

type edgeKey struct {
	from uuid.UUID
	to   uuid.UUID
	typ  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    map[uuid.UUID]*domain.Node{},
		edges:    map[edgeKey]*domain.Edge{},
		sessions: map[uuid.UUID]*domain.Session{},
	}
}

func cloneNode(n *domain.Node) *domain.Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Embedding != nil {
		cp.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &cp
}

func cloneEdge(e *domain.Edge) *domain.Edge {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *MemoryStore) GetNode(_ context.Context, id uuid.UUID) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	return cloneNode(n), nil
}

func (s *MemoryStore) UpsertNode(_ context.Context, n *domain.Node) error {
	if n == nil || n.ID == uuid.Nil {
		return apperr.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

func (s *MemoryStore) NodesBySession(_ context.Context, kind domain.NodeKind, sessionID uuid.UUID) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Node, 0, 8)
	for _, n := range s.nodes {
		if n.Kind != kind || n.SessionID == nil || *n.SessionID != sessionID {
			continue
		}
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) VectorSearch(_ context.Context, kind domain.NodeKind, embedding []float32, threshold float64, limit int, f Filter) ([]ScoredNode, error) {
	if len(embedding) == 0 {
		return nil, apperr.ErrInvalidArgument
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScoredNode, 0, 16)
	for _, n := range s.nodes {
		if n.Kind != kind || !n.Searchable() {
			continue
		}
		if f.SessionID != nil && (n.SessionID == nil || *n.SessionID != *f.SessionID) {
			continue
		}
		if f.ExcludeSessionID != nil && n.SessionID != nil && *n.SessionID == *f.ExcludeSessionID {
			continue
		}
		score := cosine(embedding, n.Embedding)
		if score < threshold {
			continue
		}
		out = append(out, ScoredNode{Node: cloneNode(n), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Node.ID.String() < out[j].Node.ID.String()
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Traverse(_ context.Context, startIDs []uuid.UUID, minHops, maxHops int) ([]TraversalHit, error) {
	if maxHops < 1 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type frontierItem struct {
		id   uuid.UUID
		via  *domain.Edge
		hops int
	}

	seen := map[uuid.UUID]bool{}
	frontier := make([]frontierItem, 0, len(startIDs))
	for _, id := range startIDs {
		if _, ok := s.nodes[id]; !ok {
			continue
		}
		seen[id] = true
		frontier = append(frontier, frontierItem{id: id})
	}

	hits := make([]TraversalHit, 0, 16)
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		next := make([]frontierItem, 0, len(frontier))
		for _, item := range frontier {
			for _, e := range s.edges {
				var neighbor uuid.UUID
				switch item.id {
				case e.From:
					neighbor = e.To
				case e.To:
					neighbor = e.From
				default:
					continue
				}
				if seen[neighbor] {
					continue
				}
				n, ok := s.nodes[neighbor]
				if !ok || n.MergedInto != nil {
					continue
				}
				seen[neighbor] = true
				next = append(next, frontierItem{id: neighbor, via: e, hops: hop})
				if hop >= minHops {
					hits = append(hits, TraversalHit{Node: cloneNode(n), Edge: cloneEdge(e), Hops: hop})
				}
			}
		}
		frontier = next
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hops == hits[j].Hops {
			return hits[i].Node.ID.String() < hits[j].Node.ID.String()
		}
		return hits[i].Hops < hits[j].Hops
	})
	return hits, nil
}

func (s *MemoryStore) InsertEdge(_ context.Context, e *domain.Edge) (bool, error) {
	if e == nil || e.Type == "" {
		return false, apperr.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.From == e.To {
		return false, fmt.Errorf("self-loop %s -[%s]-> %s: %w", e.From, e.Type, e.To, apperr.ErrGraphIntegrity)
	}
	if _, ok := s.nodes[e.From]; !ok {
		return false, fmt.Errorf("edge from %s: %w", e.From, apperr.ErrGraphIntegrity)
	}
	if _, ok := s.nodes[e.To]; !ok {
		return false, fmt.Errorf("edge to %s: %w", e.To, apperr.ErrGraphIntegrity)
	}
	key := edgeKey{from: e.From, to: e.To, typ: e.Type}
	if _, exists := s.edges[key]; exists {
		return false, nil
	}
	cp := cloneEdge(e)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.edges[key] = cp
	return true, nil
}

func (s *MemoryStore) EdgesTouching(_ context.Context, id uuid.UUID) ([]*domain.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Edge, 0, 8)
	for _, e := range s.edges {
		if e.From == id || e.To == id {
			out = append(out, cloneEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki := out[i].From.String() + out[i].Type + out[i].To.String()
		kj := out[j].From.String() + out[j].Type + out[j].To.String()
		return ki < kj
	})
	return out, nil
}

func (s *MemoryStore) DeleteEdges(_ context.Context, pred EdgePredicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, e := range s.edges {
		if pred.From != nil && e.From != *pred.From {
			continue
		}
		if pred.To != nil && e.To != *pred.To {
			continue
		}
		if pred.Type != "" && e.Type != pred.Type {
			continue
		}
		if pred.Touching != nil && e.From != *pred.Touching && e.To != *pred.Touching {
			continue
		}
		delete(s.edges, key)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, sessionID *uuid.UUID) ([]*domain.Node, []*domain.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*domain.Node, 0, len(s.nodes))
	keep := map[uuid.UUID]bool{}
	for _, n := range s.nodes {
		if sessionID != nil && (n.SessionID == nil || *n.SessionID != *sessionID) {
			continue
		}
		keep[n.ID] = true
		nodes = append(nodes, cloneNode(n))
	}
	edges := make([]*domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if sessionID != nil && !(keep[e.From] && keep[e.To]) {
			continue
		}
		edges = append(edges, cloneEdge(e))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.String() < nodes[j].ID.String() })
	sort.Slice(edges, func(i, j int) bool {
		ki := edges[i].From.String() + edges[i].Type + edges[i].To.String()
		kj := edges[j].From.String() + edges[j].Type + edges[j].To.String()
		return ki < kj
	})
	return nodes, edges, nil
}

func (s *MemoryStore) ConceptsForReview(_ context.Context, now time.Time, due bool, limit int) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Node, 0, 8)
	for _, n := range s.nodes {
		if n.Kind != domain.NodeConcept || !n.ScaffoldGenerated || n.NextReview == nil || n.MergedInto != nil {
			continue
		}
		if due && n.NextReview.After(now) {
			continue
		}
		if !due && !n.NextReview.After(now) {
			continue
		}
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextReview.Equal(*out[j].NextReview) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].NextReview.Before(*out[j].NextReview)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == uuid.Nil {
		return apperr.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists: %w", sess.ID, apperr.ErrInvalidArgument)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionSession(_ context.Context, id uuid.UUID, from, to domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	if sess.Status != from {
		if sess.Status == domain.SessionCrystallized {
			return fmt.Errorf("session %s: %w", id, apperr.ErrImmutableSession)
		}
		return fmt.Errorf("session %s is %s, expected %s: %w", id, sess.Status, from, apperr.ErrInvalidArgument)
	}
	if !domain.ValidTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, apperr.ErrInvalidArgument)
	}
	sess.Status = to
	return nil
}
