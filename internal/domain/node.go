package domain

import (
	"time"

	"github.com/google/uuid"
)

type NodeKind string

const (
	NodeConcept      NodeKind = "concept"
	NodeSeed         NodeKind = "seed"
	NodeDraftConcept NodeKind = "draft_concept"
	// NodeSource anchors ingested evidence to its document. Carries no
	// embedding, so it never surfaces in similarity search.
	NodeSource NodeKind = "source"
)

// Node is the single persisted vertex shape, discriminated by Kind.
// Every node except transient session-scoped drafts must carry an
// embedding before it becomes eligible for similarity search.
type Node struct {
	ID        uuid.UUID `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Label     string    `json:"label"`
	Body      string    `json:"body"`
	Embedding []float32 `json:"embedding,omitempty"`

	// Provenance.
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	SourceDoc string     `json:"source_doc,omitempty"`

	Mastery float64 `json:"mastery"`

	// MergedInto is set when this node has been resolved into another
	// concept. The node itself is kept as an audit trail.
	MergedInto *uuid.UUID `json:"merged_into,omitempty"`

	// CachedPayload holds optional precomputed rendering, e.g. generated
	// learning material.
	CachedPayload     string `json:"cached_payload,omitempty"`
	ScaffoldGenerated bool   `json:"scaffold_generated,omitempty"`

	// Spaced-repetition bookkeeping.
	ReviewCount  int        `json:"review_count,omitempty"`
	NextReview   *time.Time `json:"next_review,omitempty"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (n *Node) Searchable() bool {
	return n != nil && len(n.Embedding) > 0 && n.MergedInto == nil
}
