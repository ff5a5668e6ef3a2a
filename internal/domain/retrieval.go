package domain

import "github.com/google/uuid"

// Candidate sources, in descending priority order.
const (
	SourceSessionSeed    = "session_seed"
	SourceSessionConcept = "session_concept"
	SourceGlobalConcept  = "global_concept"
	SourceGraphExpansion = "graph_expansion"
	SourceGlobalFallback = "global_fallback"
)

// Territory classifies how well a query is covered by crystallized
// knowledge; it selects the consumer's response mode, never filters.
type Territory string

const (
	TerritoryKnown     Territory = "known"
	TerritoryUncertain Territory = "uncertain"
	TerritoryNew       Territory = "new"
)

// RankedResult is one retrieval hit after priority-weighted ranking.
type RankedResult struct {
	Node     *Node   `json:"node"`
	Score    float64 `json:"score"`    // raw similarity or expansion score
	Priority float64 `json:"priority"` // per-source weight
	Rank     float64 `json:"rank"`     // Score * Priority, the sort key
	Source   string  `json:"source"`
	Hops     int     `json:"hops,omitempty"`
}

// Gap is a piece of high-relevance evidence with no crystallized concept
// covering it. Heuristic hint only.
type Gap struct {
	SeedID     uuid.UUID `json:"seed_id"`
	Excerpt    string    `json:"excerpt"`
	Similarity float64   `json:"similarity"`
}

// RetrievalResponse is the full structured answer. Retrieval never errors:
// an unknown topic comes back as Territory=new with Quality 0.
type RetrievalResponse struct {
	Results   []RankedResult `json:"results"`
	Concepts  []RankedResult `json:"concepts"`
	Seeds     []RankedResult `json:"seeds"`
	Quality   float64        `json:"quality"`
	Territory Territory      `json:"territory"`
	Gaps      []Gap          `json:"gaps,omitempty"`
}
