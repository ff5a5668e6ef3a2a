package domain

import (
	"time"

	"github.com/google/uuid"
)

// Well-known relation types. The vocabulary stays open: classifier-proposed
// relation names outside this list are stored as-is.
const (
	EdgeHasPart        = "HAS_PART"
	EdgeContradicts    = "CONTRADICTS"
	EdgeRelatedTo      = "RELATED_TO"
	EdgePrerequisite   = "PREREQUISITE"
	EdgeCauses         = "CAUSES"
	EdgePartOf         = "PART_OF"
	EdgeCrystallizedAs = "CRYSTALLIZED_AS"
	EdgeContributesTo  = "CONTRIBUTES_TO"
)

// EdgeProvenance distinguishes how a relation came to exist.
type EdgeProvenance string

const (
	ProvenanceExtraction EdgeProvenance = "extraction"
	ProvenanceManual     EdgeProvenance = "manual"
	ProvenanceSynapse    EdgeProvenance = "synapse"
	ProvenanceMerge      EdgeProvenance = "merge"
)

// Edge is a directed typed relation. (From, To, Type) is unique; both
// endpoints must reference existing nodes; From == To is never persisted.
type Edge struct {
	From       uuid.UUID      `json:"from"`
	To         uuid.UUID      `json:"to"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence,omitempty"`
	Provenance EdgeProvenance `json:"provenance,omitempty"`
	SessionID  *uuid.UUID     `json:"session_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// StrongRelation reports whether a relation type carries full weight
// during graph expansion.
func StrongRelation(edgeType string) bool {
	switch edgeType {
	case EdgeCauses, EdgePartOf, EdgeHasPart, EdgePrerequisite, EdgeContradicts:
		return true
	default:
		return false
	}
}
