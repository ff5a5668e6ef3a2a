// Package ingest captures evidence into a session: document highlights
// and user thoughts become embedded seed nodes, and session evidence can
// be harvested into draft concepts for later consolidation.
package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/resolve"
)

type embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

type Options struct {
	// ConflictFloor is the seed-vs-seed similarity above which new
	// evidence is checked for contradictions.
	ConflictFloor      float64
	ConflictCandidates int
	HarvestMaxSeeds    int
}

func DefaultOptions() Options {
	return Options{
		ConflictFloor:      0.7,
		ConflictCandidates: 3,
		HarvestMaxSeeds:    50,
	}
}

type Service struct {
	store      graph.Store
	embedder   embedder
	llm        jsonGenerator
	classifier *resolve.Classifier
	gate       *rategate.Gate
	opts       Options
	log        *logger.Logger
}

func NewService(store graph.Store, emb embedder, llm jsonGenerator, classifier *resolve.Classifier, gate *rategate.Gate, opts Options, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		embedder:   emb,
		llm:        llm,
		classifier: classifier,
		gate:       gate,
		opts:       opts,
		log:        log.With("service", "IngestService"),
	}
}

func (s *Service) requireActive(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Terminal() {
		return fmt.Errorf("session %s: %w", sessionID, apperr.ErrImmutableSession)
	}
	return nil
}

// IngestHighlight stores one piece of document evidence as a seed and
// links it under a stable per-document source anchor.
func (s *Service) IngestHighlight(ctx context.Context, sessionID uuid.UUID, sourceDoc, text string) (*domain.Node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty highlight: %w", apperr.ErrInvalidArgument)
	}
	if err := s.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}

	seed, err := s.createSeed(ctx, sessionID, sourceDoc, text)
	if err != nil {
		return nil, err
	}

	if sourceDoc != "" {
		anchor, err := s.upsertSourceAnchor(ctx, sourceDoc)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.InsertEdge(ctx, &domain.Edge{
			From:       anchor.ID,
			To:         seed.ID,
			Type:       domain.EdgeHasPart,
			Confidence: 1,
			Provenance: domain.ProvenanceExtraction,
			SessionID:  &sessionID,
		}); err != nil {
			return nil, err
		}
	}
	return seed, nil
}

// AddThought stores a free-form user note as session evidence.
func (s *Service) AddThought(ctx context.Context, sessionID uuid.UUID, text string) (*domain.Node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty thought: %w", apperr.ErrInvalidArgument)
	}
	if err := s.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.createSeed(ctx, sessionID, "", text)
}

func (s *Service) createSeed(ctx context.Context, sessionID uuid.UUID, sourceDoc, text string) (*domain.Node, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed seed: %w", err)
	}
	seed := &domain.Node{
		ID:        uuid.New(),
		Kind:      domain.NodeSeed,
		Label:     excerptLabel(text),
		Body:      text,
		Embedding: vecs[0],
		SessionID: &sessionID,
		SourceDoc: sourceDoc,
	}
	if err := s.store.UpsertNode(ctx, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// upsertSourceAnchor keys anchors by document hash so repeated ingests
// of the same document share one node.
func (s *Service) upsertSourceAnchor(ctx context.Context, sourceDoc string) (*domain.Node, error) {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(sourceDoc))))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetNode(ctx, id); err == nil {
		return existing, nil
	}
	anchor := &domain.Node{
		ID:    id,
		Kind:  domain.NodeSource,
		Label: sourceDoc,
	}
	if err := s.store.UpsertNode(ctx, anchor); err != nil {
		return nil, err
	}
	return anchor, nil
}

// DetectConflicts checks fresh evidence against its nearest existing
// seeds and returns only contradiction proposals. Best-effort: any
// failure yields an empty list.
func (s *Service) DetectConflicts(ctx context.Context, seed *domain.Node) []resolve.Proposal {
	if seed == nil || len(seed.Embedding) == 0 {
		return nil
	}
	f := graph.Filter{}
	hits, err := s.store.VectorSearch(ctx, domain.NodeSeed, seed.Embedding, s.opts.ConflictFloor, s.opts.ConflictCandidates+1, f)
	if err != nil {
		s.log.Warn("Conflict candidate search failed", "error", err.Error())
		return nil
	}
	var pairs []resolve.Pair
	for _, h := range hits {
		if h.Node.ID == seed.ID {
			continue
		}
		pairs = append(pairs, resolve.Pair{Source: seed, Target: h.Node, Similarity: h.Score})
		if len(pairs) >= s.opts.ConflictCandidates {
			break
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	var conflicts []resolve.Proposal
	for _, prop := range s.classifier.Classify(ctx, pairs) {
		if prop.Verdict == resolve.VerdictConflict {
			conflicts = append(conflicts, prop)
		}
	}
	return conflicts
}

var harvestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"concepts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":      map[string]any{"type": "string"},
					"definition": map[string]any{"type": "string"},
				},
				"required":             []string{"label", "definition"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"concepts"},
	"additionalProperties": false,
}

const harvestSystem = `You extract distinct, atomic concepts from study-session evidence.
Each concept gets a short canonical label and a one-paragraph definition grounded in the evidence.
Skip anecdotes, duplicates, and anything not actually supported by the evidence.`

// Harvest extracts draft concepts from the session's accumulated
// evidence. Drafts whose label already exists in the session are
// skipped; the call is re-runnable as evidence grows.
func (s *Service) Harvest(ctx context.Context, sessionID uuid.UUID) ([]*domain.Node, error) {
	if err := s.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}
	seeds, err := s.store.NodesBySession(ctx, domain.NodeSeed, sessionID)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	if len(seeds) > s.opts.HarvestMaxSeeds {
		seeds = seeds[len(seeds)-s.opts.HarvestMaxSeeds:]
	}

	existing, err := s.store.NodesBySession(ctx, domain.NodeDraftConcept, sessionID)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, d := range existing {
		known[strings.ToLower(strings.TrimSpace(d.Label))] = true
	}

	var b strings.Builder
	for i, seed := range seeds {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, seed.Body)
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("harvest admission: %w", err)
	}
	obj, err := s.llm.GenerateJSON(ctx, harvestSystem, b.String(), "harvested_concepts", harvestSchema)
	if err != nil {
		return nil, fmt.Errorf("harvest extraction: %w", err)
	}
	rawConcepts, ok := obj["concepts"].([]any)
	if !ok {
		return nil, fmt.Errorf("harvest output missing concepts: %w", apperr.ErrMalformedResponse)
	}

	type extracted struct{ label, definition string }
	var fresh []extracted
	for _, raw := range rawConcepts {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m["label"].(string)
		definition, _ := m["definition"].(string)
		label = strings.TrimSpace(label)
		if label == "" || known[strings.ToLower(label)] {
			continue
		}
		known[strings.ToLower(label)] = true
		fresh = append(fresh, extracted{label: label, definition: strings.TrimSpace(definition)})
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(fresh))
	for i, e := range fresh {
		inputs[i] = e.label + ": " + e.definition
	}
	vecs, err := s.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed drafts: %w", err)
	}

	drafts := make([]*domain.Node, 0, len(fresh))
	for i, e := range fresh {
		draft := &domain.Node{
			ID:        uuid.New(),
			Kind:      domain.NodeDraftConcept,
			Label:     e.label,
			Body:      e.definition,
			Embedding: vecs[i],
			SessionID: &sessionID,
		}
		if err := s.store.UpsertNode(ctx, draft); err != nil {
			return drafts, err
		}
		drafts = append(drafts, draft)
	}
	s.log.Info("Harvested drafts",
		"session_id", sessionID.String(),
		"seeds", len(seeds),
		"drafts", len(drafts),
	)
	return drafts, nil
}

func excerptLabel(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".\n"); idx > 0 && idx < 80 {
		return text[:idx]
	}
	if len(text) > 80 {
		return text[:80]
	}
	return text
}
