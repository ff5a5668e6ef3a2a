// Package scaffold generates learning material for a crystallized
// concept and caches it: Redis first, then the node's cached payload,
// then one rate-gated LLM call.
package scaffold

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/platform/redisdb"
)

type textGenerator interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type Service struct {
	store graph.Store
	llm   textGenerator
	gate  *rategate.Gate
	cache *redisdb.Cache // nil disables caching
	log   *logger.Logger
}

func NewService(store graph.Store, llm textGenerator, gate *rategate.Gate, cache *redisdb.Cache, log *logger.Logger) *Service {
	return &Service{
		store: store,
		llm:   llm,
		gate:  gate,
		cache: cache,
		log:   log.With("service", "ScaffoldService"),
	}
}

const scaffoldSystem = `You write a compact learning scaffold for one concept from a personal knowledge graph.
Produce markdown with: a one-sentence definition, three key points, one concrete example, and one self-test question.
Ground everything in the provided definition; do not invent facts.`

func cacheKey(conceptID uuid.UUID) string {
	return "scaffold:" + conceptID.String()
}

// Generate returns the concept's scaffold, generating and persisting it
// on first request. Generation marks the concept eligible for review.
func (s *Service) Generate(ctx context.Context, conceptID uuid.UUID) (string, error) {
	if payload, ok := s.cache.Get(ctx, cacheKey(conceptID)); ok {
		return payload, nil
	}

	node, err := s.store.GetNode(ctx, conceptID)
	if err != nil {
		return "", err
	}
	if node.Kind != domain.NodeConcept {
		return "", fmt.Errorf("node %s is %s, not a concept: %w", conceptID, node.Kind, apperr.ErrInvalidArgument)
	}
	if node.CachedPayload != "" {
		s.cache.Set(ctx, cacheKey(conceptID), node.CachedPayload)
		return node.CachedPayload, nil
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("scaffold admission: %w", err)
	}
	prompt := fmt.Sprintf("Concept: %s\n\nDefinition: %s", node.Label, node.Body)
	payload, err := s.llm.GenerateText(ctx, scaffoldSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("scaffold generation: %w", err)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", fmt.Errorf("empty scaffold: %w", apperr.ErrMalformedResponse)
	}

	node.CachedPayload = payload
	node.ScaffoldGenerated = true
	if node.NextReview == nil {
		// First scaffold puts the concept at the front of the review
		// queue.
		now := time.Now().UTC()
		node.NextReview = &now
	}
	if err := s.store.UpsertNode(ctx, node); err != nil {
		return "", err
	}
	s.cache.Set(ctx, cacheKey(conceptID), payload)

	s.log.Info("Scaffold generated", "concept_id", conceptID.String(), "bytes", len(payload))
	return payload, nil
}

// Invalidate drops both cache layers, forcing regeneration.
func (s *Service) Invalidate(ctx context.Context, conceptID uuid.UUID) error {
	node, err := s.store.GetNode(ctx, conceptID)
	if err != nil {
		return err
	}
	node.CachedPayload = ""
	node.ScaffoldGenerated = false
	if err := s.store.UpsertNode(ctx, node); err != nil {
		return err
	}
	s.cache.Delete(ctx, cacheKey(conceptID))
	return nil
}
