// Package review schedules crystallized concepts for spaced repetition
// and folds review outcomes back into concept mastery.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type Rating string

const (
	RatingHard     Rating = "hard"
	RatingGood     Rating = "good"
	RatingEasy     Rating = "easy"
	RatingMastered Rating = "mastered"
)

// interval and mastery boost per rating.
var schedule = map[Rating]struct {
	interval time.Duration
	boost    float64
}{
	RatingHard:     {interval: 2 * 24 * time.Hour, boost: 0},
	RatingGood:     {interval: 7 * 24 * time.Hour, boost: 0.05},
	RatingEasy:     {interval: 14 * 24 * time.Hour, boost: 0.10},
	RatingMastered: {interval: 30 * 24 * time.Hour},
}

// masteredFloor is the minimum mastery after a "mastered" self-report.
const masteredFloor = 0.95

type Stats struct {
	Due        int     `json:"due"`
	Upcoming   int     `json:"upcoming"`
	AvgMastery float64 `json:"avg_mastery"`
}

type Service struct {
	store graph.Store
	now   func() time.Time
	log   *logger.Logger
}

func NewService(store graph.Store, log *logger.Logger) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		log:   log.With("service", "ReviewService"),
	}
}

// Queue returns scaffolded concepts whose next review is due, oldest
// first.
func (s *Service) Queue(ctx context.Context, limit int) ([]*domain.Node, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ConceptsForReview(ctx, s.now().UTC(), true, limit)
}

// Upcoming returns the not-yet-due tail of the schedule.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]*domain.Node, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ConceptsForReview(ctx, s.now().UTC(), false, limit)
}

// Assess applies a self-reported rating: the next interval is fixed per
// rating, mastery moves by the rating's boost, capped at 1.0.
func (s *Service) Assess(ctx context.Context, conceptID uuid.UUID, rating Rating) (*domain.Node, error) {
	plan, ok := schedule[rating]
	if !ok {
		return nil, fmt.Errorf("unknown rating %q: %w", rating, apperr.ErrInvalidArgument)
	}
	node, err := s.store.GetNode(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	if node.Kind != domain.NodeConcept {
		return nil, fmt.Errorf("node %s is %s, not a concept: %w", conceptID, node.Kind, apperr.ErrInvalidArgument)
	}

	now := s.now().UTC()
	next := now.Add(plan.interval)
	node.ReviewCount++
	node.LastReviewed = &now
	node.NextReview = &next

	if rating == RatingMastered {
		if node.Mastery < masteredFloor {
			node.Mastery = masteredFloor
		}
	} else {
		node.Mastery += plan.boost
	}
	if node.Mastery > 1.0 {
		node.Mastery = 1.0
	}

	if err := s.store.UpsertNode(ctx, node); err != nil {
		return nil, err
	}
	s.log.Debug("Concept assessed",
		"concept_id", conceptID.String(),
		"rating", string(rating),
		"mastery", node.Mastery,
		"next_review", next.Format(time.RFC3339),
	)
	return node, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	due, err := s.store.ConceptsForReview(ctx, now, true, 0)
	if err != nil {
		return nil, err
	}
	upcoming, err := s.store.ConceptsForReview(ctx, now, false, 0)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Due: len(due), Upcoming: len(upcoming)}
	total := 0.0
	n := 0
	for _, c := range append(due, upcoming...) {
		total += c.Mastery
		n++
	}
	if n > 0 {
		stats.AvgMastery = total / float64(n)
	}
	return stats, nil
}
