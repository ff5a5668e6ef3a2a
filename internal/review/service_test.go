package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

func newService(t *testing.T) (*Service, *graph.MemoryStore, time.Time) {
	t.Helper()
	store := graph.NewMemoryStore()
	svc := NewService(store, logger.NewNop())
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, store, now
}

func addConcept(t *testing.T, store *graph.MemoryStore, mastery float64, nextReview *time.Time) *domain.Node {
	t.Helper()
	n := &domain.Node{
		ID:                uuid.New(),
		Kind:              domain.NodeConcept,
		Label:             "concept",
		Embedding:         []float32{1, 0},
		Mastery:           mastery,
		ScaffoldGenerated: true,
		NextReview:        nextReview,
	}
	if err := store.UpsertNode(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestAssessIntervalsAndBoosts(t *testing.T) {
	cases := []struct {
		rating   Rating
		days     int
		mastery  float64
		expected float64
	}{
		{RatingHard, 2, 0.5, 0.5},
		{RatingGood, 7, 0.5, 0.55},
		{RatingEasy, 14, 0.5, 0.6},
		{RatingMastered, 30, 0.5, 0.95},
		{RatingMastered, 30, 0.97, 0.97},
	}
	for _, tc := range cases {
		t.Run(string(tc.rating), func(t *testing.T) {
			svc, store, now := newService(t)
			past := now.Add(-time.Hour)
			c := addConcept(t, store, tc.mastery, &past)

			got, err := svc.Assess(context.Background(), c.ID, tc.rating)
			if err != nil {
				t.Fatalf("assess: %v", err)
			}
			wantNext := now.Add(time.Duration(tc.days) * 24 * time.Hour)
			if got.NextReview == nil || !got.NextReview.Equal(wantNext) {
				t.Fatalf("next review = %v, want %v", got.NextReview, wantNext)
			}
			if got.Mastery != tc.expected {
				t.Fatalf("mastery = %f, want %f", got.Mastery, tc.expected)
			}
			if got.ReviewCount != 1 || got.LastReviewed == nil {
				t.Fatalf("bookkeeping missing: %+v", got)
			}
		})
	}
}

func TestAssessMasteryCapped(t *testing.T) {
	svc, store, now := newService(t)
	past := now.Add(-time.Hour)
	c := addConcept(t, store, 0.98, &past)

	got, err := svc.Assess(context.Background(), c.ID, RatingEasy)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if got.Mastery != 1.0 {
		t.Fatalf("mastery must cap at 1.0, got %f", got.Mastery)
	}
}

func TestAssessRejectsUnknownRatingAndNonConcept(t *testing.T) {
	svc, store, _ := newService(t)
	seed := &domain.Node{ID: uuid.New(), Kind: domain.NodeSeed, Embedding: []float32{1}}
	if err := store.UpsertNode(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Assess(context.Background(), seed.ID, RatingGood); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("non-concept should be invalid, got %v", err)
	}
	c := addConcept(t, store, 0.5, nil)
	if _, err := svc.Assess(context.Background(), c.ID, Rating("meh")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("unknown rating should be invalid, got %v", err)
	}
}

func TestQueueAndStats(t *testing.T) {
	svc, store, now := newService(t)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	addConcept(t, store, 0.4, &past)
	addConcept(t, store, 0.8, &future)

	due, err := svc.Queue(context.Background(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("queue: %v, %d", err, len(due))
	}
	up, err := svc.Upcoming(context.Background(), 10)
	if err != nil || len(up) != 1 {
		t.Fatalf("upcoming: %v, %d", err, len(up))
	}
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Due != 1 || stats.Upcoming != 1 {
		t.Fatalf("wrong counts: %+v", stats)
	}
	if stats.AvgMastery < 0.59 || stats.AvgMastery > 0.61 {
		t.Fatalf("avg mastery = %f, want ~0.6", stats.AvgMastery)
	}
}
