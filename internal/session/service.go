// Package session owns session lifecycle bookkeeping: creation with a
// TTL, lookup, and listing. Status transitions live with the
// consolidation engine.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/platform/redisdb"
)

type Options struct {
	// TTL sets the session's ExpiresAt; expiry is advisory, crystallize
	// still works on an expired session.
	TTL time.Duration
}

func DefaultOptions() Options {
	return Options{TTL: 24 * time.Hour}
}

type Service struct {
	store graph.Store
	cache *redisdb.Cache // nil disables the TTL mirror
	opts  Options
	log   *logger.Logger
}

func NewService(store graph.Store, cache *redisdb.Cache, opts Options, log *logger.Logger) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	return &Service{
		store: store,
		cache: cache,
		opts:  opts,
		log:   log.With("service", "SessionService"),
	}
}

func cacheKey(id uuid.UUID) string {
	return "session:" + id.String()
}

func (s *Service) Create(ctx context.Context, title, goal string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("session title required: %w", apperr.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:        uuid.New(),
		Title:     title,
		Goal:      strings.TrimSpace(goal),
		Status:    domain.SessionActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	// Redis mirrors the expiry so a sweep can find stale sessions without
	// scanning the graph.
	s.cache.Set(ctx, cacheKey(sess.ID), sess.ExpiresAt.Format(time.RFC3339))
	s.log.Info("Session created", "session_id", sess.ID.String(), "title", title)
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.store.GetSession(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*domain.Session, error) {
	return s.store.ListSessions(ctx)
}
