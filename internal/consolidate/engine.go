// Package consolidate crystallizes a session: it drives the session's
// draft concepts through the resolution classifier, executes the
// approved graph mutations, and marks the session terminal.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/resolve"
)

// Preview is the proposal set handed to the user for approval before
// anything mutates the global graph.
type Preview struct {
	Merges    []resolve.Proposal `json:"merges"`
	NewNodes  []*domain.Node     `json:"new_nodes"`
	Conflicts []resolve.Proposal `json:"conflicts"`
	Synapses  []resolve.Proposal `json:"synapses"`
}

type MergeApproval struct {
	DraftID  uuid.UUID `json:"draft_id"`
	TargetID uuid.UUID `json:"target_id"`
}

type SynapseApproval struct {
	DraftID    uuid.UUID `json:"draft_id"`
	TargetID   uuid.UUID `json:"target_id"`
	Relation   string    `json:"relation"`
	Confidence float64   `json:"confidence"`
}

// CommitInput is the human-edited preview fed back into the engine.
type CommitInput struct {
	Promote  []uuid.UUID       `json:"promote"`
	Merges   []MergeApproval   `json:"merges"`
	Synapses []SynapseApproval `json:"synapses"`
}

type CommitResult struct {
	Promoted      int                     `json:"promoted"`
	Merged        int                     `json:"merged"`
	MigratedEdges int                     `json:"migrated_edges"`
	Synapses      int                     `json:"synapses"`
	Skipped       int                     `json:"skipped"`
	Resolution    map[uuid.UUID]uuid.UUID `json:"resolution"`
}

type Options struct {
	// CandidateFloor is the cosine floor for the global concept search a
	// draft is compared against. Lower than the classifier's ambiguous
	// floor so fuzzy-label merges are still discovered.
	CandidateFloor     float64
	CandidatesPerDraft int
	MasteryBump        float64
}

func DefaultOptions() Options {
	return Options{
		CandidateFloor:     0.7,
		CandidatesPerDraft: 5,
		MasteryBump:        0.05,
	}
}

// Engine owns the two-phase crystallization flow. Preview is read-only
// and re-callable; Commit is the only graph-mutating path and is
// serialized per session.
type Engine struct {
	store      graph.Store
	classifier *resolve.Classifier
	opts       Options
	log        *logger.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]bool
}

func NewEngine(store graph.Store, classifier *resolve.Classifier, opts Options, log *logger.Logger) *Engine {
	return &Engine{
		store:      store,
		classifier: classifier,
		opts:       opts,
		log:        log.With("service", "ConsolidationEngine"),
		inflight:   map[uuid.UUID]bool{},
	}
}

// Preview classifies the session's drafts against the global graph and
// returns the proposal without side effects.
func (e *Engine) Preview(ctx context.Context, sessionID uuid.UUID) (*Preview, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return nil, fmt.Errorf("session %s already crystallized: %w", sessionID, apperr.ErrImmutableSession)
	}

	drafts, err := e.store.NodesBySession(ctx, domain.NodeDraftConcept, sessionID)
	if err != nil {
		return nil, err
	}

	var pairs []resolve.Pair
	for _, d := range drafts {
		if d.MergedInto != nil || len(d.Embedding) == 0 {
			continue
		}
		hits, err := e.store.VectorSearch(ctx, domain.NodeConcept, d.Embedding, e.opts.CandidateFloor, e.opts.CandidatesPerDraft, graph.Filter{})
		if err != nil {
			e.log.Warn("Candidate search failed for draft; treating as no candidates",
				"draft_id", d.ID.String(),
				"error", err.Error(),
			)
			continue
		}
		for _, h := range hits {
			pairs = append(pairs, resolve.Pair{Source: d, Target: h.Node, Similarity: h.Score})
		}
	}

	proposals := e.classifier.Classify(ctx, pairs)

	p := &Preview{
		Merges:    []resolve.Proposal{},
		NewNodes:  []*domain.Node{},
		Conflicts: []resolve.Proposal{},
		Synapses:  []resolve.Proposal{},
	}
	// One merge target per draft: keep the highest-confidence MERGE.
	bestMerge := map[uuid.UUID]resolve.Proposal{}
	for _, prop := range proposals {
		switch prop.Verdict {
		case resolve.VerdictMerge:
			if cur, ok := bestMerge[prop.SourceID]; !ok || prop.Confidence > cur.Confidence {
				bestMerge[prop.SourceID] = prop
			}
		case resolve.VerdictConflict:
			p.Conflicts = append(p.Conflicts, prop)
		case resolve.VerdictLink:
			p.Synapses = append(p.Synapses, prop)
		}
	}
	for _, prop := range bestMerge {
		p.Merges = append(p.Merges, prop)
	}
	for _, d := range drafts {
		if d.MergedInto != nil {
			continue
		}
		if _, merged := bestMerge[d.ID]; !merged {
			p.NewNodes = append(p.NewNodes, d)
		}
	}

	e.log.Info("Consolidation preview built",
		"session_id", sessionID.String(),
		"drafts", len(drafts),
		"merges", len(p.Merges),
		"new_nodes", len(p.NewNodes),
		"conflicts", len(p.Conflicts),
		"synapses", len(p.Synapses),
	)
	return p, nil
}

// Commit executes the approved proposal and transitions the session to
// crystallized. At most one commit may be in flight per session; every
// mutation inside is idempotent so a failed commit is safe to re-run.
func (e *Engine) Commit(ctx context.Context, sessionID uuid.UUID, input CommitInput) (*CommitResult, error) {
	e.mu.Lock()
	if e.inflight[sessionID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrConcurrentCommit)
	}
	e.inflight[sessionID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, sessionID)
		e.mu.Unlock()
	}()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case domain.SessionActive:
		if err := e.store.TransitionSession(ctx, sessionID, domain.SessionActive, domain.SessionConsolidating); err != nil {
			return nil, err
		}
	case domain.SessionConsolidating:
		// A prior commit attempt died mid-flight; idempotent mutations
		// make the re-run safe.
	default:
		return nil, fmt.Errorf("session %s already crystallized: %w", sessionID, apperr.ErrImmutableSession)
	}

	res := &CommitResult{Resolution: map[uuid.UUID]uuid.UUID{}}

	// Phase 1: promote approved drafts into global concepts.
	for _, draftID := range input.Promote {
		conceptID, err := e.promote(ctx, sessionID, draftID)
		if err != nil {
			if errors.Is(err, apperr.ErrGraphIntegrity) || errors.Is(err, apperr.ErrNotFound) {
				e.log.Warn("Skipping promotion", "draft_id", draftID.String(), "error", err.Error())
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("promote %s: %w", draftID, err)
		}
		res.Resolution[draftID] = conceptID
		res.Promoted++
	}

	// Phase 2: merge bookkeeping (contribution edge, mastery, marker).
	// Edge re-homing waits for phase 3 so draft-draft edges can migrate
	// through the completed resolution map.
	for _, m := range input.Merges {
		if err := e.recordMerge(ctx, m.DraftID, m.TargetID); err != nil {
			if errors.Is(err, apperr.ErrGraphIntegrity) || errors.Is(err, apperr.ErrNotFound) {
				e.log.Warn("Skipping merge",
					"draft_id", m.DraftID.String(),
					"target_id", m.TargetID.String(),
					"error", err.Error(),
				)
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("merge %s -> %s: %w", m.DraftID, m.TargetID, err)
		}
		res.Resolution[m.DraftID] = m.TargetID
		res.Merged++
	}

	// Phase 3: migrate draft-draft edges through the resolution map.
	migrated, err := e.migrateEdges(ctx, res.Resolution)
	if err != nil {
		return res, fmt.Errorf("edge migration: %w", err)
	}
	res.MigratedEdges = migrated

	// Phase 4: approved synapses, from resolved ids.
	for _, s := range input.Synapses {
		from := s.DraftID
		if resolved, ok := res.Resolution[s.DraftID]; ok {
			from = resolved
		}
		rel := s.Relation
		if rel == "" {
			rel = domain.EdgeRelatedTo
		}
		if from == s.TargetID {
			continue
		}
		_, err := e.store.InsertEdge(ctx, &domain.Edge{
			From:       from,
			To:         s.TargetID,
			Type:       rel,
			Confidence: s.Confidence,
			Provenance: domain.ProvenanceSynapse,
			SessionID:  &sessionID,
		})
		if err != nil {
			if errors.Is(err, apperr.ErrGraphIntegrity) {
				e.log.Warn("Skipping synapse", "from", from.String(), "to", s.TargetID.String(), "error", err.Error())
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("synapse %s -[%s]-> %s: %w", from, rel, s.TargetID, err)
		}
		res.Synapses++
	}

	if err := e.store.TransitionSession(ctx, sessionID, domain.SessionConsolidating, domain.SessionCrystallized); err != nil {
		return res, fmt.Errorf("crystallize transition: %w", err)
	}

	e.log.Info("Session crystallized",
		"session_id", sessionID.String(),
		"promoted", res.Promoted,
		"merged", res.Merged,
		"migrated_edges", res.MigratedEdges,
		"synapses", res.Synapses,
		"skipped", res.Skipped,
	)
	return res, nil
}

// promote copies a draft into a new global concept and links it back to
// the draft. Re-running after a crash reuses the existing promotion.
func (e *Engine) promote(ctx context.Context, sessionID, draftID uuid.UUID) (uuid.UUID, error) {
	draft, err := e.store.GetNode(ctx, draftID)
	if err != nil {
		return uuid.Nil, err
	}
	if draft.Kind != domain.NodeDraftConcept {
		return uuid.Nil, fmt.Errorf("node %s is %s, not a draft: %w", draftID, draft.Kind, apperr.ErrInvalidArgument)
	}
	if draft.SessionID == nil || *draft.SessionID != sessionID {
		return uuid.Nil, fmt.Errorf("draft %s not in session %s: %w", draftID, sessionID, apperr.ErrGraphIntegrity)
	}

	// Idempotence: a previous attempt may have already promoted this
	// draft; follow its existing promotion edge instead of duplicating.
	edges, err := e.store.EdgesTouching(ctx, draftID)
	if err != nil {
		return uuid.Nil, err
	}
	for _, edge := range edges {
		if edge.Type == domain.EdgeCrystallizedAs && edge.From == draftID {
			return edge.To, nil
		}
	}

	concept := &domain.Node{
		ID:        uuid.New(),
		Kind:      domain.NodeConcept,
		Label:     draft.Label,
		Body:      draft.Body,
		Embedding: draft.Embedding,
		SessionID: &sessionID,
		SourceDoc: draft.SourceDoc,
	}
	if err := e.store.UpsertNode(ctx, concept); err != nil {
		return uuid.Nil, err
	}
	_, err = e.store.InsertEdge(ctx, &domain.Edge{
		From:       draftID,
		To:         concept.ID,
		Type:       domain.EdgeCrystallizedAs,
		Confidence: 1,
		Provenance: domain.ProvenanceMerge,
		SessionID:  &sessionID,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return concept.ID, nil
}

// Merge resolves source into target non-destructively: a contribution
// edge, a bounded mastery bump, edge re-homing, then the source's own
// relation edges are removed. The source node stays as an audit trail.
// Idempotent at the edge level; running it twice changes nothing.
func (e *Engine) Merge(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return fmt.Errorf("merge %s into itself: %w", sourceID, apperr.ErrGraphIntegrity)
	}
	source, err := e.store.GetNode(ctx, sourceID)
	if err != nil {
		return err
	}
	target, err := e.store.GetNode(ctx, targetID)
	if err != nil {
		return err
	}

	alreadyMerged := source.MergedInto != nil && *source.MergedInto == targetID
	if source.MergedInto != nil && *source.MergedInto != targetID {
		return fmt.Errorf("node %s already merged into %s: %w", sourceID, source.MergedInto, apperr.ErrGraphIntegrity)
	}

	// Re-home edges touching the source; an equivalent edge already at
	// the target is a silent no-op, a would-be self-loop is dropped.
	edges, err := e.store.EdgesTouching(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if edge.Type == domain.EdgeContributesTo || edge.Type == domain.EdgeCrystallizedAs {
			continue
		}
		moved := *edge
		if moved.From == sourceID {
			moved.From = targetID
		}
		if moved.To == sourceID {
			moved.To = targetID
		}
		if moved.From != moved.To {
			if _, err := e.store.InsertEdge(ctx, &moved); err != nil {
				if errors.Is(err, apperr.ErrGraphIntegrity) {
					e.log.Warn("Skipping edge re-home",
						"from", moved.From.String(),
						"to", moved.To.String(),
						"type", moved.Type,
						"error", err.Error(),
					)
					continue
				}
				return err
			}
		}
		if _, err := e.store.DeleteEdges(ctx, graph.EdgePredicate{From: &edge.From, To: &edge.To, Type: edge.Type}); err != nil {
			return err
		}
	}

	created, err := e.store.InsertEdge(ctx, &domain.Edge{
		From:       sourceID,
		To:         targetID,
		Type:       domain.EdgeContributesTo,
		Confidence: 1,
		Provenance: domain.ProvenanceMerge,
		SessionID:  source.SessionID,
	})
	if err != nil {
		return err
	}

	// Gate the bump on edge creation, not the merged-away marker: a rerun
	// interrupted between the two writes must not bump twice.
	if created {
		target.Mastery += e.opts.MasteryBump
		if target.Mastery > 1.0 {
			target.Mastery = 1.0
		}
		if err := e.store.UpsertNode(ctx, target); err != nil {
			return err
		}
	}
	if !alreadyMerged {
		source.MergedInto = &targetID
		if err := e.store.UpsertNode(ctx, source); err != nil {
			return err
		}
	}
	return nil
}

// recordMerge is the commit-time half of a merge: contribution edge,
// bounded mastery bump, merged-away marker. Re-running for the same
// target is a no-op; edges are handled by migrateEdges afterwards.
func (e *Engine) recordMerge(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return fmt.Errorf("merge %s into itself: %w", sourceID, apperr.ErrGraphIntegrity)
	}
	source, err := e.store.GetNode(ctx, sourceID)
	if err != nil {
		return err
	}
	target, err := e.store.GetNode(ctx, targetID)
	if err != nil {
		return err
	}
	if source.MergedInto != nil {
		if *source.MergedInto == targetID {
			return nil
		}
		return fmt.Errorf("node %s already merged into %s: %w", sourceID, source.MergedInto, apperr.ErrGraphIntegrity)
	}

	created, err := e.store.InsertEdge(ctx, &domain.Edge{
		From:       sourceID,
		To:         targetID,
		Type:       domain.EdgeContributesTo,
		Confidence: 1,
		Provenance: domain.ProvenanceMerge,
		SessionID:  source.SessionID,
	})
	if err != nil {
		return err
	}

	// The bump rides on edge creation: a resumed commit that already
	// wrote the contribution edge must not bump twice.
	if created {
		target.Mastery += e.opts.MasteryBump
		if target.Mastery > 1.0 {
			target.Mastery = 1.0
		}
		if err := e.store.UpsertNode(ctx, target); err != nil {
			return err
		}
	}
	source.MergedInto = &targetID
	return e.store.UpsertNode(ctx, source)
}

// migrateEdges re-homes every relation edge touching a resolved draft:
// endpoints in the resolution map move to their global ids, edges whose
// ends collapse onto one concept are dropped, duplicates are suppressed
// by the store, and the draft-side originals are removed.
func (e *Engine) migrateEdges(ctx context.Context, resolution map[uuid.UUID]uuid.UUID) (int, error) {
	migrated := 0
	for draftID := range resolution {
		edges, err := e.store.EdgesTouching(ctx, draftID)
		if err != nil {
			return migrated, err
		}
		for _, edge := range edges {
			if edge.Type == domain.EdgeContributesTo || edge.Type == domain.EdgeCrystallizedAs {
				continue
			}
			from, to := edge.From, edge.To
			if resolved, ok := resolution[from]; ok {
				from = resolved
			}
			if resolved, ok := resolution[to]; ok {
				to = resolved
			}
			// Edges between two drafts are reachable from both ends;
			// process each once, from its From end.
			_, fromIsDraft := resolution[edge.From]
			_, toIsDraft := resolution[edge.To]
			if fromIsDraft && toIsDraft && edge.From != draftID {
				continue
			}
			if from != to {
				created, err := e.store.InsertEdge(ctx, &domain.Edge{
					From:       from,
					To:         to,
					Type:       edge.Type,
					Confidence: edge.Confidence,
					Provenance: domain.ProvenanceMerge,
					SessionID:  edge.SessionID,
				})
				if err != nil {
					if errors.Is(err, apperr.ErrGraphIntegrity) {
						e.log.Warn("Skipping edge migration", "type", edge.Type, "error", err.Error())
						continue
					}
					return migrated, err
				}
				if created {
					migrated++
				}
			}
			if _, err := e.store.DeleteEdges(ctx, graph.EdgePredicate{From: &edge.From, To: &edge.To, Type: edge.Type}); err != nil {
				return migrated, err
			}
		}
	}
	return migrated, nil
}
