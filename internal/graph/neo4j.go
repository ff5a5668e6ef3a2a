package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/veldt/crystal-backend/internal/domain"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/platform/neo4jdb"
)

// Neo4jStore persists the graph in Neo4j. Nodes carry a :Node label with a
// kind property; relations are a single :REL type discriminated by a type
// property so (from, to, type) uniqueness maps onto MERGE. Vector search
// uses per-kind vector indexes created by EnsureSchema.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
	dims   int
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger, embeddingDims int) *Neo4jStore {
	return &Neo4jStore{
		client: client,
		log:    log.With("store", "Neo4jGraph"),
		dims:   embeddingDims,
	}
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.client.Database})
}

// EnsureSchema creates id constraints and the per-kind vector indexes.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT node_id IF NOT EXISTS FOR (n:Node) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX node_embedding IF NOT EXISTS FOR (n:Node) ON (n.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, s.dims),
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	for _, stmt := range stmts {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func nodeToProps(n *domain.Node) map[string]any {
	props := map[string]any{
		"id":         n.ID.String(),
		"kind":       string(n.Kind),
		"label":      n.Label,
		"body":       n.Body,
		"mastery":    n.Mastery,
		"source_doc": n.SourceDoc,
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(n.Embedding) > 0 {
		emb := make([]float64, len(n.Embedding))
		for i, v := range n.Embedding {
			emb[i] = float64(v)
		}
		props["embedding"] = emb
	}
	if n.SessionID != nil {
		props["session_id"] = n.SessionID.String()
	}
	if n.MergedInto != nil {
		props["merged_into"] = n.MergedInto.String()
	}
	if n.CachedPayload != "" {
		props["cached_payload"] = n.CachedPayload
	}
	props["scaffold_generated"] = n.ScaffoldGenerated
	props["review_count"] = n.ReviewCount
	if n.NextReview != nil {
		props["next_review"] = n.NextReview.UTC().Format(time.RFC3339Nano)
	}
	if n.LastReviewed != nil {
		props["last_reviewed"] = n.LastReviewed.UTC().Format(time.RFC3339Nano)
	}
	return props
}

func propsToNode(props map[string]any) *domain.Node {
	n := &domain.Node{}
	if v, ok := props["id"].(string); ok {
		n.ID, _ = uuid.Parse(v)
	}
	if v, ok := props["kind"].(string); ok {
		n.Kind = domain.NodeKind(v)
	}
	n.Label, _ = props["label"].(string)
	n.Body, _ = props["body"].(string)
	n.SourceDoc, _ = props["source_doc"].(string)
	n.CachedPayload, _ = props["cached_payload"].(string)
	if v, ok := props["mastery"].(float64); ok {
		n.Mastery = v
	}
	if v, ok := props["scaffold_generated"].(bool); ok {
		n.ScaffoldGenerated = v
	}
	if v, ok := props["review_count"].(int64); ok {
		n.ReviewCount = int(v)
	}
	if v, ok := props["session_id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			n.SessionID = &id
		}
	}
	if v, ok := props["merged_into"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			n.MergedInto = &id
		}
	}
	if v, ok := props["embedding"].([]any); ok {
		emb := make([]float32, 0, len(v))
		for _, f := range v {
			if fv, ok := f.(float64); ok {
				emb = append(emb, float32(fv))
			}
		}
		n.Embedding = emb
	}
	if v, ok := props["created_at"].(string); ok {
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := props["next_review"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			n.NextReview = &ts
		}
	}
	if v, ok := props["last_reviewed"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			n.LastReviewed = &ts
		}
	}
	return n
}

func relToEdge(rel neo4j.Relationship, from, to string) *domain.Edge {
	e := &domain.Edge{}
	if id, err := uuid.Parse(from); err == nil {
		e.From = id
	}
	if id, err := uuid.Parse(to); err == nil {
		e.To = id
	}
	if v, ok := rel.Props["type"].(string); ok {
		e.Type = v
	}
	if v, ok := rel.Props["confidence"].(float64); ok {
		e.Confidence = v
	}
	if v, ok := rel.Props["provenance"].(string); ok {
		e.Provenance = domain.EdgeProvenance(v)
	}
	if v, ok := rel.Props["session_id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			e.SessionID = &id
		}
	}
	if v, ok := rel.Props["created_at"].(string); ok {
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return e
}

func (s *Neo4jStore) GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	res, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) (*domain.Node, error) {
		rec, err := tx.Run(ctx, `MATCH (n:Node {id: $id}) RETURN n`, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		single, err := rec.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
		}
		node, _ := single.Get("n")
		return propsToNode(node.(neo4j.Node).Props), nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Neo4jStore) UpsertNode(ctx context.Context, n *domain.Node) error {
	if n == nil || n.ID == uuid.Nil {
		return apperr.ErrInvalidArgument
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := neo4j.ExecuteWrite(ctx, sess, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MERGE (n:Node {id: $id}) SET n += $props`,
			map[string]any{"id": n.ID.String(), "props": nodeToProps(n)})
		return nil, err
	})
	return err
}

func (s *Neo4jStore) NodesBySession(ctx context.Context, kind domain.NodeKind, sessionID uuid.UUID) ([]*domain.Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*domain.Node, error) {
		rec, err := tx.Run(ctx,
			`MATCH (n:Node {kind: $kind, session_id: $session_id}) RETURN n ORDER BY n.created_at`,
			map[string]any{"kind": string(kind), "session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		var out []*domain.Node
		for rec.Next(ctx) {
			node, _ := rec.Record().Get("n")
			out = append(out, propsToNode(node.(neo4j.Node).Props))
		}
		return out, rec.Err()
	})
}

func (s *Neo4jStore) VectorSearch(ctx context.Context, kind domain.NodeKind, embedding []float32, threshold float64, limit int, f Filter) ([]ScoredNode, error) {
	if len(embedding) == 0 {
		return nil, apperr.ErrInvalidArgument
	}
	emb := make([]float64, len(embedding))
	for i, v := range embedding {
		emb[i] = float64(v)
	}
	params := map[string]any{
		"embedding": emb,
		"threshold": threshold,
		"kind":      string(kind),
		// Over-fetch; scope filters run after the index lookup.
		"k": limit * 4,
	}
	query := `CALL db.index.vector.queryNodes('node_embedding', $k, $embedding)
		YIELD node, score
		WHERE node.kind = $kind AND score >= $threshold AND node.merged_into IS NULL`
	if f.SessionID != nil {
		query += ` AND node.session_id = $scope_session`
		params["scope_session"] = f.SessionID.String()
	}
	if f.ExcludeSessionID != nil {
		query += ` AND (node.session_id IS NULL OR node.session_id <> $exclude_session)`
		params["exclude_session"] = f.ExcludeSessionID.String()
	}
	query += ` RETURN node, score ORDER BY score DESC LIMIT $limit`
	params["limit"] = limit

	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]ScoredNode, error) {
		rec, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var out []ScoredNode
		for rec.Next(ctx) {
			node, _ := rec.Record().Get("node")
			score, _ := rec.Record().Get("score")
			sc, _ := score.(float64)
			out = append(out, ScoredNode{Node: propsToNode(node.(neo4j.Node).Props), Score: sc})
		}
		return out, rec.Err()
	})
}

func (s *Neo4jStore) Traverse(ctx context.Context, startIDs []uuid.UUID, minHops, maxHops int) ([]TraversalHit, error) {
	if maxHops < 1 || len(startIDs) == 0 {
		return nil, nil
	}
	if maxHops > 4 {
		maxHops = 4
	}
	if minHops < 1 {
		minHops = 1
	}
	ids := make([]string, len(startIDs))
	for i, id := range startIDs {
		ids[i] = id.String()
	}
	// Variable-length bounds cannot be parameterized; maxHops is clamped above.
	query := fmt.Sprintf(`MATCH (s:Node) WHERE s.id IN $ids
		MATCH p = (s)-[:REL*1..%d]-(t:Node)
		WHERE NOT t.id IN $ids AND t.merged_into IS NULL
		WITH t, min(length(p)) AS hops, collect(p)[0] AS path
		WHERE hops >= $min_hops
		RETURN t, hops, relationships(path)[-1] AS rel,
			nodes(path)[-2].id AS prev_id
		ORDER BY hops ASC`, maxHops)

	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]TraversalHit, error) {
		rec, err := tx.Run(ctx, query, map[string]any{"ids": ids, "min_hops": minHops})
		if err != nil {
			return nil, err
		}
		var out []TraversalHit
		for rec.Next(ctx) {
			r := rec.Record()
			nodeAny, _ := r.Get("t")
			hopsAny, _ := r.Get("hops")
			relAny, _ := r.Get("rel")
			prevAny, _ := r.Get("prev_id")
			node := propsToNode(nodeAny.(neo4j.Node).Props)
			hops, _ := hopsAny.(int64)
			hit := TraversalHit{Node: node, Hops: int(hops)}
			if rel, ok := relAny.(neo4j.Relationship); ok {
				prev, _ := prevAny.(string)
				hit.Edge = relToEdge(rel, prev, node.ID.String())
			}
			out = append(out, hit)
		}
		return out, rec.Err()
	})
}

func (s *Neo4jStore) InsertEdge(ctx context.Context, e *domain.Edge) (bool, error) {
	if e == nil || e.Type == "" {
		return false, apperr.ErrInvalidArgument
	}
	if e.From == e.To {
		return false, fmt.Errorf("self-loop %s -[%s]-> %s: %w", e.From, e.Type, e.To, apperr.ErrGraphIntegrity)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	params := map[string]any{
		"from":       e.From.String(),
		"to":         e.To.String(),
		"type":       e.Type,
		"confidence": e.Confidence,
		"provenance": string(e.Provenance),
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.SessionID != nil {
		params["session_id"] = e.SessionID.String()
	} else {
		params["session_id"] = nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteWrite(ctx, sess, func(tx neo4j.ManagedTransaction) (bool, error) {
		rec, err := tx.Run(ctx, `MATCH (a:Node {id: $from}), (b:Node {id: $to})
			MERGE (a)-[r:REL {type: $type}]->(b)
			ON CREATE SET r.confidence = $confidence, r.provenance = $provenance,
				r.session_id = $session_id, r.created_at = $created_at, r._fresh = true
			WITH r, coalesce(r._fresh, false) AS created
			REMOVE r._fresh
			RETURN created`, params)
		if err != nil {
			return false, err
		}
		single, err := rec.Single(ctx)
		if err != nil {
			// No row means an endpoint failed to match.
			return false, fmt.Errorf("edge %s -[%s]-> %s: %w", e.From, e.Type, e.To, apperr.ErrGraphIntegrity)
		}
		created, _ := single.Get("created")
		b, _ := created.(bool)
		return b, nil
	})
}

func (s *Neo4jStore) EdgesTouching(ctx context.Context, id uuid.UUID) ([]*domain.Edge, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*domain.Edge, error) {
		rec, err := tx.Run(ctx, `MATCH (a:Node)-[r:REL]->(b:Node)
			WHERE a.id = $id OR b.id = $id
			RETURN a.id AS from_id, b.id AS to_id, r`, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		var out []*domain.Edge
		for rec.Next(ctx) {
			r := rec.Record()
			fromAny, _ := r.Get("from_id")
			toAny, _ := r.Get("to_id")
			relAny, _ := r.Get("r")
			from, _ := fromAny.(string)
			to, _ := toAny.(string)
			if rel, ok := relAny.(neo4j.Relationship); ok {
				out = append(out, relToEdge(rel, from, to))
			}
		}
		return out, rec.Err()
	})
}

func (s *Neo4jStore) DeleteEdges(ctx context.Context, pred EdgePredicate) (int, error) {
	query := `MATCH (a:Node)-[r:REL]->(b:Node) WHERE 1=1`
	params := map[string]any{}
	if pred.From != nil {
		query += ` AND a.id = $from`
		params["from"] = pred.From.String()
	}
	if pred.To != nil {
		query += ` AND b.id = $to`
		params["to"] = pred.To.String()
	}
	if pred.Type != "" {
		query += ` AND r.type = $type`
		params["type"] = pred.Type
	}
	if pred.Touching != nil {
		query += ` AND (a.id = $touching OR b.id = $touching)`
		params["touching"] = pred.Touching.String()
	}
	query += ` DELETE r RETURN count(r) AS deleted`

	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteWrite(ctx, sess, func(tx neo4j.ManagedTransaction) (int, error) {
		rec, err := tx.Run(ctx, query, params)
		if err != nil {
			return 0, err
		}
		single, err := rec.Single(ctx)
		if err != nil {
			return 0, nil
		}
		deleted, _ := single.Get("deleted")
		n, _ := deleted.(int64)
		return int(n), nil
	})
}

func (s *Neo4jStore) Snapshot(ctx context.Context, sessionID *uuid.UUID) ([]*domain.Node, []*domain.Edge, error) {
	nodeQuery := `MATCH (n:Node) RETURN n ORDER BY n.id`
	edgeQuery := `MATCH (a:Node)-[r:REL]->(b:Node) RETURN a.id AS from_id, b.id AS to_id, r`
	params := map[string]any{}
	if sessionID != nil {
		nodeQuery = `MATCH (n:Node {session_id: $session_id}) RETURN n ORDER BY n.id`
		edgeQuery = `MATCH (a:Node {session_id: $session_id})-[r:REL]->(b:Node {session_id: $session_id})
			RETURN a.id AS from_id, b.id AS to_id, r`
		params["session_id"] = sessionID.String()
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	nodes, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*domain.Node, error) {
		rec, err := tx.Run(ctx, nodeQuery, params)
		if err != nil {
			return nil, err
		}
		var out []*domain.Node
		for rec.Next(ctx) {
			node, _ := rec.Record().Get("n")
			out = append(out, propsToNode(node.(neo4j.Node).Props))
		}
		return out, rec.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	edges, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*domain.Edge, error) {
		rec, err := tx.Run(ctx, edgeQuery, params)
		if err != nil {
			return nil, err
		}
		var out []*domain.Edge
		for rec.Next(ctx) {
			r := rec.Record()
			fromAny, _ := r.Get("from_id")
			toAny, _ := r.Get("to_id")
			relAny, _ := r.Get("r")
			from, _ := fromAny.(string)
			to, _ := toAny.(string)
			if rel, ok := relAny.(neo4j.Relationship); ok {
				out = append(out, relToEdge(rel, from, to))
			}
		}
		return out, rec.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

func (s *Neo4jStore) ConceptsForReview(ctx context.Context, now time.Time, due bool, limit int) ([]*domain.Node, error) {
	cmp := "<="
	if !due {
		cmp = ">"
	}
	query := fmt.Sprintf(`MATCH (n:Node {kind: 'concept', scaffold_generated: true})
		WHERE n.next_review IS NOT NULL AND n.next_review %s $now AND n.merged_into IS NULL
		RETURN n ORDER BY n.next_review ASC LIMIT $limit`, cmp)
	sess := s.session(ctx)
	defer sess.Close(ctx)
	return neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*domain.Node, error) {
		rec, err := tx.Run(ctx, query, map[string]any{
			"now":   now.UTC().Format(time.RFC3339Nano),
			"limit": limit,
		})
		if err != nil {
			return nil, err
		}
		var out []*domain.Node
		for rec.Next(ctx) {
			node, _ := rec.Record().Get("n")
			out = append(out, propsToNode(node.(neo4j.Node).Props))
		}
		return out, rec.Err()
	})
}

func sessionToProps(sess *domain.Session) map[string]any {
	return map[string]any{
		"id":         sess.ID.String(),
		"title":      sess.Title,
		"goal":       sess.Goal,
		"status":     string(sess.Status),
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func propsToSession(props map[string]any) *domain.Session {
	sess := &domain.Session{}
	if v, ok := props["id"].(string); ok {
		sess.ID, _ = uuid.Parse(v)
	}
	sess.Title, _ = props["title"].(string)
	sess.Goal, _ = props["goal"].(string)
	if v, ok := props["status"].(string); ok {
		sess.Status = domain.SessionStatus(v)
	}
	if v, ok := props["created_at"].(string); ok {
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := props["expires_at"].(string); ok {
		sess.ExpiresAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return sess
}

func (s *Neo4jStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == uuid.Nil {
		return apperr.ErrInvalidArgument
	}
	dbsess := s.session(ctx)
	defer dbsess.Close(ctx)
	_, err := neo4j.ExecuteWrite(ctx, dbsess, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `CREATE (s:Session) SET s = $props`, map[string]any{"props": sessionToProps(sess)})
		return nil, err
	})
	return err
}

func (s *Neo4jStore) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	dbsess := s.session(ctx)
	defer dbsess.Close(ctx)
	return neo4j.ExecuteRead(ctx, dbsess, func(tx neo4j.ManagedTransaction) (*domain.Session, error) {
		rec, err := tx.Run(ctx, `MATCH (s:Session {id: $id}) RETURN s`, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		single, err := rec.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		node, _ := single.Get("s")
		return propsToSession(node.(neo4j.Node).Props), nil
	})
}

func (s *Neo4jStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	dbsess := s.session(ctx)
	defer dbsess.Close(ctx)
	return neo4j.ExecuteRead(ctx, dbsess, func(tx neo4j.ManagedTransaction) ([]*domain.Session, error) {
		rec, err := tx.Run(ctx, `MATCH (s:Session) RETURN s ORDER BY s.created_at DESC`, nil)
		if err != nil {
			return nil, err
		}
		var out []*domain.Session
		for rec.Next(ctx) {
			node, _ := rec.Record().Get("s")
			out = append(out, propsToSession(node.(neo4j.Node).Props))
		}
		return out, rec.Err()
	})
}

func (s *Neo4jStore) TransitionSession(ctx context.Context, id uuid.UUID, from, to domain.SessionStatus) error {
	if !domain.ValidTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, apperr.ErrInvalidArgument)
	}
	dbsess := s.session(ctx)
	defer dbsess.Close(ctx)
	_, err := neo4j.ExecuteWrite(ctx, dbsess, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := tx.Run(ctx, `MATCH (s:Session {id: $id})
			WITH s, s.status AS current
			SET s.status = CASE WHEN current = $from THEN $to ELSE current END
			RETURN current`, map[string]any{
			"id":   id.String(),
			"from": string(from),
			"to":   string(to),
		})
		if err != nil {
			return nil, err
		}
		single, err := rec.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		currentAny, _ := single.Get("current")
		current, _ := currentAny.(string)
		if current != string(from) {
			if domain.SessionStatus(current) == domain.SessionCrystallized {
				return nil, fmt.Errorf("session %s: %w", id, apperr.ErrImmutableSession)
			}
			return nil, fmt.Errorf("session %s is %s, expected %s: %w", id, current, from, apperr.ErrInvalidArgument)
		}
		return nil, nil
	})
	return err
}
