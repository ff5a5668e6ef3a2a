// Package export renders graph snapshots as Mermaid diagrams and
// Markdown outlines.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type Service struct {
	store graph.Store
	log   *logger.Logger
}

func NewService(store graph.Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log.With("service", "ExportService")}
}

// Mermaid renders the concept graph (optionally one session's slice) as
// a flowchart. Merged-away nodes and source anchors are omitted.
func (s *Service) Mermaid(ctx context.Context, sessionID *uuid.UUID) (string, error) {
	nodes, edges, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("graph TD\n")

	included := map[uuid.UUID]string{}
	for i, n := range nodes {
		if !exportable(n) {
			continue
		}
		alias := fmt.Sprintf("n%d", i)
		included[n.ID] = alias
		label := mermaidEscape(n.Label)
		switch n.Kind {
		case domain.NodeConcept:
			fmt.Fprintf(&b, "    %s[\"%s\"]\n", alias, label)
		case domain.NodeDraftConcept:
			fmt.Fprintf(&b, "    %s([\"%s\"])\n", alias, label)
		case domain.NodeSeed:
			fmt.Fprintf(&b, "    %s>\"%s\"]\n", alias, label)
		}
	}
	for _, e := range edges {
		from, okFrom := included[e.From]
		to, okTo := included[e.To]
		if !okFrom || !okTo {
			continue
		}
		fmt.Fprintf(&b, "    %s -->|%s| %s\n", from, e.Type, to)
	}
	return b.String(), nil
}

// Markdown renders a concept outline: each concept with its definition,
// mastery, and outgoing relations.
func (s *Service) Markdown(ctx context.Context, sessionID *uuid.UUID) (string, error) {
	nodes, edges, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return "", err
	}

	byID := map[uuid.UUID]*domain.Node{}
	var concepts []*domain.Node
	for _, n := range nodes {
		byID[n.ID] = n
		if n.Kind == domain.NodeConcept && n.MergedInto == nil {
			concepts = append(concepts, n)
		}
	}
	sort.Slice(concepts, func(i, j int) bool { return concepts[i].Label < concepts[j].Label })

	outgoing := map[uuid.UUID][]*domain.Edge{}
	for _, e := range edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	var b strings.Builder
	b.WriteString("# Knowledge Graph\n")
	for _, c := range concepts {
		fmt.Fprintf(&b, "\n## %s\n\n", c.Label)
		if c.Body != "" {
			fmt.Fprintf(&b, "%s\n\n", c.Body)
		}
		fmt.Fprintf(&b, "- Mastery: %.2f\n", c.Mastery)
		for _, e := range outgoing[c.ID] {
			target, ok := byID[e.To]
			if !ok || !exportable(target) {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", e.Type, target.Label)
		}
	}
	return b.String(), nil
}

func exportable(n *domain.Node) bool {
	return n != nil && n.Kind != domain.NodeSource && n.MergedInto == nil
}

func mermaidEscape(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
