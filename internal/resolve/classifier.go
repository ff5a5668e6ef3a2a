package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/pkg/httpx"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/pkg/retry"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type Verdict string

const (
	VerdictMerge    Verdict = "MERGE"
	VerdictLink     Verdict = "LINK"
	VerdictConflict Verdict = "CONFLICT"
)

// Pair is one draft-vs-candidate comparison, carrying the cosine
// similarity already computed by the candidate search.
type Pair struct {
	Source     *domain.Node
	Target     *domain.Node
	Similarity float64
}

// Proposal is one classified relation between a draft and a target.
type Proposal struct {
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	Verdict    Verdict   `json:"verdict"`
	Relation   string    `json:"relation,omitempty"` // LINK only
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// Options hold the tier thresholds. Empirical values; tune, don't trust.
type Options struct {
	AutoMergeCosine float64
	AutoMergeFuzzy  int
	AmbiguousFloor  float64
	BatchSize       int
}

func DefaultOptions() Options {
	return Options{
		AutoMergeCosine: 0.98,
		AutoMergeFuzzy:  90,
		AmbiguousFloor:  0.75,
		BatchSize:       15,
	}
}

// Classifier applies the tiered decision policy. Tiers 1 and 2 are
// deterministic and free; tier 3 batches the ambiguous pairs through the
// LLM behind the shared rate gate.
type Classifier struct {
	llm   jsonGenerator
	gate  *rategate.Gate
	retry retry.Policy
	opts  Options
	log   *logger.Logger
}

func NewClassifier(llm jsonGenerator, gate *rategate.Gate, opts Options, log *logger.Logger) *Classifier {
	pol := retry.DefaultPolicy()
	pol.Retryable = httpx.IsRetryableError
	return &Classifier{
		llm:   llm,
		gate:  gate,
		retry: pol,
		opts:  opts,
		log:   log.With("service", "ResolutionClassifier"),
	}
}

// Classify labels each pair MERGE, LINK, or CONFLICT, or proposes
// nothing for it. It never returns an error: an abandoned batch drops
// its pairs while keeping every proposal computed before it.
func (c *Classifier) Classify(ctx context.Context, pairs []Pair) []Proposal {
	proposals := make([]Proposal, 0, len(pairs))
	var ambiguous []Pair

	for _, p := range pairs {
		if p.Source == nil || p.Target == nil {
			continue
		}
		switch {
		case p.Similarity > c.opts.AutoMergeCosine:
			proposals = append(proposals, Proposal{
				SourceID:   p.Source.ID,
				TargetID:   p.Target.ID,
				Verdict:    VerdictMerge,
				Confidence: p.Similarity,
				Reason:     "near-identical embedding",
			})
		case FuzzyRatio(p.Source.Label, p.Target.Label) > c.opts.AutoMergeFuzzy:
			proposals = append(proposals, Proposal{
				SourceID:   p.Source.ID,
				TargetID:   p.Target.ID,
				Verdict:    VerdictMerge,
				Confidence: float64(FuzzyRatio(p.Source.Label, p.Target.Label)) / 100,
				Reason:     "near-identical label",
			})
		case p.Similarity > c.opts.AmbiguousFloor:
			ambiguous = append(ambiguous, p)
		}
	}

	for start := 0; start < len(ambiguous); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(ambiguous) {
			end = len(ambiguous)
		}
		batch := ambiguous[start:end]
		got, err := c.classifyBatch(ctx, batch)
		if err != nil {
			c.log.Warn("Classification batch abandoned",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err.Error(),
			)
			continue
		}
		proposals = append(proposals, got...)
	}
	return proposals
}

var classifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdicts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index":      map[string]any{"type": "integer"},
					"verdict":    map[string]any{"type": "string", "enum": []string{"MERGE", "LINK", "CONFLICT", "NONE"}},
					"relation":   map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
					"reason":     map[string]any{"type": "string"},
				},
				"required":             []string{"index", "verdict", "relation", "confidence", "reason"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"verdicts"},
	"additionalProperties": false,
}

const classifySystem = `You reconcile draft concepts from a study session against an existing knowledge graph.
For each numbered pair decide:
- MERGE: the two describe the same concept.
- LINK: distinct but related; name the relation (e.g. PART_OF, CAUSES, PREREQUISITE, RELATED_TO).
- CONFLICT: they contradict each other; give the reason.
- NONE: no meaningful relation.`

func (c *Classifier) classifyBatch(ctx context.Context, batch []Pair) ([]Proposal, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("classifier admission: %w", err)
	}

	var b strings.Builder
	for i, p := range batch {
		fmt.Fprintf(&b, "[%d]\nDRAFT: %s: %s\nEXISTING: %s: %s\n\n",
			i, p.Source.Label, trim(p.Source.Body, 300), p.Target.Label, trim(p.Target.Body, 300))
	}

	var obj map[string]any
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		obj, callErr = c.llm.GenerateJSON(ctx, classifySystem, b.String(), "resolution_verdicts", classifySchema)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	rawVerdicts, ok := obj["verdicts"].([]any)
	if !ok {
		c.log.Warn("Classifier output missing verdicts array; no verdict for batch")
		return nil, nil
	}

	out := make([]Proposal, 0, len(rawVerdicts))
	for _, raw := range rawVerdicts {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idxF, ok := m["index"].(float64)
		if !ok {
			continue
		}
		idx := int(idxF)
		if idx < 0 || idx >= len(batch) {
			continue
		}
		verdict := Verdict(strings.ToUpper(str(m["verdict"])))
		if verdict != VerdictMerge && verdict != VerdictLink && verdict != VerdictConflict {
			continue
		}
		prop := Proposal{
			SourceID:   batch[idx].Source.ID,
			TargetID:   batch[idx].Target.ID,
			Verdict:    verdict,
			Confidence: num(m["confidence"]),
			Reason:     str(m["reason"]),
		}
		if verdict == VerdictLink {
			prop.Relation = normalizeRelation(str(m["relation"]))
		}
		out = append(out, prop)
	}
	return out, nil
}

// normalizeRelation uppercases and underscores a model-proposed relation
// name; an empty one falls back to RELATED_TO.
func normalizeRelation(rel string) string {
	rel = strings.ToUpper(strings.TrimSpace(rel))
	rel = strings.ReplaceAll(rel, " ", "_")
	rel = strings.ReplaceAll(rel, "-", "_")
	if rel == "" {
		return domain.EdgeRelatedTo
	}
	return rel
}

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
