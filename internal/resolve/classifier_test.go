package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type fakeLLM struct {
	calls     int
	responses []map[string]any
	errs      []error
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return map[string]any{"verdicts": []any{}}, nil
}

func draft(label string) *domain.Node {
	return &domain.Node{ID: uuid.New(), Kind: domain.NodeDraftConcept, Label: label, Body: label}
}

func concept(label string) *domain.Node {
	return &domain.Node{ID: uuid.New(), Kind: domain.NodeConcept, Label: label, Body: label}
}

func newClassifier(llm *fakeLLM, opts Options) *Classifier {
	return NewClassifier(llm, rategate.New(100, 100), opts, logger.NewNop())
}

func TestTierOneShortcutSkipsLLM(t *testing.T) {
	llm := &fakeLLM{}
	c := newClassifier(llm, DefaultOptions())

	got := c.Classify(context.Background(), []Pair{
		{Source: draft("Entropy"), Target: concept("Thermodynamic Entropy"), Similarity: 0.99},
	})
	if llm.calls != 0 {
		t.Fatalf("near-identical embedding must not reach the LLM, calls=%d", llm.calls)
	}
	if len(got) != 1 || got[0].Verdict != VerdictMerge || got[0].Reason != "near-identical embedding" {
		t.Fatalf("wrong tier-1 proposal: %+v", got)
	}
}

func TestTierTwoFuzzyLabelShortcut(t *testing.T) {
	llm := &fakeLLM{}
	c := newClassifier(llm, DefaultOptions())

	got := c.Classify(context.Background(), []Pair{
		{Source: draft("Gradient Descent"), Target: concept("gradient descent"), Similarity: 0.8},
	})
	if llm.calls != 0 {
		t.Fatalf("near-identical label must not reach the LLM, calls=%d", llm.calls)
	}
	if len(got) != 1 || got[0].Verdict != VerdictMerge || got[0].Reason != "near-identical label" {
		t.Fatalf("wrong tier-2 proposal: %+v", got)
	}
}

func TestLowSimilarityProposesNothing(t *testing.T) {
	llm := &fakeLLM{}
	c := newClassifier(llm, DefaultOptions())

	got := c.Classify(context.Background(), []Pair{
		{Source: draft("Entropy"), Target: concept("French Revolution"), Similarity: 0.4},
	})
	if llm.calls != 0 || len(got) != 0 {
		t.Fatalf("sub-floor pair should yield nothing: calls=%d got=%+v", llm.calls, got)
	}
}

func TestAmbiguousBandGoesToLLM(t *testing.T) {
	llm := &fakeLLM{responses: []map[string]any{{
		"verdicts": []any{
			map[string]any{"index": float64(0), "verdict": "CONFLICT", "relation": "", "confidence": 0.9, "reason": "contradictory definitions"},
			map[string]any{"index": float64(1), "verdict": "LINK", "relation": "part of", "confidence": 0.7, "reason": ""},
			map[string]any{"index": float64(2), "verdict": "NONE", "relation": "", "confidence": 0.1, "reason": ""},
		},
	}}}
	c := newClassifier(llm, DefaultOptions())

	pairs := []Pair{
		{Source: draft("Entropy always decreases"), Target: concept("Entropy always increases"), Similarity: 0.8},
		{Source: draft("Backpropagation"), Target: concept("Neural Network Training"), Similarity: 0.8},
		{Source: draft("Unrelated"), Target: concept("Also unrelated"), Similarity: 0.76},
	}
	got := c.Classify(context.Background(), pairs)
	if llm.calls != 1 {
		t.Fatalf("three ambiguous pairs should be one batch, calls=%d", llm.calls)
	}
	if len(got) != 2 {
		t.Fatalf("NONE verdicts must be dropped, got %+v", got)
	}
	if got[0].Verdict != VerdictConflict || got[0].Reason == "" {
		t.Fatalf("conflict proposal missing reason: %+v", got[0])
	}
	if got[1].Verdict != VerdictLink || got[1].Relation != "PART_OF" {
		t.Fatalf("link relation not normalized: %+v", got[1])
	}
}

func TestLinkWithoutRelationDefaultsToRelatedTo(t *testing.T) {
	llm := &fakeLLM{responses: []map[string]any{{
		"verdicts": []any{
			map[string]any{"index": float64(0), "verdict": "LINK", "relation": "", "confidence": 0.6, "reason": ""},
		},
	}}}
	c := newClassifier(llm, DefaultOptions())

	got := c.Classify(context.Background(), []Pair{
		{Source: draft("A"), Target: concept("B"), Similarity: 0.8},
	})
	if len(got) != 1 || got[0].Relation != domain.EdgeRelatedTo {
		t.Fatalf("empty LINK relation should default to RELATED_TO: %+v", got)
	}
}

func TestMalformedOutputIsNoVerdict(t *testing.T) {
	llm := &fakeLLM{responses: []map[string]any{{"unexpected": "shape"}}}
	c := newClassifier(llm, DefaultOptions())

	got := c.Classify(context.Background(), []Pair{
		{Source: draft("A"), Target: concept("B"), Similarity: 0.8},
	})
	if len(got) != 0 {
		t.Fatalf("malformed output must contribute no verdict: %+v", got)
	}
}

func TestAbandonedBatchKeepsEarlierResults(t *testing.T) {
	llm := &fakeLLM{
		responses: []map[string]any{
			{"verdicts": []any{
				map[string]any{"index": float64(0), "verdict": "MERGE", "relation": "", "confidence": 0.9, "reason": "same"},
				map[string]any{"index": float64(1), "verdict": "MERGE", "relation": "", "confidence": 0.9, "reason": "same"},
			}},
			nil,
		},
		errs: []error{nil, fmt.Errorf("provider exploded")},
	}
	opts := DefaultOptions()
	opts.BatchSize = 2
	c := newClassifier(llm, opts)

	pairs := make([]Pair, 0, 4)
	for i := 0; i < 4; i++ {
		pairs = append(pairs, Pair{Source: draft(fmt.Sprintf("D%d", i)), Target: concept(fmt.Sprintf("C%d", i)), Similarity: 0.8})
	}
	got := c.Classify(context.Background(), pairs)
	if llm.calls != 2 {
		t.Fatalf("expected two batch calls, got %d", llm.calls)
	}
	if len(got) != 2 {
		t.Fatalf("first batch's proposals must survive the second batch failing: %+v", got)
	}
}
