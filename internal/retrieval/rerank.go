package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/veldt/crystal-backend/internal/domain"
	"github.com/veldt/crystal-backend/internal/pkg/rategate"
	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// LLMReranker asks the classifier model to reorder the merged candidate
// list by pairwise relevance to the query. Like every classifier call
// site it acquires the shared rate gate first.
type LLMReranker struct {
	llm  jsonGenerator
	gate *rategate.Gate
	log  *logger.Logger
}

func NewLLMReranker(llm jsonGenerator, gate *rategate.Gate, log *logger.Logger) *LLMReranker {
	return &LLMReranker{
		llm:  llm,
		gate: gate,
		log:  log.With("service", "LLMReranker"),
	}
}

var rerankSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"order": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer"},
		},
	},
	"required":             []string{"order"},
	"additionalProperties": false,
}

const rerankSystem = `You rank retrieved knowledge snippets by relevance to a question.
Return the indexes of ALL given items, most relevant first. Use every index exactly once.`

func (r *LLMReranker) Rerank(ctx context.Context, query string, items []domain.RankedResult) ([]int, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if err := r.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rerank admission: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nItems:\n", query)
	for i, item := range items {
		text := item.Node.Label
		if item.Node.Body != "" {
			text = text + ": " + excerpt(item.Node.Body, 240)
		}
		fmt.Fprintf(&b, "[%d] %s\n", i, text)
	}

	obj, err := r.llm.GenerateJSON(ctx, rerankSystem, b.String(), "rerank_order", rerankSchema)
	if err != nil {
		return nil, err
	}
	rawOrder, ok := obj["order"].([]any)
	if !ok {
		return nil, fmt.Errorf("rerank output missing order array")
	}
	order := make([]int, 0, len(rawOrder))
	for _, v := range rawOrder {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("rerank output has non-integer index")
		}
		order = append(order, int(f))
	}
	return order, nil
}
