package decomposer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/example/hybridplanner/internal/domain"
)

const systemPrompt = `You decompose goals into hierarchical task networks.
Reply with a single JSON object and nothing else:
{"root": "<task id>",
 "tasks": [{"id": "t1", "name": "<task name>", "kind": "primitive|composite",
            "method": "<method name, composites only>", "params": {"k": "v"},
            "children": ["<child ids>"], "terminal": false}],
 "dependencies": [{"from": "<task id>", "to": "<task id>"}]}
Use only the operators and methods listed. A dependency means "from" must
finish before "to" starts. Add a dependency whenever a task needs a fact
another task establishes.`

// LLMGenerator asks a language model for candidates.
type LLMGenerator struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

// NewLLMGenerator wraps a langchaingo model.
func NewLLMGenerator(model llms.Model, temperature float64, maxTokens int) *LLMGenerator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMGenerator{model: model, temperature: temperature, maxTokens: maxTokens}
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*Candidate, error) {
	if req.Snapshot == nil {
		return nil, &GenerationError{Kind: KindProviderError, Message: "request has no domain snapshot"}
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(req)),
	}
	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, InvalidOutput("model returned no choices")
	}
	choice := resp.Choices[0]

	plan, err := ParseCandidate(choice.Content, req)
	if err != nil {
		return nil, err
	}
	return &Candidate{Plan: plan, Cost: tokenCost(choice.GenerationInfo), Raw: choice.Content}, nil
}

// tokenCost reads the token usage providers report in GenerationInfo.
func tokenCost(info map[string]any) float64 {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		switch v := info[key].(type) {
		case int:
			return float64(v)
		case int32:
			return float64(v)
		case int64:
			return float64(v)
		case float64:
			return v
		}
	}
	return 0
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Intent)

	if len(req.Context) > 0 {
		b.WriteString("Context:\n")
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s = %s\n", k, req.Context[k])
		}
	}
	if req.State.Len() > 0 {
		fmt.Fprintf(&b, "Initially true: %s\n", req.State)
	}

	snap := req.Snapshot
	fmt.Fprintf(&b, "\nDomain %s (version %d)\nOperators:\n", snap.DomainID, snap.Version)
	for _, op := range snap.Operators() {
		fmt.Fprintf(&b, "- %s(%s) requires [%s] establishes [%s] cost %.1f\n",
			op.Name, strings.Join(op.Params, ", "), joinFacts(op.Preconditions), joinFacts(op.Effects), op.Cost)
	}
	b.WriteString("Methods:\n")
	for _, m := range snap.Methods() {
		names := make([]string, len(m.Subtasks))
		for i, st := range m.Subtasks {
			names[i] = st.Name
		}
		order := "unordered"
		if m.Ordered {
			order = "in order"
		}
		fmt.Fprintf(&b, "- %s decomposes %s(%s) when [%s] into [%s] %s\n",
			m.Name, m.Task, strings.Join(m.Params, ", "), joinFacts(m.Preconditions), strings.Join(names, ", "), order)
	}

	var hard, soft []string
	for _, c := range req.Constraints {
		if c.Soft {
			soft = append(soft, c.String())
		} else {
			hard = append(hard, c.String())
		}
	}
	if len(hard) > 0 {
		b.WriteString("\nA previous attempt was rejected. You must fix:\n")
		for _, s := range hard {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(soft) > 0 {
		b.WriteString("\nLessons from similar goals:\n")
		for _, s := range soft {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

func joinFacts(fs []domain.Fact) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}
