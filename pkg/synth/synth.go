// Package synth turns execution outcomes into a single user-facing
// response. Generation failures degrade to a deterministic summary so a
// turn always produces an answer.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sidekicklabs/sidekick/pkg/conversation"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/model"
	"github.com/sidekicklabs/sidekick/pkg/plan"
)

const systemPrompt = "You are a device assistant. Summarize the results of the " +
	"operations below into one concise answer to the user's request. Mention " +
	"failures honestly. Do not invent data that is not in the results."

// Synthesizer builds the final response for a turn.
type Synthesizer struct {
	generator   model.Generator
	modelName   string
	temperature float64
	maxTokens   int // context budget for the summary prompt

	encoding *tiktoken.Tiktoken
}

// New creates a synthesizer. maxContextTokens bounds the execution summary
// included in the prompt; 0 means 4096.
func New(generator model.Generator, modelName string, temperature float64, maxContextTokens int) *Synthesizer {
	if maxContextTokens <= 0 {
		maxContextTokens = 4096
	}
	// Token counting degrades to a byte heuristic when the encoding is
	// unavailable (first use downloads it).
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Synthesizer{
		generator:   generator,
		modelName:   modelName,
		temperature: temperature,
		maxTokens:   maxContextTokens,
		encoding:    enc,
	}
}

// Synthesize produces the response text for a finished plan. The returned
// error is non-nil when generation failed and the deterministic fallback
// was used; the response is always usable.
func (s *Synthesizer) Synthesize(ctx context.Context, p *plan.ExecutionPlan, executions []*plan.ToolExecution, history conversation.History) (string, error) {
	summary := s.buildSummary(p, executions)

	if s.generator == nil {
		return fallbackResponse(p, executions), errors.New(errors.CodeSynthesisFailed, "no generator configured")
	}

	messages := []model.Message{{Role: "system", Content: systemPrompt}}
	if history != nil {
		for _, msg := range history.Recent(6) {
			messages = append(messages, model.Message{Role: string(msg.Role), Content: msg.Content})
		}
	}
	messages = append(messages, model.Message{
		Role:    "user",
		Content: fmt.Sprintf("Request: %s\n\n%s", p.Intent, summary),
	})

	resp, err := s.generator.Generate(ctx, model.ChatRequest{
		Model:       s.modelName,
		Messages:    messages,
		Temperature: s.temperature,
	})
	if err != nil {
		return fallbackResponse(p, executions), errors.Wrap(err, errors.CodeSynthesisFailed, "generation failed")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return fallbackResponse(p, executions), errors.New(errors.CodeSynthesisFailed, "generator returned empty response")
	}
	return resp.Content, nil
}

// buildSummary renders execution outcomes newest-last and trims the oldest
// entries until the text fits the token budget.
func (s *Synthesizer) buildSummary(p *plan.ExecutionPlan, executions []*plan.ToolExecution) string {
	lines := make([]string, 0, len(executions))
	for _, ex := range executions {
		lines = append(lines, executionLine(ex))
	}

	header := fmt.Sprintf("Plan finished with status %s. Operation results:\n", p.Status)
	for start := 0; start < len(lines); start++ {
		body := strings.Join(lines[start:], "\n")
		text := header + body
		if s.countTokens(text) <= s.maxTokens {
			if start > 0 {
				return header + fmt.Sprintf("(%d earlier results omitted)\n", start) + body
			}
			return text
		}
	}
	return header + "(results omitted: too large)"
}

func (s *Synthesizer) countTokens(text string) int {
	if s.encoding == nil {
		return len(text) / 4
	}
	return len(s.encoding.Encode(text, nil, nil))
}

func executionLine(ex *plan.ToolExecution) string {
	switch ex.Outcome {
	case plan.OutcomeSkipped:
		return fmt.Sprintf("- %s: skipped (%s)", ex.Tool, ex.Error)
	case plan.OutcomeCancelled:
		return fmt.Sprintf("- %s: cancelled", ex.Tool)
	case plan.OutcomeFailed:
		return fmt.Sprintf("- %s: failed: %s", ex.Tool, ex.Error)
	}
	if ex.Result != nil && ex.Result.Message != "" {
		line := fmt.Sprintf("- %s: %s", ex.Tool, ex.Result.Message)
		if len(ex.Result.Data) > 0 {
			line += fmt.Sprintf(" %v", ex.Result.Data)
		}
		return line
	}
	return fmt.Sprintf("- %s: done", ex.Tool)
}

// fallbackResponse lists every outcome verbatim. It is deterministic given
// the executions, so a generation outage never hides results.
func fallbackResponse(p *plan.ExecutionPlan, executions []*plan.ToolExecution) string {
	if len(executions) == 0 {
		return fmt.Sprintf("I couldn't find any device operation for %q.", p.Intent)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here is what happened for %q:\n", p.Intent)
	for _, ex := range executions {
		b.WriteString(executionLine(ex))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
