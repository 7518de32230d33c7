package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pinnokio/orchestrator/pkg/llm"
)

const summarizeSystem = "Summarize the following conversation between a user and an accounting " +
	"assistant. Keep all task identifiers, amounts, document references and decisions. " +
	"Answer with the summary only."

// summarize produces a compact recap of the conversation for history
// reseeding. Uses a plain text call without tools.
func (r *Runner) summarize(ctx context.Context, history []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range history {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&transcript, " [called %s %s]", tc.Name, tc.Arguments)
		}
		transcript.WriteString("\n")
	}

	ch, err := r.llm.Generate(ctx, &llm.GenerateInput{
		System:   summarizeSystem,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: transcript.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}

	var out strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			out.WriteString(c.Content)
		case *llm.ErrorChunk:
			return "", fmt.Errorf("summarization provider error: %s", c.Message)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("summarization returned empty text")
	}
	return out.String(), nil
}
