package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of a text. Used when the
// provider has not yet reported usage for the current conversation (e.g. the
// first turn after a session rehydrates). Falls back to a bytes/4 heuristic
// when the encoding is unavailable.
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// EstimateConversationTokens approximates total tokens across a conversation,
// including tool call payloads.
func EstimateConversationTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += EstimateTokens(tc.Arguments)
		}
		// per-message framing overhead
		total += 4
	}
	return total
}
