package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	short := EstimateTokens("hello world")
	assert.Greater(t, short, 0)
	long := EstimateTokens("hello world, this is a much longer sentence about bank reconciliation")
	assert.Greater(t, long, short)
}

func TestEstimateConversationTokens(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "book the invoice"},
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{
			{ID: "c1", Name: "GET_STRUCTURED_DATA", Arguments: `{"path":"clients/u1/mandates"}`},
		}},
	}
	total := EstimateConversationTokens(messages)
	assert.Greater(t, total, EstimateTokens("book the invoice"))
}
