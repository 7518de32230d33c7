// Package llm provides the streaming LLM client used by the agent loop.
package llm

import "context"

// Client is the interface for calling the LLM provider.
// It provides a channel-based streaming API so callers can forward text
// chunks to an attached frontend while the response is still generating.
type Client interface {
	// Generate sends a conversation to the LLM and returns a stream of chunks.
	// The returned channel is closed when the stream completes.
	// Errors are delivered as ErrorChunk values in the channel.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Close releases any underlying connections.
	Close() error
}

// GenerateInput is a single Generate request.
type GenerateInput struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition // nil = no tools
}

// Message is one conversation turn.
type Message struct {
	Role      string // "user", "assistant", "tool_result"
	Content   string
	ToolCalls []ToolCall // for assistant messages
	ToolUseID string     // for tool result messages
	ToolName  string     // for tool result messages
}

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema
}

// ToolCall represents the LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the LLM's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a chunk of the LLM's internal reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the LLM wants to call a tool. Emitted once per call,
// after the full argument JSON has accumulated.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this LLM call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// CodeTimeout marks error chunks caused by a deadline rather than a
// provider-reported failure.
const CodeTimeout = "timeout"

// ErrorChunk signals an error from the LLM provider.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

// Timeout reports whether the error was a deadline expiry. The conversation
// state is still coherent after a timeout; other errors leave it unreliable.
func (c *ErrorChunk) Timeout() bool { return c.Code == CodeTimeout }

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
