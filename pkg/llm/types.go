package llm

// Wire types for the Anthropic-compatible Messages API.

// messagesRequest is the request body for the Messages endpoint.
type messagesRequest struct {
	Model       string          `json:"model"`
	Messages    []apiMessage    `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []apiTool       `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// apiMessage is one message in the request.
type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is a single content block within a message.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// apiTool is the provider-side tool definition.
type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// streamEvent is one SSE event from the streaming Messages endpoint.
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	Message      *streamMessage `json:"message,omitempty"`
	ContentBlock *contentBlock  `json:"content_block,omitempty"`
	Delta        *streamDelta   `json:"delta,omitempty"`
	Usage        *apiUsage      `json:"usage,omitempty"`
	Error        *apiError      `json:"error,omitempty"`
}

// streamMessage carries initial metadata on message_start.
type streamMessage struct {
	ID    string   `json:"id"`
	Model string   `json:"model"`
	Usage apiUsage `json:"usage"`
}

// streamDelta carries incremental content on content_block_delta and the stop
// reason on message_delta.
type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// apiUsage is the provider's token accounting.
type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
