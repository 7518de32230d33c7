package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// AnthropicClient implements Client against an Anthropic-compatible Messages
// API using server-sent events.
type AnthropicClient struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

// NewAnthropicClient creates a streaming client for the configured endpoint.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate sends the conversation and streams chunks back on the returned
// channel. The channel is closed when the stream ends; provider errors are
// delivered in-band as ErrorChunk.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	body, err := json.Marshal(c.buildRequest(input))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		c.consumeStream(ctx, resp.Body, out)
	}()
	return out, nil
}

// Close implements Client. The HTTP client holds no persistent state.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildRequest converts the provider-neutral input to the wire format.
// Tool result messages become user-role tool_result blocks, per the
// Messages API contract.
func (c *AnthropicClient) buildRequest(input *GenerateInput) *messagesRequest {
	req := &messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      input.System,
		Stream:      true,
	}

	for _, msg := range input.Messages {
		switch msg.Role {
		case RoleUser:
			req.Messages = append(req.Messages, apiMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})

		case RoleAssistant:
			var content []contentBlock
			if msg.Content != "" {
				content = append(content, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					// tool_use input must be an object, never null
					_ = json.Unmarshal([]byte(tc.Arguments), &args)
				}
				content = append(content, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: args,
				})
			}
			if len(content) > 0 {
				req.Messages = append(req.Messages, apiMessage{Role: "assistant", Content: content})
			}

		case RoleToolResult:
			req.Messages = append(req.Messages, apiMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolUseID,
					Content:   msg.Content,
				}},
			})
		}
	}

	for _, tool := range input.Tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		req.Tools = append(req.Tools, apiTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return req
}

// consumeStream parses the SSE stream and emits chunks. Tool call arguments
// arrive as input_json_delta fragments indexed by content block; each call is
// emitted once its block stops.
func (c *AnthropicClient) consumeStream(ctx context.Context, body io.Reader, out chan<- Chunk) {
	var usage apiUsage
	toolBlocks := make(map[int]*ToolCallChunk)
	toolInputs := make(map[int]*strings.Builder)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event streamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				toolBlocks[event.Index] = &ToolCallChunk{
					CallID: event.ContentBlock.ID,
					Name:   event.ContentBlock.Name,
				}
				toolInputs[event.Index] = &strings.Builder{}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					if !emit(ctx, out, &TextChunk{Content: event.Delta.Text}) {
						return
					}
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" {
					if !emit(ctx, out, &ThinkingChunk{Content: event.Delta.Thinking}) {
						return
					}
				}
			case "input_json_delta":
				if buf, ok := toolInputs[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if tc, ok := toolBlocks[event.Index]; ok {
				tc.Arguments = "{}"
				if buf := toolInputs[event.Index]; buf != nil && buf.Len() > 0 {
					tc.Arguments = buf.String()
				}
				delete(toolBlocks, event.Index)
				delete(toolInputs, event.Index)
				if !emit(ctx, out, tc) {
					return
				}
			}

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			total := usage.InputTokens + usage.OutputTokens
			emit(ctx, out, &UsageChunk{
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				TotalTokens:  total,
			})
			return

		case "error":
			msg := "provider error"
			code := ""
			if event.Error != nil {
				msg = event.Error.Message
				code = event.Error.Type
			}
			emit(ctx, out, &ErrorChunk{
				Message:   msg,
				Code:      code,
				Retryable: code == "overloaded_error" || code == "rate_limit_error",
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("LLM stream read failed", "error", err)
		code := ""
		// Mid-stream deadline expiries (client timeout or caller context)
		// classify as timeouts, not provider failures.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = CodeTimeout
		}
		emit(ctx, out, &ErrorChunk{Message: err.Error(), Code: code, Retryable: true})
	}
}

// emit sends a chunk unless the context is cancelled. Returns false when the
// consumer is gone.
func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Client = (*AnthropicClient)(nil)
