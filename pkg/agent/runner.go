package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/llm"
	"github.com/pinnokio/orchestrator/pkg/session"
	"github.com/pinnokio/orchestrator/pkg/tools"
)

// maxToolResultChars truncates tool outputs folded into the conversation.
const maxToolResultChars = 4000

// ToolExecutor abstracts tool execution for the loop.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, env *tools.Env) (*tools.Result, error)
}

// Runner executes agent runs against one LLM client and tool executor.
type Runner struct {
	llm      llm.Client
	executor ToolExecutor
	cfg      config.AgentConfig
	system   string
	toolDefs []llm.ToolDefinition
}

// NewRunner creates an agent runner.
func NewRunner(llmClient llm.Client, executor ToolExecutor, cfg config.AgentConfig, systemPrompt string) *Runner {
	return &Runner{
		llm:      llmClient,
		executor: executor,
		cfg:      cfg,
		system:   systemPrompt,
		toolDefs: tools.Definitions(),
	}
}

// Run drives one input to completion or suspension on the given brain. The
// caller must hold the brain's run lock. onText receives streamed text deltas
// when non-nil.
func (r *Runner) Run(ctx context.Context, brain *session.Brain, env *tools.Env, input string, onText func(string)) *RunResult {
	result := &RunResult{}
	currentInput := input

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		status, message := r.runTurns(ctx, brain, env, currentInput, input, result, onText)
		result.Status = status
		result.Message = message

		switch status {
		case StatusMissionCompleted, StatusErrorFatal:
			brain.ClearHistory()
			return result
		case StatusMaxTurnsReached:
			if iteration == r.cfg.MaxIterations {
				return result
			}
			// Carry the partial report into a fresh attempt.
			currentInput = fmt.Sprintf(
				"PREVIOUS ATTEMPT REPORT: %s\n\nThe task is not finished. Original query: %s",
				message, input)
		default:
			// LPT_IN_PROGRESS, TEXT_OUTPUT, NO_IA_ACTION exit without retry.
			return result
		}
	}
	return result
}

// runTurns is the inner loop: one entry per LLM call.
func (r *Runner) runTurns(ctx context.Context, brain *session.Brain, env *tools.Env, turnInput, originalQuery string, result *RunResult, onText func(string)) (RunStatus, string) {
	brain.Append(llm.Message{Role: llm.RoleUser, Content: turnInput})

	var lastText string
	for turn := 1; turn <= r.cfg.MaxTurns; turn++ {
		result.Turns++

		// 1. Token budget self-healing, invisible to the user.
		if err := r.healTokenBudget(ctx, brain, originalQuery); err != nil {
			slog.Error("Summarization failed", "thread_key", brain.ThreadKey, "error", err)
			return StatusErrorFatal, fmt.Sprintf("conversation summarization failed: %v", err)
		}

		// 2. Call the LLM in tool-use mode.
		turnResp, err := r.callLLM(ctx, brain.History(), onText)
		if err != nil {
			// A timed-out call leaves the conversation intact; anything else
			// means the stream state is unreliable.
			if errors.Is(err, context.DeadlineExceeded) {
				return StatusNoAction, "the model did not respond in time"
			}
			return StatusErrorFatal, err.Error()
		}
		if turnResp.usage != nil {
			brain.SetLastInputTokens(turnResp.usage.InputTokens)
		}

		// 3. Classify the response blocks.
		if turnResp.text == "" && len(turnResp.toolCalls) == 0 {
			return StatusNoAction, "the assistant produced no actionable response"
		}

		brain.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turnResp.text,
			ToolCalls: turnResp.toolCalls,
		})

		if len(turnResp.toolCalls) == 0 {
			// Plain text is a clarification back to the caller.
			return StatusTextOutput, turnResp.text
		}
		lastText = turnResp.text

		// 4. Execute tool calls; TERMINATE_TASK is intercepted here.
		suspended := false
		for _, call := range turnResp.toolCalls {
			if call.Name == tools.ToolTerminateTask {
				return StatusMissionCompleted, terminateConclusion(call.Arguments)
			}

			res, err := r.executor.Execute(ctx, call, env)
			if err != nil {
				return StatusErrorFatal, fmt.Sprintf("tool %s failed: %v", call.Name, err)
			}
			brain.Append(llm.Message{
				Role:      llm.RoleToolResult,
				Content:   truncate(res.Content, maxToolResultChars),
				ToolUseID: res.CallID,
				ToolName:  res.Name,
			})
			if res.LPTQueued {
				result.TaskIDs = append(result.TaskIDs, res.TaskID)
				brain.TrackLPT(res.TaskID)
				suspended = true
			}
		}
		if suspended {
			return StatusLPTInProgress, suspensionNotice(lastText)
		}
	}

	report := lastText
	if report == "" {
		report = "turn budget exhausted without a conclusion"
	}
	return StatusMaxTurnsReached, report
}

// turnResponse accumulates one LLM call's stream.
type turnResponse struct {
	text      string
	thinking  string
	toolCalls []llm.ToolCall
	usage     *llm.UsageChunk
}

func (r *Runner) callLLM(ctx context.Context, history []llm.Message, onText func(string)) (*turnResponse, error) {
	ch, err := r.llm.Generate(ctx, &llm.GenerateInput{
		System:   r.system,
		Messages: history,
		Tools:    r.toolDefs,
	})
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	resp := &turnResponse{}
	var text strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
			if onText != nil {
				onText(c.Content)
			}
		case *llm.ThinkingChunk:
			resp.thinking += c.Content
		case *llm.ToolCallChunk:
			resp.toolCalls = append(resp.toolCalls, llm.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *llm.UsageChunk:
			resp.usage = c
		case *llm.ErrorChunk:
			if c.Timeout() {
				return nil, fmt.Errorf("llm call timed out: %w", context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("llm provider error: %s", c.Message)
		}
	}
	resp.text = text.String()
	return resp, nil
}

// healTokenBudget summarizes and reseeds the history once the provider's
// reported context size meets the budget.
func (r *Runner) healTokenBudget(ctx context.Context, brain *session.Brain, originalQuery string) error {
	tokens := brain.LastInputTokens()
	history := brain.History()
	if tokens == 0 {
		tokens = llm.EstimateConversationTokens(history)
	}
	if tokens < r.cfg.TokenBudget {
		return nil
	}

	slog.Info("Token budget reached, summarizing conversation",
		"thread_key", brain.ThreadKey, "tokens", tokens, "budget", r.cfg.TokenBudget)

	summary, err := r.summarize(ctx, history)
	if err != nil {
		return err
	}
	brain.ReplaceHistory([]llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("PRIOR CONVERSATION SUMMARY: %s\nCURRENT QUERY: %s", summary, originalQuery),
	}})
	brain.SetLastInputTokens(0)
	return nil
}

// terminateConclusion extracts the user-facing conclusion from the
// TERMINATE_TASK arguments.
func terminateConclusion(arguments string) string {
	var args struct {
		Conclusion string `json:"conclusion"`
		Result     string `json:"result"`
		Reason     string `json:"reason"`
	}
	_ = json.Unmarshal([]byte(arguments), &args)
	if args.Conclusion != "" {
		return args.Conclusion
	}
	if args.Result != "" {
		return args.Result
	}
	return "Mission completed."
}

func suspensionNotice(assistantText string) string {
	if assistantText != "" {
		return assistantText
	}
	return "⏳ Task queued, I remain available."
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "… [truncated]"
}
