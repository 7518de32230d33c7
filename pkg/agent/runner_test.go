package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/llm"
	"github.com/pinnokio/orchestrator/pkg/models"
	"github.com/pinnokio/orchestrator/pkg/session"
	"github.com/pinnokio/orchestrator/pkg/tools"
)

// scriptedLLM replays a fixed sequence of chunk lists, one per Generate call.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	inputs  []*llm.GenerateInput
}

func (s *scriptedLLM) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	if len(s.scripts) == 0 {
		return nil, fmt.Errorf("scriptedLLM: no script left for call %d", len(s.inputs))
	}
	script := s.scripts[0]
	s.scripts = s.scripts[1:]

	ch := make(chan llm.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

// recordingExecutor returns canned results per tool name.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []llm.ToolCall
	results map[string]*tools.Result
}

func (e *recordingExecutor) Execute(_ context.Context, call llm.ToolCall, _ *tools.Env) (*tools.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	if r, ok := e.results[call.Name]; ok {
		out := *r
		out.CallID = call.ID
		return &out, nil
	}
	return &tools.Result{CallID: call.ID, Name: call.Name, Content: `{"success":true}`}, nil
}

func terminate(conclusion string) []llm.Chunk {
	return []llm.Chunk{
		&llm.ToolCallChunk{CallID: "term", Name: tools.ToolTerminateTask,
			Arguments: fmt.Sprintf(`{"conclusion":%q}`, conclusion)},
		&llm.UsageChunk{InputTokens: 100, OutputTokens: 10, TotalTokens: 110},
	}
}

func newTestRunner(scripts [][]llm.Chunk, exec ToolExecutor) (*Runner, *session.Brain) {
	cfg := config.AgentConfig{
		MaxIterations: 3,
		MaxTurns:      7,
		TokenBudget:   80_000,
	}
	if exec == nil {
		exec = &recordingExecutor{}
	}
	r := NewRunner(&scriptedLLM{scripts: scripts}, exec, cfg, "system prompt")
	reg := session.NewRegistry(nil, cfg)
	return r, reg.GetOrCreate("u1", "c1").Brain("t1")
}

func testToolEnv() *tools.Env {
	return &tools.Env{
		UserID: "u1", CompanyID: "c1", ThreadKey: "t1",
		Context: &models.Context{ClientUUID: "cu", MandatePath: "m", BankERP: "qonto"},
	}
}

func TestRunSPTThenTerminate(t *testing.T) {
	exec := &recordingExecutor{results: map[string]*tools.Result{
		tools.ToolGetUserContext: {Name: tools.ToolGetUserContext, Content: `{"success":true,"context":{"bank_erp":"qonto"}}`},
	}}
	scripts := [][]llm.Chunk{
		{
			&llm.ToolCallChunk{CallID: "c1", Name: tools.ToolGetUserContext, Arguments: `{}`},
			&llm.UsageChunk{InputTokens: 50},
		},
		terminate("You use Qonto."),
	}
	runner, brain := newTestRunner(scripts, exec)

	res := runner.Run(context.Background(), brain, testToolEnv(), "What ERP do I use?", nil)

	assert.Equal(t, StatusMissionCompleted, res.Status)
	assert.Equal(t, "You use Qonto.", res.Message)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, res.Turns)
	assert.Empty(t, res.TaskIDs)
	assert.Empty(t, brain.History(), "mission completion clears history")
	require.Len(t, exec.calls, 1)
	assert.Equal(t, tools.ToolGetUserContext, exec.calls[0].Name)
}

func TestRunLPTSuspends(t *testing.T) {
	exec := &recordingExecutor{results: map[string]*tools.Result{
		tools.ToolAPBookkeeper: {Name: tools.ToolAPBookkeeper,
			Content: `{"status":"queued","task_id":"T42"}`, LPTQueued: true, TaskID: "T42"},
	}}
	scripts := [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Booking started for 2 invoices."},
			&llm.ToolCallChunk{CallID: "c1", Name: tools.ToolAPBookkeeper,
				Arguments: `{"invoice_ids":["i1","i2"],"instructions":"book"}`},
			&llm.UsageChunk{InputTokens: 60},
		},
	}
	runner, brain := newTestRunner(scripts, exec)

	res := runner.Run(context.Background(), brain, testToolEnv(), "Book invoices i1,i2", nil)

	assert.Equal(t, StatusLPTInProgress, res.Status)
	assert.Equal(t, []string{"T42"}, res.TaskIDs)
	assert.Equal(t, "Booking started for 2 invoices.", res.Message)
	assert.Equal(t, 1, brain.ActiveLPTCount())
	assert.NotEmpty(t, brain.History(), "suspension keeps history for the callback")
}

func TestRunTextOnlyIsClarification(t *testing.T) {
	scripts := [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Which company do you mean?"},
			&llm.UsageChunk{InputTokens: 30},
		},
	}
	runner, brain := newTestRunner(scripts, nil)

	res := runner.Run(context.Background(), brain, testToolEnv(), "book it", nil)

	assert.Equal(t, StatusTextOutput, res.Status)
	assert.Equal(t, "Which company do you mean?", res.Message)
	assert.NotEmpty(t, brain.History())
}

func TestRunEmptyResponseIsNoAction(t *testing.T) {
	scripts := [][]llm.Chunk{
		{&llm.UsageChunk{InputTokens: 10}},
	}
	runner, brain := newTestRunner(scripts, nil)

	res := runner.Run(context.Background(), brain, testToolEnv(), "hello", nil)

	assert.Equal(t, StatusNoAction, res.Status)
	assert.Equal(t, 1, res.Iterations)
}

func TestRunProviderErrorIsFatal(t *testing.T) {
	scripts := [][]llm.Chunk{
		{&llm.ErrorChunk{Message: "overloaded", Code: "overloaded_error"}},
	}
	runner, brain := newTestRunner(scripts, nil)

	res := runner.Run(context.Background(), brain, testToolEnv(), "hello", nil)

	assert.Equal(t, StatusErrorFatal, res.Status)
	assert.Contains(t, res.Message, "overloaded")
	assert.Empty(t, brain.History(), "fatal errors clear history")
}

type timeoutLLM struct{}

func (timeoutLLM) Generate(context.Context, *llm.GenerateInput) (<-chan llm.Chunk, error) {
	return nil, fmt.Errorf("llm call failed: %w", context.DeadlineExceeded)
}

func (timeoutLLM) Close() error { return nil }

func TestRunLLMTimeoutIsNoAction(t *testing.T) {
	cfg := config.AgentConfig{MaxIterations: 3, MaxTurns: 7, TokenBudget: 80_000}
	runner := NewRunner(timeoutLLM{}, &recordingExecutor{}, cfg, "sys")
	brain := session.NewRegistry(nil, cfg).GetOrCreate("u1", "c1").Brain("t1")

	res := runner.Run(context.Background(), brain, testToolEnv(), "hello", nil)

	assert.Equal(t, StatusNoAction, res.Status)
	assert.NotEmpty(t, brain.History(), "timeouts keep the conversation")
}

func TestRunMidStreamTimeoutIsNoAction(t *testing.T) {
	// A stream that dies from a deadline expiry carries the timeout code and
	// must not be treated as a provider failure.
	scripts := [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Let me check"},
			&llm.ErrorChunk{Message: "context deadline exceeded", Code: llm.CodeTimeout, Retryable: true},
		},
	}
	runner, brain := newTestRunner(scripts, nil)

	res := runner.Run(context.Background(), brain, testToolEnv(), "hello", nil)

	assert.Equal(t, StatusNoAction, res.Status)
	assert.Contains(t, res.Message, "did not respond in time")
	assert.NotEmpty(t, brain.History(), "timeouts keep the conversation")
}

func TestRunTerminatedConversationDoesNotCarryBudget(t *testing.T) {
	// A mission that ends at the token budget wipes the brain; the next run
	// on the same thread starts fresh instead of summarizing nothing.
	scripts := [][]llm.Chunk{
		{
			&llm.ToolCallChunk{CallID: "term", Name: tools.ToolTerminateTask,
				Arguments: `{"conclusion":"first mission done"}`},
			&llm.UsageChunk{InputTokens: 90_000, OutputTokens: 20, TotalTokens: 90_020},
		},
		terminate("second mission done"),
	}
	mock := &scriptedLLM{scripts: scripts}
	cfg := config.AgentConfig{MaxIterations: 3, MaxTurns: 7, TokenBudget: 80_000}
	runner := NewRunner(mock, &recordingExecutor{}, cfg, "sys")
	brain := session.NewRegistry(nil, cfg).GetOrCreate("u1", "c1").Brain("t1")

	first := runner.Run(context.Background(), brain, testToolEnv(), "big job", nil)
	require.Equal(t, StatusMissionCompleted, first.Status)

	second := runner.Run(context.Background(), brain, testToolEnv(), "quick question", nil)
	assert.Equal(t, StatusMissionCompleted, second.Status)

	// one LLM call per run, no summarization call in between
	require.Len(t, mock.inputs, 2)
	msgs := mock.inputs[1].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "quick question", msgs[0].Content)
}

func TestRunMaxTurnsTriggersOuterRetry(t *testing.T) {
	// Every turn calls an SPT and never terminates. 7 turns per iteration,
	// 3 iterations, then the final status is MAX_TURNS_REACHED.
	sptTurn := []llm.Chunk{
		&llm.TextChunk{Content: "still working"},
		&llm.ToolCallChunk{CallID: "c", Name: tools.ToolGetUserContext, Arguments: `{}`},
		&llm.UsageChunk{InputTokens: 40},
	}
	var scripts [][]llm.Chunk
	for i := 0; i < 21; i++ {
		scripts = append(scripts, sptTurn)
	}
	mock := &scriptedLLM{scripts: scripts}
	cfg := config.AgentConfig{MaxIterations: 3, MaxTurns: 7, TokenBudget: 80_000}
	runner := NewRunner(mock, &recordingExecutor{}, cfg, "sys")
	brain := session.NewRegistry(nil, cfg).GetOrCreate("u1", "c1").Brain("t1")

	res := runner.Run(context.Background(), brain, testToolEnv(), "do the thing", nil)

	assert.Equal(t, StatusMaxTurnsReached, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 21, res.Turns)

	// iterations 2 and 3 start with the carried-over report
	retryInput := mock.inputs[7].Messages[len(mock.inputs[7].Messages)-1]
	assert.Contains(t, retryInput.Content, "PREVIOUS ATTEMPT REPORT:")
	assert.Contains(t, retryInput.Content, "do the thing")
}

func TestRunTokenBudgetSelfHealing(t *testing.T) {
	scripts := [][]llm.Chunk{
		// summarization call
		{&llm.TextChunk{Content: "user asked about invoices; none booked yet"}},
		// healed turn terminates
		terminate("All done."),
	}
	mock := &scriptedLLM{scripts: scripts}
	cfg := config.AgentConfig{MaxIterations: 3, MaxTurns: 7, TokenBudget: 80_000}
	runner := NewRunner(mock, &recordingExecutor{}, cfg, "sys")
	brain := session.NewRegistry(nil, cfg).GetOrCreate("u1", "c1").Brain("t1")

	// simulate a long prior conversation at the budget
	brain.Append(llm.Message{Role: llm.RoleUser, Content: "earlier talk"})
	brain.SetLastInputTokens(80_000)

	res := runner.Run(context.Background(), brain, testToolEnv(), "status?", nil)

	assert.Equal(t, StatusMissionCompleted, res.Status)
	require.Len(t, mock.inputs, 2)

	// the healed turn starts from the reseeded history
	healed := mock.inputs[1].Messages
	require.Len(t, healed, 1)
	assert.True(t, strings.HasPrefix(healed[0].Content, "PRIOR CONVERSATION SUMMARY: "))
	assert.Contains(t, healed[0].Content, "CURRENT QUERY: status?")
}

func TestRunBudgetJustUnderDoesNotSummarize(t *testing.T) {
	scripts := [][]llm.Chunk{terminate("done")}
	mock := &scriptedLLM{scripts: scripts}
	cfg := config.AgentConfig{MaxIterations: 3, MaxTurns: 7, TokenBudget: 80_000}
	runner := NewRunner(mock, &recordingExecutor{}, cfg, "sys")
	brain := session.NewRegistry(nil, cfg).GetOrCreate("u1", "c1").Brain("t1")
	brain.SetLastInputTokens(79_999)

	res := runner.Run(context.Background(), brain, testToolEnv(), "status?", nil)

	assert.Equal(t, StatusMissionCompleted, res.Status)
	assert.Len(t, mock.inputs, 1, "no summarization call below the budget")
}

func TestRunStreamsTextDeltas(t *testing.T) {
	scripts := [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Hel"},
			&llm.TextChunk{Content: "lo"},
			&llm.UsageChunk{InputTokens: 5},
		},
	}
	runner, brain := newTestRunner(scripts, nil)

	var streamed []string
	res := runner.Run(context.Background(), brain, testToolEnv(), "hi", func(s string) {
		streamed = append(streamed, s)
	})

	assert.Equal(t, StatusTextOutput, res.Status)
	assert.Equal(t, []string{"Hel", "lo"}, streamed)
}
