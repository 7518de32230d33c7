// Package tools executes the tool calls emitted by the LLM: synchronous
// short-process tools (SPTs) inline, long-process tools (LPTs) via worker
// dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pinnokio/orchestrator/pkg/llm"
	"github.com/pinnokio/orchestrator/pkg/lpt"
	"github.com/pinnokio/orchestrator/pkg/models"
	"github.com/pinnokio/orchestrator/pkg/vector"
)

// Tool names.
const (
	ToolGetStructuredData = "GET_STRUCTURED_DATA"
	ToolSearchVectorStore = "SEARCH_VECTOR_STORE"
	ToolGetUserContext    = "GET_USER_CONTEXT"
	ToolTerminateTask     = "TERMINATE_TASK"

	ToolAPBookkeeper     = "LPT_APBookkeeper"
	ToolBankTransactions = "LPT_BankTransactions"
	ToolPinnokioRouter   = "LPT_PinnokioRouter"
)

// lptWorkers maps LPT tool names to worker kinds.
var lptWorkers = map[string]string{
	ToolAPBookkeeper:     lpt.WorkerAPBookkeeper,
	ToolBankTransactions: lpt.WorkerBankTransactions,
	ToolPinnokioRouter:   lpt.WorkerPinnokioRouter,
}

// IsLPT reports whether a tool name routes to a worker.
func IsLPT(name string) bool {
	_, ok := lptWorkers[name]
	return ok
}

// PathReader reads path-addressed documents from the structured store.
type PathReader interface {
	ReadPath(ctx context.Context, path string, filters map[string]any) ([]map[string]any, error)
}

// VectorSearcher performs semantic lookup in the knowledge base.
type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]vector.SearchResult, error)
}

// LPTDispatcher launches worker tasks. Implemented by lpt.Client.
type LPTDispatcher interface {
	Dispatch(ctx context.Context, in *lpt.DispatchInput) (*models.TaskRecord, error)
}

// Env carries the per-run identity and business context injected into tool
// executions. The LLM never sees or controls these fields.
type Env struct {
	UserID    string
	CompanyID string
	ThreadKey string
	Context   *models.Context
}

// Result is the outcome of one tool execution.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool

	// LPTQueued marks a successful async dispatch; the loop suspends instead
	// of continuing.
	LPTQueued bool
	TaskID    string
}

// Dispatcher routes tool calls to their handlers.
type Dispatcher struct {
	reader  PathReader
	vectors VectorSearcher
	lpt     LPTDispatcher
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(reader PathReader, vectors VectorSearcher, lptClient LPTDispatcher) *Dispatcher {
	return &Dispatcher{reader: reader, vectors: vectors, lpt: lptClient}
}

// Execute runs a single tool call. SPT failures never return an error: they
// come back as an error-flagged result that is folded into the next turn.
// Only TERMINATE_TASK is not handled here; the loop intercepts it.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, env *Env) (*Result, error) {
	slog.Debug("Executing tool", "tool", call.Name, "thread_key", env.ThreadKey)

	switch call.Name {
	case ToolGetStructuredData:
		return d.getStructuredData(ctx, call)
	case ToolSearchVectorStore:
		return d.searchVectorStore(ctx, call)
	case ToolGetUserContext:
		return d.getUserContext(call, env)
	case ToolTerminateTask:
		return nil, fmt.Errorf("tool %s must be intercepted by the loop", call.Name)
	}
	if worker, ok := lptWorkers[call.Name]; ok {
		return d.dispatchLPT(ctx, call, env, worker)
	}
	return errResult(call, fmt.Sprintf("unknown tool %q", call.Name)), nil
}

func (d *Dispatcher) getStructuredData(ctx context.Context, call llm.ToolCall) (*Result, error) {
	var args struct {
		Path    string         `json:"path"`
		Filters map[string]any `json:"filters"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errResult(call, "invalid arguments: "+err.Error()), nil
	}
	if args.Path == "" {
		return errResult(call, "path is required"), nil
	}

	docs, err := d.reader.ReadPath(ctx, args.Path, args.Filters)
	if err != nil {
		return errResult(call, err.Error()), nil
	}
	return jsonResult(call, map[string]any{"success": true, "documents": docs, "count": len(docs)}), nil
}

func (d *Dispatcher) searchVectorStore(ctx context.Context, call llm.ToolCall) (*Result, error) {
	var args struct {
		Query    string `json:"query"`
		NResults int    `json:"n_results"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errResult(call, "invalid arguments: "+err.Error()), nil
	}
	if args.Query == "" {
		return errResult(call, "query is required"), nil
	}

	results, err := d.vectors.Search(ctx, args.Query, args.NResults)
	if err != nil {
		return errResult(call, err.Error()), nil
	}
	hits := make([]map[string]any, 0, len(results))
	for _, r := range results {
		hits = append(hits, map[string]any{
			"id":         r.Document.ID,
			"content":    r.Document.Content,
			"similarity": r.Similarity,
		})
	}
	return jsonResult(call, map[string]any{"success": true, "results": hits}), nil
}

func (d *Dispatcher) getUserContext(call llm.ToolCall, env *Env) (*Result, error) {
	if env.Context.IsEmpty() {
		return errResult(call, "business context not loaded"), nil
	}
	return jsonResult(call, map[string]any{"success": true, "context": env.Context}), nil
}

// dispatchLPT builds the full worker payload from the environment. The LLM
// supplies only IDs and instructions; it cannot forge identity or mandate
// fields.
func (d *Dispatcher) dispatchLPT(ctx context.Context, call llm.ToolCall, env *Env, worker string) (*Result, error) {
	inputs := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &inputs); err != nil {
			return errResult(call, "invalid arguments: "+err.Error()), nil
		}
	}
	instructions, _ := inputs["instructions"].(string)
	delete(inputs, "instructions")

	task, err := d.lpt.Dispatch(ctx, &lpt.DispatchInput{
		TaskType:     worker,
		UserID:       env.UserID,
		CompanyID:    env.CompanyID,
		ThreadKey:    env.ThreadKey,
		Context:      env.Context,
		Inputs:       inputs,
		Instructions: instructions,
	})
	if err != nil {
		// A failed dispatch is a normal tool failure; the loop continues.
		return errResult(call, "dispatch failed: "+err.Error()), nil
	}

	res := jsonResult(call, map[string]any{
		"status":     "queued",
		"task_id":    task.TaskID,
		"thread_key": task.ThreadKey,
	})
	res.LPTQueued = true
	res.TaskID = task.TaskID
	return res, nil
}

func errResult(call llm.ToolCall, msg string) *Result {
	body, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return &Result{CallID: call.ID, Name: call.Name, Content: string(body), IsError: true}
}

func jsonResult(call llm.ToolCall, payload any) *Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return errResult(call, "failed to encode result: "+err.Error())
	}
	return &Result{CallID: call.ID, Name: call.Name, Content: string(body)}
}
