package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/llm"
	"github.com/pinnokio/orchestrator/pkg/lpt"
	"github.com/pinnokio/orchestrator/pkg/models"
	"github.com/pinnokio/orchestrator/pkg/vector"
)

type fakeReader struct {
	docs []map[string]any
	err  error
	path string
}

func (f *fakeReader) ReadPath(_ context.Context, path string, _ map[string]any) ([]map[string]any, error) {
	f.path = path
	return f.docs, f.err
}

type fakeSearcher struct {
	results []vector.SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]vector.SearchResult, error) {
	return f.results, f.err
}

type fakeLPT struct {
	in   *lpt.DispatchInput
	task *models.TaskRecord
	err  error
}

func (f *fakeLPT) Dispatch(_ context.Context, in *lpt.DispatchInput) (*models.TaskRecord, error) {
	f.in = in
	return f.task, f.err
}

func testEnv() *Env {
	return &Env{
		UserID:    "u1",
		CompanyID: "c1",
		ThreadKey: "t1",
		Context: &models.Context{
			ClientUUID:  "cu",
			MandatePath: "clients/cu/mandates/m1",
			BankERP:     "qonto",
		},
	}
}

func decode(t *testing.T, content string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &out))
	return out
}

func TestGetStructuredData(t *testing.T) {
	reader := &fakeReader{docs: []map[string]any{{"mandate_path": "m1"}}}
	d := NewDispatcher(reader, &fakeSearcher{}, &fakeLPT{})

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolGetStructuredData,
		Arguments: `{"path":"mandates/u1","filters":{"contact_space_id":"c1"}}`,
	}, testEnv())
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "mandates/u1", reader.path)

	body := decode(t, res.Content)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["count"])
}

func TestGetStructuredDataErrors(t *testing.T) {
	d := NewDispatcher(&fakeReader{err: errors.New("store down")}, &fakeSearcher{}, &fakeLPT{})

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolGetStructuredData, Arguments: `{"path":"mandates"}`,
	}, testEnv())
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, false, decode(t, res.Content)["success"])

	res, err = d.Execute(context.Background(), llm.ToolCall{
		ID: "c2", Name: ToolGetStructuredData, Arguments: `{}`,
	}, testEnv())
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchVectorStore(t *testing.T) {
	searcher := &fakeSearcher{results: []vector.SearchResult{
		{Document: vector.Document{ID: "d1", Content: "vat rules"}, Similarity: 0.92},
	}}
	d := NewDispatcher(&fakeReader{}, searcher, &fakeLPT{})

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolSearchVectorStore, Arguments: `{"query":"vat","n_results":3}`,
	}, testEnv())
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "vat rules")
}

func TestGetUserContext(t *testing.T) {
	d := NewDispatcher(&fakeReader{}, &fakeSearcher{}, &fakeLPT{})

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolGetUserContext, Arguments: `{}`,
	}, testEnv())
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "qonto")

	empty := testEnv()
	empty.Context = &models.Context{}
	res, err = d.Execute(context.Background(), llm.ToolCall{
		ID: "c2", Name: ToolGetUserContext, Arguments: `{}`,
	}, empty)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDispatchLPTInjectsIdentity(t *testing.T) {
	fl := &fakeLPT{task: &models.TaskRecord{TaskID: "T42", ThreadKey: "t1", Status: models.TaskStatusQueued}}
	d := NewDispatcher(&fakeReader{}, &fakeSearcher{}, fl)

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolAPBookkeeper,
		Arguments: `{"invoice_ids":["i1","i2"],"instructions":"book these"}`,
	}, testEnv())
	require.NoError(t, err)

	assert.True(t, res.LPTQueued)
	assert.Equal(t, "T42", res.TaskID)
	assert.False(t, res.IsError)

	// identity and context come from the env, never from the LLM
	assert.Equal(t, lpt.WorkerAPBookkeeper, fl.in.TaskType)
	assert.Equal(t, "u1", fl.in.UserID)
	assert.Equal(t, "t1", fl.in.ThreadKey)
	assert.Equal(t, "book these", fl.in.Instructions)
	assert.Equal(t, []any{"i1", "i2"}, fl.in.Inputs["invoice_ids"])
	_, hasInstructions := fl.in.Inputs["instructions"]
	assert.False(t, hasInstructions)
}

func TestDispatchLPTFailureIsToolError(t *testing.T) {
	fl := &fakeLPT{err: errors.New("worker rejected task (status 400)")}
	d := NewDispatcher(&fakeReader{}, &fakeSearcher{}, fl)

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolBankTransactions, Arguments: `{"transaction_ids":["tx1"]}`,
	}, testEnv())
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.False(t, res.LPTQueued)
}

func TestTerminateTaskNotExecutable(t *testing.T) {
	d := NewDispatcher(&fakeReader{}, &fakeSearcher{}, &fakeLPT{})

	_, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: ToolTerminateTask, Arguments: `{"conclusion":"done"}`,
	}, testEnv())
	assert.Error(t, err)
}

func TestUnknownTool(t *testing.T) {
	d := NewDispatcher(&fakeReader{}, &fakeSearcher{}, &fakeLPT{})

	res, err := d.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "NOPE", Arguments: `{}`,
	}, testEnv())
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDefinitionsExposeMinimalLPTSchemas(t *testing.T) {
	defs := Definitions()
	byName := map[string]llm.ToolDefinition{}
	for _, d := range defs {
		byName[d.Name] = d
	}

	require.Contains(t, byName, ToolAPBookkeeper)
	props := byName[ToolAPBookkeeper].InputSchema["properties"].(map[string]any)
	assert.Contains(t, props, "invoice_ids")
	assert.Contains(t, props, "instructions")
	assert.NotContains(t, props, "user_id")
	assert.NotContains(t, props, "mandate_path")
	assert.NotContains(t, props, "thread_key")
}
