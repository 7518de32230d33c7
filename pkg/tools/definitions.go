package tools

import "github.com/pinnokio/orchestrator/pkg/llm"

// Definitions returns the tool surface presented to the LLM. LPT schemas are
// deliberately minimal: IDs and free-text instructions only, everything else
// is injected server-side at dispatch time.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolGetStructuredData,
			Description: "Read documents from the structured store by path, with optional equality filters.",
			InputSchema: objectSchema(map[string]any{
				"path":    map[string]any{"type": "string", "description": "Document path, e.g. clients/{user_id}/mandates"},
				"filters": map[string]any{"type": "object", "description": "Field equality predicates"},
			}, "path"),
		},
		{
			Name:        ToolSearchVectorStore,
			Description: "Semantic search over the accounting knowledge base.",
			InputSchema: objectSchema(map[string]any{
				"query":     map[string]any{"type": "string"},
				"n_results": map[string]any{"type": "integer", "description": "Max results, default 5"},
			}, "query"),
		},
		{
			Name:        ToolGetUserContext,
			Description: "Return the current business context (mandate, ERP, DMS configuration).",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        ToolTerminateTask,
			Description: "End the mission. Call this once the user's request is fully handled.",
			InputSchema: objectSchema(map[string]any{
				"reason":     map[string]any{"type": "string"},
				"result":     map[string]any{"type": "string"},
				"conclusion": map[string]any{"type": "string", "description": "Final message shown to the user"},
			}, "conclusion"),
		},
		{
			Name:        ToolAPBookkeeper,
			Description: "Launch asynchronous invoice bookkeeping. Returns immediately; results arrive later.",
			InputSchema: objectSchema(map[string]any{
				"invoice_ids":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"drive_file_id": map[string]any{"type": "string"},
				"instructions":  map[string]any{"type": "string"},
			}),
		},
		{
			Name:        ToolBankTransactions,
			Description: "Launch asynchronous bank transaction processing. Returns immediately; results arrive later.",
			InputSchema: objectSchema(map[string]any{
				"transaction_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"instructions":    map[string]any{"type": "string"},
			}),
		},
		{
			Name:        ToolPinnokioRouter,
			Description: "Route a complex request to the general-purpose worker. Returns immediately; results arrive later.",
			InputSchema: objectSchema(map[string]any{
				"instructions": map[string]any{"type": "string"},
			}, "instructions"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
