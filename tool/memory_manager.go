package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/conclave/core"
)

// MemoryManagerTool lets a model read and write the memory of its responder.
//
// Operations:
//   - store            remember content under key (optionally permanent)
//   - retrieve         fetch the newest item stored under key
//   - search           rank items by relevance to a query
//   - clear_short_term forget every non-permanent item
type MemoryManagerTool struct {
	memory core.Memory
}

// NewMemoryManagerTool creates a memory tool bound to m.
func NewMemoryManagerTool(m core.Memory) *MemoryManagerTool {
	return &MemoryManagerTool{memory: m}
}

// Name returns the tool identifier.
func (t *MemoryManagerTool) Name() string { return "memory_manager" }

// Description returns the tool description.
func (t *MemoryManagerTool) Description() string {
	return "Stores and recalls facts across turns. " +
		"Supports operations: store, retrieve, search, clear_short_term."
}

// Category returns "memory".
func (t *MemoryManagerTool) Category() string { return "memory" }

// Parameters returns the JSON schema for tool parameters.
func (t *MemoryManagerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"store", "retrieve", "search", "clear_short_term"},
				"description": "The memory operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Item key for store/retrieve operations",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to store",
			},
			"permanent": map[string]any{
				"type":        "boolean",
				"description": "Keep the item in long-term memory",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Limit for search operations (default: 5)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements Tool.
func (t *MemoryManagerTool) Call(ctx context.Context, args map[string]any) (any, error) {
	operation, _ := args["operation"].(string)

	switch operation {
	case "store":
		return t.handleStore(ctx, args)
	case "retrieve":
		return t.handleRetrieve(ctx, args)
	case "search":
		return t.handleSearch(ctx, args)
	case "clear_short_term":
		if err := t.memory.ClearShortTerm(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear memory: %w", err)
		}
		return map[string]any{"success": true}, nil
	default:
		return nil, NewToolError(t.Name(), fmt.Sprintf("unknown operation: %q", operation), CodeValidation)
	}
}

func (t *MemoryManagerTool) handleStore(ctx context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	content, ok := args["content"].(string)
	if key == "" || !ok {
		return nil, NewToolError(t.Name(), "key and content are required for store", CodeValidation)
	}
	permanent, _ := args["permanent"].(bool)

	item, err := t.memory.Store(ctx, key, content, map[string]any{"source": "tool"}, permanent)
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	return map[string]any{"id": item.ID, "key": key, "permanent": permanent, "success": true}, nil
}

func (t *MemoryManagerTool) handleRetrieve(ctx context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, NewToolError(t.Name(), "key is required for retrieve", CodeValidation)
	}

	item, ok, err := t.memory.Retrieve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memory: %w", err)
	}
	if !ok {
		return map[string]any{"key": key, "exists": false}, nil
	}

	return map[string]any{"key": key, "exists": true, "content": item.Content}, nil
}

func (t *MemoryManagerTool) handleSearch(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)

	limit := 5
	switch l := args["limit"].(type) {
	case float64:
		limit = int(l)
	case int:
		limit = l
	}

	items, err := t.memory.RetrieveRelevant(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}

	contents := make([]string, len(items))
	for i, it := range items {
		contents[i] = it.Content
	}

	return map[string]any{"query": query, "count": len(items), "results": contents}, nil
}
