// Package tools implements C8: the declarative MCP tool catalog — name,
// description, JSON-Schema input schema, and handler per tool, with
// category/priority views and a dispatching Registry. Grounded on the
// teacher's internal/tools/{types.go,registry.go} Tool/Registry shape,
// generalized from an agent-framework function-calling registry into an
// MCP tools/list + tools/call catalog (spec §4.8/§4.9).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Category classifies a tool for the category-filtered listing view.
type Category string

const (
	CategoryMemory       Category = "memory"
	CategoryConversation Category = "conversation"
	CategoryKnowledge    Category = "knowledge"
	CategoryUtilities    Category = "utilities"
)

// Priority orders tools within a category for the priority-filtered view.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Handler executes a tool call given its raw JSON arguments and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one declarative catalog entry. Placeholder tools are registered
// (so Execute still resolves them) but are hidden from List/tools-list,
// per spec §4.8 — they exist for forward compatibility with clients that
// probe for them without being advertised yet.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON-Schema Draft-07 subset
	Category    Category
	Priority    Priority
	Placeholder bool
	Template    *PromptTemplate
	Handler     Handler
}

// PromptTemplate is the user-prompt-template data spec §4.8 names per tool
// ({template string, examples, usage_tip}), grounded on the original
// implementation's user_prompt_templates table (app/mcp/core/tools.py) —
// natural-language phrasing an LLM caller can reuse to invoke the tool.
type PromptTemplate struct {
	Template  string   `json:"template"`
	Examples  []string `json:"examples"`
	UsageTip  string   `json:"usage_tip"`
}

// Descriptor is the MCP-facing {name, description, inputSchema} shape
// returned by tools/list.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// DescriptorWithTemplate is the shape returned by
// Registry.ListWithTemplates — a Descriptor plus its user-prompt template,
// when one is registered for that tool.
type DescriptorWithTemplate struct {
	Descriptor
	UserPromptTemplate *PromptTemplate `json:"user_prompt_template,omitempty"`
}

// ErrToolNotFound is returned by Registry.Execute when no tool is registered under
// the requested name.
type ErrToolNotFound struct{ Name string }

func (e ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}
