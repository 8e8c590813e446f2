package tools

import (
	"context"
	"encoding/json"

	"github.com/intelligencedev/coremem/internal/logctx"
	"github.com/intelligencedev/coremem/internal/observability"
)

// Registry holds the tool catalog and dispatches calls by name. Grounded
// on the teacher's defaultRegistry (internal/tools/registry.go), widened
// from a flat Schemas()/Dispatch() pair into the category/priority views
// and placeholder-hiding spec §4.8 calls for.
type Registry struct {
	byName map[string]*Tool
	order  []string
	ctx    *logctx.Context
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// SetLogger attaches a logging context used to record failed tool calls.
// Call arguments are redacted (per the teacher's request-logging
// convention, internal/observability/redact.go) before being logged, since
// several tools accept API keys and document text as arguments.
func (r *Registry) SetLogger(appCtx *logctx.Context) {
	r.ctx = appCtx.With("tools")
}

// Register adds a tool to the catalog, replacing any existing tool with
// the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.byName[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	tCopy := t
	r.byName[t.Name] = &tCopy
}

// List returns every non-placeholder tool's descriptor, in registration
// order — the shape returned by the MCP tools/list method.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		if t.Placeholder {
			continue
		}
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// ListWithTemplates returns every non-placeholder tool's descriptor
// together with its user-prompt template, per spec §4.8
// "list_tools_with_templates()". Tools without a registered Template are
// included with UserPromptTemplate left nil.
func (r *Registry) ListWithTemplates() []DescriptorWithTemplate {
	out := make([]DescriptorWithTemplate, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		if t.Placeholder {
			continue
		}
		out = append(out, DescriptorWithTemplate{
			Descriptor:         Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema},
			UserPromptTemplate: t.Template,
		})
	}
	return out
}

// essentialToolNames is the fixed subset spec §4.8's "essential_tools()"
// names as always-available to LLM callers, grounded on the original
// implementation's get_essential_tools (app/mcp/core/tools.py).
var essentialToolNames = map[string]bool{
	"get_memory_context": true,
	"add_conversation":   true,
	"add_documents":      true,
	"end_conversation":   true,
	"web_search":         true,
}

// EssentialTools returns the fixed subset of non-placeholder tools that
// should always be available to LLM callers, per spec §4.8.
func (r *Registry) EssentialTools() []Descriptor {
	var out []Descriptor
	for _, name := range r.order {
		t := r.byName[name]
		if t.Placeholder || !essentialToolNames[t.Name] {
			continue
		}
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// ByCategory returns non-placeholder tools in the given category.
func (r *Registry) ByCategory(cat Category) []Descriptor {
	var out []Descriptor
	for _, name := range r.order {
		t := r.byName[name]
		if t.Placeholder || t.Category != cat {
			continue
		}
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// ByPriority returns non-placeholder tools at the given priority.
func (r *Registry) ByPriority(p Priority) []Descriptor {
	var out []Descriptor
	for _, name := range r.order {
		t := r.byName[name]
		if t.Placeholder || t.Priority != p {
			continue
		}
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// Execute dispatches a tools/call invocation by name. Placeholder tools
// ARE dispatchable even though they're hidden from listings.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, ErrToolNotFound{Name: name}
	}
	result, err := t.Handler(ctx, args)
	if err != nil && r.ctx != nil {
		r.ctx.Log.Warn().
			Str("tool", name).
			RawJSON("args", observability.RedactJSON(args)).
			Err(err).
			Msg("tool call failed")
	}
	return result, err
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}
