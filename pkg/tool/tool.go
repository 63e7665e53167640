// Package tool is the Tool Executor (component B): a registry of named
// tools, each declaring an input schema, a safety level, and an
// allowed-agent-kind set, invoked through one Execute entry point. A
// result beginning with "Error:" is the tool-failure convention the
// registry defines; the executor itself never retries — that is the
// Loop Runner's decision.
package tool

import (
	"context"

	"github.com/hanibalsk/orchestrate/pkg/errs"
	"github.com/hanibalsk/orchestrate/pkg/store"
)

// SafetyLevel classifies what a tool is permitted to do.
type SafetyLevel int

const (
	ReadOnly SafetyLevel = iota
	Mutating
	Privileged
)

func (l SafetyLevel) String() string {
	switch l {
	case ReadOnly:
		return "read_only"
	case Mutating:
		return "mutating"
	case Privileged:
		return "privileged"
	default:
		return "unknown"
	}
}

// Context carries the calling agent's identity into a tool invocation.
// Tools never see the rest of the agent's in-flight state — only this
// narrow context — agents never share mutable graphs.
type Context struct {
	Ctx       context.Context
	AgentID   string
	AgentKind store.AgentKind
}

// Tool is one named, schema-described capability an agent may invoke.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON schema for the tool's input, or nil
	// if it takes no parameters.
	InputSchema() map[string]any
	SafetyLevel() SafetyLevel
	// AllowedAgentKinds lists which agent kinds may invoke this tool.
	// An empty slice means every kind may invoke it.
	AllowedAgentKinds() []store.AgentKind
	// Execute runs the tool against a JSON-encoded input and returns
	// the result text. A result beginning with "Error:" signals
	// failure to the calling agent; Execute must not exceed a
	// documented per-invocation timeout and must not retry internally.
	Execute(ctx Context, inputJSON string) string
}

// Registry holds every tool known to the orchestrator, keyed by name.
type Registry struct {
	tools map[string]Tool
	// order preserves registration order so tool-list prompts stay
	// byte-stable across runs, which the provider's prompt cache
	// requires to credit repeated reads.
	order []string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering the same name overwrites it but
// keeps its original position in Names().
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Names returns every registered tool name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NamesFor returns the tool names an agent kind is allowed to invoke,
// in registration order — the deterministic list the Context Manager's
// cacheable base embeds. The order must stay byte-stable across runs
// for the provider's prompt cache to credit repeated reads.
func (r *Registry) NamesFor(kind store.AgentKind) []string {
	var out []string
	for _, name := range r.order {
		if toolAllows(r.tools[name], kind) {
			out = append(out, name)
		}
	}
	return out
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute dispatches a named tool. Invoking a tool not in the agent's
// allowed-set fails with a typed errs.ToolError.
func (r *Registry) Execute(ctx Context, name string, inputJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", errs.New(errs.ToolError, "unknown tool: "+name)
	}
	if !toolAllows(t, ctx.AgentKind) {
		return "", errs.New(errs.ToolError, "tool "+name+" not permitted for agent kind "+string(ctx.AgentKind))
	}
	return t.Execute(ctx, inputJSON), nil
}

func toolAllows(t Tool, kind store.AgentKind) bool {
	allowed := t.AllowedAgentKinds()
	if len(allowed) == 0 {
		return true
	}
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}

// IsErrorResult reports whether a tool's result text signals failure,
// per the "Error:" prefix convention.
func IsErrorResult(result string) bool {
	return len(result) >= 6 && result[:6] == "Error:"
}
