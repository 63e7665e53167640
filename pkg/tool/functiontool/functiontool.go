// Package functiontool builds tool.Tool implementations from a typed
// Go function, generating its JSON input schema from struct tags via
// invopop/jsonschema rather than hand-writing schema literals per tool.
package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/hanibalsk/orchestrate/pkg/store"
	"github.com/hanibalsk/orchestrate/pkg/tool"
)

// Config describes a function tool's static metadata.
type Config struct {
	Name              string
	Description       string
	Safety            tool.SafetyLevel
	AllowedAgentKinds []store.AgentKind
}

// Func is the shape of the Go function a function tool wraps: it
// receives the calling context and typed args, and returns the result
// text (or an error, rendered as "Error: <message>").
type Func[Args any] func(ctx tool.Context, args Args) (string, error)

// Validate, when supplied, runs after argument decoding and before Func.
type Validate[Args any] func(Args) error

// New creates a tool.Tool from a typed function. Args is a struct with
// json and jsonschema tags defining the generated input schema.
func New[Args any](cfg Config, fn Func[Args]) (tool.Tool, error) {
	return NewWithValidation(cfg, fn, nil)
}

// NewWithValidation creates a tool.Tool with custom argument validation
// run after decoding and before fn.
func NewWithValidation[Args any](cfg Config, fn Func[Args], validate Validate[Args]) (tool.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{cfg: cfg, fn: fn, validate: validate, schema: schema}, nil
}

type functionTool[Args any] struct {
	cfg      Config
	fn       Func[Args]
	validate Validate[Args]
	schema   map[string]any
}

func (t *functionTool[Args]) Name() string                         { return t.cfg.Name }
func (t *functionTool[Args]) Description() string                  { return t.cfg.Description }
func (t *functionTool[Args]) InputSchema() map[string]any           { return t.schema }
func (t *functionTool[Args]) SafetyLevel() tool.SafetyLevel         { return t.cfg.Safety }
func (t *functionTool[Args]) AllowedAgentKinds() []store.AgentKind  { return t.cfg.AllowedAgentKinds }

func (t *functionTool[Args]) Execute(ctx tool.Context, inputJSON string) string {
	var args Args
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &args); err != nil {
			return "Error: invalid input for " + t.cfg.Name + ": " + err.Error()
		}
	}
	if t.validate != nil {
		if err := t.validate(args); err != nil {
			return "Error: " + err.Error()
		}
	}
	result, err := t.fn(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}

var _ tool.Tool = (*functionTool[struct{}])(nil)
