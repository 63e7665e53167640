// Package model defines the abstract chat API contract consumed by the
// agent loop. A single synchronous call takes a model, a token budget,
// the conversation, a system prompt split into a cacheable base and a
// dynamic suffix, and the tool definitions on offer; it returns the
// generated content blocks, the stop reason, and token usage.
package model

import "context"

// Client is the abstract chat API. Exactly one wire implementation is
// expected in production (Anthropic); the interface exists so the
// agent loop and tests never depend on a concrete provider.
type Client interface {
	// Name returns the model identifier used for requests (e.g. a
	// specific Claude snapshot).
	Name() string

	// CreateMessage performs one non-streaming turn.
	CreateMessage(ctx context.Context, req Request) (Response, error)

	// Close releases any resources held by the client.
	Close() error
}

// Request is one turn's input.
type Request struct {
	Model     string
	MaxTokens int
	Messages  []Message
	System    SystemPrompt
	Tools     []ToolDefinition
	Tier      Tier
}

// Tier is a rung on the model capability/cost escalation chain. Tiers are
// monotonically ordered Fast < Balanced < Smart < Premium; Escalate walks
// one rung up the chain, returning ok=false at Premium.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierSmart    Tier = "smart"
	TierPremium  Tier = "premium"
)

var tierEscalation = map[Tier]Tier{
	TierFast:     TierBalanced,
	TierBalanced: TierSmart,
	TierSmart:    TierPremium,
}

// Escalate returns the next tier up the chain, or ("", false) if t is
// already at the top (Premium) or not a recognized tier.
func (t Tier) Escalate() (Tier, bool) {
	next, ok := tierEscalation[t]
	return next, ok
}

// SystemPrompt is split into a cacheable base (identity, tool
// descriptions, status grammar) and a dynamic suffix (task,
// instructions) per the prompt-caching contract: the base must be
// byte-stable across turns of the same agent so the provider can
// cache it.
type SystemPrompt struct {
	CacheableBase string
	DynamicSuffix string
}

// Message is one turn of conversation as sent to the provider.
type Message struct {
	Role    string // "user" | "assistant"
	Content []ContentBlock
}

// ContentBlock is a tagged union: exactly one of Text, ToolUse, or
// ToolResult is populated, selected by Type.
type ContentBlock struct {
	Type       BlockType
	Text       string
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
}

// BlockType discriminates ContentBlock's tagged union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ToolUseBlock is a model-issued tool call.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock carries a tool's output back to the model.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Response is the provider's reply to one CreateMessage call.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage reports token accounting for one turn, including prompt-cache
// hits and writes so the Token/Context Manager can track effective
// cost alongside raw counts.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// TextContent concatenates every text block in a response.
func (r Response) TextContent() string {
	var out string
	for _, block := range r.Content {
		if block.Type == BlockText {
			out += block.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in a response.
func (r Response) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, block := range r.Content {
		if block.Type == BlockToolUse && block.ToolUse != nil {
			out = append(out, *block.ToolUse)
		}
	}
	return out
}
