// Package contextwindow is the Token/Context Manager (component A):
// it estimates token counts, windows message history to fit inside a
// model's context budget, computes a per-turn output ceiling, and
// splits a prompt into its cacheable and dynamic parts.
package contextwindow

import (
	"fmt"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/store"
)

// Estimator turns text into an estimated token count. The default is
// a 4-characters-per-token heuristic; callers that want an exact count
// can supply a tiktoken-backed Estimator instead (see
// NewTiktokenEstimator).
type Estimator interface {
	EstimateTokens(text string) int
}

// HeuristicEstimator implements the deterministic 4-chars/token rule.
// Callers must accept roughly ±20% error.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Manager implements the Token/Context Manager contract.
type Manager struct {
	estimator Estimator
	// WindowFraction bounds the fraction of the model's context window
	// the kept messages (plus safety margin) may occupy (default 0.70).
	WindowFraction float64
	// TargetFraction additionally bounds the *windowed result* itself
	// to at most this fraction of the context window, resolving an
	// otherwise unbounded post-summary total (default 0.60).
	TargetFraction float64
	// MinOutputTokens / MaxOutputTokens clamp CalculateOutputTokens.
	MinOutputTokens int
	MaxOutputTokens int
}

// NewManager constructs a Manager with the documented defaults.
func NewManager(estimator Estimator) *Manager {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &Manager{
		estimator:       estimator,
		WindowFraction:  0.70,
		TargetFraction:  0.60,
		MinOutputTokens: 1024,
		MaxOutputTokens: 8192,
	}
}

// Estimate sums the estimated token count of every message's content.
func (m *Manager) Estimate(messages []store.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.estimator.EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += m.estimator.EstimateTokens(tc.Input)
		}
		for _, tr := range msg.ToolResults {
			total += m.estimator.EstimateTokens(tr.Content)
		}
	}
	return total
}

// WindowResult is the outcome of windowing a message history.
type WindowResult struct {
	Kept             []store.Message
	SummarizedCount  int
	SummaryText      string
	OriginalCount    int
}

// Window keeps the most recent messages whose cumulative estimated
// tokens (plus a 10% safety margin) stay under contextWindow *
// WindowFraction, and (with the task message) under contextWindow *
// TargetFraction. Older messages collapse into one synthetic summary.
// The first User message (the task) is always preserved.
func (m *Manager) Window(messages []store.Message, contextWindowTokens int) WindowResult {
	result := WindowResult{OriginalCount: len(messages)}
	if len(messages) == 0 {
		return result
	}

	budget := float64(contextWindowTokens) * m.WindowFraction
	// Reserve a 10% safety margin within that budget.
	budget *= 0.9

	firstUserIdx := -1
	for i, msg := range messages {
		if msg.Role == store.RoleUser {
			firstUserIdx = i
			break
		}
	}

	// Cap the kept messages, task message included, at TargetFraction.
	if m.TargetFraction > 0 {
		target := float64(contextWindowTokens) * m.TargetFraction
		if firstUserIdx >= 0 {
			target -= float64(m.estimator.EstimateTokens(messages[firstUserIdx].Content))
		}
		if target < budget {
			budget = target
		}
	}

	kept := make([]store.Message, 0, len(messages))
	runningTokens := 0

	// Walk from the end, keeping the most recent messages that fit.
	cutoff := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if i == firstUserIdx {
			// The task message is handled separately below; don't
			// double-count it into the from-the-end walk.
			continue
		}
		tok := m.estimator.EstimateTokens(messages[i].Content)
		if runningTokens+tok > int(budget) {
			cutoff = i + 1
			break
		}
		runningTokens += tok
		cutoff = i
	}

	if firstUserIdx >= 0 && firstUserIdx < cutoff {
		kept = append(kept, messages[firstUserIdx])
	}

	summarizedCount := 0
	for i := 0; i < cutoff; i++ {
		if i == firstUserIdx {
			continue
		}
		summarizedCount++
	}

	if summarizedCount > 0 {
		result.SummaryText = fmt.Sprintf("[%d earlier messages summarized]", summarizedCount)
		result.SummarizedCount = summarizedCount
	}

	for i := cutoff; i < len(messages); i++ {
		kept = append(kept, messages[i])
	}

	result.Kept = kept
	return result
}

// CalculateOutputTokens returns a per-turn output ceiling that
// decreases linearly as context fills, clamped to
// [MinOutputTokens, modelMaxOutput].
func (m *Manager) CalculateOutputTokens(contextTokens, contextWindowTokens, modelMaxOutput int) int {
	if contextWindowTokens <= 0 {
		return clamp(m.MaxOutputTokens, m.MinOutputTokens, modelMaxOutput)
	}
	fillFraction := float64(contextTokens) / float64(contextWindowTokens)
	if fillFraction > 1 {
		fillFraction = 1
	}
	budget := int(float64(modelMaxOutput) * (1 - fillFraction))
	return clamp(budget, m.MinOutputTokens, modelMaxOutput)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SplitPrompt divides an agent's system prompt into a cacheable base
// (identity + tool list + status-signal grammar — static, reused
// across turns of the same agent kind) and a dynamic suffix (current
// task + ordered enabled instructions). The base string must be
// byte-stable across runs of the same agent kind for the provider's
// prompt cache to credit cache_read_input_tokens.
func SplitPrompt(identity string, toolNames []string, statusGrammar string, task string, instructions []string) (cacheableBase, dynamicSuffix string) {
	var base strings.Builder
	base.WriteString(identity)
	base.WriteString("\n\nAvailable tools: ")
	base.WriteString(strings.Join(toolNames, ", "))
	base.WriteString("\n\n")
	base.WriteString(statusGrammar)

	var suffix strings.Builder
	suffix.WriteString("Task: ")
	suffix.WriteString(task)
	for _, ins := range instructions {
		suffix.WriteString("\n- ")
		suffix.WriteString(ins)
	}

	return base.String(), suffix.String()
}

// StatusGrammar is the stable, cacheable description of the
// status-signal contract every agent prompt includes.
const StatusGrammar = `When you have finished the task, end your message with "STATUS: COMPLETE".
If you must wait for an external event, end your message with "STATUS: WAITING".
If you cannot proceed, end your message with "STATUS: BLOCKED: <reason>".`
