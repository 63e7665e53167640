package contextwindow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/orchestrate/pkg/store"
)

func TestHeuristicEstimatorFourCharsPerToken(t *testing.T) {
	e := HeuristicEstimator{}
	assert.Equal(t, 0, e.EstimateTokens(""))
	assert.Equal(t, 3, e.EstimateTokens("1234567890")) // 10 chars -> ceil(10/4)
}

func TestWindowPreservesFirstUserMessage(t *testing.T) {
	m := NewManager(HeuristicEstimator{})
	now := time.Now()

	messages := []store.Message{
		{Role: store.RoleUser, Content: "Implement the feature end to end", CreatedAt: now},
	}
	// Pad with a long history of assistant turns.
	for i := 0; i < 50; i++ {
		messages = append(messages, store.Message{
			Role:      store.RoleAssistant,
			Content:   strings.Repeat("word ", 200),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	result := m.Window(messages, 8000)
	require.NotEmpty(t, result.Kept)
	assert.Equal(t, messages[0].Content, result.Kept[0].Content)
	assert.Equal(t, len(messages), result.OriginalCount)
	assert.Greater(t, result.SummarizedCount, 0)
}

func TestWindowIdempotentWhenNoNewMessages(t *testing.T) {
	m := NewManager(HeuristicEstimator{})
	now := time.Now()
	messages := []store.Message{
		{Role: store.RoleUser, Content: "Task", CreatedAt: now},
		{Role: store.RoleAssistant, Content: "short reply", CreatedAt: now.Add(time.Minute)},
	}

	first := m.Window(messages, 200_000)
	second := m.Window(first.Kept, 200_000)
	assert.Equal(t, first.Kept, second.Kept)
}

func TestCalculateOutputTokensDecreasesAsContextFills(t *testing.T) {
	m := NewManager(HeuristicEstimator{})

	empty := m.CalculateOutputTokens(0, 100_000, 8192)
	half := m.CalculateOutputTokens(50_000, 100_000, 8192)
	full := m.CalculateOutputTokens(100_000, 100_000, 8192)

	assert.Equal(t, 8192, empty)
	assert.Less(t, half, empty)
	assert.Equal(t, m.MinOutputTokens, full)
}

func TestSplitPromptIsDeterministic(t *testing.T) {
	base1, suffix1 := SplitPrompt("You are a developer.", []string{"read_file", "write_file"}, StatusGrammar, "Add tests", []string{"Be terse"})
	base2, suffix2 := SplitPrompt("You are a developer.", []string{"read_file", "write_file"}, StatusGrammar, "Add tests", []string{"Be terse"})

	assert.Equal(t, base1, base2)
	assert.Equal(t, suffix1, suffix2)
	assert.Contains(t, base1, "STATUS: COMPLETE")
	assert.Contains(t, suffix1, "Add tests")
}
