package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/orchestrate/pkg/model"
)

func TestCreateMessageMarksCacheableSystemBlock(t *testing.T) {
	var captured apiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResponse{
			Content:    []apiContent{{Type: "text", Text: "STATUS: COMPLETE"}},
			StopReason: "end_turn",
			Usage:      apiUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.CreateMessage(context.Background(), model.Request{
		MaxTokens: 1024,
		System: model.SystemPrompt{
			CacheableBase: "identity and tools",
			DynamicSuffix: "current task",
		},
		Messages: []model.Message{
			{Role: "user", Content: []model.ContentBlock{{Type: model.BlockText, Text: "go"}}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "STATUS: COMPLETE", resp.TextContent())
	assert.Equal(t, model.StopEndTurn, resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)

	require.Len(t, captured.System, 2)
	assert.Equal(t, "identity and tools", captured.System[0].Text)
	require.NotNil(t, captured.System[0].CacheControl)
	assert.Equal(t, "ephemeral", captured.System[0].CacheControl.Type)
	assert.Equal(t, "current task", captured.System[1].Text)
	assert.Nil(t, captured.System[1].CacheControl)
}

func TestCreateMessageMapsToolUseStopReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResponse{
			Content: []apiContent{
				{Type: "tool_use", ID: "call_1", Name: "read_file", Input: map[string]any{"path": "a.go"}},
			},
			StopReason: "tool_use",
			Usage:      apiUsage{InputTokens: 20, OutputTokens: 8},
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.CreateMessage(context.Background(), model.Request{})
	require.NoError(t, err)

	assert.Equal(t, model.StopToolUse, resp.StopReason)
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "read_file", uses[0].Name)
	assert.Equal(t, "call_1", uses[0].ID)
}

func TestCreateMessageSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 1})
	require.NoError(t, err)

	_, err = client.CreateMessage(context.Background(), model.Request{})
	require.Error(t, err)
}
