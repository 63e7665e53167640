// Package anthropic implements model.Client against the Anthropic
// Messages API: one synchronous call per turn, with the cacheable
// portion of the system prompt marked for prompt caching.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hanibalsk/orchestrate/pkg/httpclient"
	"github.com/hanibalsk/orchestrate/pkg/model"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey     string
	Model      string
	MaxTokens  int
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the Anthropic Messages API.
type Client struct {
	httpClient *httpclient.Client
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
}

// New creates an Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &Client{
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      modelName,
		maxTokens:  maxTokens,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.model }

// Close releases resources. The underlying http.Client needs none.
func (c *Client) Close() error { return nil }

// CreateMessage performs one non-streaming turn.
func (c *Client) CreateMessage(ctx context.Context, req model.Request) (model.Response, error) {
	apiReq := c.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return model.Response{}, fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return model.Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	return parseResponse(&apiResp), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// buildRequest maps the abstract request onto the Anthropic wire
// format. The cacheable base of the system prompt carries a
// cache_control mark so the provider caches it across turns; the
// dynamic suffix does not.
func (c *Client) buildRequest(req model.Request) *apiRequest {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	apiReq := &apiRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
	}

	if req.System.CacheableBase != "" {
		apiReq.System = append(apiReq.System, apiSystemBlock{
			Type:         "text",
			Text:         req.System.CacheableBase,
			CacheControl: &cacheControl{Type: "ephemeral"},
		})
	}
	if req.System.DynamicSuffix != "" {
		apiReq.System = append(apiReq.System, apiSystemBlock{
			Type: "text",
			Text: req.System.DynamicSuffix,
		})
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, toAPIMessage(msg))
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return apiReq
}

func toAPIMessage(msg model.Message) apiMessage {
	out := apiMessage{Role: msg.Role}
	for _, block := range msg.Content {
		switch block.Type {
		case model.BlockText:
			out.Content = append(out.Content, apiContent{Type: "text", Text: block.Text})
		case model.BlockToolUse:
			if block.ToolUse == nil {
				continue
			}
			out.Content = append(out.Content, apiContent{
				Type:  "tool_use",
				ID:    block.ToolUse.ID,
				Name:  block.ToolUse.Name,
				Input: block.ToolUse.Input,
			})
		case model.BlockToolResult:
			if block.ToolResult == nil {
				continue
			}
			content := block.ToolResult.Content
			if content == "" {
				content = "(no output)"
			}
			out.Content = append(out.Content, apiContent{
				Type:      "tool_result",
				ToolUseID: block.ToolResult.ToolUseID,
				Content:   content,
				IsError:   block.ToolResult.IsError,
			})
		}
	}
	return out
}

func parseResponse(resp *apiResponse) model.Response {
	result := model.Response{
		Usage: model.Usage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		},
		StopReason: model.StopEndTurn,
	}

	switch resp.StopReason {
	case "tool_use":
		result.StopReason = model.StopToolUse
	case "max_tokens":
		result.StopReason = model.StopMaxTokens
	case "stop_sequence":
		result.StopReason = model.StopStopSequence
	}

	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			result.Content = append(result.Content, model.ContentBlock{Type: model.BlockText, Text: content.Text})
		case "tool_use":
			result.Content = append(result.Content, model.ContentBlock{
				Type: model.BlockToolUse,
				ToolUse: &model.ToolUseBlock{
					ID:    content.ID,
					Name:  content.Name,
					Input: content.Input,
				},
			})
		}
	}

	return result
}

type apiRequest struct {
	Model     string           `json:"model"`
	Messages  []apiMessage     `json:"messages"`
	MaxTokens int              `json:"max_tokens"`
	System    []apiSystemBlock `json:"system,omitempty"`
	Tools     []apiTool        `json:"tools,omitempty"`
}

type apiSystemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

var _ model.Client = (*Client)(nil)
