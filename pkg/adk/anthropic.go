package adk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	anthropicMaxTokens  = 4096
)

type AnthropicProvider struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	return &AnthropicProvider{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, p.client, http.MethodGet, p.BaseURL+"/v1/models", p.headers(), nil, &result); err != nil {
		return nil, fmt.Errorf("list anthropic models: %w", err)
	}
	models := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string                 `json:"type"`
		Text  string                 `json:"text"`
		Name  string                 `json:"name"`
		Input map[string]interface{} `json:"input"`
	} `json:"content"`
}

// GenerateResponse calls the Messages API. System messages are lifted into
// the system field and consecutive turns of the same role are merged, since
// the API requires strictly alternating user/assistant turns.
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, history []Message, tools []Tool) (string, *ToolCall, error) {
	req := anthropicRequest{Model: p.Model, MaxTokens: anthropicMaxTokens}
	var system []string
	for _, msg := range history {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		role := "user"
		if msg.Role == "model" {
			role = "assistant"
		}
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content += "\n\n" + msg.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: role, Content: msg.Content})
	}
	req.System = strings.Join(system, "\n\n")
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name(), Description: t.Description(), InputSchema: toolSchema(t)})
	}
	if len(req.Messages) == 0 {
		return "", nil, fmt.Errorf("empty history or no response")
	}

	var resp anthropicResponse
	if err := doJSON(ctx, p.client, http.MethodPost, p.BaseURL+"/v1/messages", p.headers(), req, &resp); err != nil {
		return "", nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	var call *ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if call == nil {
				call = &ToolCall{ToolName: block.Name, Args: block.Input}
			}
		}
	}
	if call == nil && text.Len() == 0 {
		return "", nil, fmt.Errorf("no response candidates")
	}
	return text.String(), call, nil
}
