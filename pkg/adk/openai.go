package adk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const DefaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIProvider talks to the chat completions API or any server that
// implements it (LocalAI, vLLM, Ollama's OpenAI endpoint).
type OpenAIProvider struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return &OpenAIProvider{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (p *OpenAIProvider) headers() map[string]string {
	if p.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.APIKey}
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, p.client, http.MethodGet, p.BaseURL+"/models", p.headers(), nil, &result); err != nil {
		return nil, fmt.Errorf("list openai models: %w", err)
	}

	models := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	sort.Strings(models)
	return models, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateResponse sends the conversation to /chat/completions. Only the
// first tool call of a response is honoured.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, history []Message, tools []Tool) (string, *ToolCall, error) {
	req := openAIRequest{Model: p.Model}
	for _, msg := range history {
		req.Messages = append(req.Messages, openAIMessage{Role: openAIRole(msg.Role), Content: msg.Content})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  toolSchema(t),
			},
		})
	}

	var resp openAIResponse
	if err := doJSON(ctx, p.client, http.MethodPost, p.BaseURL+"/chat/completions", p.headers(), req, &resp); err != nil {
		return "", nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("no response candidates")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		fn := msg.ToolCalls[0].Function
		args := map[string]interface{}{}
		if strings.TrimSpace(fn.Arguments) != "" {
			if err := json.Unmarshal([]byte(fn.Arguments), &args); err != nil {
				return "", nil, fmt.Errorf("decode arguments for tool %s: %w", fn.Name, err)
			}
		}
		Debugf("openai requested tool %s", fn.Name)
		return msg.Content, &ToolCall{ToolName: fn.Name, Args: args}, nil
	}
	return msg.Content, nil, nil
}

func openAIRole(role string) string {
	switch role {
	case "system":
		return "system"
	case "model":
		return "assistant"
	default:
		return "user"
	}
}
