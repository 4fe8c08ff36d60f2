package adk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	replies  []scriptedReply
	seen     [][]Message
	seenTool [][]string
}

type scriptedReply struct {
	text string
	call *ToolCall
	err  error
}

func (s *scriptedProvider) GenerateResponse(_ context.Context, history []Message, tools []Tool) (string, *ToolCall, error) {
	s.seen = append(s.seen, append([]Message(nil), history...))
	var names []string
	for _, t := range tools {
		names = append(names, t.Name())
	}
	s.seenTool = append(s.seenTool, names)
	if len(s.replies) == 0 {
		return "", &ToolCall{ToolName: "echo"}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.call, r.err
}

func (s *scriptedProvider) ListModels(context.Context) ([]string, error) { return []string{"m"}, nil }

type echoTool struct{ calls int }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes the query" }
func (e *echoTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		"required":   []string{"query"},
	}
}
func (e *echoTool) Execute(_ context.Context, args map[string]interface{}, _ func(string)) (string, error) {
	e.calls++
	q, _ := args["query"].(string)
	if q == "fail" {
		return "", errors.New("tool broke")
	}
	return "echo:" + q, nil
}

func TestAgentRun_ToolLoop(t *testing.T) {
	llm := &scriptedProvider{replies: []scriptedReply{
		{call: &ToolCall{ToolName: "echo", Args: map[string]interface{}{"query": "CVE-1"}}},
		{call: &ToolCall{ToolName: "missing"}},
		{call: &ToolCall{ToolName: "echo", Args: map[string]interface{}{"query": "fail"}}},
		{text: "done"},
	}}
	tool := &echoTool{}
	a := NewAgent(llm)
	a.RegisterTool(tool)
	a.SetSystemPrompt("be brief")

	out, err := a.Run(context.Background(), "probe it", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, tool.calls)
	assert.Equal(t, []string{"echo"}, llm.seenTool[0])

	h := a.History()
	assert.Equal(t, Message{Role: "system", Content: "be brief"}, h[0])
	assert.Equal(t, Message{Role: "user", Content: "probe it"}, h[1])
	assert.Equal(t, "Tool echo returned: echo:CVE-1", h[3].Content)
	assert.Equal(t, "Error: Tool missing not found", h[5].Content)
	assert.Contains(t, h[7].Content, "Error executing tool: tool broke")
	assert.Equal(t, Message{Role: "model", Content: "done"}, h[len(h)-1])
}

func TestAgentRun_FreshHistory(t *testing.T) {
	llm := &scriptedProvider{replies: []scriptedReply{{text: "one"}, {text: "two"}}}
	a := NewAgent(llm)

	_, err := a.Run(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "second", nil)
	require.NoError(t, err)

	require.Len(t, llm.seen, 2)
	assert.Equal(t, []Message{{Role: "user", Content: "second"}}, llm.seen[1])
}

func TestAgentRun_MaxSteps(t *testing.T) {
	a := NewAgent(&scriptedProvider{})
	a.RegisterTool(&echoTool{})
	a.SetMaxSteps(3)

	_, err := a.Run(context.Background(), "loop forever", nil)
	assert.ErrorIs(t, err, ErrMaxSteps)
}

func TestAgentRun_ProviderError(t *testing.T) {
	a := NewAgent(&scriptedProvider{replies: []scriptedReply{{err: errors.New("quota")}}})
	_, err := a.Run(context.Background(), "x", nil)
	assert.EqualError(t, err, "quota")
}

func TestOpenAIProvider(t *testing.T) {
	var got openAIRequest
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			_, _ = w.Write([]byte(`{"data":[{"id":"gpt-b"},{"id":"gpt-a"}]}`))
		case "/v1/chat/completions":
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			calls++
			if calls == 1 {
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"function":{"name":"echo","arguments":"{\"query\":\"x\"}"}}]}}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"final"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-test", srv.URL+"/v1/")

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-a", "gpt-b"}, models)

	history := []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}, {Role: "model", Content: "hello"}, {Role: "function", Content: "result"}}
	text, call, err := p.GenerateResponse(context.Background(), history, []Tool{&echoTool{}})
	require.NoError(t, err)
	assert.Empty(t, text)
	require.NotNil(t, call)
	assert.Equal(t, "echo", call.ToolName)
	assert.Equal(t, map[string]interface{}{"query": "x"}, call.Args)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, []openAIMessage{{"system", "sys"}, {"user", "hi"}, {"assistant", "hello"}, {"user", "result"}}, got.Messages)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "echo", got.Tools[0].Function.Name)

	text, call, err = p.GenerateResponse(context.Background(), history, nil)
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, "final", text)
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", "m", srv.URL)
	_, _, err := p.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "x"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestAnthropicProvider(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"let me search"},{"type":"tool_use","name":"echo","input":{"query":"y"}}]}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude-test", srv.URL)
	history := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "calling"},
		{Role: "function", Content: "r1"},
		{Role: "user", Content: "more"},
	}
	text, call, err := p.GenerateResponse(context.Background(), history, []Tool{&echoTool{}})
	require.NoError(t, err)
	assert.Equal(t, "let me search", text)
	require.NotNil(t, call)
	assert.Equal(t, "echo", call.ToolName)
	assert.Equal(t, "y", call.Args["query"])

	assert.Equal(t, "sys", got.System)
	assert.Equal(t, []anthropicMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "calling"},
		{Role: "user", Content: "r1\n\nmore"},
	}, got.Messages)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "object", got.Tools[0].InputSchema["type"])
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":  map[string]interface{}{"type": "string", "description": "search text"},
			"offset": map[string]interface{}{"type": "integer"},
			"sort":   map[string]interface{}{"type": "string", "enum": []interface{}{"default", "date", "score"}},
			"tags":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []interface{}{"query"},
	})
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"query"}, s.Required)
	assert.Equal(t, "search text", s.Properties["query"].Description)
	assert.Equal(t, genai.TypeInteger, s.Properties["offset"].Type)
	assert.Equal(t, []string{"default", "date", "score"}, s.Properties["sort"].Enum)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt("", "  extra section ")
	assert.Contains(t, p, "SearchExploits")
	assert.Contains(t, p, "\n\nextra section")
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(context.Background(), "bard", "", "", "")
	assert.EqualError(t, err, "unknown provider: bard")
}
