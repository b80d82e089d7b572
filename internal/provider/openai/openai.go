// Package openai adapts OpenAI's Chat Completions API to the uniform
// provider.LLM interface.
//
// Grounded on pkg/model/openai/openai.go's request/response shape,
// rewritten against internal/thread.Thread and internal/httpclient.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/thinksuit/thinksuit/internal/httpclient"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

// Adapter implements provider.LLM for OpenAI-compatible chat APIs
// (also reused by the ollama adapter, which speaks the same shape).
type Adapter struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
	caps    provider.Capabilities
}

// Config configures an Adapter.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxContext int
	MaxOutput  int
}

// New constructs an Adapter.
func New(cfg Config) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	caps := provider.Capabilities{MaxContext: cfg.MaxContext, MaxOutput: cfg.MaxOutput}
	caps.Supports.ToolCalls = true
	caps.Supports.Temperature = true

	return &Adapter{apiKey: cfg.APIKey, baseURL: baseURL, client: httpclient.New(), caps: caps}
}

func (a *Adapter) Capabilities() provider.Capabilities { return a.caps }

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toChatMessages(system string, t thread.Thread) []chatMessage {
	out := make([]chatMessage, 0, len(t.Messages)+1)
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, m := range t.Messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			ctc := chatToolCall{ID: tc.ID, Type: "function"}
			ctc.Function.Name = tc.Function.Name
			ctc.Function.Arguments = tc.Function.Arguments
			cm.ToolCalls = append(cm.ToolCalls, ctc)
		}
		out = append(out, cm)
	}
	return out
}

func (a *Adapter) CallLLM(ctx context.Context, req provider.Request) (provider.Response, error) {
	req = provider.SanitizeRequest(req, a.caps)

	body := chatRequest{
		Model:       req.Model,
		Messages:    toChatMessages(req.SystemInstructions, req.Thread),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	for _, ts := range req.ToolSchemas {
		ct := chatTool{Type: "function"}
		ct.Function.Name = ts.Name
		ct.Function.Description = ts.Description
		ct.Function.Parameters = ts.InputSchema
		body.Tools = append(body.Tools, ct)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "encode openai request", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "build openai request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(ctx, httpReq)
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "openai request failed", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "decode openai response", err)
	}
	if len(parsed.Choices) == 0 {
		return provider.Response{}, thinkerr.New(thinkerr.CodeProvider, "openai response has no choices")
	}
	choice := parsed.Choices[0]

	out := provider.Response{
		Output:       choice.Message.Content,
		Model:        parsed.Model,
		Usage:        provider.Usage{Prompt: parsed.Usage.PromptTokens, Completion: parsed.Usage.CompletionTokens},
		FinishReason: mapFinishReason(choice.FinishReason),
		Raw:          parsed,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, thread.ToolCall{
			ID:       tc.ID,
			Function: thread.ToolCallFunc{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out, nil
}

func mapFinishReason(r string) provider.FinishReason {
	switch r {
	case "stop":
		return provider.FinishComplete
	case "length":
		return provider.FinishMaxTokens
	case "tool_calls", "function_call":
		return provider.FinishToolUse
	case "content_filter":
		return provider.FinishSafety
	default:
		return provider.FinishOther
	}
}

var _ provider.LLM = (*Adapter)(nil)
