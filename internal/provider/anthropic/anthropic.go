// Package anthropic adapts Anthropic's Messages API to the uniform
// provider.LLM interface.
//
// Grounded on pkg/model/anthropic/anthropic.go's request/response
// translation, rewritten against internal/thread.Thread instead of
// a2a.Message and internal/httpclient instead of pkg/httpclient.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/thinksuit/thinksuit/internal/httpclient"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

func parseSeconds(v string) (time.Duration, error) {
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

// Adapter implements provider.LLM for Anthropic Claude models.
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

	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  httpclient.New(httpclient.WithHeaderParser(parseRateLimitHeaders)),
		caps:    caps,
	}
}

// parseRateLimitHeaders reads the Retry-After response header so
// SmartRetry can honor the server's retry timing; Anthropic's
// anthropic-ratelimit-* headers are not read.
func parseRateLimitHeaders(h http.Header) httpclient.RateLimitInfo {
	var info httpclient.RateLimitInfo
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := parseSeconds(v); err == nil {
			info.RetryAfter = secs
		}
	}
	return info
}

func (a *Adapter) Capabilities() provider.Capabilities { return a.caps }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Model      string                  `json:"model"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func toAnthropicMessages(t thread.Thread) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Role == thread.RoleSystem {
			continue // system is sent via the top-level "system" field
		}
		role := "user"
		if m.Role == thread.RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return out
}

func (a *Adapter) CallLLM(ctx context.Context, req provider.Request) (provider.Response, error) {
	req = provider.SanitizeRequest(req, a.caps)

	body := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemInstructions,
		Messages:    toAnthropicMessages(req.Thread),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		StopSeqs:    req.Stop,
	}
	for _, ts := range req.ToolSchemas {
		body.Tools = append(body.Tools, anthropicTool{Name: ts.Name, Description: ts.Description, InputSchema: ts.InputSchema})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "encode anthropic request", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "build anthropic request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(ctx, httpReq)
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "decode anthropic response", err)
	}

	out := provider.Response{
		Model: parsed.Model,
		Usage: provider.Usage{Prompt: parsed.Usage.InputTokens, Completion: parsed.Usage.OutputTokens},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Output += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, thread.ToolCall{
				ID: block.ID,
				Function: thread.ToolCallFunc{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	out.FinishReason = mapFinishReason(parsed.StopReason)
	out.Raw = parsed
	return out, nil
}

func mapFinishReason(stopReason string) provider.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return provider.FinishComplete
	case "max_tokens":
		return provider.FinishMaxTokens
	case "tool_use":
		return provider.FinishToolUse
	default:
		return provider.FinishOther
	}
}

var _ provider.LLM = (*Adapter)(nil)
