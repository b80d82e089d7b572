package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thread"
)

func TestCallLLM_NormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "hello"}},
			StopReason: "end_turn",
			Model:      "claude-3",
		}
		resp.Usage.InputTokens = 5
		resp.Usage.OutputTokens = 2
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL})
	th := thread.Thread{}.Append(thread.Message{Role: thread.RoleUser, Content: "hi"})

	out, err := a.CallLLM(context.Background(), provider.Request{Model: "claude-3", Thread: th, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Output)
	assert.Equal(t, provider.FinishComplete, out.FinishReason)
	assert.Equal(t, 5, out.Usage.Prompt)
}

func TestCallLLM_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "tool_use", ID: "t1", Name: "roll_dice", Input: json.RawMessage(`{"notation":"d20"}`)}},
			StopReason: "tool_use",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL})
	out, err := a.CallLLM(context.Background(), provider.Request{Model: "claude-3", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, provider.FinishToolUse, out.FinishReason)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "roll_dice", out.ToolCalls[0].Function.Name)
}
