package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinksuit/thinksuit/internal/provider"
)

func TestNew_DefaultsBaseURL(t *testing.T) {
	a := New(Config{})
	assert.NotNil(t, a)
}

func TestCallLLM_UsesConfiguredServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "llama3",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi there"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	out, err := a.CallLLM(context.Background(), provider.Request{Model: "llama3", MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Output)
	assert.Equal(t, provider.FinishComplete, out.FinishReason)
}
