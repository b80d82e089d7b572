package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thread"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, provider.FinishComplete, mapFinishReason(genai.FinishReasonStop))
	assert.Equal(t, provider.FinishMaxTokens, mapFinishReason(genai.FinishReasonMaxTokens))
	assert.Equal(t, provider.FinishSafety, mapFinishReason(genai.FinishReasonSafety))
	assert.Equal(t, provider.FinishOther, mapFinishReason(genai.FinishReason("OTHER")))
}

func TestMarshalArgs(t *testing.T) {
	s, err := marshalArgs(map[string]any{"notation": "d20"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"notation":"d20"}`, s)

	s, err = marshalArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)
}

func TestToContents_SkipsSystemRole(t *testing.T) {
	th := thread.Thread{}.
		Append(thread.Message{Role: thread.RoleSystem, Content: "be terse"}).
		Append(thread.Message{Role: thread.RoleUser, Content: "hi"})
	contents := toContents(th)
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
}
