// Package gemini adapts Google's Gemini models to the uniform
// provider.LLM interface using the official google.golang.org/genai SDK.
//
// Grounded on pkg/model/gemini/gemini.go's request/response translation,
// trimmed to non-streaming generation and rewritten against
// internal/thread.Thread instead of a2a.Message.
package gemini

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// Adapter implements provider.LLM for Gemini models.
type Adapter struct {
	client *genai.Client
	caps   provider.Capabilities
}

// Config configures an Adapter.
type Config struct {
	APIKey     string
	MaxContext int
	MaxOutput  int
}

// New constructs an Adapter backed by the genai SDK.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, thinkerr.New(thinkerr.CodeConfig, "gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, thinkerr.Wrap(thinkerr.CodeProvider, "create gemini client", err)
	}

	caps := provider.Capabilities{MaxContext: cfg.MaxContext, MaxOutput: cfg.MaxOutput}
	caps.Supports.ToolCalls = true
	caps.Supports.Temperature = true

	return &Adapter{client: client, caps: caps}, nil
}

func (a *Adapter) Capabilities() provider.Capabilities { return a.caps }

func toContents(t thread.Thread) []*genai.Content {
	var contents []*genai.Content
	for _, m := range t.Messages {
		if m.Role == thread.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == thread.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return contents
}

func (a *Adapter) CallLLM(ctx context.Context, req provider.Request) (provider.Response, error) {
	req = provider.SanitizeRequest(req, a.caps)

	config := &genai.GenerateContentConfig{}
	if req.SystemInstructions != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstructions}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	for _, ts := range req.ToolSchemas {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        ts.Name,
				Description: ts.Description,
			}},
		})
	}

	genResp, err := a.client.Models.GenerateContent(ctx, req.Model, toContents(req.Thread), config)
	if err != nil {
		return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "gemini generation failed", err)
	}
	if len(genResp.Candidates) == 0 {
		return provider.Response{}, thinkerr.New(thinkerr.CodeProvider, "gemini response has no candidates")
	}
	candidate := genResp.Candidates[0]

	out := provider.Response{Model: req.Model, Raw: genResp}
	if genResp.UsageMetadata != nil {
		out.Usage = provider.Usage{
			Prompt:     int(genResp.UsageMetadata.PromptTokenCount),
			Completion: int(genResp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Output += part.Text
			}
			if part.FunctionCall != nil {
				args, marshalErr := marshalArgs(part.FunctionCall.Args)
				if marshalErr != nil {
					return provider.Response{}, thinkerr.Wrap(thinkerr.CodeProvider, "encode gemini function call args", marshalErr)
				}
				out.ToolCalls = append(out.ToolCalls, thread.ToolCall{
					ID:       part.FunctionCall.ID,
					Function: thread.ToolCallFunc{Name: part.FunctionCall.Name, Arguments: args},
				})
			}
		}
	}
	out.FinishReason = mapFinishReason(candidate.FinishReason)
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishToolUse
	}
	return out, nil
}

func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func mapFinishReason(r genai.FinishReason) provider.FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return provider.FinishComplete
	case genai.FinishReasonMaxTokens:
		return provider.FinishMaxTokens
	case genai.FinishReasonSafety:
		return provider.FinishSafety
	default:
		return provider.FinishOther
	}
}

var _ provider.LLM = (*Adapter)(nil)
