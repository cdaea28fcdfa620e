package inference

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"batched-inference/internal/domain/ports/adapter"
)

var _ adapter.InferenceBackend = (*Gemini)(nil)

// Gemini has no multi-prompt completion call, so one Infer runs the prompts
// back to back. The first failure fails the whole batch.
type Gemini struct {
	client *genai.Client
	model  string
	tok    adapter.Tokenizer
}

func NewGemini(ctx context.Context, apiKey, baseURL, model string, tok adapter.Tokenizer) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		return nil, errors.New("gemini: empty model")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{client: c, model: model, tok: tok}, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	out := make([]adapter.Generation, len(inputs))
	for i, in := range inputs {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(in), &genai.GenerateContentConfig{
			MaxOutputTokens: int32(maxLength),
		})
		if err != nil {
			return nil, fmt.Errorf("gemini prompt %d: %w", i, err)
		}

		text := ""
		if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			for _, p := range resp.Candidates[0].Content.Parts {
				if p != nil {
					text += p.Text
				}
			}
		}
		gen := adapter.Generation{Text: in + text}
		if resp != nil && resp.UsageMetadata != nil {
			gen.Tokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if gen.Tokens == 0 && g.tok != nil {
			gen.Tokens = g.tok.CountTokens(gen.Text)
		}
		out[i] = gen
	}
	return out, nil
}
