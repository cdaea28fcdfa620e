package inference

import (
	"context"
	"strings"
	"time"

	"batched-inference/internal/domain/ports/adapter"
)

var _ adapter.InferenceBackend = (*Echo)(nil)

var fillerWords = []string{"and", "then", "the", "story", "went", "on"}

// Echo is a deterministic local backend for development and tests. It
// returns each prompt continued with filler words up to maxLength words,
// counting one token per word like a text-generation pipeline whose
// max_length includes the prompt.
type Echo struct {
	model   string
	latency time.Duration
}

func NewEcho(model string, latency time.Duration) *Echo {
	if model == "" {
		model = "echo"
	}
	return &Echo{model: model, latency: latency}
}

func (e *Echo) Model() string { return e.model }

func (e *Echo) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	if e.latency > 0 {
		t := time.NewTimer(e.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]adapter.Generation, len(inputs))
	for i, in := range inputs {
		words := strings.Fields(in)
		if maxLength > 0 && len(words) > maxLength {
			words = words[:maxLength]
		}
		for j := 0; len(words) < maxLength; j++ {
			words = append(words, fillerWords[j%len(fillerWords)])
		}
		out[i] = adapter.Generation{Text: strings.Join(words, " "), Tokens: len(words)}
	}
	return out, nil
}
