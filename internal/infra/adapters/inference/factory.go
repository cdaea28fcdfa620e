package inference

import (
	"context"
	"fmt"

	"batched-inference/internal/config"
	"batched-inference/internal/domain/ports/adapter"
)

// New builds the configured backend wrapped so that only one call runs at a time.
func New(ctx context.Context, cfg config.BackendConfig, tok adapter.Tokenizer) (adapter.InferenceBackend, error) {
	var (
		b   adapter.InferenceBackend
		err error
	)
	switch cfg.Provider {
	case "", "echo":
		b = NewEcho(cfg.Model, cfg.EchoLatency)
	case "openai":
		b, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, tok, cfg.HTTPTimeout)
	case "gemini":
		b, err = NewGemini(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model, tok)
	default:
		err = fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewSerial(b), nil
}
