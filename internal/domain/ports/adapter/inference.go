package adapter

import "context"

// Generation is the backend output for a single input.
type Generation struct {
	Text string
	// Tokens is the generated token count as reported by the provider;
	// zero when the provider does not report usage.
	Tokens int
}

// InferenceBackend is the port for batched text generation.
type InferenceBackend interface {
	// Infer runs one call for the whole batch. The returned slice must be
	// index-aligned with inputs. A single error fails every input.
	Infer(ctx context.Context, inputs []string, maxLength int) ([]Generation, error)

	// Model returns the model identifier served by this backend.
	Model() string
}

// Tokenizer counts tokens in generated text.
type Tokenizer interface {
	CountTokens(text string) int
}
