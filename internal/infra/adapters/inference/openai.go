package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"batched-inference/internal/domain"
	"batched-inference/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.InferenceBackend = (*OpenAI)(nil)

// OpenAI calls an OpenAI-compatible /completions endpoint (OpenAI, vLLM,
// TGI's OpenAI mode). The whole batch goes out as one request with prompt
// set to an array; choices come back tagged with the prompt index.
type OpenAI struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	tok    adapter.Tokenizer
	client *http.Client
}

func NewOpenAI(apiKey, baseURL, model string, tok adapter.Tokenizer, timeout time.Duration) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		return nil, errors.New("openai model empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		tok:    tok,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (o *OpenAI) Model() string { return o.model }

type completionRequest struct {
	Model     string   `json:"model"`
	Prompt    []string `json:"prompt"`
	MaxTokens int      `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Text  string `json:"text"`
		Index int    `json:"index"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(completionRequest{Model: o.model, Prompt: inputs, MaxTokens: maxLength})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload completionResponse
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &payload) == nil && payload.Error != nil && payload.Error.Message != "" {
			return nil, fmt.Errorf("openai http %d: %s", resp.StatusCode, payload.Error.Message)
		}
		return nil, fmt.Errorf("openai http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	out := make([]adapter.Generation, len(inputs))
	filled := make([]bool, len(inputs))
	for _, c := range payload.Choices {
		if c.Index < 0 || c.Index >= len(inputs) || filled[c.Index] {
			return nil, fmt.Errorf("%w: unexpected choice index %d", domain.ErrMisalignedResults, c.Index)
		}
		// keep the prompt in front so output matches a text-generation pipeline
		text := inputs[c.Index] + c.Text
		out[c.Index] = adapter.Generation{Text: text}
		if o.tok != nil {
			out[c.Index].Tokens = o.tok.CountTokens(text)
		}
		filled[c.Index] = true
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("%w: no choice for prompt %d", domain.ErrMisalignedResults, i)
		}
	}
	return out, nil
}
