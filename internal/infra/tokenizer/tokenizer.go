// Package tokenizer counts generated tokens for the throughput gauge.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"batched-inference/internal/domain/ports/adapter"
)

var _ adapter.Tokenizer = (*Tiktoken)(nil)

// encodingFor maps a model name to a tiktoken encoding. Models outside the
// OpenAI family (gpt2 checkpoints, gemini) share the closest BPE.
func encodingFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "o200k_base"
	case strings.Contains(m, "gpt2"), strings.HasPrefix(m, "davinci"), strings.HasPrefix(m, "babbage"):
		return "r50k_base"
	default:
		return "cl100k_base"
	}
}

// Tiktoken lazily loads the BPE ranks; loading may download data on first
// use. When loading fails it falls back to Estimate for every call.
type Tiktoken struct {
	encoding string
	log      *zerolog.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func NewTiktoken(model string, log *zerolog.Logger) *Tiktoken {
	return newWithEncoding(encodingFor(model), log)
}

func newWithEncoding(encoding string, log *zerolog.Logger) *Tiktoken {
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	return &Tiktoken{encoding: encoding, log: log}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.log.Warn().Err(t.initErr).Msg("token counting falls back to estimation")
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimate approximates BPE token counts at roughly four bytes per token,
// never less than the number of whitespace separated words.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	words := len(strings.Fields(text))
	if words > byChars {
		return words
	}
	if byChars == 0 {
		return 1
	}
	return byChars
}
