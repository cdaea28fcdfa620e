package model

import "time"

// Result is the outcome published for one request id. Exactly one of
// Text or Error is meaningful.
type Result struct {
	ID          string    `json:"id"`
	Text        string    `json:"generated_text,omitempty"`
	Tokens      int       `json:"tokens,omitempty"`
	Error       string    `json:"error,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

func (r Result) Failed() bool { return r.Error != "" }

func SuccessResult(id, batchID, text string, tokens int) Result {
	return Result{ID: id, BatchID: batchID, Text: text, Tokens: tokens, PublishedAt: time.Now()}
}

func ErrorResult(id, batchID string, err error) Result {
	return Result{ID: id, BatchID: batchID, Error: err.Error(), PublishedAt: time.Now()}
}
