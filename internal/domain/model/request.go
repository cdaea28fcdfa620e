package model

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PendingRequest is a submitted generation request waiting for a batch.
// It is never mutated after creation.
type PendingRequest struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewPendingRequest(text string) PendingRequest {
	return PendingRequest{ID: NewRequestID(), Text: text, EnqueuedAt: time.Now()}
}

// Batch is an ordered group of requests pulled from the queue in one cycle.
type Batch []PendingRequest

func (b Batch) Texts() []string {
	out := make([]string, len(b))
	for i, r := range b {
		out[i] = r.Text
	}
	return out
}

func (b Batch) IDs() []string {
	out := make([]string, len(b))
	for i, r := range b {
		out[i] = r.ID
	}
	return out
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRequestID returns a ULID. Monotonic entropy guarantees distinct ids
// within this process even inside the same millisecond.
func NewRequestID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Now(), idEntropy).String()
}
