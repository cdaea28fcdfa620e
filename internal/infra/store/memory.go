package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"
)

var _ repository.ResultStore = (*Memory)(nil)

type shard struct {
	mu      sync.Mutex
	entries map[string]model.Result
}

// Memory is a sharded in-process result store. Takes on unrelated ids land on
// different shards most of the time and do not contend.
type Memory struct {
	shards []*shard
	ttl    time.Duration // <= 0 keeps entries until taken
}

func NewMemory(shards int, ttl time.Duration) *Memory {
	if shards <= 0 {
		shards = 32
	}
	m := &Memory{shards: make([]*shard, shards), ttl: ttl}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]model.Result)}
	}
	return m
}

func (m *Memory) shardFor(id string) *shard {
	return m.shards[xxhash.Sum64String(id)%uint64(len(m.shards))]
}

func (m *Memory) Publish(_ context.Context, res model.Result) error {
	if res.ID == "" {
		return domain.ErrInvalidArgument
	}
	if res.PublishedAt.IsZero() {
		res.PublishedAt = time.Now()
	}
	s := m.shardFor(res.ID)
	s.mu.Lock()
	s.entries[res.ID] = res
	s.mu.Unlock()
	return nil
}

func (m *Memory) Take(_ context.Context, id string) (model.Result, error) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.entries[id]
	if !ok {
		return model.Result{}, domain.ErrResultNotReady
	}
	delete(s.entries, id)
	return res, nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-m.ttl)
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, res := range s.entries {
			if res.PublishedAt.Before(cutoff) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n, nil
}
