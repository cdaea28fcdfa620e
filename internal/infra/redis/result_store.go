package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"
)

var _ repository.ResultStore = (*ResultStore)(nil)

// ResultStore keeps one key per result. Orphans expire through the key TTL,
// so Sweep has nothing to do.
type ResultStore struct {
	client *Client
	ttl    time.Duration
}

func NewResultStore(client *Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) Publish(ctx context.Context, res model.Result) error {
	if res.ID == "" {
		return domain.ErrInvalidArgument
	}
	if res.PublishedAt.IsZero() {
		res.PublishedAt = time.Now()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.client.cli.Set(ctx, s.client.key("result", res.ID), data, ttl).Err()
}

func (s *ResultStore) Take(ctx context.Context, id string) (model.Result, error) {
	data, err := s.client.cli.GetDel(ctx, s.client.key("result", id)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Result{}, domain.ErrResultNotReady
	}
	if err != nil {
		return model.Result{}, err
	}
	var res model.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}

func (s *ResultStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (s *ResultStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	match := s.client.key("result", "*")
	for {
		keys, next, err := s.client.cli.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
