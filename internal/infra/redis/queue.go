package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"
)

var _ repository.PendingQueue = (*Queue)(nil)

// Queue is a Redis list used as a FIFO shared by several replicas.
// LPOP with a count is atomic, so two schedulers never drain the same item.
type Queue struct {
	client *Client
	key    string
}

func NewQueue(client *Client) *Queue {
	return &Queue{client: client, key: client.key("pending")}
}

func (q *Queue) Enqueue(ctx context.Context, req model.PendingRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.client.cli.RPush(ctx, q.key, data).Err()
}

func (q *Queue) DrainUpTo(ctx context.Context, n int) ([]model.PendingRequest, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.client.cli.LPopCount(ctx, q.key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// popped items are gone from Redis: an undecodable one is skipped and
	// reported while the rest of the batch still goes through
	out := make([]model.PendingRequest, 0, len(raw))
	var errs []error
	for _, s := range raw {
		var r model.PendingRequest
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			errs = append(errs, fmt.Errorf("decode pending request: %w", err))
			continue
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.cli.LLen(ctx, q.key).Result()
	return int(n), err
}
