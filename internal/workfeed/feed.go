// Package workfeed holds the Redis-backed queue of work IDs waiting for an
// ingestion pass. Discovery pushes IDs in, the orchestrator drains them out.
package workfeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	feedKey    = "work_feed"
	pendingKey = "pending_works"
)

type Feed struct {
	client *redis.Client
	ctx    context.Context
}

func NewFeed(redisAddr string) (*Feed, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Feed{
		client: client,
		ctx:    ctx,
	}, nil
}

// Push adds a work ID to the feed. An ID already waiting is not added again;
// the returned bool reports whether the ID was newly queued.
func (f *Feed) Push(workID string) (bool, error) {
	added, err := f.client.SAdd(f.ctx, pendingKey, workID).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}

	if err := f.client.RPush(f.ctx, feedKey, workID).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// PushMany queues every ID not already waiting and returns how many were new.
func (f *Feed) PushMany(workIDs []string) (int, error) {
	queued := 0
	for _, id := range workIDs {
		added, err := f.Push(id)
		if err != nil {
			return queued, err
		}
		if added {
			queued++
		}
	}
	return queued, nil
}

// Drain pops up to max IDs in the order they were queued. A drained ID may be
// pushed again.
func (f *Feed) Drain(max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	ids, err := f.client.LPopCount(f.ctx, feedKey, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := f.client.SRem(f.ctx, pendingKey, id).Err(); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Requeue puts an ID back at the front of the feed so the next drain picks it
// up first.
func (f *Feed) Requeue(workID string) error {
	added, err := f.client.SAdd(f.ctx, pendingKey, workID).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return nil
	}
	return f.client.LPush(f.ctx, feedKey, workID).Err()
}

// Len returns the number of IDs waiting.
func (f *Feed) Len() (int64, error) {
	return f.client.LLen(f.ctx, feedKey).Result()
}

func (f *Feed) Close() error {
	return f.client.Close()
}
