package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrClaimInFlight reports an event another delivery is still processing, or
// one whose processing died before it settled. The message is requeued and
// becomes claimable again once the in-flight claim expires.
var ErrClaimInFlight = errors.New("event is being processed")

// Deduplicator remembers event ids already handled on a queue.
type Deduplicator interface {
	// Claim returns false when the event was already handled on the queue and
	// ErrClaimInFlight when it is claimed but not yet handled.
	Claim(ctx context.Context, queue, eventID string) (bool, error)
	// Complete records the claimed event as handled.
	Complete(ctx context.Context, queue, eventID string) error
	// Release forgets a claim so a redelivery is processed again.
	Release(ctx context.Context, queue, eventID string) error
}

const (
	claimProcessing = "processing"
	claimDone       = "done"
)

// RedisDeduplicator keeps one key per queue and event id. A claim lives for
// claimTTL until Complete extends it to ttl, so a claim left behind by a crash
// stops blocking redeliveries after claimTTL.
type RedisDeduplicator struct {
	rdb      *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewRedisDeduplicator(rdb *redis.Client, ttl, claimTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{rdb: rdb, ttl: ttl, claimTTL: claimTTL}
}

func (d *RedisDeduplicator) Key(queue, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", queue, eventID)
}

func (d *RedisDeduplicator) Claim(ctx context.Context, queue, eventID string) (bool, error) {
	key := d.Key(queue, eventID)
	ok, err := d.rdb.SetNX(ctx, key, claimProcessing, d.claimTTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	state, err := d.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, ErrClaimInFlight
	case err != nil:
		return false, err
	case state == claimDone:
		return false, nil
	default:
		return false, ErrClaimInFlight
	}
}

func (d *RedisDeduplicator) Complete(ctx context.Context, queue, eventID string) error {
	return d.rdb.Set(ctx, d.Key(queue, eventID), claimDone, d.ttl).Err()
}

func (d *RedisDeduplicator) Release(ctx context.Context, queue, eventID string) error {
	return d.rdb.Del(ctx, d.Key(queue, eventID)).Err()
}
