package dispatch

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// List is the shared ordered-list primitive the queue delegates atomicity to.
// Every method is a single round trip so concurrent producers and consumers
// interleave safely.
type List interface {
	PushBack(ctx context.Context, value string) error
	// PopFront returns ok=false when the list is empty
	PopFront(ctx context.Context) (value string, ok bool, err error)
	// Index returns ok=false when value is not in the list
	Index(ctx context.Context, value string) (index int64, ok bool, err error)
	Remove(ctx context.Context, value string) (removed int64, err error)
	Len(ctx context.Context) (int64, error)
	Range(ctx context.Context, start, stop int64) ([]string, error)
}

// RedisList is a List stored under a single Redis key
type RedisList struct {
	rdb goredis.UniversalClient
	key string
}

// NewRedisList creates a RedisList on key
func NewRedisList(rdb goredis.UniversalClient, key string) *RedisList {
	return &RedisList{rdb: rdb, key: key}
}

func (l *RedisList) PushBack(ctx context.Context, value string) error {
	return l.rdb.RPush(ctx, l.key, value).Err()
}

func (l *RedisList) PopFront(ctx context.Context) (string, bool, error) {
	value, err := l.rdb.LPop(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (l *RedisList) Index(ctx context.Context, value string) (int64, bool, error) {
	idx, err := l.rdb.LPos(ctx, l.key, value, goredis.LPosArgs{}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return idx, true, nil
}

func (l *RedisList) Remove(ctx context.Context, value string) (int64, error) {
	return l.rdb.LRem(ctx, l.key, 0, value).Result()
}

func (l *RedisList) Len(ctx context.Context) (int64, error) {
	return l.rdb.LLen(ctx, l.key).Result()
}

func (l *RedisList) Range(ctx context.Context, start, stop int64) ([]string, error) {
	return l.rdb.LRange(ctx, l.key, start, stop).Result()
}
