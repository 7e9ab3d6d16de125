package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// Script results below zero are sentinels.
const (
	scriptFull    = -1
	scriptMissing = -2
)

// reserveSeatScript performs check-then-increment inside Redis, which runs
// scripts one at a time.
const reserveSeatScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local capacity = tonumber(redis.call('HGET', KEYS[1], 'capacity'))
local held = tonumber(redis.call('HGET', KEYS[1], 'held') or '0')
if held >= capacity then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'held', 1)
`

const releaseSeatScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local held = tonumber(redis.call('HGET', KEYS[1], 'held') or '0')
if held <= 0 then
  redis.call('HSET', KEYS[1], 'held', 0)
  return 0
end
return redis.call('HINCRBY', KEYS[1], 'held', -1)
`

// RedisLedger keeps seat counters in one Redis hash per class
// (class:seats:<id> -> capacity, held).
type RedisLedger struct {
	Redis *redis.Client
}

// NewRedisLedger constructs a RedisLedger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{Redis: client}
}

func seatsKey(classID string) string {
	return fmt.Sprintf("class:seats:%s", classID)
}

// TryReserveSeat takes one seat if the class is below capacity.
func (l *RedisLedger) TryReserveSeat(ctx context.Context, classID string) (model.SeatToken, error) {
	held, err := l.Redis.Eval(ctx, reserveSeatScript, []string{seatsKey(classID)}).Int64()
	if err != nil {
		return model.SeatToken{}, classify("reserve seat", err)
	}
	switch held {
	case scriptMissing:
		return model.SeatToken{}, ErrNotFound
	case scriptFull:
		return model.SeatToken{}, ErrClassFull
	}
	return model.SeatToken{ClassID: classID, HeldCount: int(held), IssuedAt: time.Now().UTC()}, nil
}

// ReleaseSeat gives one seat back, never going below zero.
func (l *RedisLedger) ReleaseSeat(ctx context.Context, classID string) (int, error) {
	held, err := l.Redis.Eval(ctx, releaseSeatScript, []string{seatsKey(classID)}).Int64()
	if err != nil {
		return 0, classify("release seat", err)
	}
	if held == scriptMissing {
		return 0, ErrNotFound
	}
	return int(held), nil
}

// Counter returns the seat counter of one class.
func (l *RedisLedger) Counter(ctx context.Context, classID string) (model.CapacityCounter, error) {
	vals, err := l.Redis.HMGet(ctx, seatsKey(classID), "capacity", "held").Result()
	if err != nil {
		return model.CapacityCounter{ClassID: classID}, classify("read counter", err)
	}
	return parseCounter(classID, vals)
}

// Counters returns the seat counters of several classes. Unknown ids are
// absent from the result.
func (l *RedisLedger) Counters(ctx context.Context, classIDs []string) (map[string]model.CapacityCounter, error) {
	out := make(map[string]model.CapacityCounter, len(classIDs))
	for _, id := range classIDs {
		c, err := l.Counter(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

// Track registers a class's capacity. An existing held count is kept; held
// only seeds a counter that Redis has lost.
func (l *RedisLedger) Track(ctx context.Context, class model.ClassInstance, held int) error {
	key := seatsKey(class.ID)
	if err := l.Redis.HSet(ctx, key, "capacity", class.Capacity).Err(); err != nil {
		return classify("track capacity", err)
	}
	if err := l.Redis.HSetNX(ctx, key, "held", held).Err(); err != nil {
		return classify("track held", err)
	}
	return nil
}

func parseCounter(classID string, vals []any) (model.CapacityCounter, error) {
	c := model.CapacityCounter{ClassID: classID}
	if len(vals) != 2 || vals[0] == nil {
		return c, ErrNotFound
	}

	var err error
	if c.Capacity, err = toInt(vals[0]); err != nil {
		return c, fmt.Errorf("parse capacity: %w", err)
	}
	if vals[1] != nil {
		if c.Held, err = toInt(vals[1]); err != nil {
			return c, fmt.Errorf("parse held: %w", err)
		}
	}
	return c, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case string:
		return strconv.Atoi(t)
	case int64:
		return int(t), nil
	}
	return 0, fmt.Errorf("unexpected value %T", v)
}
