package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisEngine stores each group's FIFO as a sorted set of message ids
// scored by createdAt (so ZRANGE/ZPOPMIN yields FIFO order), with the
// encoded message bodies held in a companion hash — avoiding scans by id
// the way a single "id+payload" sorted-set member would require.
type RedisEngine struct {
	client         *redis.Client
	maxPerGroup    int
	commandTimeout time.Duration
}

// NewRedisEngine wraps an already-configured *redis.Client. maxPerGroup<=0
// means unbounded.
func NewRedisEngine(client *redis.Client, maxPerGroup int, commandTimeout time.Duration) *RedisEngine {
	if commandTimeout <= 0 {
		commandTimeout = 2 * time.Second
	}
	return &RedisEngine{client: client, maxPerGroup: maxPerGroup, commandTimeout: commandTimeout}
}

func (e *RedisEngine) zsetKey(group string) string { return "lightq:q:" + group }
func (e *RedisEngine) hashKey(group string) string { return "lightq:d:" + group }

func (e *RedisEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.commandTimeout)
}

func (e *RedisEngine) Add(ctx context.Context, group string, msg *model.Message, ttl time.Duration) error {
	return e.addMany(ctx, group, []*model.Message{msg}, nil, ttl)
}

// AddScored adds msg scored by an explicit epoch-millis value instead of
// msg.CreatedAt, used by the scheduled promoter.
func (e *RedisEngine) AddScored(ctx context.Context, group string, msg *model.Message, score int64, ttl time.Duration) error {
	return e.addMany(ctx, group, []*model.Message{msg}, &score, ttl)
}

func (e *RedisEngine) AddMany(ctx context.Context, group string, msgs []*model.Message, ttl time.Duration) error {
	return e.addMany(ctx, group, msgs, nil, ttl)
}

// addMany is the shared pipelined write: add(s), cap enforcement, TTL
// refresh, all in one round trip. overrideScore, when non-nil, scores every
// message in this call with that value rather than its own createdAt
// (always a single-message call in practice, from AddScored).
func (e *RedisEngine) addMany(ctx context.Context, group string, msgs []*model.Message, overrideScore *int64, ttl time.Duration) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if e.maxPerGroup > 0 {
		n, err := e.client.ZCard(ctx, e.zsetKey(group)).Result()
		if err != nil {
			return fmt.Errorf("checking cache size for %s: %w", group, err)
		}
		room := int64(e.maxPerGroup) - n
		switch {
		case overrideScore == nil:
			// At capacity: plain adds are the newest (highest-scored)
			// entries, so dropping the arrivals is dropping the
			// highest-scored entries.
			if room <= 0 {
				return nil
			}
			if room < int64(len(msgs)) {
				msgs = msgs[:room]
			}
		case room <= 0:
			// A scored re-insert (promotion) may outrank what's already
			// cached; evict the highest-scored entry instead, unless the
			// arrival itself scores highest.
			top, err := e.client.ZRangeWithScores(ctx, e.zsetKey(group), -1, -1).Result()
			if err != nil {
				return fmt.Errorf("checking cache tail for %s: %w", group, err)
			}
			if len(top) == 0 || top[0].Score <= float64(*overrideScore) {
				return nil
			}
			evictID, _ := top[0].Member.(string)
			evict := e.client.TxPipeline()
			evict.ZRem(ctx, e.zsetKey(group), evictID)
			evict.HDel(ctx, e.hashKey(group), evictID)
			if _, err := evict.Exec(ctx); err != nil {
				return fmt.Errorf("evicting %s/%s from cache: %w", group, evictID, err)
			}
		}
	}

	pipe := e.client.TxPipeline()
	zs := make([]redis.Z, 0, len(msgs))
	for _, m := range msgs {
		encoded, err := encodeMessage(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		pipe.HSet(ctx, e.hashKey(group), m.ID, encoded)
		score := m.CreatedAt.UnixMilli()
		if overrideScore != nil {
			score = *overrideScore
		}
		zs = append(zs, redis.Z{Score: float64(score), Member: m.ID})
	}
	pipe.ZAdd(ctx, e.zsetKey(group), zs...)
	if ttl > 0 {
		pipe.Expire(ctx, e.zsetKey(group), ttl)
		pipe.Expire(ctx, e.hashKey(group), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching %d message(s) for %s: %w", len(msgs), group, err)
	}
	return nil
}

func (e *RedisEngine) Pop(ctx context.Context, group string) (*model.Message, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	popped, err := e.client.ZPopMin(ctx, e.zsetKey(group), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("popping from cache for %s: %w", group, err)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	id, _ := popped[0].Member.(string)
	blob, err := e.client.HGet(ctx, e.hashKey(group), id).Result()
	if err != nil {
		if err == redis.Nil {
			// Sorted set and hash drifted apart (e.g. a TTL expired the
			// hash key but not the zset key, or vice versa); the id is
			// gone either way.
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached payload for %s/%s: %w", group, id, err)
	}
	e.client.HDel(ctx, e.hashKey(group), id)
	return decodeMessage([]byte(blob))
}

func (e *RedisEngine) Peek(ctx context.Context, group string, limit int) ([]*model.Message, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = -1
	} else {
		limit--
	}
	ids, err := e.client.ZRange(ctx, e.zsetKey(group), 0, int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("peeking cache for %s: %w", group, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	blobs, err := e.client.HMGet(ctx, e.hashKey(group), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading cached payloads for %s: %w", group, err)
	}
	out := make([]*model.Message, 0, len(blobs))
	for _, b := range blobs {
		s, ok := b.(string)
		if !ok {
			continue
		}
		m, err := decodeMessage([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("decoding cached payload for %s: %w", group, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *RedisEngine) RemoveOne(ctx context.Context, group, id string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	pipe := e.client.TxPipeline()
	pipe.ZRem(ctx, e.zsetKey(group), id)
	pipe.HDel(ctx, e.hashKey(group), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing %s/%s from cache: %w", group, id, err)
	}
	return nil
}

func (e *RedisEngine) TouchTTL(ctx context.Context, group string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	pipe := e.client.TxPipeline()
	pipe.Expire(ctx, e.zsetKey(group), ttl)
	pipe.Expire(ctx, e.hashKey(group), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (e *RedisEngine) Len(ctx context.Context, group string) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.ZCard(ctx, e.zsetKey(group)).Result()
}

func (e *RedisEngine) Ping(ctx context.Context) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Ping(ctx).Err()
}

func (e *RedisEngine) Close() error {
	return e.client.Close()
}
