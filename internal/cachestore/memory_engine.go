package cachestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
)

type memoryItem struct {
	msg        *model.Message
	score      int64
	expiration time.Time
}

// MemoryEngine is the in-process fallback cache used when no Redis address
// is configured: one map of id->item per group, ordered by score for FIFO
// semantics, with expiration checked on read and swept periodically.
type MemoryEngine struct {
	mu          sync.Mutex
	groups      map[string]map[string]memoryItem
	maxPerGroup int

	cleanupInterval time.Duration
	cancel          context.CancelFunc
}

// NewMemoryEngine starts a background sweep of expired entries.
func NewMemoryEngine(maxPerGroup int, cleanupInterval time.Duration) *MemoryEngine {
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &MemoryEngine{
		groups:          make(map[string]map[string]memoryItem),
		maxPerGroup:     maxPerGroup,
		cleanupInterval: cleanupInterval,
		cancel:          cancel,
	}
	go e.sweepLoop(ctx)
	return e
}

func (e *MemoryEngine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (e *MemoryEngine) sweepExpired() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, items := range e.groups {
		for id, item := range items {
			if !item.expiration.IsZero() && now.After(item.expiration) {
				delete(items, id)
			}
		}
	}
}

func (e *MemoryEngine) Add(ctx context.Context, group string, msg *model.Message, ttl time.Duration) error {
	return e.addMany(ctx, group, []*model.Message{msg}, nil, ttl)
}

// AddScored adds msg scored by an explicit epoch-millis value instead of
// msg.CreatedAt, used by the scheduled promoter.
func (e *MemoryEngine) AddScored(ctx context.Context, group string, msg *model.Message, score int64, ttl time.Duration) error {
	return e.addMany(ctx, group, []*model.Message{msg}, &score, ttl)
}

func (e *MemoryEngine) AddMany(ctx context.Context, group string, msgs []*model.Message, ttl time.Duration) error {
	return e.addMany(ctx, group, msgs, nil, ttl)
}

func (e *MemoryEngine) addMany(_ context.Context, group string, msgs []*model.Message, overrideScore *int64, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	items, ok := e.groups[group]
	if !ok {
		items = make(map[string]memoryItem)
		e.groups[group] = items
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	for _, m := range msgs {
		score := m.CreatedAt.UnixMilli()
		if overrideScore != nil {
			score = *overrideScore
		}
		if e.maxPerGroup > 0 && len(items) >= e.maxPerGroup {
			if _, exists := items[m.ID]; !exists {
				if overrideScore == nil {
					// At capacity: a plain add is always the newest
					// (highest-scored) entry, so dropping the arrival is
					// dropping the highest-scored entry.
					continue
				}
				// A scored re-insert (promotion) may outrank what's
				// already cached; evict the highest-scored entry instead,
				// unless the arrival itself scores highest.
				evictID, evictScore := highestScored(items)
				if evictScore <= score {
					continue
				}
				delete(items, evictID)
			}
		}
		items[m.ID] = memoryItem{msg: m.Clone(), score: score, expiration: exp}
	}
	return nil
}

func highestScored(items map[string]memoryItem) (string, int64) {
	var id string
	var max int64
	first := true
	for candidate, item := range items {
		if first || item.score > max {
			id, max = candidate, item.score
			first = false
		}
	}
	return id, max
}

func (e *MemoryEngine) sortedIDs(items map[string]memoryItem) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return items[ids[i]].score < items[ids[j]].score
	})
	return ids
}

func (e *MemoryEngine) Pop(_ context.Context, group string) (*model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.groups[group]
	if len(items) == 0 {
		return nil, nil
	}
	ids := e.sortedIDs(items)
	id := ids[0]
	item := items[id]
	delete(items, id)
	if !item.expiration.IsZero() && time.Now().After(item.expiration) {
		return e.popLocked(group)
	}
	return item.msg.Clone(), nil
}

// popLocked retries Pop's body while already holding mu, used when the
// head of the FIFO turned out to be expired.
func (e *MemoryEngine) popLocked(group string) (*model.Message, error) {
	items := e.groups[group]
	for len(items) > 0 {
		ids := e.sortedIDs(items)
		id := ids[0]
		item := items[id]
		delete(items, id)
		if item.expiration.IsZero() || !time.Now().After(item.expiration) {
			return item.msg.Clone(), nil
		}
	}
	return nil, nil
}

func (e *MemoryEngine) Peek(_ context.Context, group string, limit int) ([]*model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.groups[group]
	if len(items) == 0 {
		return nil, nil
	}
	now := time.Now()
	ids := e.sortedIDs(items)
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		item := items[id]
		if !item.expiration.IsZero() && now.After(item.expiration) {
			continue
		}
		out = append(out, item.msg.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e *MemoryEngine) RemoveOne(_ context.Context, group, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if items, ok := e.groups[group]; ok {
		delete(items, id)
	}
	return nil
}

func (e *MemoryEngine) TouchTTL(_ context.Context, group string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	exp := time.Now().Add(ttl)
	items := e.groups[group]
	for id, item := range items {
		item.expiration = exp
		items[id] = item
	}
	return nil
}

func (e *MemoryEngine) Len(_ context.Context, group string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.groups[group])), nil
}

// Ping always succeeds: the in-process fallback engine has no external
// backend to lose connectivity to.
func (e *MemoryEngine) Ping(context.Context) error { return nil }

func (e *MemoryEngine) Close() error {
	e.cancel()
	return nil
}
