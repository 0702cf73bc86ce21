package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// indexMemo remembers which consumer groups already have their live table
// and reservation index created, so EnsureIndexes is a map lookup on the
// hot push path instead of a CREATE TABLE IF NOT EXISTS round trip every
// time. Bounded so a deployment with many short-lived groups doesn't grow
// this unboundedly, and an entry expires once it has gone unused for the
// expiry window (each hit refreshes it), so a table dropped out from under
// the process (operator intervention, schema migration) is re-verified on
// the group's next use after a quiet spell.
type indexMemo struct {
	cache  *lru.Cache[string, time.Time]
	expire time.Duration
	mu     sync.Mutex
}

func newIndexMemo(maxGroups int, expire time.Duration) (*indexMemo, error) {
	if maxGroups <= 0 {
		maxGroups = 256
	}
	if expire <= 0 {
		expire = time.Hour
	}
	c, err := lru.New[string, time.Time](maxGroups)
	if err != nil {
		return nil, err
	}
	return &indexMemo{cache: c, expire: expire}, nil
}

func (m *indexMemo) seen(group string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	markedAt, ok := m.cache.Get(group)
	if !ok {
		return false
	}
	if time.Since(markedAt) > m.expire {
		m.cache.Remove(group)
		return false
	}
	m.cache.Add(group, time.Now())
	return true
}

func (m *indexMemo) mark(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(group, time.Now())
}
