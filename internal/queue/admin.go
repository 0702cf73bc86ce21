package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/store"
)

// ConsumedFilter selects View's consumed predicate, mirroring the
// "yes"/"no"/unset values the admin /view endpoint accepts.
type ConsumedFilter int

const (
	ConsumedFilterAny ConsumedFilter = iota
	ConsumedFilterYes
	ConsumedFilterNo
)

// View returns up to limit messages for group, read-only, merging the cache
// and the durable store without duplicates. Consumed="yes" bypasses the
// cache entirely (the cache never holds consumed messages); otherwise the
// cache is read first and the durable store fills in anything the cache
// doesn't have, self-healing any cache entry the durable store disowns.
func (e *Engine) View(ctx context.Context, group string, limit int, filter ConsumedFilter) ([]*model.Message, error) {
	if err := model.ValidateGroup(group); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > e.cfg.MessageAllowedToFetch {
		limit = e.cfg.MessageAllowedToFetch
	}

	if filter == ConsumedFilterYes {
		out, err := e.store.Find(ctx, group, store.FindOptions{
			Consumed: store.ConsumedOnly,
			Limit:    limit,
		})
		if err != nil {
			return nil, fmt.Errorf("listing consumed messages for %s: %w", group, err)
		}
		return out, nil
	}

	cached, err := e.cache.Peek(ctx, group, limit)
	if err != nil {
		e.logger.Warn("cache peek failed during view, falling back to durable store", "group", group, "error", err.Error())
		cached = nil
	}

	excludeIDs := make([]string, 0, len(cached))
	healed := cached[:0]
	for _, m := range cached {
		live, err := e.store.FindByID(ctx, group, m.ID)
		if err != nil {
			e.logger.Warn("verifying cached entry against durable store failed", "group", group, "id", m.ID, "error", err.Error())
			healed = append(healed, m)
			excludeIDs = append(excludeIDs, m.ID)
			continue
		}
		if live == nil || live.Consumed {
			// The durable store disowns this id: self-heal by evicting it
			// from the cache and excluding it from the result. The id still
			// goes on the exclusion list so the durable query below cannot
			// resurrect the consumed row.
			if err := e.cache.RemoveOne(ctx, group, m.ID); err != nil {
				e.logger.Warn("self-healing stale cache entry failed", "group", group, "id", m.ID, "error", err.Error())
			} else {
				e.metrics.CacheSelfHealed.WithLabelValues(group).Inc()
			}
			excludeIDs = append(excludeIDs, m.ID)
			continue
		}
		healed = append(healed, m)
		excludeIDs = append(excludeIDs, m.ID)
	}

	durableFilter := store.ConsumedAny
	if filter == ConsumedFilterNo {
		durableFilter = store.UnconsumedOnly
	}
	durable, err := e.store.Find(ctx, group, store.FindOptions{
		Consumed:   durableFilter,
		ExcludeIDs: excludeIDs,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing durable messages for %s: %w", group, err)
	}

	out := append(healed, durable...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
