package httpapi

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the narrow health-check contract the durable store and the
// cache engine both expose.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports durable-store and cache connectivity with a cheap
// Ping against each, timing out so a wedged dependency can't hang the probe.
func HealthHandler(store Pinger, cache Pinger, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"store": "ok", "cache": "ok"}

		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["store"] = err.Error()
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["cache"] = err.Error()
			}
		}
		writeJSON(w, status, body)
	}
}
