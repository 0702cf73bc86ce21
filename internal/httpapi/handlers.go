// Package httpapi is the HTTP adapter over the queue engine: request
// routing/parsing and translating queue.Engine results into status codes
// and response bodies. Authentication, role checks, and rate limiting are
// external collaborators; this package assumes every request reaching it
// is already authorized.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/CrisisTextLine/lightq/internal/queue"
)

const headerConsumerGroup = "consumerGroup"

// pushResponse is the {id, content, createdAt} shape returned by /push,
// /batch/push, and /pop.
type pushResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// API bundles the queue engine behind the /queue HTTP surface.
type API struct {
	engine *queue.Engine
}

// New builds the HTTP adapter over engine.
func New(engine *queue.Engine) *API { return &API{engine: engine} }

// parseScheduledAt reads the optional scheduledAt query parameter as
// RFC3339; absent means deliver immediately.
func parseScheduledAt(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("scheduledAt")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	content, err := io.ReadAll(io.LimitReader(r.Body, int64(1<<20)+1))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "could not read request body")
		return
	}
	scheduledAt, err := parseScheduledAt(r)
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "scheduledAt must be RFC3339")
		return
	}

	msg, err := a.engine.Push(r.Context(), group, content, scheduledAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{ID: msg.ID, Content: string(msg.Content), CreatedAt: msg.CreatedAt})
}

func (a *API) handleBatchPush(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)

	var items []string
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "request body must be a JSON array of strings")
		return
	}

	contents := make([][]byte, len(items))
	for i, s := range items {
		contents[i] = []byte(s)
	}

	msgs, err := a.engine.BatchPush(r.Context(), group, contents)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]pushResponse, len(msgs))
	for i, m := range msgs {
		out[i] = pushResponse{ID: m.ID, Content: string(m.Content), CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePop(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)

	msg, err := a.engine.Pop(r.Context(), group)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{ID: msg.ID, Content: string(msg.Content), CreatedAt: msg.CreatedAt})
}

func (a *API) handleAck(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	id := r.URL.Query().Get("id")

	if err := a.engine.Ack(r.Context(), group, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleNack(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	id := r.URL.Query().Get("id")
	reason := r.URL.Query().Get("reason")

	if err := a.engine.Nack(r.Context(), group, id, reason); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleExtendVisibility(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	id := r.URL.Query().Get("id")
	seconds, _ := strconv.Atoi(r.URL.Query().Get("seconds"))

	if err := a.engine.ExtendVisibility(r.Context(), group, id, seconds); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleView(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	limit, _ := strconv.Atoi(r.URL.Query().Get("messageCount"))

	filter := queue.ConsumedFilterAny
	switch r.URL.Query().Get("consumed") {
	case "yes":
		filter = queue.ConsumedFilterYes
	case "no":
		filter = queue.ConsumedFilterNo
	}

	msgs, err := a.engine.View(r.Context(), group, limit, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The admin view returns the full Message record, unlike the trimmed
	// {id, content, createdAt} shape /push, /batch/push, and /pop use.
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleDLQView(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := a.engine.ViewDLQ(r.Context(), group, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleDLQReplay(w http.ResponseWriter, r *http.Request) {
	group := r.Header.Get(headerConsumerGroup)

	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "request body must be a JSON array of ids")
		return
	}

	count, err := a.engine.ReplayDLQ(r.Context(), group, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}
