package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"defitown.org/internal/chain"
	"defitown.org/internal/store"
	"defitown.org/internal/stream"
)

// Stream serves committed chain events as Server-Sent Events. ?address=
// narrows the feed to events touching one address.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	var filter stream.Filter
	if raw := r.URL.Query().Get("address"); raw != "" {
		addr, err := chain.ParseAddress(raw)
		if err != nil {
			handleTownError(w, r, err)
			return
		}
		filter = stream.ByAddress(addr)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := a.stream.Subscribe(ctx, filter)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ping := time.NewTicker(a.keepAlive)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Name, payload)
			flusher.Flush()
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// listEvents pages through persisted events.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event store disabled")
		return
	}
	qs := r.URL.Query()
	q := store.Query{Name: qs.Get("name"), TxID: qs.Get("tx_id")}
	if raw := qs.Get("contract"); raw != "" {
		addr, err := chain.ParseAddress(raw)
		if err != nil {
			handleTownError(w, r, err)
			return
		}
		q.Contract = addr
	}
	after, err := parseUint(qs.Get("after"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q.After = after
	if raw := qs.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	events, err := a.events.Events(r.Context(), q)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	resp := map[string]any{"events": events}
	if n := len(events); n > 0 && n == q.Normalized().Limit {
		resp["next_after"] = events[n-1].Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}
