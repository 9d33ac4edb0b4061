package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/opsdeck/opsdeck/internal/models"
)

// controlResync is the control frame telling a client that delta replay is
// not possible and it must re-fetch a full snapshot.
const controlResync = `{"reason":"resync_required"}`

// ServeStream handles GET /api/v1/stream as a server-sent-events stream.
//
// Query parameters:
//
//	topics        comma-separated subset of metrics,jobs,approvals,ledger
//	              (default: all)
//	last_sequence the client's delivery cursor from a previous connection;
//	              the Last-Event-ID header works too
//
// Each event frame carries the full envelope as JSON, with the SSE id set
// to the sequence number so reconnecting clients resume automatically.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request) {
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lastSeq, err := parseLastSequence(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c, err := h.Register(r.Context(), topics, lastSeq)
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.Unregister(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if c.ResyncRequired() {
		writeControl(w)
	}
	flusher.Flush()

	for {
		select {
		case ev, open := <-c.Events():
			if !open {
				// Dropped by the hub (slow consumer) or shutdown;
				// tell the client to resync before closing.
				writeControl(w)
				flusher.Flush()
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Topic, data)
	return err
}

func writeControl(w http.ResponseWriter) {
	_, _ = fmt.Fprintf(w, "event: control\ndata: %s\n\n", controlResync)
}

func parseTopics(raw string) ([]models.Topic, error) {
	if raw == "" {
		return nil, nil
	}
	var topics []models.Topic
	for _, part := range strings.Split(raw, ",") {
		t := models.Topic(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !models.ValidTopic(t) {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func parseLastSequence(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("last_sequence")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last_sequence %q", raw)
	}
	return seq, nil
}
