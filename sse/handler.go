// Package sse streams engine events to HTTP clients as Server-Sent Events.
// A stream first replays stored events of one configuration and then
// follows live events from the bus until that configuration is replaced.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/nodeschema/bus"
	"github.com/petal-labs/nodeschema/runtime"
)

// HeartbeatInterval is the default interval between heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// replacementGrace is how long a stream of an already replaced
// configuration waits for the successor's config.compiled event, which
// may still be in flight when the replay ends.
const replacementGrace = 250 * time.Millisecond

// Record is the JSON form of a runtime event, on the stream and in event
// history responses.
type Record struct {
	Kind      string         `json:"kind"`
	ConfigID  string         `json:"config_id"`
	NodeID    string         `json:"node_id,omitempty"`
	NodeType  string         `json:"node_type,omitempty"`
	Time      time.Time      `json:"time"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload"`
	Seq       uint64         `json:"seq"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// NewRecord converts e to its JSON form.
func NewRecord(e runtime.Event) Record {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Record{
		Kind:      string(e.Kind),
		ConfigID:  e.ConfigID,
		NodeID:    e.NodeID,
		NodeType:  e.NodeType,
		Time:      e.Time,
		ElapsedMs: e.Elapsed.Milliseconds(),
		Payload:   payload,
		Seq:       e.Seq,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Store bus.EventStore
	Bus   bus.EventBus

	// Current returns the id of the published configuration. It is used
	// when the request names no configuration or names "current".
	Current func() string

	// Heartbeat overrides HeartbeatInterval.
	Heartbeat time.Duration
}

// Handler serves the event stream of one configuration.
//
// The configuration comes from the "config_id" path value (Go 1.22+
// ServeMux) or the "config" query parameter. The resume cursor comes from
// the Last-Event-ID header or the "after" query parameter, and "kinds" is
// an optional comma-separated event kind filter.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent periodically. The stream ends
// after the config.compiled event of the replacing configuration, or when
// the client disconnects.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = HeartbeatInterval
	}
	return &Handler{cfg: cfg}
}

type streamRequest struct {
	configID string
	afterSeq uint64
	kinds    map[runtime.EventKind]bool
}

func (h *Handler) parse(r *http.Request) (streamRequest, error) {
	var req streamRequest
	req.configID = r.PathValue("config_id")
	if req.configID == "" {
		req.configID = r.URL.Query().Get("config")
	}
	if (req.configID == "" || req.configID == "current") && h.cfg.Current != nil {
		req.configID = h.cfg.Current()
	}
	if req.configID == "" || req.configID == "current" {
		return req, fmt.Errorf("no configuration to stream")
	}

	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = r.URL.Query().Get("after")
	}
	if cursor != "" {
		after, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid cursor %q", cursor)
		}
		req.afterSeq = after
	}

	if raw := r.URL.Query().Get("kinds"); raw != "" {
		req.kinds = make(map[runtime.EventKind]bool)
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				req.kinds[runtime.EventKind(k)] = true
			}
		}
	}
	return req, nil
}

// wants reports whether e is written to the stream.
func (req *streamRequest) wants(e runtime.Event) bool {
	return req.kinds == nil || req.kinds[e.Kind]
}

// replaces reports whether e publishes the successor of the streamed
// configuration.
func (req *streamRequest) replaces(e runtime.Event) bool {
	prev, _ := e.Payload["previous_id"].(string)
	return e.Kind == runtime.EventConfigCompiled && prev == req.configID
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so nothing published in between is lost.
	// The global subscription also sees the successor's config.compiled.
	sub := h.cfg.Bus.SubscribeAll()
	defer sub.Close()

	lastSeq := req.afterSeq
	if h.cfg.Store != nil {
		if err := h.replay(ctx, w, flusher, &req, &lastSeq); err != nil {
			return
		}
	}

	// A replaced configuration gets no further events of its own; only
	// the successor's announcement may still arrive.
	var deadline <-chan time.Time
	if h.cfg.Current != nil && h.cfg.Current() != req.configID {
		timer := time.NewTimer(replacementGrace)
		defer timer.Stop()
		deadline = timer.C
	}
	h.streamLive(ctx, w, flusher, sub, &req, lastSeq, deadline)
}

// replay writes stored events after the cursor.
func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, req *streamRequest, lastSeq *uint64) error {
	events, err := h.cfg.Store.List(ctx, req.configID, req.afterSeq, 0)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*lastSeq = max(*lastSeq, evt.Seq)
		if !req.wants(evt) {
			continue
		}
		if err := writeEvent(w, evt); err != nil {
			return err
		}
		flusher.Flush()
	}
	return nil
}

// streamLive forwards bus events until the stream ends. Events at or below
// replayed were already written; live events may arrive out of sequence
// order when the bus is fed through a coalescing emitter.
func (h *Handler) streamLive(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub bus.Subscription, req *streamRequest, replayed uint64, deadline <-chan time.Time) {
	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline:
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if req.replaces(evt) {
				_ = writeEvent(w, evt)
				flusher.Flush()
				return
			}
			if evt.ConfigID != req.configID || evt.Seq <= replayed {
				continue
			}
			if !req.wants(evt) {
				continue
			}
			if err := writeEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt runtime.Event) error {
	data, err := json.Marshal(NewRecord(evt))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
