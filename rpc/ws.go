package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"spacegate/core/types"
	"spacegate/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 256
)

// errSubscriberLagging ends a stream whose subscriber fell a full buffer
// behind. The client resumes with a replay from its last height.
var errSubscriberLagging = errors.New("rpc: event subscriber lagging")

// EventHub fans committed events out to websocket subscribers. A subscriber
// that falls a full buffer behind is closed rather than stalling the chain or
// silently missing events.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan types.Event
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan types.Event)}
}

// Publish implements core.EventSink.
func (h *EventHub) Publish(evt types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- evt.Clone():
		default:
			delete(h.subs, id)
			close(ch)
			observability.Events().RecordDropped(evt.Type)
		}
	}
}

// Subscribe registers a listener. The channel is closed when the listener
// lags or cancel is called; cancel must be called to release it.
func (h *EventHub) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// handleEventsWS streams committed events. With ?from=H the stream first
// replays every stored event at height H or above, then continues live
// without gaps or repeats.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	prefix := strings.TrimSpace(query.Get("prefix"))
	var from *uint64
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		height, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from height", http.StatusBadRequest)
			return
		}
		from = &height
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Readers never send; CloseRead keeps the control frames flowing.
	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, prefix, from)
	switch {
	case errors.Is(err, errSubscriberLagging):
		s.logger.Warn("closing lagging event subscriber", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusTryAgainLater, "subscriber lagging")
	case err != nil && websocket.CloseStatus(err) == -1:
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, prefix string, from *uint64) error {
	// Subscribe before reading history so nothing committed in between is
	// lost; live events already covered by the replay are skipped.
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	replayedThrough, replayed := uint64(0), false
	if from != nil {
		history, through, err := s.chain.EventsFrom(*from)
		if err != nil {
			return err
		}
		for _, evt := range history {
			if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
		replayedThrough, replayed = through, true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return errSubscriberLagging
			}
			if replayed && evt.Height <= replayedThrough {
				continue
			}
			if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
