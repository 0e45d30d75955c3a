package httpapi

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/driftsync/driftsync/internal/syncengine"
)

// EventHub fans progress events out to websocket subscribers. Slow
// subscribers drop events instead of blocking the worker.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	targetID string
	ch       chan syncengine.ProgressEvent
}

func NewEventHub() *EventHub {
	return &EventHub{subs: map[int]subscriber{}}
}

// Publish delivers the event to every subscriber watching its target. Wired
// as the engine's progress callback.
func (h *EventHub) Publish(event syncengine.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.targetID != event.TargetID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (h *EventHub) subscribe(targetID string) (int, chan syncengine.ProgressEvent) {
	ch := make(chan syncengine.ProgressEvent, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = subscriber{targetID: targetID, ch: ch}
	return id, ch
}

func (h *EventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request, targetID string) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream not enabled")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	id, ch := s.events.subscribe(targetID)
	defer s.events.unsubscribe(id)

	ctx := r.Context()
	// Seed the stream with the current state so a late subscriber is not
	// blind until the next progress write.
	if state, err := s.controller.Status(ctx, targetID); err == nil {
		event := syncengine.ProgressEvent{
			TargetID: targetID,
			Current:  state.ProgressCurrent,
			Total:    state.ProgressTotal,
			Status:   state.Status,
		}
		if err := wsjson.Write(ctx, conn, event); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
			if event.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "sync finished")
				return
			}
		}
	}
}
