package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"gardenchain/core/events"
	"gardenchain/core/types"
	"gardenchain/observability"
)

const wsWriteTimeout = 10 * time.Second

type renderer interface {
	Event() *types.Event
}

// eventFilter narrows the stream by event type and strategy address.
type eventFilter struct {
	types    map[string]struct{}
	strategy string
}

func newEventFilter(r *http.Request) eventFilter {
	f := eventFilter{strategy: strings.TrimSpace(r.URL.Query().Get("strategy"))}
	for _, raw := range r.URL.Query()["type"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				if f.types == nil {
					f.types = make(map[string]struct{})
				}
				f.types[name] = struct{}{}
			}
		}
	}
	return f
}

func (f eventFilter) match(evt *types.Event) bool {
	if f.types != nil {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	if f.strategy != "" && !strings.EqualFold(evt.Attributes["strategy"], f.strategy) {
		return false
	}
	return true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := newEventFilter(r)
	// Subscribe before the handshake completes so nothing committed after
	// the client sees the upgrade is missed.
	updates, cancel := s.node.Bus.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	observability.Events().SubscriberJoined()
	defer observability.Events().SubscriberLeft()

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream aborted", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan events.Event, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			r, ok := evt.(renderer)
			if !ok {
				continue
			}
			payload := r.Event()
			if payload == nil || !filter.match(payload) {
				continue
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
