package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sakif/calorily/internal/eventbus"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventQueueSize    = 64
)

// StreamMessage is one frame on the events socket.
type StreamMessage struct {
	Type   string    `json:"type"`             // "ready" or "change"
	Topic  string    `json:"topic,omitempty"`  // eventbus topic
	Change any       `json:"change,omitempty"` // model.MealChange
	At     time.Time `json:"at"`
}

// HandleEvents streams store and pending changes over a websocket. The first
// frame is {"type":"ready"}, sent once both subscriptions are live.
//
// Bus handlers only enqueue; a client that falls eventQueueSize frames
// behind is disconnected rather than stalling publishers.
//
// HTTP: GET /api/events (upgrade)
func (h *MealHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead drains (and discards) client frames; its context ends when
	// the client goes away.
	ctx := conn.CloseRead(r.Context())

	queue := make(chan StreamMessage, eventQueueSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// Publishers on different goroutines may call this concurrently.
	enqueue := func(ev eventbus.Event) error {
		select {
		case queue <- StreamMessage{Type: "change", Topic: ev.Topic, Change: ev.Payload, At: ev.At}:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
		return nil
	}

	subs := []eventbus.Subscription{
		h.meals.SubscribeToChanges(enqueue),
		h.meals.SubscribeToPending(enqueue),
	}
	defer func() {
		for _, sub := range subs {
			h.meals.Unsubscribe(sub)
		}
	}()

	if err := writeFrame(ctx, conn, StreamMessage{Type: "ready", At: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case msg := <-queue:
			if err := writeFrame(ctx, conn, msg); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
