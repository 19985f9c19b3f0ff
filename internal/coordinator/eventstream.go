package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 1 * time.Second
	pingResolution = 200 * time.Millisecond
	pongWait       = pingResolution * 10
	subscriberBuf  = 16

	readDeadline  = time.Second
	writeDeadline = time.Second
)

var upgrader = websocket.Upgrader{}

// Event is one notable coordinator occurrence, published to every connected
// debug-stream subscriber. It is informational only — nothing downstream of
// the HTTP request surface depends on a subscriber having seen it.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHub fans out Events to any number of websocket subscribers as a
// broadcast topic: Publish never blocks on a slow subscriber, dropping the
// event for that subscriber instead, since later events fully supersede
// earlier ones for a debug stream like this.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Publish constructs an Event with a fresh ID and timestamp and fans it out
// to all current subscribers.
func (h *EventHub) Publish(eventType string, payload any, now time.Time) {
	ev := Event{ID: uuid.NewString(), Type: eventType, Timestamp: now, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than block the publisher.
		}
	}
}

func (h *EventHub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the request to a websocket and streams hub events to it
// until the client disconnects or the request context is cancelled.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	updates := h.subscribe()
	cli := &eventClient{
		updates: updates,
		ws:      newWebsock(conn),
		rootCtx: r.Context(),
	}
	defer h.unsubscribe(updates)
	_ = cli.sync()
}

// eventClient is the per-connection publisher, grounded on fastview.client:
// one goroutine drains inbound control frames (so ping/pong handlers fire),
// one runs the ping/pong liveness check, and one publishes hub events as
// they arrive.
type eventClient struct {
	updates <-chan Event
	ws      *websock
	rootCtx context.Context
}

func (cli *eventClient) sync() error {
	group, ctx := errgroup.WithContext(cli.rootCtx)

	group.Go(func() error { return cli.readMessages(ctx) })
	group.Go(func() error { return cli.pingPong(ctx) })
	group.Go(func() error { return cli.publish(ctx) })

	return group.Wait()
}

var errPongDeadlineExceeded = errors.New("event stream client disconnect: pong deadline exceeded")

func (cli *eventClient) pingPong(ctx context.Context) error {
	pong := make(chan struct{})
	defer close(pong)
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		pong <- struct{}{}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return errPongDeadlineExceeded
			}
			if err := cli.ws.Write(ctx, func(c *websocket.Conn) error {
				return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *eventClient) readMessages(ctx context.Context) error {
	for {
		err := cli.ws.Read(ctx, func(c *websocket.Conn) error {
			_, _, readErr := c.ReadMessage()
			return readErr
		})
		if err != nil {
			return err
		}
	}
}

func (cli *eventClient) publish(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-cli.updates:
			if !ok {
				return nil
			}
			err := cli.ws.Write(ctx, func(c *websocket.Conn) error {
				if err := c.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return fmt.Errorf("set write deadline: %w", err)
				}
				return c.WriteJSON(ev)
			})
			if err != nil {
				return err
			}
		}
	}
}

// websock serializes reads and writes to a websocket.Conn, which may only
// have one reader and one writer active at a time.
type websock struct {
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebsock(ws *websocket.Conn) *websock {
	return &websock{readSem: make(chan struct{}, 1), writeSem: make(chan struct{}, 1), ws: ws}
}

func (s *websock) Conn() *websocket.Conn { return s.ws }

var errSockCongestion = errors.New("event stream socket congested")

func (s *websock) Read(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.readSem <- struct{}{}:
		defer func() { <-s.readSem }()
		return fn(s.ws)
	case <-time.After(readDeadline):
		return errSockCongestion
	}
}

func (s *websock) Write(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.writeSem <- struct{}{}:
		defer func() { <-s.writeSem }()
		return fn(s.ws)
	case <-time.After(writeDeadline):
		return errSockCongestion
	}
}
