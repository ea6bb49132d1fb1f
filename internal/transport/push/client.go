// Package push keeps the websocket connection to the chat backend's push
// channel and feeds its events to the realtime adapter.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/vedran77/pulsesync/internal/realtime"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBufSize    = 256
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

var ErrNotConnected = errors.New("push channel not connected")

// Dispatcher consumes decoded server events.
type Dispatcher interface {
	Dispatch(evt *realtime.Event) error
}

type Options struct {
	URL          string
	Token        string
	DeviceID     string
	PingInterval time.Duration
}

// Client is a reconnecting push channel connection. Joined rooms are
// re-joined after every reconnect.
type Client struct {
	opts       Options
	dispatcher Dispatcher
	log        *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]struct{}
	active string
	send   chan []byte
	conn   *websocket.Conn
}

func NewClient(opts Options, d Dispatcher, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	return &Client{
		opts:       opts,
		dispatcher: d,
		log:        log,
		rooms:      make(map[string]struct{}),
	}
}

// Run connects and keeps reconnecting with backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		c.log.Warn("push_disconnected", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.DeviceID != "" {
		header.Set("X-Device-Id", c.opts.DeviceID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, writeWait)
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMessageSize)
	c.log.Info("push_connected", zap.String("url", c.opts.URL))

	send := make(chan []byte, sendBufSize)
	c.mu.Lock()
	c.conn = conn
	c.send = send
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for _, r := range rooms {
		c.enqueue(realtime.EventRoomJoin, r, nil)
	}

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- c.readPump(sessCtx, conn) }()
	go func() { errc <- c.writePump(sessCtx, conn, send) }()

	err = <-errc
	stop()
	return err
}

// readPump decodes server events and hands them to the dispatcher.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		var evt realtime.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Info("push_closed_by_server", zap.Int("status", int(websocket.CloseStatus(err))))
			}
			return err
		}
		if err := c.dispatcher.Dispatch(&evt); err != nil {
			c.log.Warn("push_event_rejected", zap.String("type", evt.Type), zap.String("room", evt.Room), zap.Error(err))
		}
	}
}

// writePump writes queued events and pings the active room.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return err
			}

		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				return err
			}
			if room := c.Active(); room != "" {
				c.enqueue(realtime.EventRoomActive, room, nil)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enqueue queues an event for the current connection. Events queued while
// disconnected are dropped; room membership is restored on reconnect.
func (c *Client) enqueue(eventType, room string, payload any) error {
	evt, err := realtime.NewEvent(eventType, room, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send == nil {
		return ErrNotConnected
	}
	select {
	case send <- data:
		return nil
	default:
		c.log.Warn("push_send_buffer_full", zap.String("type", eventType))
		return errors.New("push send buffer full")
	}
}

func (c *Client) JoinRoom(_ context.Context, room string) error {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.active = room
	c.mu.Unlock()
	if err := c.enqueue(realtime.EventRoomJoin, room, nil); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Client) LeaveRoom(_ context.Context, room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	if c.active == room {
		c.active = ""
	}
	c.mu.Unlock()
	if err := c.enqueue(realtime.EventRoomLeave, room, nil); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Active is the room that receives periodic activity pings.
func (c *Client) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SendTyping publishes this client's typing state for room.
func (c *Client) SendTyping(room string, typing bool) error {
	return c.enqueue(realtime.EventTypingSend, room, struct {
		IsTyping bool `json:"isTyping"`
	}{typing})
}
