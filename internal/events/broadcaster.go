package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Clients only send small subscribe frames.
	maxMessageSize = 4 * 1024
)

// ClientMessage is a frame sent by a stream client.
type ClientMessage struct {
	// Type is subscribe or unsubscribe.
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}

// Broadcaster serves the live event stream over WebSocket. Each connection
// starts with a global subscription and may narrow to a single task.
type Broadcaster struct {
	upgrader  websocket.Upgrader
	publisher Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBroadcaster creates a Broadcaster over publisher.
func NewBroadcaster(publisher Publisher, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		publisher: publisher,
		logger:    logger,
		conns:     make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	c := &streamConn{
		conn:    conn,
		taskID:  GlobalTaskID,
		events:  b.publisher.Subscribe(GlobalTaskID),
		resub:   make(chan string, 1),
		done:    make(chan struct{}),
		baster:  b,
		started: time.Now(),
	}
	go c.readPump()
	go c.writePump()
}

type streamConn struct {
	conn    *websocket.Conn
	baster  *Broadcaster
	started time.Time

	mu     sync.Mutex
	taskID string
	events <-chan Event
	resub  chan string

	closeOnce sync.Once
	done      chan struct{}
}

func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.baster.publisher.Unsubscribe(c.taskID, c.events)
		c.mu.Unlock()

		c.baster.mu.Lock()
		delete(c.baster.conns, c.conn)
		c.baster.mu.Unlock()
		_ = c.conn.Close()
	})
}

// readPump consumes subscribe frames until the peer disconnects.
func (c *streamConn) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.baster.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			if msg.TaskID != "" {
				c.switchSubscription(msg.TaskID)
			}
		case "unsubscribe":
			c.switchSubscription(GlobalTaskID)
		}
	}
}

// switchSubscription swaps the event channel for a new task scope. The
// write pump is told to pick up the new channel.
func (c *streamConn) switchSubscription(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if taskID == c.taskID {
		return
	}
	c.baster.publisher.Unsubscribe(c.taskID, c.events)
	c.taskID = taskID
	c.events = c.baster.publisher.Subscribe(taskID)
	select {
	case c.resub <- taskID:
	default:
	}
}

// writePump streams events and pings to the peer.
func (c *streamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	for {
		select {
		case <-c.done:
			return
		case <-c.resub:
			c.mu.Lock()
			events = c.events
			c.mu.Unlock()
		case ev, ok := <-events:
			if !ok {
				// A resubscription closes the old channel; pick up the new
				// one before treating this as a shutdown.
				c.mu.Lock()
				current := c.events
				c.mu.Unlock()
				if current != events {
					events = current
					continue
				}
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects all stream clients.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
