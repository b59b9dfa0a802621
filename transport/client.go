package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/internal/logger"
)

const (
	clientDialTimeout  = 15 * time.Second
	clientWriteTimeout = 10 * time.Second
)

// Client is the client-side half of C6: dials the server, reads
// frames on its own goroutine, and exposes a non-blocking Pump for the
// client's network-pump loop.
type Client struct {
	url string
	log logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	events    []Event
}

// NewClient creates a Client transport for the given websocket URL.
func NewClient(url string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Client{url: url, log: log}
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect() error {
	dialer := &websocket.Dialer{HandshakeTimeout: clientDialTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.TransportError, err, "dialing server")
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		var wire wireEvent
		if err := conn.ReadJSON(&wire); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", logger.Error(err))
			}
			return
		}

		ev, err := wire.toEvent()
		if err != nil {
			c.log.Warn("dropping malformed event frame", logger.Error(err))
			continue
		}

		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

// Pump returns events accumulated since the previous call, and whether
// the connection is still live.
func (c *Client) Pump() (events []Event, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, c.events = c.events, nil
	return events, c.connected
}

// Send writes ev to the server.
func (c *Client) Send(ev Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.New(apperrors.TransportError, "not connected")
	}

	wire, err := fromEvent(ev)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout)); err != nil {
		return apperrors.Wrap(apperrors.TransportError, err, "setting write deadline")
	}
	if err := conn.WriteJSON(wire); err != nil {
		return apperrors.Wrap(apperrors.TransportError, err, "writing event")
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.connected = false
	return err
}
