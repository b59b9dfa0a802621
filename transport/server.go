package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/chatrelay/chatrelay/internal/logger"
)

// ConnEvent pairs an Event with the connection it arrived on.
type ConnEvent struct {
	Conn  ConnID
	Event Event
}

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 10 * time.Second
)

// Server is the server-side half of C6: it accepts websocket upgrades,
// reads JSON event frames off each connection's own goroutine, and
// accumulates connects/events/disconnects onto internal buffers for the
// main loop to collect with Pump.
type Server struct {
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.Mutex
	conns   map[ConnID]*serverConn
	nextID  ConnID
	pending pendingBuffers
}

type pendingBuffers struct {
	connected    []ConnID
	events       []ConnEvent
	disconnected []ConnID
}

type serverConn struct {
	id      ConnID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewServer creates a Server transport.
func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[ConnID]*serverConn),
	}
}

// Handler returns an http.Handler that upgrades requests to websocket
// connections and begins reading events from them.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", logger.Error(err))
			return
		}

		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.nextID++
		sc.id = s.nextID
		s.conns[sc.id] = sc
		s.pending.connected = append(s.pending.connected, sc.id)
		s.mu.Unlock()

		s.readLoop(sc)
	})
}

func (s *Server) readLoop(sc *serverConn) {
	defer func() {
		_ = sc.conn.Close()
		s.mu.Lock()
		delete(s.conns, sc.id)
		s.pending.disconnected = append(s.pending.disconnected, sc.id)
		s.mu.Unlock()
	}()

	for {
		if err := sc.conn.SetReadDeadline(time.Now().Add(serverReadTimeout)); err != nil {
			return
		}
		var wire wireEvent
		if err := sc.conn.ReadJSON(&wire); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", logger.Error(err), logger.Any("conn", sc.id))
			}
			return
		}

		ev, err := wire.toEvent()
		if err != nil {
			s.log.Warn("dropping malformed event frame", logger.Error(err), logger.Any("conn", sc.id))
			continue
		}

		s.mu.Lock()
		s.pending.events = append(s.pending.events, ConnEvent{Conn: sc.id, Event: ev})
		s.mu.Unlock()
	}
}

// Pump returns everything accumulated since the previous call: newly
// connected connections, inbound events, and disconnected connections.
func (s *Server) Pump() (newlyConnected []ConnID, events []ConnEvent, disconnected []ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newlyConnected, s.pending.connected = s.pending.connected, nil
	events, s.pending.events = s.pending.events, nil
	disconnected, s.pending.disconnected = s.pending.disconnected, nil
	return
}

// Send writes ev to the connection identified by id. A disconnected or
// unknown id is not an error: the send is simply dropped, matching
// "a disconnect cancels pending sends ... with no error surfaced."
func (s *Server) Send(id ConnID, ev Event) error {
	s.mu.Lock()
	sc, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	wire, err := fromEvent(ev)
	if err != nil {
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.conn.SetWriteDeadline(time.Now().Add(serverWriteTimeout)); err != nil {
		return nil
	}
	return sc.conn.WriteJSON(wire)
}

// Close closes every live connection concurrently, so one slow TCP
// peer can't stall shutdown behind the others, and waits for all
// closes to finish.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.conns = make(map[ConnID]*serverConn)
	s.mu.Unlock()

	var g errgroup.Group
	for _, sc := range conns {
		sc := sc
		g.Go(func() error {
			return sc.conn.Close()
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Debug("error closing connection during shutdown", logger.Error(err))
	}
}
