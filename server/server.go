package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/server/store"
	"github.com/chatrelay/chatrelay/transport"
)

// Config is the set of persistence and protocol parameters a Server
// needs to start.
type Config struct {
	UsersDBPath  string
	ChatsDBPath  string
	ChatsDir     string
	ChatPageSize int
}

// Server is the relay's main loop: it owns every piece of mutable
// server state (user/chat stores, connection registry,
// handshake registry, pending-chats set) behind one value, and drives
// them from repeated calls to Tick.
type Server struct {
	transport *transport.Server
	users     *store.UserStore
	chats     *store.ChatStore
	connected *connectedUsers

	handshakes   *handshake.HandshakeManager
	orchestrator *e2eOrchestrator

	log     logger.Logger
	metrics *serverMetrics

	queue []deferredAction

	lastEvict time.Time
}

// New creates a Server and loads its persisted stores. Call Handler
// to obtain the websocket endpoint and Serve to run the main loop.
func New(cfg Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	users := store.NewUserStore(cfg.UsersDBPath)
	if err := users.Load(); err != nil {
		return nil, err
	}
	chats := store.NewChatStore(cfg.ChatsDBPath, cfg.ChatsDir, cfg.ChatPageSize)
	if err := chats.Load(); err != nil {
		return nil, err
	}

	connected := newConnectedUsers()
	handshakes := handshake.NewHandshakeManager(log)
	orchestrator := newE2EOrchestrator(chats, handshakes, connected, log)

	return &Server{
		transport:    transport.NewServer(log),
		users:        users,
		chats:        chats,
		connected:    connected,
		handshakes:   handshakes,
		orchestrator: orchestrator,
		log:          log,
		metrics:      newServerMetrics(prometheus.DefaultRegisterer),
		lastEvict:    time.Now(),
	}, nil
}

// Handler returns the websocket endpoint clients connect to.
func (s *Server) Handler() http.Handler { return s.transport.Handler() }

// MetricsHandler returns the Prometheus /metrics endpoint.
func (s *Server) MetricsHandler() http.Handler { return promhttp.Handler() }

// Serve runs the cooperative pump-and-dispatch loop until ctx is
// canceled, sleeping interval between pumps.
func (s *Server) Serve(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs exactly one iteration of the main loop: pump the
// transport, initiate queued handshakes, register/dispatch/drop, then
// drain the deferred-action queue.
func (s *Server) Tick() {
	newlyConnected, events, disconnected := s.transport.Pump()

	for _, action := range s.handshakes.CheckForUpdates() {
		s.enqueueServerAction(action)
		if action.Kind == handshake.ServerActionSend && action.Event.Fields["action"] == handshake.ActionInitSend {
			s.metrics.handshakesTotal.WithLabelValues("initiated").Inc()
		}
	}

	for _, conn := range newlyConnected {
		s.connected.register(conn)
	}

	for _, ce := range events {
		s.dispatch(ce.Conn, ce.Event)
	}

	for _, conn := range disconnected {
		s.connected.drop(conn)
	}

	s.drainQueue()

	if time.Since(s.lastEvict) > 10*time.Second {
		s.handshakes.EvictIdle()
		s.lastEvict = time.Now()
	}

	s.metrics.pendingChats.Set(float64(s.orchestrator.PendingCount()))
	s.metrics.connectedUsers.Set(float64(s.connected.loggedInCount()))
}

// drainQueue processes deferred actions to a fixed point: handlers
// invoked here may enqueue further actions, which are processed in
// FIFO order within the same drain.
func (s *Server) drainQueue() {
	for len(s.queue) > 0 {
		action := s.queue[0]
		s.queue = s.queue[1:]
		s.process(action)
	}
}

func (s *Server) enqueue(a deferredAction) {
	s.queue = append(s.queue, a)
}

// enqueueServerAction translates a core/handshake.ServerAction into a
// deferredAction of the same kind.
func (s *Server) enqueueServerAction(a handshake.ServerAction) {
	switch a.Kind {
	case handshake.ServerActionSend:
		s.enqueue(deferredAction{kind: actionSend, to: a.To, event: a.Event})
	case handshake.ServerActionHandshakeComplete:
		chatUUID := handshake.ChatUUIDFromHandshakeID(a.HandshakeID)
		senderUser, _ := s.connected.get(a.ConnSender)
		receiverUser, _ := s.connected.get(a.ConnReceiver)
		if senderUser == nil || receiverUser == nil {
			s.log.Warn("handshake_complete for a connection that already disconnected",
				logger.String("handshake_id", a.HandshakeID))
			return
		}
		s.enqueue(deferredAction{
			kind:         actionHandshakeComplete,
			chatUUID:     chatUUID,
			senderUUID:   senderUser.UUID,
			receiverUUID: receiverUser.UUID,
		})
	}
}

// process applies one deferred action, the declarative effects a
// handler returns instead of invoking its peers directly.
func (s *Server) process(a deferredAction) {
	switch a.kind {
	case actionSend:
		if err := s.transport.Send(a.to, a.event); err != nil {
			s.log.Debug("send failed, connection likely gone", logger.Error(err))
		}
	case actionCheckE2E:
		s.orchestrator.Check(a.chatUUID)
	case actionCheckE2EOnLogin:
		s.orchestrator.OnLogin(a.userUUID)
	case actionHandshakeComplete:
		s.orchestrator.OnHandshakeComplete(a.chatUUID, a.senderUUID, a.receiverUUID)
		s.metrics.handshakesTotal.WithLabelValues("completed").Inc()
	}
}

// Close shuts down the transport and flushes persisted state.
func (s *Server) Close() error {
	s.transport.Close()
	if err := s.users.SaveIfModified(); err != nil {
		return err
	}
	return s.chats.SaveIfModified()
}
