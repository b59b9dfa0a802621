package handshake

import (
	"time"

	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/transport"
)

// idleEvictAfter is how long a handshake may sit without a relayed
// message before the registry evicts it, per the suggested idle
// timeout for an otherwise-unbounded handshake registry.
const idleEvictAfter = 60 * time.Second

// ServerAction is one deferred effect the server-side relay produces.
type ServerAction struct {
	Kind string

	// ServerActionSend
	To    transport.ConnID
	Event transport.Event

	// ServerActionHandshakeComplete
	HandshakeID  string
	ConnSender   transport.ConnID
	ConnReceiver transport.ConnID
}

const (
	ServerActionSend              = "send"
	ServerActionHandshakeComplete = "handshake_complete"
)

// SingleHandshakeManager is the server's view of one handshake: which
// connection plays sender and which plays receiver, and whether the
// initiating INIT_RECV/INIT_SEND pair has been sent yet.
type SingleHandshakeManager struct {
	ConnSender   transport.ConnID
	ConnReceiver transport.ConnID
	HandshakeID  string
	Initiated    bool

	lastActivity time.Time
}

func newSingleHandshakeManager(connSender, connReceiver transport.ConnID, handshakeID string) *SingleHandshakeManager {
	return &SingleHandshakeManager{
		ConnSender:   connSender,
		ConnReceiver: connReceiver,
		HandshakeID:  handshakeID,
		lastActivity: time.Now(),
	}
}

// Initiate sends both participants the event that starts their
// client-side state machines.
func (s *SingleHandshakeManager) Initiate() []ServerAction {
	s.lastActivity = time.Now()
	s.Initiated = true
	return []ServerAction{
		{Kind: ServerActionSend, To: s.ConnReceiver, Event: newHandshakeEvent(s.HandshakeID, ActionInitRecv)},
		{Kind: ServerActionSend, To: s.ConnSender, Event: newHandshakeEvent(s.HandshakeID, ActionInitSend)},
	}
}

// ProcessEvent relays one FINAL_SEND or FINAL_RECV event to the other
// participant, asserting it originated from the role the protocol
// expects at that step. fields is the inbound event's full field set;
// every key besides handshake_id/action is forwarded to the other side
// unchanged, since the server never inspects the wrapped key material
// itself. A role mismatch is a ProtocolError; the caller is expected to
// log and drop it, leaving the handshake registered.
func (s *SingleHandshakeManager) ProcessEvent(fromConnection transport.ConnID, action string, fields map[string]interface{}) ([]ServerAction, error) {
	s.lastActivity = time.Now()

	switch action {
	case ActionFinalSend:
		// receiver -> server -> sender
		if fromConnection != s.ConnReceiver {
			return nil, apperrors.New(apperrors.ProtocolError, "FINAL_SEND did not originate from the expected receiver connection")
		}
		ev := relayedHandshakeEvent(s.HandshakeID, ActionFinalSend, fields)
		return []ServerAction{{Kind: ServerActionSend, To: s.ConnSender, Event: ev}}, nil

	case ActionFinalRecv:
		// sender -> server -> receiver
		if fromConnection != s.ConnSender {
			return nil, apperrors.New(apperrors.ProtocolError, "FINAL_RECV did not originate from the expected sender connection")
		}
		ev := relayedHandshakeEvent(s.HandshakeID, ActionFinalRecv, fields)
		return []ServerAction{
			{Kind: ServerActionSend, To: s.ConnReceiver, Event: ev},
			{
				Kind:         ServerActionHandshakeComplete,
				HandshakeID:  s.HandshakeID,
				ConnSender:   s.ConnSender,
				ConnReceiver: s.ConnReceiver,
			},
		}, nil
	}

	return nil, apperrors.New(apperrors.ProtocolError, "unexpected action for server-side handshake relay: "+action)
}

// relayedHandshakeEvent rebuilds the FINAL_SEND/FINAL_RECV event for
// the other participant, copying every payload field across unchanged
// (e.g. "Rpu", or "ebSpu_packet"/"ebSpr_packet") so the wire shape the
// receiving client sees matches exactly what the sending client built.
func relayedHandshakeEvent(handshakeID, action string, fields map[string]interface{}) transport.Event {
	ev := newHandshakeEvent(handshakeID, action)
	for k, v := range fields {
		if k == "handshake_id" || k == "action" {
			continue
		}
		ev = ev.With(k, v)
	}
	return ev
}

// HandshakeManager is the server-wide registry of in-flight handshakes.
type HandshakeManager struct {
	handshakes     map[string]*SingleHandshakeManager
	waitingForInit []string
	log            logger.Logger
}

// NewHandshakeManager creates an empty registry.
func NewHandshakeManager(log logger.Logger) *HandshakeManager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &HandshakeManager{
		handshakes: make(map[string]*SingleHandshakeManager),
		log:        log,
	}
}

// CreateHandshake registers a new handshake between connSender (who
// holds the key) and connReceiver (who needs it), minting the next
// unused tag under keyID, and queues it for initiation on the next
// CheckForUpdates. Returns the handshake-id assigned.
func (hm *HandshakeManager) CreateHandshake(connSender, connReceiver transport.ConnID, keyID string) string {
	used := make(map[string]struct{}, len(hm.handshakes))
	for id := range hm.handshakes {
		used[id] = struct{}{}
	}
	handshakeID := NextHandshakeID(keyID, used)

	hm.handshakes[handshakeID] = newSingleHandshakeManager(connSender, connReceiver, handshakeID)
	hm.waitingForInit = append(hm.waitingForInit, handshakeID)
	return handshakeID
}

// GetHandshakeByID returns the handshake registered under id, or nil.
func (hm *HandshakeManager) GetHandshakeByID(id string) *SingleHandshakeManager {
	return hm.handshakes[id]
}

// Process relays one E2E_HANDSHAKE event arriving from fromConnection.
// An unknown handshake-id is logged and dropped rather than treated as
// a protocol violation, since it may simply be a stray retransmit.
func (hm *HandshakeManager) Process(fromConnection transport.ConnID, ev transport.Event) []ServerAction {
	handshakeID, _ := ev.Fields["handshake_id"].(string)
	action, _ := ev.Fields["action"].(string)

	h := hm.GetHandshakeByID(handshakeID)
	if h == nil {
		hm.log.Warn("event for unknown handshake, dropping", logger.String("handshake_id", handshakeID))
		return nil
	}

	actions, err := h.ProcessEvent(fromConnection, action, ev.Fields)
	if err != nil {
		hm.log.Warn("protocol error processing handshake event, dropping",
			logger.String("handshake_id", handshakeID), logger.Error(err))
		return nil
	}
	return actions
}

// CheckForUpdates initiates every handshake created since the last
// call and clears the queue.
func (hm *HandshakeManager) CheckForUpdates() []ServerAction {
	var actions []ServerAction
	for _, id := range hm.waitingForInit {
		if h := hm.handshakes[id]; h != nil {
			actions = append(actions, h.Initiate()...)
		}
	}
	hm.waitingForInit = nil
	return actions
}

// EvictIdle removes handshakes that have seen no activity for
// idleEvictAfter, logging each eviction. Intended to be called
// periodically by the server main loop so a long-running server
// doesn't accumulate abandoned handshakes forever.
func (hm *HandshakeManager) EvictIdle() {
	now := time.Now()
	for id, h := range hm.handshakes {
		if now.Sub(h.lastActivity) > idleEvictAfter {
			hm.log.Warn("evicting idle handshake", logger.String("handshake_id", id))
			delete(hm.handshakes, id)
		}
	}
}
