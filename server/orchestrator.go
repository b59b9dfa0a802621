package server

import (
	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/server/store"
	"github.com/chatrelay/chatrelay/transport"
)

// e2eOrchestrator decides when a chat needs a handshake: it owns
// pending_chats (chats whose key transfer is blocked on an offline
// custodian) on top of the handshake registry and the chat store's
// participants_e2e bookkeeping.
type e2eOrchestrator struct {
	chats      *store.ChatStore
	handshakes *handshake.HandshakeManager
	presence   *connectedUsers
	log        logger.Logger

	pending map[string]struct{}
}

func newE2EOrchestrator(chats *store.ChatStore, handshakes *handshake.HandshakeManager, presence *connectedUsers, log logger.Logger) *e2eOrchestrator {
	return &e2eOrchestrator{
		chats:      chats,
		handshakes: handshakes,
		presence:   presence,
		log:        log,
		pending:    make(map[string]struct{}),
	}
}

// Check runs the key-transfer check for chatUUID:
// compute who still needs the key, find an online custodian, and
// create (but not yet initiate) a handshake for every online
// newcomer. If no custodian is online the chat is queued in pending.
func (o *e2eOrchestrator) Check(chatUUID string) {
	need := o.chats.NeedingKeys(chatUUID)
	if len(need) == 0 {
		delete(o.pending, chatUUID)
		return
	}

	var connSender transport.ConnID
	found := false
	for _, custodian := range o.chats.Custodians(chatUUID) {
		if c, ok := o.presence.anyConnectionFor(custodian); ok {
			connSender, found = c, true
			break
		}
	}
	if !found {
		o.pending[chatUUID] = struct{}{}
		return
	}

	keyID := handshake.KeyIDForChat(chatUUID)
	for _, newcomer := range need {
		connReceiver, online := o.presence.anyConnectionFor(newcomer)
		if !online {
			continue
		}
		id := o.handshakes.CreateHandshake(connSender, connReceiver, keyID)
		o.log.Debug("created handshake", logger.String("handshake_id", id),
			logger.String("chat_uuid", chatUUID), logger.String("newcomer", newcomer))
	}
}

// OnHandshakeComplete applies a completed handshake to participants_e2e
// for both sides (idempotent) and clears chatUUID from pending if
// nothing still needs the key.
func (o *e2eOrchestrator) OnHandshakeComplete(chatUUID, senderUUID, receiverUUID string) {
	o.chats.AddParticipantE2E(chatUUID, senderUUID)
	o.chats.AddParticipantE2E(chatUUID, receiverUUID)

	if _, isPending := o.pending[chatUUID]; !isPending {
		return
	}
	if len(o.chats.NeedingKeys(chatUUID)) == 0 {
		delete(o.pending, chatUUID)
	}
}

// OnLogin re-checks every pending chat userUUID participates in, so a
// custodian logging back in can unblock chats that were waiting on
// them.
func (o *e2eOrchestrator) OnLogin(userUUID string) {
	for chatUUID := range o.pending {
		chat, ok := o.chats.GetByUUID(chatUUID)
		if !ok {
			delete(o.pending, chatUUID)
			continue
		}
		if chat.HasParticipant(userUUID) {
			o.Check(chatUUID)
		}
	}
}

// IsPending reports whether chatUUID is currently queued awaiting an
// online custodian.
func (o *e2eOrchestrator) IsPending(chatUUID string) bool {
	_, ok := o.pending[chatUUID]
	return ok
}

// PendingCount returns the number of chats currently queued, for the
// /metrics gauge.
func (o *e2eOrchestrator) PendingCount() int {
	return len(o.pending)
}
