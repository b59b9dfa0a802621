// Package handshake implements the server-mediated end-to-end
// handshake protocol: a three-message exchange, relayed through
// the server, that hands one chat's RSA key pair from a custodian who
// already holds it (the SENDER) to a participant who needs it (the
// RECEIVER), without the server ever seeing a plaintext key.
package handshake

import (
	"strconv"
	"strings"

	"github.com/chatrelay/chatrelay/transport"
)

// Side identifies which half of a handshake a client is playing.
type Side int

const (
	// Receiver generates an ephemeral wrapping key pair and waits to
	// receive the chat's real key pair, encrypted under it.
	Receiver Side = iota
	// Sender already holds the chat's key pair and hands it off once
	// it learns the receiver's ephemeral public key.
	Sender
)

func (s Side) String() string {
	if s == Sender {
		return "SENDER"
	}
	return "RECEIVER"
}

// StepTerminal is the only step at which a ClientsideHandshake is
// Finished.
const StepTerminal = -1

// Action names carried on E2E_HANDSHAKE events, per the handshake
// message table.
const (
	ActionInitRecv  = "INIT_RECV"
	ActionInitSend  = "INIT_SEND"
	ActionFinalSend = "FINAL_SEND"
	ActionFinalRecv = "FINAL_RECV"
)

// EventTag is the transport tag every handshake message travels under.
const EventTag = "E2E_HANDSHAKE"

// KeyIDForChat returns the key-id namespace for a chat, "c_<chat_uuid>".
func KeyIDForChat(chatUUID string) string {
	return "c_" + chatUUID
}

// ChatUUIDFromHandshakeID recovers the chat uuid a handshake-id was
// minted for. A handshake-id has the shape "c_<chat_uuid>+<tag>"; this
// splits on the first '+' and strips the "c_" key-id prefix. (An
// earlier server handler instead stripped a fixed two-character
// prefix off the whole handshake-id, which only happens to work when
// the chat-uuid component starts the same way every time — not
// reproduced here.)
func ChatUUIDFromHandshakeID(handshakeID string) string {
	keyID, _, _ := strings.Cut(handshakeID, "+")
	return strings.TrimPrefix(keyID, "c_")
}

// NextHandshakeID returns the smallest "<keyID>+<4-digit-tag>" id not
// present in used.
func NextHandshakeID(keyID string, used map[string]struct{}) string {
	tag := 1
	for {
		id := keyID + "+" + zeroPad(tag, 4)
		if _, taken := used[id]; !taken {
			return id
		}
		tag++
	}
}

func zeroPad(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func newHandshakeEvent(handshakeID, action string) transport.Event {
	return transport.NewEvent(EventTag).
		With("handshake_id", handshakeID).
		With("action", action)
}
