package server

import "github.com/chatrelay/chatrelay/transport"

// deferredAction is one declarative effect a dispatch handler can
// produce instead of acting directly: a send, or a request that the
// E2E orchestrator re-run its check.
type deferredAction struct {
	kind string

	// actionSend
	to    transport.ConnID
	event transport.Event

	// actionCheckE2E
	chatUUID string

	// actionCheckE2EOnLogin
	userUUID string

	// actionHandshakeComplete (chatUUID also used)
	senderUUID   string
	receiverUUID string
}

const (
	actionSend              = "send"
	actionCheckE2E          = "check_e2e"
	actionCheckE2EOnLogin   = "check_e2e_on_login"
	actionHandshakeComplete = "handshake_complete"
)
