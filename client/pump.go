package client

import (
	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/transport"
)

// Run drains the transport until it disconnects, processing each
// event on the pump side (handshake/key-store mutation) and posting
// every event to Updates() for the UI side to render.
func (c *Client) Run() {
	wasConnected := true
	for {
		events, connected := c.transport.Pump()
		for _, ev := range events {
			c.handleInbound(ev)
			c.updates <- Update{Event: ev, Connected: true}
		}
		if wasConnected && !connected {
			c.updates <- Update{Disconnect: true}
			close(c.updates)
			return
		}
		wasConnected = connected
	}
}

// handleInbound applies any pump-side side effects an event requires
// (tracking login state, running the handshake state machine,
// generating a fresh key pair on CREATE_NEW_KEYS) before the event is
// forwarded to the UI.
func (c *Client) handleInbound(ev transport.Event) {
	switch ev.Tag {
	case "LOGIN_RESULT", "SIGN_UP_RESULT":
		success, _ := ev.Fields["success"].(bool)
		if success {
			uuid, _ := ev.Fields["uuid"].(string)
			c.UUID = uuid
			c.LoggedIn = true
		}

	case "CREATE_NEW_KEYS":
		keyID, _ := ev.Fields["encryption_key_id"].(string)
		c.generateAndStoreKeyPair(keyID)

	case handshake.EventTag:
		c.processHandshakeEvent(ev)

	case "REQUEST_INITIAL_MESSAGES_FILLED", "REQUEST_GET_MESSAGES_FILLED":
		chatUUID := fieldsString(ev, "chat_uuid")
		if msgs, ok := ev.Fields["messages"].([]interface{}); ok {
			for _, m := range msgs {
				c.decryptMessageMap(chatUUID, m)
			}
		}

	case "REQUEST_SEND_MESSAGE_FILLED":
		chatUUID := fieldsString(ev, "chat_uuid")
		c.decryptMessageMap(chatUUID, ev.Fields["message"])
	}
}

// decryptMessageMap replaces a rendered message's "content" field with
// its decrypted plaintext in place. Any crypto failure is swallowed
// and "content" becomes the literal "???".
// A server system message (from_server true) is left untouched.
func (c *Client) decryptMessageMap(chatUUID string, raw interface{}) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	if m["from_server"] == true {
		return
	}
	content, ok := m["content"].(string)
	if !ok {
		return
	}
	packet, err := decodeContentPacket(content)
	if err != nil {
		m["content"] = "???"
		return
	}
	m["content"] = c.decryptMessageContent(chatUUID, packet)
}

func (c *Client) generateAndStoreKeyPair(keyID string) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		c.log.Error("generating chat key pair failed", logger.String("key_id", keyID), logger.Error(err))
		return
	}
	pubPEM, err := crypto.PublicKeyToPEM(kp.PublicKey())
	if err != nil {
		c.log.Error("encoding public key failed", logger.Error(err))
		return
	}
	privPEM, err := crypto.PrivateKeyToPEM(kp.PrivateKey())
	if err != nil {
		c.log.Error("encoding private key failed", logger.Error(err))
		return
	}
	c.store.Put(keyID, pubPEM, privPEM)
	if err := c.store.Save(); err != nil {
		c.log.Error("saving key store failed", logger.Error(err))
	}
}

func (c *Client) processHandshakeEvent(ev transport.Event) {
	actions, err := c.handshakes.Process(ev)
	if err != nil {
		c.log.Warn("handshake event processing failed, dropping",
			logger.String("handshake_id", fieldsString(ev, "handshake_id")), logger.Error(err))
		return
	}
	for _, action := range actions {
		switch action.Kind {
		case handshake.ActionKindSend:
			if err := c.send(action.Event); err != nil {
				c.log.Warn("sending handshake event failed", logger.Error(err))
			}
		case handshake.ActionKindSaveEncryptionKeys:
			if err := c.handshakes.SaveEncryptionKeys(); err != nil {
				c.log.Error("saving encryption keys failed", logger.Error(err))
			}
		}
	}
}

func fieldsString(ev transport.Event, key string) string {
	s, _ := ev.Fields[key].(string)
	return s
}
