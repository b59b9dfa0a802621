package client

import (
	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/transport"
)

// Login sends ATTEMPT_LOGIN. The server resolves LOGIN_RESULT
// asynchronously; watch Updates() for it.
func (c *Client) Login(username, passwordHash string) error {
	return c.send(transport.NewEvent("ATTEMPT_LOGIN").
		With("username", username).
		With("password_hash", passwordHash))
}

// SignUp sends ATTEMPT_SIGN_UP.
func (c *Client) SignUp(username, passwordHash string) error {
	return c.send(transport.NewEvent("ATTEMPT_SIGN_UP").
		With("username", username).
		With("password_hash", passwordHash))
}

// RequestChatsList sends REQUEST_CHATS_LIST.
func (c *Client) RequestChatsList() error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_CHATS_LIST"))
}

// RequestInitialMessages sends REQUEST_INITIAL_MESSAGES for chatUUID.
func (c *Client) RequestInitialMessages(chatUUID string) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_INITIAL_MESSAGES").With("chat_uuid", chatUUID))
}

// RequestGetMessages sends REQUEST_GET_MESSAGES for a specific page.
func (c *Client) RequestGetMessages(chatUUID string, page int) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_GET_MESSAGES").
		With("chat_uuid", chatUUID).
		With("messages_page", page))
}

// RequestSendMessage encrypts plaintext under the chat's public key
// (recovered from the local store by keyID = "c_"+chatUUID) and sends
// REQUEST_SEND_MESSAGE.
func (c *Client) RequestSendMessage(chatUUID string, plaintext []byte) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	packet, err := c.encryptForChat(chatUUID, plaintext)
	if err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_SEND_MESSAGE").
		With("chat_uuid", chatUUID).
		With("message_content", packet))
}

func (c *Client) encryptForChat(chatUUID string, plaintext []byte) (*datapacket.Packet, error) {
	keyID := "c_" + chatUUID
	pubPEM, _, ok := c.KeyPairFor(keyID)
	if !ok {
		return nil, errNoChatKey(keyID)
	}
	pub, err := pemToPublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	packet, err := datapacket.New(plaintext, nil)
	if err != nil {
		return nil, err
	}
	if err := packet.Encrypt(pub, true); err != nil {
		return nil, err
	}
	return packet, nil
}

// RequestSearchForUsers sends REQUEST_SEARCH_FOR_USERS. resultAction
// is an opaque tag the caller uses to correlate the eventual
// REQUEST_SEARCH_FOR_USERS_FILLED reply with the UI action that
// triggered the search.
func (c *Client) RequestSearchForUsers(query string, max int, resultAction string) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_SEARCH_FOR_USERS").
		With("query", query).
		With("get_max", max).
		With("result_action", resultAction))
}

// RequestCreateChat sends REQUEST_CREATE_CHAT; the server adds the
// requester to participants automatically.
func (c *Client) RequestCreateChat(name string, participantUUIDs []string) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	list := make([]interface{}, len(participantUUIDs))
	for i, p := range participantUUIDs {
		list[i] = p
	}
	return c.send(transport.NewEvent("REQUEST_CREATE_CHAT").
		With("chat_name", name).
		With("participants", list))
}

// RequestMissingKeys sends REQUEST_MISSING_KEYS, telling the server
// this client needs chatUUID's key pair.
func (c *Client) RequestMissingKeys(chatUUID string) error {
	if err := unauthorizedIfNotLoggedIn(c); err != nil {
		return err
	}
	return c.send(transport.NewEvent("REQUEST_MISSING_KEYS").With("chat_uuid", chatUUID))
}
