package client

import (
	"crypto/rsa"
	"encoding/base64"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/internal/apperrors"
)

func errNoChatKey(keyID string) error {
	return apperrors.New(apperrors.CryptoError, "no key pair held for "+keyID)
}

// decodeContentPacket reverses datapacket.Packet's MarshalJSON form: a
// message's "content" field travels as a base64url string of the
// packet's length-prefixed wire encoding once it has passed through a
// generic (map[string]interface{}) JSON decode on the client side.
func decodeContentPacket(content string) (*datapacket.Packet, error) {
	raw, err := base64.URLEncoding.DecodeString(content)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ProtocolError, err, "decoding message content base64")
	}
	return datapacket.Decode(raw)
}

func pemToPublicKey(pub []byte) (*rsa.PublicKey, error) {
	return crypto.PublicKeyFromPEM(pub)
}

func pemToPrivateKey(priv []byte) (*rsa.PrivateKey, error) {
	return crypto.PrivateKeyFromPEM(priv)
}

// decryptMessageContent decrypts a message's DataPacket content using
// the chat's private key held in the local store. On any crypto
// failure it returns the literal "???" instead of propagating the
// error: replace the content and continue.
func (c *Client) decryptMessageContent(chatUUID string, packet *datapacket.Packet) string {
	keyID := "c_" + chatUUID
	_, privPEM, ok := c.KeyPairFor(keyID)
	if !ok {
		return "???"
	}
	priv, err := pemToPrivateKey(privPEM)
	if err != nil {
		return "???"
	}

	// Decrypt mutates the packet in place; work on a copy so the
	// caller's packet (e.g. still needed for re-rendering) is untouched.
	cp := *packet
	if err := cp.Decrypt(priv, true); err != nil {
		return "???"
	}
	return string(cp.Payload)
}
