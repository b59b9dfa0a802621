// Package crypto implements the relay's cryptographic primitives: RSA
// key pairs for the handshake, a Fernet-style symmetric cipher for
// message bodies, and the hybrid DataPacket envelope that combines them.
package crypto

import (
	"crypto/rsa"
)

// KeyPair is an RSA-2048 key pair used to wrap handshake payloads.
// Every chat key-id is backed by one of these, and a handshake's
// receiver generates a fresh one to receive the chat's key pair.
type KeyPair interface {
	PublicKey() *rsa.PublicKey
	PrivateKey() *rsa.PrivateKey

	// ID returns a short identifier derived from the public modulus,
	// stable across processes for the same key.
	ID() string
}
