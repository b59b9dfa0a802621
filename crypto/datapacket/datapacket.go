// Package datapacket implements the hybrid encryption envelope used to
// carry chat message bodies and the chat key material of a handshake's
// FINAL_RECV message: a symmetric key
// encrypts the payload, and an RSA public key encrypts the symmetric
// key, so only the intended RSA private key holder can recover either.
package datapacket

import (
	"crypto/rsa"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/internal/apperrors"
)

// Packet is a payload plus the symmetric key that protects it. Encrypt
// and Decrypt mutate the packet in place, toggling Encrypted so a
// double-encrypt or double-decrypt is caught rather than silently
// corrupting data.
type Packet struct {
	Payload   []byte
	SymKey    []byte
	Encrypted bool
}

// New wraps payload in a Packet, generating a fresh symmetric key if
// symKey is nil.
func New(payload []byte, symKey []byte) (*Packet, error) {
	if symKey == nil {
		key, err := crypto.CreateSymmetricKey(nil)
		if err != nil {
			return nil, err
		}
		symKey = key
	}
	return &Packet{Payload: payload, SymKey: symKey}, nil
}

// Encrypt encrypts the packet in place using pub: the payload is
// encrypted with the packet's symmetric key, then the symmetric key
// itself is encrypted with pub. If strict is true, re-encrypting an
// already-encrypted packet returns a ProtocolError instead of silently
// double-wrapping it.
func (p *Packet) Encrypt(pub *rsa.PublicKey, strict bool) error {
	if strict && p.Encrypted {
		return apperrors.New(apperrors.ProtocolError, "packet is already encrypted")
	}

	payloadEnc, err := crypto.EncryptSymmetric(p.Payload, p.SymKey)
	if err != nil {
		return err
	}
	symKeyEnc, err := crypto.EncryptAsymmetric(p.SymKey, pub)
	if err != nil {
		return err
	}

	p.Payload = payloadEnc
	p.SymKey = symKeyEnc
	p.Encrypted = true
	return nil
}

// Decrypt decrypts the packet in place using priv. If strict is true,
// decrypting an already-plaintext packet returns a ProtocolError
// instead of attempting (and failing) to decrypt plaintext.
func (p *Packet) Decrypt(priv *rsa.PrivateKey, strict bool) error {
	if strict && !p.Encrypted {
		return apperrors.New(apperrors.ProtocolError, "packet is already decrypted")
	}

	symKeyDec, err := crypto.DecryptAsymmetric(p.SymKey, priv)
	if err != nil {
		return err
	}
	payloadDec, err := crypto.DecryptSymmetric(p.Payload, symKeyDec)
	if err != nil {
		return err
	}

	p.Payload = payloadDec
	p.SymKey = symKeyDec
	p.Encrypted = false
	return nil
}
