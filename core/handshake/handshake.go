package handshake

import (
	"crypto/rsa"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/transport"
)

// ClientsideHandshake is the per-handshake-id state machine run on each
// client: the SENDER side hands off an already-held key pair, the
// RECEIVER side generates an ephemeral wrapping key and waits for it.
type ClientsideHandshake struct {
	ID       string
	Side     Side
	Step     int
	Finished bool

	// SENDER: the chat key pair being handed off.
	sharedPublic  *rsa.PublicKey
	sharedPrivate *rsa.PrivateKey

	// RECEIVER: the ephemeral wrapping key pair generated at step 0.
	rPublic  *rsa.PublicKey
	rPrivate *rsa.PrivateKey
}

// Action is one deferred effect a handshake step produces: either an
// outbound send or a request to flush the local key store.
type Action struct {
	Kind  string // ActionKindSend or ActionKindSaveEncryptionKeys
	Event transport.Event
}

const (
	ActionKindSend               = "send"
	ActionKindSaveEncryptionKeys = "save_encryption_keys"
)

// StepInput carries the fields a FINAL_SEND/FINAL_RECV event supplies
// to the step currently awaiting them.
type StepInput struct {
	RPubPEM     []byte
	SPubPacket  *datapacket.Packet
	SPrivPacket *datapacket.Packet
}

// NewClientsideHandshake creates a handshake object and runs its first
// step immediately, mirroring the original constructor which ran step
// 0 inline rather than leaving it to the caller. given is the chat key
// pair to hand off when side is Sender and one is already held; it is
// ignored (and may be nil) for Receiver.
func NewClientsideHandshake(id string, side Side, given crypto.KeyPair) (*ClientsideHandshake, []Action, error) {
	h := &ClientsideHandshake{ID: id, Side: side}
	if given != nil {
		h.sharedPublic = given.PublicKey()
		h.sharedPrivate = given.PrivateKey()
	}
	actions, err := h.executeNextStep(StepInput{})
	return h, actions, err
}

// ExecuteStep forces the handshake to a given step before running it;
// used when an inbound event (FINAL_SEND / FINAL_RECV) supplies the
// data that step needs.
func (h *ClientsideHandshake) ExecuteStep(step int, in StepInput) ([]Action, error) {
	h.Step = step
	return h.executeNextStep(in)
}

func (h *ClientsideHandshake) executeNextStep(in StepInput) ([]Action, error) {
	var actions []Action

	switch h.Side {
	case Sender:
		switch h.Step {
		case 0:
			if h.sharedPublic == nil {
				kp, err := crypto.GenerateKeyPair()
				if err != nil {
					return nil, err
				}
				h.sharedPublic = kp.PublicKey()
				h.sharedPrivate = kp.PrivateKey()
			}
			h.Step = 1
			// the receiver takes its own steps before the sender's
			// step 1 runs, so nothing further happens this call.

		case 1:
			if in.RPubPEM == nil {
				return nil, apperrors.New(apperrors.ProtocolError, "sender step 1 requires R_pub")
			}
			rPub, err := crypto.PublicKeyFromPEM(in.RPubPEM)
			if err != nil {
				return nil, err
			}
			sPubPEM, err := crypto.PublicKeyToPEM(h.sharedPublic)
			if err != nil {
				return nil, err
			}
			sPrivPEM, err := crypto.PrivateKeyToPEM(h.sharedPrivate)
			if err != nil {
				return nil, err
			}

			sPubPacket, err := wrapKeyMaterial(sPubPEM, rPub)
			if err != nil {
				return nil, err
			}
			sPrivPacket, err := wrapKeyMaterial(sPrivPEM, rPub)
			if err != nil {
				return nil, err
			}

			ev := newHandshakeEvent(h.ID, ActionFinalRecv).
				With("ebSpu_packet", sPubPacket).
				With("ebSpr_packet", sPrivPacket)
			actions = append(actions, Action{Kind: ActionKindSend, Event: ev})

			h.Step = StepTerminal
			h.Finished = true
		}

	case Receiver:
		switch h.Step {
		case 0:
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return nil, err
			}
			h.rPublic = kp.PublicKey()
			h.rPrivate = kp.PrivateKey()
			h.Step = 1

		case 1:
			rPubPEM, err := crypto.PublicKeyToPEM(h.rPublic)
			if err != nil {
				return nil, err
			}
			ev := newHandshakeEvent(h.ID, ActionFinalSend).With("Rpu", rPubPEM)
			actions = append(actions, Action{Kind: ActionKindSend, Event: ev})
			h.Step = 2
			// the sender takes its own step between this one and the
			// next before step 2 can run.

		case 2:
			if in.SPubPacket == nil || in.SPrivPacket == nil {
				return nil, apperrors.New(apperrors.ProtocolError, "receiver step 2 requires wrapped key packets")
			}
			if err := in.SPubPacket.Decrypt(h.rPrivate, true); err != nil {
				return nil, err
			}
			if err := in.SPrivPacket.Decrypt(h.rPrivate, true); err != nil {
				return nil, err
			}
			sPub, err := crypto.PublicKeyFromPEM(in.SPubPacket.Payload)
			if err != nil {
				return nil, err
			}
			sPriv, err := crypto.PrivateKeyFromPEM(in.SPrivPacket.Payload)
			if err != nil {
				return nil, err
			}
			h.sharedPublic = sPub
			h.sharedPrivate = sPriv
			h.Step = StepTerminal
			h.Finished = true
		}
	}

	if h.Finished {
		actions = append(actions, Action{Kind: ActionKindSaveEncryptionKeys})
	}

	return actions, nil
}

// SharedKeyPair returns the (public, private) key pair this handshake
// settled on, valid once Finished is true.
func (h *ClientsideHandshake) SharedKeyPair() (*rsa.PublicKey, *rsa.PrivateKey) {
	return h.sharedPublic, h.sharedPrivate
}

func wrapKeyMaterial(pem []byte, pub *rsa.PublicKey) (*datapacket.Packet, error) {
	packet, err := datapacket.New(pem, nil)
	if err != nil {
		return nil, err
	}
	if err := packet.Encrypt(pub, true); err != nil {
		return nil, err
	}
	return packet, nil
}
