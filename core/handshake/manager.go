package handshake

import (
	"crypto/rsa"
	"strings"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/crypto/keystore"
	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/transport"
)

// keyPairPEM is the PEM-encoded (public, private) pair a
// ClientsideHandshakeManager caches per key-id; a zero value means a
// pair has been promised (by an INIT_RECV) but not yet received.
type keyPairPEM struct {
	public  []byte
	private []byte
}

// ClientsideHandshakeManager owns every in-flight ClientsideHandshake
// for one client, plus the chat key pairs recovered or already held
// for each key-id. Any E2E_HANDSHAKE event should be routed through
// Process.
type ClientsideHandshakeManager struct {
	store *keystore.Store
	log   logger.Logger

	handshakes map[string]*ClientsideHandshake
	keys       map[string]keyPairPEM
}

// NewClientsideHandshakeManager creates a manager backed by store for
// persistence. Call store.Load() before using the manager so any
// previously saved key pairs are available.
func NewClientsideHandshakeManager(store *keystore.Store, log logger.Logger) *ClientsideHandshakeManager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &ClientsideHandshakeManager{
		store:      store,
		log:        log,
		handshakes: make(map[string]*ClientsideHandshake),
		keys:       make(map[string]keyPairPEM),
	}
}

// HasKeyPair reports whether a usable (non-promised) key pair is held
// for keyID, either in memory or in the backing store.
func (m *ClientsideHandshakeManager) HasKeyPair(keyID string) bool {
	if kp, ok := m.keys[keyID]; ok {
		return kp.public != nil && kp.private != nil
	}
	return m.store.Has(keyID)
}

// KeyPairFor returns the PEM-encoded (public, private) halves held for
// keyID, checking the in-memory cache first and falling back to the
// backing store.
func (m *ClientsideHandshakeManager) KeyPairFor(keyID string) (pub, priv []byte, ok bool) {
	if kp, cached := m.keys[keyID]; cached && kp.public != nil {
		return kp.public, kp.private, true
	}
	return m.store.Get(keyID)
}

// Process handles one E2E_HANDSHAKE event and returns the deferred
// actions it produced.
func (m *ClientsideHandshakeManager) Process(ev transport.Event) ([]Action, error) {
	handshakeID, _ := ev.Fields["handshake_id"].(string)
	action, _ := ev.Fields["action"].(string)
	keyID, _, _ := strings.Cut(handshakeID, "+")

	switch action {
	case ActionInitSend:
		m.log.Debug("init_send event, starting sender handshake", logger.String("handshake_id", handshakeID))
		var given crypto.KeyPair
		if pub, priv, ok := m.KeyPairFor(keyID); ok {
			kp, err := crypto.KeyPairFromPEM(pub, priv)
			if err != nil {
				return nil, err
			}
			given = kp
		} else {
			m.log.Warn("no existing key pair for handshake, generating a new one", logger.String("key_id", keyID))
		}
		h, actions, err := NewClientsideHandshake(handshakeID, Sender, given)
		if err != nil {
			return nil, err
		}
		m.handshakes[handshakeID] = h
		if given == nil {
			if pub, priv := h.SharedKeyPair(); pub != nil {
				if err := m.rememberKeyPair(keyID, pub, priv); err != nil {
					return nil, err
				}
			}
		}
		return actions, nil

	case ActionInitRecv:
		m.log.Debug("init_recv event, starting receiver handshake", logger.String("handshake_id", handshakeID))
		h, _, err := NewClientsideHandshake(handshakeID, Receiver, nil)
		if err != nil {
			return nil, err
		}
		m.handshakes[handshakeID] = h
		if _, exists := m.keys[keyID]; exists {
			m.log.Debug("existing key recorded for this key-id cleared pending a fresh handshake", logger.String("key_id", keyID))
		}
		m.keys[keyID] = keyPairPEM{}
		return h.ExecuteStep(1, StepInput{})

	case ActionFinalSend:
		h, ok := m.handshakes[handshakeID]
		if !ok {
			m.log.Warn("final_send for unknown handshake, ignoring", logger.String("handshake_id", handshakeID))
			return nil, nil
		}
		rPub, _ := fieldBytes(ev, "Rpu")
		return h.ExecuteStep(1, StepInput{RPubPEM: rPub})

	case ActionFinalRecv:
		h, ok := m.handshakes[handshakeID]
		if !ok {
			m.log.Warn("final_recv for unknown handshake, ignoring", logger.String("handshake_id", handshakeID))
			return nil, nil
		}
		sPubPacket, _ := fieldPacket(ev, "ebSpu_packet")
		sPrivPacket, _ := fieldPacket(ev, "ebSpr_packet")
		actions, err := h.ExecuteStep(2, StepInput{SPubPacket: sPubPacket, SPrivPacket: sPrivPacket})
		if err != nil {
			return nil, err
		}
		pub, priv := h.SharedKeyPair()
		if err := m.rememberKeyPair(keyID, pub, priv); err != nil {
			return nil, err
		}
		return actions, nil
	}

	return nil, apperrors.New(apperrors.ProtocolError, "unknown handshake action: "+action)
}

func (m *ClientsideHandshakeManager) rememberKeyPair(keyID string, pub *rsa.PublicKey, priv *rsa.PrivateKey) error {
	pubPEM, err := crypto.PublicKeyToPEM(pub)
	if err != nil {
		return err
	}
	privPEM, err := crypto.PrivateKeyToPEM(priv)
	if err != nil {
		return err
	}
	m.keys[keyID] = keyPairPEM{public: pubPEM, private: privPEM}
	m.store.Put(keyID, pubPEM, privPEM)
	return nil
}

// SaveEncryptionKeys flushes every key pair this manager knows about
// into the backing store and writes it to disk.
func (m *ClientsideHandshakeManager) SaveEncryptionKeys() error {
	return m.store.Save()
}
