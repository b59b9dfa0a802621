// Package client implements the chat client's half of the protocol: a
// network pump loop that drains transport events and hands UI-facing
// updates to a channel, plus the request methods a UI thread calls to
// act. All handshake and key-store mutation happens on the pump side;
// the key store is never touched from the UI side.
package client

import (
	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/crypto/keystore"
	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/transport"
)

// Update is one notification the pump loop posts to the UI side:
// a raw server event the UI layer knows how to render, a connected
// notice, or a disconnect notice.
type Update struct {
	Event      transport.Event
	Connected  bool
	Disconnect bool
}

// Client is the client-side runtime: a transport connection, the
// per-chat key material (via an encrypted local store), and the
// handshake state machine manager that keeps that store current.
type Client struct {
	transport  *transport.Client
	handshakes *handshake.ClientsideHandshakeManager
	store      *keystore.Store
	log        logger.Logger

	UUID     string
	Username string
	LoggedIn bool

	updates chan Update
}

// New creates a Client. serverURL is the websocket endpoint, keyStorePath
// is the local encrypted key-store file, and identifier is the
// machine-specific bytes used to derive its unlock key (derivation of
// the identifier itself is the caller's concern).
func New(serverURL, keyStorePath string, identifier []byte, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	store, err := keystore.New(keyStorePath, identifier, log)
	if err != nil {
		return nil, err
	}
	if err := store.Load(); err != nil {
		return nil, err
	}

	return &Client{
		transport:  transport.NewClient(serverURL, log),
		handshakes: handshake.NewClientsideHandshakeManager(store, log),
		store:      store,
		log:        log,
		updates:    make(chan Update, 64),
	}, nil
}

// Connect dials the server.
func (c *Client) Connect() error {
	return c.transport.Connect()
}

// Updates returns the channel the pump loop posts to; the UI side
// should range over it.
func (c *Client) Updates() <-chan Update { return c.updates }

// Close closes the transport connection.
func (c *Client) Close() error { return c.transport.Close() }

// send transmits ev to the server.
func (c *Client) send(ev transport.Event) error { return c.transport.Send(ev) }

// HasKeyPair reports whether the local store already holds a usable
// key pair for keyID.
func (c *Client) HasKeyPair(keyID string) bool { return c.handshakes.HasKeyPair(keyID) }

// KeyPairFor returns the PEM-encoded (public, private) halves held
// for keyID.
func (c *Client) KeyPairFor(keyID string) (pub, priv []byte, ok bool) {
	return c.handshakes.KeyPairFor(keyID)
}

func unauthorizedIfNotLoggedIn(c *Client) error {
	if !c.LoggedIn {
		return apperrors.New(apperrors.Unauthorized, "not logged in")
	}
	return nil
}
