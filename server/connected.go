// Package server wires the persisted stores, the handshake registry,
// and the E2E orchestrator into the cooperative pump-and-dispatch main
// loop.
package server

import (
	"sync"

	"github.com/chatrelay/chatrelay/transport"
)

// NotRegistered is the uuid placeholder for a connection that has not
// yet logged in or signed up.
const NotRegistered = "NOT_REGISTERED"

// ConnectedUser is the in-memory record for one live connection.
// Created with NotRegistered/logged_in=false; promoted to a real uuid
// on successful login or signup.
type ConnectedUser struct {
	Conn     transport.ConnID
	UUID     string
	Username string
	LoggedIn bool
}

// connectedUsers is the server-wide registry of live connections,
// keyed by connection id. A user may be logged in on more than one
// connection at once.
type connectedUsers struct {
	mu   sync.RWMutex
	byID map[transport.ConnID]*ConnectedUser
}

func newConnectedUsers() *connectedUsers {
	return &connectedUsers{byID: make(map[transport.ConnID]*ConnectedUser)}
}

func (c *connectedUsers) register(conn transport.ConnID) *ConnectedUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	cu := &ConnectedUser{Conn: conn, UUID: NotRegistered}
	c.byID[conn] = cu
	return cu
}

func (c *connectedUsers) drop(conn transport.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, conn)
}

func (c *connectedUsers) get(conn transport.ConnID) (*ConnectedUser, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cu, ok := c.byID[conn]
	return cu, ok
}

// promote marks conn as logged in under uuid/username.
func (c *connectedUsers) promote(conn transport.ConnID, userUUID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cu, ok := c.byID[conn]; ok {
		cu.UUID = userUUID
		cu.Username = username
		cu.LoggedIn = true
	}
}

// connectionsFor returns every connection id currently logged in as
// userUUID.
func (c *connectedUsers) connectionsFor(userUUID string) []transport.ConnID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []transport.ConnID
	for id, cu := range c.byID {
		if cu.LoggedIn && cu.UUID == userUUID {
			out = append(out, id)
		}
	}
	return out
}

// isOnline reports whether userUUID has at least one live, logged-in
// connection.
func (c *connectedUsers) isOnline(userUUID string) bool {
	return len(c.connectionsFor(userUUID)) > 0
}

// loggedInCount returns the number of connections currently logged in.
func (c *connectedUsers) loggedInCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, cu := range c.byID {
		if cu.LoggedIn {
			n++
		}
	}
	return n
}

// anyConnectionFor returns one live connection for userUUID, if any.
func (c *connectedUsers) anyConnectionFor(userUUID string) (transport.ConnID, bool) {
	ids := c.connectionsFor(userUUID)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
