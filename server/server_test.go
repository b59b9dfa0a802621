package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/crypto/keystore"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/server/store"
	"github.com/chatrelay/chatrelay/transport"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	users := store.NewUserStore(filepath.Join(dir, "users.db"))
	require.NoError(t, users.Load())
	chats := store.NewChatStore(filepath.Join(dir, "chats.db"), filepath.Join(dir, "chats"), 0)
	require.NoError(t, chats.Load())

	log := logger.NewDefaultLogger()
	connected := newConnectedUsers()
	handshakes := handshake.NewHandshakeManager(log)

	return &Server{
		transport:    transport.NewServer(log),
		users:        users,
		chats:        chats,
		connected:    connected,
		handshakes:   handshakes,
		orchestrator: newE2EOrchestrator(chats, handshakes, connected, log),
		log:          log,
		metrics:      newServerMetrics(prometheus.NewRegistry()),
		lastEvict:    time.Now(),
	}
}

// sentEvent is one outbound send captured by runServer instead of being
// written to a live websocket.
type sentEvent struct {
	to transport.ConnID
	ev transport.Event
}

// runServer drains the deferred-action queue and the handshake
// initiation queue to a fixed point, the way Tick does, capturing every
// send instead of writing it to the transport.
func runServer(s *Server) []sentEvent {
	var out []sentEvent
	for {
		init := s.handshakes.CheckForUpdates()
		for _, a := range init {
			s.enqueueServerAction(a)
		}
		if len(init) == 0 && len(s.queue) == 0 {
			return out
		}
		for len(s.queue) > 0 {
			a := s.queue[0]
			s.queue = s.queue[1:]
			if a.kind == actionSend {
				out = append(out, sentEvent{to: a.to, ev: a.event})
				continue
			}
			s.process(a)
		}
	}
}

func eventsFor(sends []sentEvent, conn transport.ConnID, tag string) []transport.Event {
	var out []transport.Event
	for _, se := range sends {
		if se.to == conn && se.ev.Tag == tag {
			out = append(out, se.ev)
		}
	}
	return out
}

func signUp(t *testing.T, s *Server, conn transport.ConnID, username, hash string) string {
	t.Helper()
	s.connected.register(conn)
	s.dispatch(conn, transport.NewEvent(tagAttemptSignUp).
		With("username", username).
		With("password_hash", hash))
	results := eventsFor(runServer(s), conn, tagSignUpResult)
	require.Len(t, results, 1)
	require.Equal(t, true, results[0].Fields["success"])
	uuid, _ := results[0].Fields["uuid"].(string)
	require.NotEmpty(t, uuid)
	return uuid
}

func logIn(t *testing.T, s *Server, conn transport.ConnID, username, hash string) []sentEvent {
	t.Helper()
	s.connected.register(conn)
	s.dispatch(conn, transport.NewEvent(tagAttemptLogin).
		With("username", username).
		With("password_hash", hash))
	return runServer(s)
}

func TestSignUpThenLoginCaseInsensitive(t *testing.T) {
	s := newTestServer(t)

	uuid := signUp(t, s, 1, "alice", "H1")

	// reconnect on a fresh connection and log in with different casing
	sends := logIn(t, s, 2, "ALICE", "H1")
	results := eventsFor(sends, 2, tagLoginResult)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].Fields["success"])
	assert.Equal(t, uuid, results[0].Fields["uuid"])
}

func TestLoginWrongPasswordFails(t *testing.T) {
	s := newTestServer(t)
	signUp(t, s, 1, "alice", "H1")

	sends := logIn(t, s, 2, "alice", "WRONG")
	results := eventsFor(sends, 2, tagLoginResult)
	require.Len(t, results, 1)
	assert.Equal(t, false, results[0].Fields["success"])
	assert.NotContains(t, results[0].Fields, "uuid")
}

func TestSignUpOnLoggedInConnectionRejected(t *testing.T) {
	s := newTestServer(t)
	signUp(t, s, 1, "alice", "H1")

	// same connection tries to register a second account
	s.dispatch(1, transport.NewEvent(tagAttemptSignUp).
		With("username", "mallory").
		With("password_hash", "H2"))
	results := eventsFor(runServer(s), 1, tagSignUpResult)
	require.Len(t, results, 1)
	assert.Equal(t, false, results[0].Fields["success"])
}

func TestUnauthenticatedRequestsSilentlyDropped(t *testing.T) {
	s := newTestServer(t)
	s.connected.register(1)

	s.dispatch(1, transport.NewEvent(tagRequestChatsList))
	assert.Empty(t, runServer(s))
}

func TestCreateChatInitialKeying(t *testing.T) {
	s := newTestServer(t)
	aliceUUID := signUp(t, s, 1, "alice", "H1")
	bobUUID := signUp(t, s, 2, "bob", "H2")

	s.dispatch(1, transport.NewEvent(tagRequestCreateChat).
		With("chat_name", "g").
		With("participants", []interface{}{bobUUID}))
	sends := runServer(s)

	aliceCreated := eventsFor(sends, 1, tagNewChatCreated)
	bobCreated := eventsFor(sends, 2, tagNewChatCreated)
	require.Len(t, aliceCreated, 1)
	require.Len(t, bobCreated, 1)

	chatData, _ := aliceCreated[0].Fields["chat_data"].(map[string]interface{})
	require.NotNil(t, chatData)
	chatUUID, _ := chatData["uuid"].(string)
	assert.Equal(t, "g", chatData["name"])

	newKeys := eventsFor(sends, 1, tagCreateNewKeys)
	require.Len(t, newKeys, 1)
	assert.Equal(t, "c_"+chatUUID, newKeys[0].Fields["encryption_key_id"])

	chat, ok := s.chats.GetByUUID(chatUUID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{aliceUUID, bobUUID}, chat.Participants)
	assert.Equal(t, []string{aliceUUID}, chat.ParticipantsE2E)

	// bob is online and needs the key, so the check created a handshake
	// and the next pump initiated it towards both ends
	assert.Len(t, eventsFor(sends, 2, handshake.EventTag), 1)
	assert.Len(t, eventsFor(sends, 1, handshake.EventTag), 1)
}

func TestNonMemberRequestsDropped(t *testing.T) {
	s := newTestServer(t)
	signUp(t, s, 1, "alice", "H1")
	signUp(t, s, 2, "charlie", "H3")

	s.dispatch(1, transport.NewEvent(tagRequestCreateChat).
		With("chat_name", "g").
		With("participants", []interface{}{}))
	sends := runServer(s)
	created := eventsFor(sends, 1, tagNewChatCreated)
	require.Len(t, created, 1)
	chatData := created[0].Fields["chat_data"].(map[string]interface{})
	chatUUID := chatData["uuid"].(string)

	// charlie is logged in but not a participant
	s.dispatch(2, transport.NewEvent(tagRequestGetMessages).
		With("chat_uuid", chatUUID).
		With("messages_page", 0))
	assert.Empty(t, runServer(s))
}

func TestOfflineCustodianDeferral(t *testing.T) {
	s := newTestServer(t)
	signUp(t, s, 1, "alice", "H1")
	bobUUID := signUp(t, s, 2, "bob", "H2")
	s.connected.drop(2) // bob goes offline before the chat exists

	s.dispatch(1, transport.NewEvent(tagRequestCreateChat).
		With("chat_name", "g").
		With("participants", []interface{}{bobUUID}))
	sends := runServer(s)
	chatData := eventsFor(sends, 1, tagNewChatCreated)[0].Fields["chat_data"].(map[string]interface{})
	chatUUID := chatData["uuid"].(string)

	// alice (the only custodian) goes offline too
	s.connected.drop(1)

	// bob comes back, asks for the missing keys: no custodian online,
	// so the chat parks in pending and no handshake starts
	logIn(t, s, 3, "bob", "H2")
	s.dispatch(3, transport.NewEvent(tagRequestMissingKeys).With("chat_uuid", chatUUID))
	sends = runServer(s)
	assert.Empty(t, eventsFor(sends, 3, handshake.EventTag))
	assert.True(t, s.orchestrator.IsPending(chatUUID))

	// alice logging back in unblocks the pending chat
	sends = logIn(t, s, 4, "alice", "H1")
	require.Len(t, eventsFor(sends, 3, handshake.EventTag), 1)
	require.Len(t, eventsFor(sends, 4, handshake.EventTag), 1)
	assert.Equal(t, handshake.ActionInitRecv, eventsFor(sends, 3, handshake.EventTag)[0].Fields["action"])
	assert.Equal(t, handshake.ActionInitSend, eventsFor(sends, 4, handshake.EventTag)[0].Fields["action"])
}

// testClient pairs a connection id with a real client-side handshake
// manager, so integration tests can run the full three-message protocol
// through the server's dispatch loop.
type testClient struct {
	conn       transport.ConnID
	handshakes *handshake.ClientsideHandshakeManager
	store      *keystore.Store
}

func newTestClient(t *testing.T, conn transport.ConnID) *testClient {
	t.Helper()
	st, err := keystore.New(filepath.Join(t.TempDir(), "keys.store"), []byte("machine"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Load())
	return &testClient{
		conn:       conn,
		handshakes: handshake.NewClientsideHandshakeManager(st, nil),
		store:      st,
	}
}

// installChatKey mirrors what the real client does on CREATE_NEW_KEYS:
// generate a fresh pair and store it under the announced key-id.
func (tc *testClient) installChatKey(t *testing.T, keyID string) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := crypto.PublicKeyToPEM(kp.PublicKey())
	require.NoError(t, err)
	privPEM, err := crypto.PrivateKeyToPEM(kp.PrivateKey())
	require.NoError(t, err)
	tc.store.Put(keyID, pubPEM, privPEM)
	return kp
}

// relayUntilQuiet feeds captured server sends into the matching
// client's handshake manager and dispatches whatever the clients send
// back, until no handshake traffic remains in flight.
func relayUntilQuiet(t *testing.T, s *Server, initial []sentEvent, clients map[transport.ConnID]*testClient) {
	t.Helper()
	queue := initial
	for len(queue) > 0 {
		se := queue[0]
		queue = queue[1:]
		if se.ev.Tag != handshake.EventTag {
			continue
		}
		tc, ok := clients[se.to]
		require.True(t, ok, "handshake event for unknown connection %d", se.to)

		actions, err := tc.handshakes.Process(se.ev)
		require.NoError(t, err)
		for _, a := range actions {
			switch a.Kind {
			case handshake.ActionKindSend:
				s.dispatch(tc.conn, a.Event)
				queue = append(queue, runServer(s)...)
			case handshake.ActionKindSaveEncryptionKeys:
				require.NoError(t, tc.handshakes.SaveEncryptionKeys())
			}
		}
	}
}

func TestFullHandshakeAndEncryptedMessageFlow(t *testing.T) {
	s := newTestServer(t)
	aliceUUID := signUp(t, s, 1, "alice", "H1")
	bobUUID := signUp(t, s, 2, "bob", "H2")

	alice := newTestClient(t, 1)
	bob := newTestClient(t, 2)
	clients := map[transport.ConnID]*testClient{1: alice, 2: bob}

	s.dispatch(1, transport.NewEvent(tagRequestCreateChat).
		With("chat_name", "g").
		With("participants", []interface{}{bobUUID}))
	sends := runServer(s)

	chatData := eventsFor(sends, 1, tagNewChatCreated)[0].Fields["chat_data"].(map[string]interface{})
	chatUUID := chatData["uuid"].(string)
	keyID := "c_" + chatUUID

	newKeys := eventsFor(sends, 1, tagCreateNewKeys)
	require.Len(t, newKeys, 1)
	alice.installChatKey(t, keyID)

	// the chat creation already initiated a handshake towards bob;
	// relay it to completion through both client managers
	relayUntilQuiet(t, s, sends, clients)

	chat, ok := s.chats.GetByUUID(chatUUID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{aliceUUID, bobUUID}, chat.ParticipantsE2E)
	assert.True(t, bob.handshakes.HasKeyPair(keyID))

	// bob's recovered pair must be alice's pair, not a fresh one
	alicePub, _, ok := alice.store.Get(keyID)
	require.True(t, ok)
	bobPub, bobPriv, ok := bob.handshakes.KeyPairFor(keyID)
	require.True(t, ok)
	assert.Equal(t, alicePub, bobPub)

	// S5: alice encrypts under the chat key and sends; both get the
	// fan-out and bob can decrypt it with his recovered private key
	pub, err := crypto.PublicKeyFromPEM(alicePub)
	require.NoError(t, err)
	packet, err := datapacket.New([]byte("hello bob"), nil)
	require.NoError(t, err)
	require.NoError(t, packet.Encrypt(pub, true))

	s.dispatch(1, transport.NewEvent(tagRequestSendMessage).
		With("chat_uuid", chatUUID).
		With("message_content", packet))
	sends = runServer(s)

	aliceFilled := eventsFor(sends, 1, tagSendMessageFilled)
	bobFilled := eventsFor(sends, 2, tagSendMessageFilled)
	require.Len(t, aliceFilled, 1)
	require.Len(t, bobFilled, 1)

	aliceMsg := aliceFilled[0].Fields["message"].(map[string]interface{})
	bobMsg := bobFilled[0].Fields["message"].(map[string]interface{})
	assert.Equal(t, true, aliceMsg["is_own"])
	assert.Equal(t, false, bobMsg["is_own"])
	assert.Equal(t, "alice", bobMsg["sender_name"])

	received := bobMsg["content"].(*datapacket.Packet)
	priv, err := crypto.PrivateKeyFromPEM(bobPriv)
	require.NoError(t, err)
	cp := *received
	require.NoError(t, cp.Decrypt(priv, true))
	assert.Equal(t, []byte("hello bob"), cp.Payload)
}

func TestInitialMessagesSubstituteCreatorName(t *testing.T) {
	s := newTestServer(t)
	signUp(t, s, 1, "alice", "H1")

	s.dispatch(1, transport.NewEvent(tagRequestCreateChat).
		With("chat_name", "g").
		With("participants", []interface{}{}))
	sends := runServer(s)
	chatData := eventsFor(sends, 1, tagNewChatCreated)[0].Fields["chat_data"].(map[string]interface{})
	chatUUID := chatData["uuid"].(string)

	s.dispatch(1, transport.NewEvent(tagRequestInitialMessages).With("chat_uuid", chatUUID))
	filled := eventsFor(runServer(s), 1, tagInitialMessagesFilled)
	require.Len(t, filled, 1)

	msgs := filled[0].Fields["messages"].([]map[string]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, true, msgs[0]["from_server"])
	assert.Equal(t, "alice started a new chat", msgs[0]["content"])
}

func TestHandshakeCompleteIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	aliceUUID := signUp(t, s, 1, "alice", "H1")
	bobUUID := signUp(t, s, 2, "bob", "H2")

	chat, err := s.chats.CreateChat(aliceUUID, "g", []string{bobUUID})
	require.NoError(t, err)

	s.orchestrator.OnHandshakeComplete(chat.UUID, aliceUUID, bobUUID)
	s.orchestrator.OnHandshakeComplete(chat.UUID, aliceUUID, bobUUID)

	got, _ := s.chats.GetByUUID(chat.UUID)
	assert.Equal(t, []string{aliceUUID, bobUUID}, got.ParticipantsE2E)
}
