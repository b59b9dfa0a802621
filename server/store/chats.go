package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/internal/apperrors"
)

// DefaultPageSize is the number of messages per page when a chat's
// message log is paginated.
const DefaultPageSize = 8

// ServerSenderUUID marks a ChatMessage as server-authored rather than
// sent by a participant.
const ServerSenderUUID = "server"

// CreatorToken is the substitution token a server-authored message may
// contain; the server replaces it with the chat creator's current
// username (or "Deleted User") before sending the message to a client.
const CreatorToken = "%[creator]%"

// Chat is one chat's metadata, persisted in the chats database.
// ParticipantsE2E is always a subset of Participants: it names the
// participants currently believed to hold the chat's RSA key pair.
type Chat struct {
	UUID            string   `json:"uuid"`
	CreatorUUID     string   `json:"creator_uuid"`
	Name            string   `json:"name"`
	Participants    []string `json:"participants"`
	ParticipantsE2E []string `json:"participants_e2e"`
	LastMessageTS   int64    `json:"last_message_ts"`
}

// KeyID returns the chat's key-id, "c_<uuid>".
func (c Chat) KeyID() string { return "c_" + c.UUID }

// HasParticipant reports whether uuid is a participant of c.
func (c Chat) HasParticipant(userUUID string) bool {
	for _, p := range c.Participants {
		if p == userUUID {
			return true
		}
	}
	return false
}

// MessageContent is the polymorphic body of a ChatMessage: either a
// plain server-authored string, or a ciphertext DataPacket sent by a
// participant. Exactly one of Text/Packet is set.
type MessageContent struct {
	Text   string
	Packet *datapacket.Packet
}

func TextContent(s string) MessageContent { return MessageContent{Text: s} }

func PacketContent(p *datapacket.Packet) MessageContent { return MessageContent{Packet: p} }

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Packet != nil {
		return json.Marshal(struct {
			Packet *datapacket.Packet `json:"packet"`
		}{c.Packet})
	}
	return json.Marshal(struct {
		Text string `json:"text"`
	}{c.Text})
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var probe struct {
		Text   *string            `json:"text"`
		Packet *datapacket.Packet `json:"packet"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "decoding message content")
	}
	if probe.Packet != nil {
		c.Packet = probe.Packet
		return nil
	}
	if probe.Text != nil {
		c.Text = *probe.Text
	}
	return nil
}

// ChatMessage is one entry in a chat's append-only message log.
type ChatMessage struct {
	Content    MessageContent `json:"content"`
	SenderUUID string         `json:"sender_uuid"`
	Timestamp  int64          `json:"timestamp"`
}

type chatsFile struct {
	Entries []Chat `json:"entries"`
}

type messagesFile struct {
	Entries []ChatMessage `json:"entries"`
}

// ChatStore is the JSON-persisted chat database (metadata) plus the
// per-chat message logs, which are persisted separately as one file
// per chat under chatsDir. Message logs for chats that have been
// accessed are kept resident in an in-memory cache so repeated page
// requests don't re-read the file.
type ChatStore struct {
	path     string
	chatsDir string
	pageSize int

	mu       sync.RWMutex
	chats    map[string]*Chat
	order    []string
	modified bool

	msgMu    sync.Mutex
	messages map[string][]ChatMessage // lazily populated cache, keyed by chat uuid
}

// NewChatStore creates a store backed by path for metadata and
// chatsDir for per-chat message logs. pageSize <= 0 defaults to
// DefaultPageSize.
func NewChatStore(path, chatsDir string, pageSize int) *ChatStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ChatStore{
		path:     path,
		chatsDir: chatsDir,
		pageSize: pageSize,
		chats:    make(map[string]*Chat),
		messages: make(map[string][]ChatMessage),
	}
}

// Load reads the chats database from disk. A missing file is treated
// as an empty database, not an error. Message logs are not loaded
// eagerly; see LoadMessages.
func (s *ChatStore) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(apperrors.PersistenceError, err, "reading chats database")
	}

	var decoded chatsFile
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "parsing chats database")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range decoded.Entries {
		c := decoded.Entries[i]
		s.chats[c.UUID] = &c
		s.order = append(s.order, c.UUID)
	}
	return nil
}

// Save writes the chats database to disk unconditionally.
func (s *ChatStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// SaveIfModified writes the chats database only if a mutating method
// has run since the last save.
func (s *ChatStore) SaveIfModified() error {
	s.mu.Lock()
	if !s.modified {
		s.mu.Unlock()
		return nil
	}
	s.modified = false
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *ChatStore) saveLocked() error {
	entries := make([]Chat, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, *s.chats[id])
	}
	data, err := json.MarshalIndent(chatsFile{Entries: entries}, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "encoding chats database")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "writing chats database")
	}
	return nil
}

// GetByUUID returns the chat record for id, and whether it exists.
func (s *ChatStore) GetByUUID(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return Chat{}, false
	}
	return *c, true
}

// GetByParticipant returns every chat userUUID participates in.
func (s *ChatStore) GetByParticipant(userUUID string) []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chat
	for _, id := range s.order {
		c := s.chats[id]
		if c.HasParticipant(userUUID) {
			out = append(out, *c)
		}
	}
	return out
}

// CreateChat creates a new chat with a fresh v4 uuid. The creator's
// uuid is always included in participants (deduplicated even if the
// caller already listed it), and the creator is made the initial
// custodian: participants_e2e starts as [creatorUUID]. A server
// system message announcing the chat is appended to the new chat's
// log as part of creation.
func (s *ChatStore) CreateChat(creatorUUID, name string, participants []string) (Chat, error) {
	full := dedupAppend(participants, creatorUUID)

	c := &Chat{
		UUID:            uuid.NewString(),
		CreatorUUID:     creatorUUID,
		Name:            name,
		Participants:    full,
		ParticipantsE2E: []string{creatorUUID},
	}

	s.mu.Lock()
	s.chats[c.UUID] = c
	s.order = append(s.order, c.UUID)
	s.modified = true
	s.mu.Unlock()

	if err := s.AddChatMessage(c.UUID, TextContent(fmt.Sprintf("%s started a new chat", CreatorToken)), ServerSenderUUID); err != nil {
		return Chat{}, err
	}
	out, _ := s.GetByUUID(c.UUID)
	return out, nil
}

func dedupAppend(participants []string, extra string) []string {
	seen := make(map[string]bool, len(participants)+1)
	out := make([]string, 0, len(participants)+1)
	for _, p := range participants {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if !seen[extra] {
		out = append(out, extra)
	}
	return out
}

// AddParticipantE2E adds userUUID to chatUUID's participants_e2e set.
// Idempotent: a no-op if already present. Returns whether the set
// actually changed.
func (s *ChatStore) AddParticipantE2E(chatUUID, userUUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatUUID]
	if !ok {
		return false
	}
	for _, p := range c.ParticipantsE2E {
		if p == userUUID {
			return false
		}
	}
	c.ParticipantsE2E = append(c.ParticipantsE2E, userUUID)
	s.modified = true
	return true
}

// RemoveParticipantE2E removes userUUID from chatUUID's
// participants_e2e set, e.g. when that participant reports missing
// keys. A no-op if not present.
func (s *ChatStore) RemoveParticipantE2E(chatUUID, userUUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatUUID]
	if !ok {
		return false
	}
	for i, p := range c.ParticipantsE2E {
		if p == userUUID {
			c.ParticipantsE2E = append(c.ParticipantsE2E[:i], c.ParticipantsE2E[i+1:]...)
			s.modified = true
			return true
		}
	}
	return false
}

// NeedingKeys returns the participants of chatUUID not currently in
// participants_e2e.
func (s *ChatStore) NeedingKeys(chatUUID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatUUID]
	if !ok {
		return nil
	}
	has := make(map[string]bool, len(c.ParticipantsE2E))
	for _, p := range c.ParticipantsE2E {
		has[p] = true
	}
	var need []string
	for _, p := range c.Participants {
		if !has[p] {
			need = append(need, p)
		}
	}
	return need
}

// Custodians returns every participant currently in participants_e2e,
// so the caller can test which of them are online.
func (s *ChatStore) Custodians(chatUUID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatUUID]
	if !ok {
		return nil
	}
	return append([]string(nil), c.ParticipantsE2E...)
}

// messagesPath returns the path to chatUUID's per-chat message log.
func (s *ChatStore) messagesPath(chatUUID string) string {
	return filepath.Join(s.chatsDir, chatUUID+".msgs")
}

// LoadMessages returns chatUUID's message log, populating the
// in-memory cache from disk on first access. A missing file is an
// empty log, not an error.
func (s *ChatStore) LoadMessages(chatUUID string) ([]ChatMessage, error) {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	return s.loadMessagesLocked(chatUUID)
}

func (s *ChatStore) loadMessagesLocked(chatUUID string) ([]ChatMessage, error) {
	if cached, ok := s.messages[chatUUID]; ok {
		return cached, nil
	}

	raw, err := os.ReadFile(s.messagesPath(chatUUID))
	if err != nil {
		if os.IsNotExist(err) {
			s.messages[chatUUID] = nil
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.PersistenceError, err, "reading chat message log")
	}

	var decoded messagesFile
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.PersistenceError, err, "parsing chat message log")
	}
	s.messages[chatUUID] = decoded.Entries
	return decoded.Entries, nil
}

// SaveChatMessages persists chatUUID's in-memory message log to disk.
func (s *ChatStore) SaveChatMessages(chatUUID string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	if err := os.MkdirAll(s.chatsDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "creating chats directory")
	}

	data, err := json.Marshal(messagesFile{Entries: s.messages[chatUUID]})
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "encoding chat message log")
	}
	if err := os.WriteFile(s.messagesPath(chatUUID), data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "writing chat message log")
	}
	return nil
}

// AddChatMessage appends a message to chatUUID's log, advances
// last_message_ts to the current UTC time (never backwards), and
// persists both the message log and, if dirty, the chat metadata.
func (s *ChatStore) AddChatMessage(chatUUID string, content MessageContent, senderUUID string) error {
	return s.AddChatMessageAt(chatUUID, content, senderUUID, time.Now().Unix())
}

// AddChatMessageAt is AddChatMessage with an explicit timestamp, used
// by the server's send-message handler (so the stored message and its
// fan-out share one instant) and by tests.
func (s *ChatStore) AddChatMessageAt(chatUUID string, content MessageContent, senderUUID string, ts int64) error {
	s.msgMu.Lock()
	if _, err := s.loadMessagesLocked(chatUUID); err != nil {
		s.msgMu.Unlock()
		return err
	}
	s.messages[chatUUID] = append(s.messages[chatUUID], ChatMessage{
		Content:    content,
		SenderUUID: senderUUID,
		Timestamp:  ts,
	})
	s.msgMu.Unlock()

	s.mu.Lock()
	if c, ok := s.chats[chatUUID]; ok {
		if ts > c.LastMessageTS {
			c.LastMessageTS = ts
		}
		s.modified = true
	}
	s.mu.Unlock()

	if err := s.SaveChatMessages(chatUUID); err != nil {
		return err
	}
	return s.SaveIfModified()
}

// LastPageIndex returns the index of the last page of chatUUID's
// message log, for a log of length n this is floor(max(n-1,0)/P).
func (s *ChatStore) LastPageIndex(chatUUID string) (int, error) {
	msgs, err := s.LoadMessages(chatUUID)
	if err != nil {
		return 0, err
	}
	n := len(msgs)
	if n == 0 {
		return 0, nil
	}
	return (n - 1) / s.pageSize, nil
}

// GetPage returns the messages on the given page index of chatUUID's
// log (fixed page size), and the index of the last page.
func (s *ChatStore) GetPage(chatUUID string, page int) ([]ChatMessage, int, error) {
	msgs, err := s.LoadMessages(chatUUID)
	if err != nil {
		return nil, 0, err
	}
	last := 0
	if len(msgs) > 0 {
		last = (len(msgs) - 1) / s.pageSize
	}
	if page < 0 {
		page = 0
	}
	start := page * s.pageSize
	if start >= len(msgs) {
		return nil, last, nil
	}
	end := start + s.pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[start:end], last, nil
}

// PageSize returns the store's configured page size.
func (s *ChatStore) PageSize() int { return s.pageSize }
