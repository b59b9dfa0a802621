package server

import (
	"sort"
	"time"

	"github.com/chatrelay/chatrelay/core/handshake"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/server/store"
	"github.com/chatrelay/chatrelay/transport"
)

// dispatch authorizes and routes one inbound event: everything but
// login, signup, and E2E_HANDSHAKE requires a logged-in connection,
// and chat-scoped requests require membership. Handlers enqueue any
// resulting deferred actions directly onto s.queue.
func (s *Server) dispatch(conn transport.ConnID, ev transport.Event) {
	cu, ok := s.connected.get(conn)
	if !ok {
		return // connection already gone
	}

	if !unauthenticatedTags[ev.Tag] && !cu.LoggedIn {
		s.log.Warn("dropping event from unauthenticated connection",
			logger.String("tag", ev.Tag))
		s.metrics.droppedEvents.WithLabelValues("unauthorized").Inc()
		return
	}

	var chat store.Chat
	if chatMembershipTags[ev.Tag] {
		chatUUID := fieldString(ev, "chat_uuid")
		var found bool
		chat, found = s.chats.GetByUUID(chatUUID)
		if !found || !chat.HasParticipant(cu.UUID) {
			s.log.Warn("dropping event for a chat the sender is not a member of",
				logger.String("tag", ev.Tag), logger.String("chat_uuid", chatUUID))
			s.metrics.droppedEvents.WithLabelValues("non_member").Inc()
			return
		}
	}

	switch ev.Tag {
	case tagAttemptLogin:
		s.handleLogin(cu, ev)
	case tagAttemptSignUp:
		s.handleSignUp(cu, ev)
	case tagRequestChatsList:
		s.handleChatsList(cu)
	case tagRequestInitialMessages:
		s.handleInitialMessages(cu, chat)
	case tagRequestGetMessages:
		s.handleGetMessages(cu, ev, chat)
	case tagRequestSendMessage:
		s.handleSendMessage(cu, ev, chat)
	case tagRequestSearchForUsers:
		s.handleSearchUsers(cu, ev)
	case tagRequestCreateChat:
		s.handleCreateChat(cu, ev)
	case tagRequestMissingKeys:
		s.handleMissingKeys(cu, chat)
	case tagE2EHandshake:
		s.handleE2EHandshake(conn, ev)
	default:
		s.log.Debug("dropping event with unknown tag", logger.String("tag", ev.Tag))
	}
}

func (s *Server) handleLogin(cu *ConnectedUser, ev transport.Event) {
	username := fieldString(ev, "username")
	passwordHash := fieldString(ev, "password_hash")

	user, ok := s.users.CheckPassword(username, passwordHash)
	if !ok {
		s.enqueue(s.reply(cu.Conn, tagLoginResult, map[string]interface{}{"success": false}))
		return
	}

	s.connected.promote(cu.Conn, user.UUID, user.Username)
	s.enqueue(s.reply(cu.Conn, tagLoginResult, map[string]interface{}{"success": true, "uuid": user.UUID}))
	s.enqueue(deferredAction{kind: actionCheckE2EOnLogin, userUUID: user.UUID})
}

func (s *Server) handleSignUp(cu *ConnectedUser, ev transport.Event) {
	if cu.LoggedIn {
		s.enqueue(s.reply(cu.Conn, tagSignUpResult, map[string]interface{}{"success": false}))
		return
	}

	username := fieldString(ev, "username")
	passwordHash := fieldString(ev, "password_hash")

	user, err := s.users.Create(username, passwordHash)
	if err != nil {
		s.enqueue(s.reply(cu.Conn, tagSignUpResult, map[string]interface{}{"success": false}))
		return
	}

	s.connected.promote(cu.Conn, user.UUID, user.Username)
	s.enqueue(s.reply(cu.Conn, tagSignUpResult, map[string]interface{}{"success": true, "uuid": user.UUID}))
	s.enqueue(deferredAction{kind: actionCheckE2EOnLogin, userUUID: user.UUID})
}

func (s *Server) handleChatsList(cu *ConnectedUser) {
	chats := s.chats.GetByParticipant(cu.UUID)
	sort.Slice(chats, func(i, j int) bool { return chats[i].LastMessageTS > chats[j].LastMessageTS })

	out := make([]map[string]interface{}, len(chats))
	for i, c := range chats {
		out[i] = map[string]interface{}{"uuid": c.UUID, "name": c.Name}
	}
	s.enqueue(s.reply(cu.Conn, tagChatsListFilled, map[string]interface{}{"chats": out}))
}

func (s *Server) handleCreateChat(cu *ConnectedUser, ev transport.Event) {
	name := fieldString(ev, "chat_name")
	participants := fieldStringList(ev, "participants")

	chat, err := s.chats.CreateChat(cu.UUID, name, participants)
	if err != nil {
		s.log.Error("creating chat failed", logger.Error(err))
		return
	}

	chatData := map[string]interface{}{"uuid": chat.UUID, "name": chat.Name}
	for _, p := range chat.Participants {
		if conn, online := s.connected.anyConnectionFor(p); online {
			s.enqueue(s.reply(conn, tagNewChatCreated, map[string]interface{}{"chat_data": chatData}))
		}
	}

	s.enqueue(s.reply(cu.Conn, tagCreateNewKeys, map[string]interface{}{"encryption_key_id": chat.KeyID()}))
	s.enqueue(deferredAction{kind: actionCheckE2E, chatUUID: chat.UUID})
}

func (s *Server) handleInitialMessages(cu *ConnectedUser, chat store.Chat) {
	last, err := s.chats.LastPageIndex(chat.UUID)
	if err != nil {
		s.log.Error("loading message log failed", logger.Error(err))
		return
	}
	page, _, err := s.chats.GetPage(chat.UUID, last)
	if err != nil {
		s.log.Error("loading message log failed", logger.Error(err))
		return
	}
	s.enqueue(s.reply(cu.Conn, tagInitialMessagesFilled, map[string]interface{}{
		"chat_uuid":      chat.UUID,
		"loaded_to_page": last,
		"messages":       renderMessages(chat, page, cu.UUID, s.users),
	}))
}

func (s *Server) handleGetMessages(cu *ConnectedUser, ev transport.Event, chat store.Chat) {
	page := fieldInt(ev, "messages_page")
	msgs, last, err := s.chats.GetPage(chat.UUID, page)
	if err != nil {
		s.log.Error("loading message log failed", logger.Error(err))
		return
	}
	s.enqueue(s.reply(cu.Conn, tagGetMessagesFilled, map[string]interface{}{
		"chat_uuid":      chat.UUID,
		"loaded_to_page": last,
		"messages":       renderMessages(chat, msgs, cu.UUID, s.users),
	}))
}

func (s *Server) handleSendMessage(cu *ConnectedUser, ev transport.Event, chat store.Chat) {
	packet, ok := fieldPacket(ev, "message_content")
	if !ok {
		s.log.Warn("dropping REQUEST_SEND_MESSAGE with an unreadable message_content field")
		return
	}

	ts := time.Now().Unix()
	if err := s.chats.AddChatMessageAt(chat.UUID, store.PacketContent(packet), cu.UUID, ts); err != nil {
		s.log.Error("persisting chat message failed", logger.Error(err))
		return
	}
	s.metrics.messagesRelayed.Inc()

	last, err := s.chats.LastPageIndex(chat.UUID)
	if err != nil {
		s.log.Error("loading message log failed", logger.Error(err))
		return
	}
	msg := store.ChatMessage{Content: store.PacketContent(packet), SenderUUID: cu.UUID, Timestamp: ts}

	for _, p := range chat.Participants {
		conn, online := s.connected.anyConnectionFor(p)
		if !online {
			continue
		}
		s.enqueue(s.reply(conn, tagSendMessageFilled, map[string]interface{}{
			"chat_uuid":      chat.UUID,
			"loaded_to_page": last,
			"message":        renderMessage(chat, msg, p, s.users),
		}))
	}
}

func (s *Server) handleSearchUsers(cu *ConnectedUser, ev transport.Event) {
	query := fieldString(ev, "query")
	max := fieldInt(ev, "get_max")
	resultAction := fieldString(ev, "result_action")

	results := s.users.SearchByUsername(query, max)
	s.enqueue(s.reply(cu.Conn, tagSearchUsersFilled, map[string]interface{}{
		"results":       results,
		"result_action": resultAction,
	}))
}

// handleMissingKeys drops cu out of the chat's participants_e2e set so
// the next actionCheckE2E treats it as needing a key handshake again.
func (s *Server) handleMissingKeys(cu *ConnectedUser, chat store.Chat) {
	s.chats.RemoveParticipantE2E(chat.UUID, cu.UUID)
	s.enqueue(deferredAction{kind: actionCheckE2E, chatUUID: chat.UUID})
}

func (s *Server) handleE2EHandshake(conn transport.ConnID, ev transport.Event) {
	action := fieldString(ev, "action")
	handshakeID := fieldString(ev, "handshake_id")

	switch action {
	case handshake.ActionFinalSend, handshake.ActionFinalRecv:
		for _, sa := range s.handshakes.Process(conn, ev) {
			s.enqueueServerAction(sa)
		}
	default:
		s.log.Warn("dropping E2E_HANDSHAKE event with an unexpected action",
			logger.String("handshake_id", handshakeID), logger.String("action", action))
	}
}

// reply builds a send action addressed to conn.
func (s *Server) reply(conn transport.ConnID, tag string, fields map[string]interface{}) deferredAction {
	ev := transport.NewEvent(tag)
	for k, v := range fields {
		ev = ev.With(k, v)
	}
	return deferredAction{kind: actionSend, to: conn, event: ev}
}
