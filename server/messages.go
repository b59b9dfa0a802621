package server

import (
	"strings"

	"github.com/chatrelay/chatrelay/server/store"
)

const deletedUserName = "Deleted User"

// renderMessage builds the wire representation of one ChatMessage for
// viewerUUID: content is either the plain
// string or the DataPacket untouched, sender_name is resolved from the
// user store, is_own reflects the viewer, and a server-authored
// message gets from_server=true with its %[creator]% token replaced by
// the chat's creator's current username.
func renderMessage(chat store.Chat, msg store.ChatMessage, viewerUUID string, users *store.UserStore) map[string]interface{} {
	out := map[string]interface{}{
		"sender_uuid": msg.SenderUUID,
		"timestamp":   msg.Timestamp,
		"is_own":      msg.SenderUUID == viewerUUID,
	}

	if msg.SenderUUID == store.ServerSenderUUID {
		out["from_server"] = true
		out["sender_name"] = "server"
		out["content"] = substituteCreator(msg.Content.Text, chat, users)
		return out
	}

	if sender, ok := users.FindByUUID(msg.SenderUUID); ok {
		out["sender_name"] = sender.Username
	} else {
		out["sender_name"] = deletedUserName
	}

	if msg.Content.Packet != nil {
		out["content"] = msg.Content.Packet
	} else {
		out["content"] = msg.Content.Text
	}
	return out
}

func substituteCreator(text string, chat store.Chat, users *store.UserStore) string {
	if !strings.Contains(text, store.CreatorToken) {
		return text
	}
	name := deletedUserName
	if creator, ok := users.FindByUUID(chat.CreatorUUID); ok {
		name = creator.Username
	}
	return strings.ReplaceAll(text, store.CreatorToken, name)
}

func renderMessages(chat store.Chat, msgs []store.ChatMessage, viewerUUID string, users *store.UserStore) []map[string]interface{} {
	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = renderMessage(chat, m, viewerUUID, users)
	}
	return out
}
