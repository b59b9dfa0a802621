package server

import (
	"encoding/base64"

	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/transport"
)

func fieldString(ev transport.Event, key string) string {
	s, _ := ev.Fields[key].(string)
	return s
}

func fieldInt(ev transport.Event, key string) int {
	switch v := ev.Fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func fieldStringList(ev transport.Event, key string) []string {
	raw, _ := ev.Fields[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// fieldPacket decodes a DataPacket field. Over the wire (and once
// round-tripped through JSON) a packet arrives as the base64url string
// datapacket.Packet.MarshalJSON produces; a *datapacket.Packet value
// is accepted too, for callers that build events in-process (tests).
func fieldPacket(ev transport.Event, key string) (*datapacket.Packet, bool) {
	switch v := ev.Fields[key].(type) {
	case *datapacket.Packet:
		return v, true
	case string:
		raw, err := base64.URLEncoding.DecodeString(v)
		if err != nil {
			return nil, false
		}
		p, err := datapacket.Decode(raw)
		if err != nil {
			return nil, false
		}
		return p, true
	default:
		return nil, false
	}
}
