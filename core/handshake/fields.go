package handshake

import (
	"encoding/base64"

	"github.com/chatrelay/chatrelay/crypto/datapacket"
	"github.com/chatrelay/chatrelay/transport"
)

// fieldBytes decodes a raw-bytes field. In-process callers (tests, the
// same-process sender/receiver pair) set it directly as []byte; once
// an event has round-tripped through the websocket wire it arrives as
// the base64 string Go's encoding/json produces for a []byte value.
func fieldBytes(ev transport.Event, key string) ([]byte, bool) {
	switch v := ev.Fields[key].(type) {
	case []byte:
		return v, true
	case string:
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, false
		}
		return raw, true
	default:
		return nil, false
	}
}

// fieldPacket decodes a DataPacket field, accepting either a
// *datapacket.Packet built in-process or the base64url string its
// MarshalJSON produces once relayed over the wire.
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
