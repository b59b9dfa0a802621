package datapacket

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/chatrelay/chatrelay/internal/apperrors"
)

// MarshalJSON renders the packet as a base64url string of its
// length-prefixed wire encoding, so a Packet can sit directly inside a
// JSON transport frame or a persisted message log entry.
func (p *Packet) MarshalJSON() ([]byte, error) {
	encoded := base64.URLEncoding.EncodeToString(Encode(p))
	return json.Marshal(encoded)
}

// UnmarshalJSON reverses MarshalJSON.
func (p *Packet) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return apperrors.Wrap(apperrors.ProtocolError, err, "decoding data packet JSON string")
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return apperrors.Wrap(apperrors.ProtocolError, err, "decoding data packet base64")
	}
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// Encode serializes a Packet as payload then sym_key, each a uint32
// big-endian length followed by that many bytes, then a single byte for
// Encrypted (1 or 0). The flag byte carries no length prefix.
func Encode(p *Packet) []byte {
	out := make([]byte, 0, 4+len(p.Payload)+4+len(p.SymKey)+1)
	out = appendLengthPrefixed(out, p.Payload)
	out = appendLengthPrefixed(out, p.SymKey)
	if p.Encrypted {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Packet, error) {
	payload, rest, err := readLengthPrefixed(data)
	if err != nil {
		return nil, err
	}
	symKey, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, apperrors.New(apperrors.ProtocolError, "truncated data packet: missing encrypted flag")
	}

	return &Packet{
		Payload:   payload,
		SymKey:    symKey,
		Encrypted: rest[0] != 0,
	}, nil
}

func appendLengthPrefixed(out []byte, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	out = append(out, lenBuf[:]...)
	return append(out, field...)
}

func readLengthPrefixed(data []byte) (field []byte, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, apperrors.Wrap(apperrors.ProtocolError, io.ErrUnexpectedEOF, "truncated data packet: missing length prefix")
	}
	length := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(length) {
		return nil, nil, apperrors.Wrap(apperrors.ProtocolError, io.ErrUnexpectedEOF, "truncated data packet: short field")
	}
	return data[:length], data[length:], nil
}
