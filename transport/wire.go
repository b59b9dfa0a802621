package transport

import (
	"encoding/json"

	"github.com/chatrelay/chatrelay/internal/apperrors"
)

// wireEvent is the JSON frame shape actually sent over the socket:
// fields travel as a raw JSON object so callers control how they're
// decoded (handlers know, per tag, which fields to expect).
type wireEvent struct {
	Tag    string          `json:"tag"`
	Fields json.RawMessage `json:"fields"`
}

func fromEvent(ev Event) (*wireEvent, error) {
	fieldsJSON, err := json.Marshal(ev.Fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransportError, err, "encoding event fields")
	}
	return &wireEvent{Tag: ev.Tag, Fields: fieldsJSON}, nil
}

func (w *wireEvent) toEvent() (Event, error) {
	fields := make(map[string]interface{})
	if len(w.Fields) > 0 {
		if err := json.Unmarshal(w.Fields, &fields); err != nil {
			return Event{}, apperrors.Wrap(apperrors.TransportError, err, "decoding event fields")
		}
	}
	return Event{Tag: w.Tag, Fields: fields}, nil
}
