package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for frames that are not valid JSON envelopes or
	// that lack a required field.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrUnknownType is returned for well-formed frames with a type the
	// server does not accept from clients.
	ErrUnknownType = errors.New("protocol: unknown event type")
)

// Frame is the envelope every event travels in.
type Frame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses an inbound frame and returns one of *Auth, *Typing or
// *MessageRead. A stopTyping frame decodes to *Typing with IsTyping false.
func Decode(raw []byte) (any, error) {
	var frame Frame
	if err := json.Unmarshal(bytes.TrimSpace(raw), &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch frame.Type {
	case TypeAuth:
		var a Auth
		if err := decodeData(frame.Data, &a); err != nil {
			return nil, err
		}
		a.UserID = strings.TrimSpace(a.UserID)
		if a.UserID == "" {
			return nil, fmt.Errorf("%w: auth without userId", ErrMalformed)
		}
		return &a, nil

	case TypeTyping, TypeStopTyping:
		var t Typing
		if err := decodeData(frame.Data, &t); err != nil {
			return nil, err
		}
		if t.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s without conversationId", ErrMalformed, frame.Type)
		}
		if frame.Type == TypeStopTyping {
			t.IsTyping = false
		}
		t.UserID = ""
		return &t, nil

	case TypeMessageRead:
		var m MessageRead
		if err := decodeData(frame.Data, &m); err != nil {
			return nil, err
		}
		if m.MessageID == "" || m.ConversationID == "" {
			return nil, fmt.Errorf("%w: messageRead needs messageId and conversationId", ErrMalformed)
		}
		m.UserID = ""
		return &m, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(t Type, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Frame{Type: t, Data: body})
}
