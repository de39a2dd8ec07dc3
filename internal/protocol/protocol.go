// Package protocol defines the JSON envelopes exchanged over the viewer
// channel. Server and client both use it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/matchcast/internal/domain/model"
)

// Type names one message kind.
type Type string

// Client to server commands.
const (
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypeStartMatch  Type = "start_match"
)

// Server to client messages.
const (
	TypeAck        Type = "ack"
	TypeMatchEvent Type = "match_event"
	TypeMatchEnded Type = "match_ended"
	TypeError      Type = "error"
)

// Sentinel errors.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope wraps every message. ID correlates a command with its ack.
type Envelope struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MatchRef is the payload of subscribe, unsubscribe and match_ended.
type MatchRef struct {
	MatchID string `json:"matchId"`
}

// Ack acknowledges a command.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Encode builds an envelope around payload.
func Encode(t Type, id string, payload any) (Envelope, error) {
	env := Envelope{Type: t, ID: id}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t Type, id string, payload any) Envelope {
	env, err := Encode(t, id, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses one frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformed, e.Type, err)
	}
	return nil
}

// NormalizeError turns an error payload into one human readable string. The
// payload is either a JSON string or a {message, fieldErrors} object; field
// errors win over the summary message when present.
func NormalizeError(payload json.RawMessage) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var verr model.ValidationError
	if err := json.Unmarshal(payload, &verr); err == nil {
		if len(verr.FieldErrors) > 0 {
			return model.FormatFieldErrors(verr.FieldErrors)
		}
		if verr.Message != "" {
			return verr.Message
		}
	}
	return trimmed
}

// ErrorPayload picks the wire shape for err: validation errors keep their
// field map, everything else becomes a plain string.
func ErrorPayload(err error) any {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return err.Error()
}
