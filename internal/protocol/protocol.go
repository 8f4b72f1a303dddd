package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is the discriminant carried in the "type" field of every frame
type Type string

const (
	// Snapshot sent once to a client right after it joins
	TypeInit Type = "init"

	// Full-buffer replacement, both directions
	TypeUpdate Type = "update"

	// Full roster replacement after any join or leave
	TypePresence Type = "presence"

	// Chat line, text only inbound, sender and text outbound
	TypeChat Type = "chat"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

// Inbound is one decoded client frame. The concrete value is always
// UpdateRequest or ChatRequest.
type Inbound interface {
	Type() Type
}

type UpdateRequest struct {
	Code string
}

func (UpdateRequest) Type() Type { return TypeUpdate }

type ChatRequest struct {
	Text string
}

func (ChatRequest) Type() Type { return TypeChat }

type envelope struct {
	Type Type `json:"type"`
}

type inboundUpdate struct {
	Code *string `json:"code"`
}

type inboundChat struct {
	Text *string `json:"text"`
}

// Decode parses a client frame into its typed variant
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeUpdate:
		var m inboundUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Code == nil {
			return nil, fmt.Errorf("%w: update.code", ErrMissingField)
		}
		return UpdateRequest{Code: *m.Code}, nil

	case TypeChat:
		var m inboundChat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Text == nil || strings.TrimSpace(*m.Text) == "" {
			return nil, fmt.Errorf("%w: chat.text", ErrMissingField)
		}
		return ChatRequest{Text: *m.Text}, nil

	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)

	default:
		// init and presence are server-only
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

type InitMessage struct {
	Type  Type     `json:"type"`
	Code  string   `json:"code"`
	Users []string `json:"users"`
}

type UpdateMessage struct {
	Type Type   `json:"type"`
	Code string `json:"code"`
}

type PresenceMessage struct {
	Type  Type     `json:"type"`
	Users []string `json:"users"`
}

type ChatMessage struct {
	Type   Type   `json:"type"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func EncodeInit(code string, users []string) []byte {
	return mustEncode(InitMessage{Type: TypeInit, Code: code, Users: nonNil(users)})
}

func EncodeUpdate(code string) []byte {
	return mustEncode(UpdateMessage{Type: TypeUpdate, Code: code})
}

func EncodePresence(users []string) []byte {
	return mustEncode(PresenceMessage{Type: TypePresence, Users: nonNil(users)})
}

func EncodeChat(sender, text string) []byte {
	return mustEncode(ChatMessage{Type: TypeChat, Sender: sender, Text: text})
}

// Outbound messages only hold strings, so Marshal cannot fail
func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return data
}

func nonNil(users []string) []string {
	if users == nil {
		return []string{}
	}
	return users
}
