// Package protocol defines the JSON messages exchanged with relay clients.
//
// Every frame is a single JSON object with a "type" discriminator. Each
// type maps to one Go variant implementing Message; Decode validates the
// fields a variant needs before handing it to the caller.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the value of a message's "type" field
type Type string

const (
	TypeJoin        Type = "join"
	TypeInitProject Type = "init_project"
	TypeInit        Type = "init"
	TypeEdit        Type = "edit"
	TypeCursor      Type = "cursor"
	TypeError       Type = "error"
)

// Error texts sent back to clients.
const (
	MsgInvalid     = "invalid message"
	MsgNotJoined   = "must join a room first"
	MsgRateLimited = "rate limit exceeded"
)

// ErrInvalidMessage is returned by Decode for any payload that is not a
// well-formed client message.
var ErrInvalidMessage = errors.New(MsgInvalid)

// Message is one variant of the wire protocol.
type Message interface {
	Type() Type
}

// Join binds a connection to a room (client -> server).
type Join struct {
	RoomID string `json:"roomId"`
}

// InitProject replaces the room's project (client -> server).
type InitProject struct {
	Files map[string]string `json:"files"`
}

// Init carries a full project snapshot (server -> client).
type Init struct {
	Files map[string]string `json:"files"`
}

// Edit upserts one file (both directions).
type Edit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Cursor is an ephemeral presence update. Position is relayed verbatim.
type Cursor struct {
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

// Error reports a rejected message to its sender (server -> client).
type Error struct {
	Message string `json:"message"`
}

func (Join) Type() Type        { return TypeJoin }
func (InitProject) Type() Type { return TypeInitProject }
func (Init) Type() Type        { return TypeInit }
func (Edit) Type() Type        { return TypeEdit }
func (Cursor) Type() Type      { return TypeCursor }
func (Error) Type() Type       { return TypeError }

func (m Join) MarshalJSON() ([]byte, error) {
	type body Join
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeJoin, body(m)})
}

func (m InitProject) MarshalJSON() ([]byte, error) {
	type body InitProject
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeInitProject, body(m)})
}

func (m Init) MarshalJSON() ([]byte, error) {
	type body Init
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeInit, body(m)})
}

func (m Edit) MarshalJSON() ([]byte, error) {
	type body Edit
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeEdit, body(m)})
}

func (m Cursor) MarshalJSON() ([]byte, error) {
	type body Cursor
	if len(m.Position) == 0 {
		m.Position = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeCursor, body(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type body Error
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeError, body(m)})
}

// Encode serializes a message including its type field.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: nil message")
	}
	return json.Marshal(m)
}

// Peek returns the type field of a frame without validating the rest of
// it. Only frames that are not a JSON object with a string type fail.
func Peek(data []byte) (Type, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", invalid("%v", err)
	}
	return env.Type, nil
}

// Decode parses a client frame. Server-only types (init, error), unknown
// types and missing required fields all fail with ErrInvalidMessage.
func Decode(data []byte) (Message, error) {
	typ, err := Peek(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeJoin:
		var in struct {
			RoomID *string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, invalid("join: %v", err)
		}
		if in.RoomID == nil || *in.RoomID == "" {
			return nil, invalid("join: roomId is required")
		}
		return Join{RoomID: *in.RoomID}, nil

	case TypeInitProject:
		var in struct {
			Files map[string]string `json:"files"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, invalid("init_project: %v", err)
		}
		if in.Files == nil {
			return nil, invalid("init_project: files is required")
		}
		return InitProject{Files: in.Files}, nil

	case TypeEdit:
		var in struct {
			Path    *string `json:"path"`
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, invalid("edit: %v", err)
		}
		if in.Path == nil || *in.Path == "" {
			return nil, invalid("edit: path is required")
		}
		if in.Content == nil {
			return nil, invalid("edit: content is required")
		}
		return Edit{Path: *in.Path, Content: *in.Content}, nil

	case TypeCursor:
		var in Cursor
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, invalid("cursor: %v", err)
		}
		return in, nil

	case "":
		return nil, invalid("missing type")

	default:
		return nil, invalid("unsupported type %q", typ)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}
