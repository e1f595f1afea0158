// Package protocol defines the typed JSON frames exchanged with the
// operator chat gateway over the websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/taskwire/internal/dialog"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeOperatorTurn MessageType = "operator_turn"
	TypeReply        MessageType = "reply"
	TypeNotice       MessageType = "notice"
	TypeImage        MessageType = "image"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// OperatorTurn is one inbound conversational turn: a free-text command or
// a selection token echoed back verbatim by the transport.
type OperatorTurn struct {
	Type       MessageType `json:"type"`
	OperatorID string      `json:"operator_id"`
	Text       string      `json:"text"`
}

// Reply is the single outbound response to an accepted turn. Choices, when
// present, render as selectable options.
type Reply struct {
	Type    MessageType     `json:"type"`
	Text    string          `json:"text"`
	Choices []dialog.Choice `json:"choices,omitempty"`
}

// Notice is an asynchronous operator notification from the status resolver.
type Notice struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// Image carries a decoded capture artifact, re-encoded for the JSON frame.
type Image struct {
	Type        MessageType `json:"type"`
	Caption     string      `json:"caption,omitempty"`
	ImageBase64 string      `json:"image_base64"`
}

// NewReply wraps a dialog reply into its wire frame.
func NewReply(r *dialog.Reply) Reply {
	return Reply{Type: TypeReply, Text: r.Text, Choices: r.Choices}
}

// ParseOperatorMessage decodes one inbound frame.
func ParseOperatorMessage(raw []byte) (OperatorTurn, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return OperatorTurn{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeOperatorTurn:
		var msg OperatorTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return OperatorTurn{}, err
		}
		if msg.OperatorID == "" || msg.Text == "" {
			return OperatorTurn{}, errors.New("invalid operator_turn")
		}
		return msg, nil
	default:
		return OperatorTurn{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
