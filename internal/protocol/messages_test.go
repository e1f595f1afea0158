package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/antoniostano/taskwire/internal/dialog"
)

func TestParseOperatorMessage(t *testing.T) {
	raw := []byte(`{"type":"operator_turn","operator_id":"op-1","text":"append_task"}`)
	msg, err := ParseOperatorMessage(raw)
	if err != nil {
		t.Fatalf("ParseOperatorMessage() error = %v", err)
	}
	if msg.OperatorID != "op-1" || msg.Text != "append_task" {
		t.Fatalf("unexpected turn: %+v", msg)
	}
}

func TestParseOperatorMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseOperatorMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseOperatorMessageRejectsEmptyFields(t *testing.T) {
	_, err := ParseOperatorMessage([]byte(`{"type":"operator_turn","operator_id":"","text":"x"}`))
	if err == nil {
		t.Fatalf("ParseOperatorMessage() = nil error, want validation failure")
	}
}

func TestReplyFrameOmitsEmptyChoices(t *testing.T) {
	frame := NewReply(&dialog.Reply{Text: "Task added."})
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if _, ok := decoded["choices"]; ok {
		t.Fatalf("choices present in frame without options: %s", raw)
	}
	if decoded["type"] != "reply" {
		t.Fatalf("type = %v, want reply", decoded["type"])
	}
}
