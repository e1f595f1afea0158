package fleet

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTaskKindRejectsUnknown(t *testing.T) {
	if _, err := ParseTaskKind("LinkStart-Nonsense"); !errors.Is(err, ErrUnknownTaskKind) {
		t.Fatalf("error = %v, want ErrUnknownTaskKind", err)
	}

	kind, err := ParseTaskKind("LinkStart-Combat")
	if err != nil {
		t.Fatalf("ParseTaskKind() error = %v", err)
	}
	if kind != KindLinkStartCombat {
		t.Fatalf("kind = %q, want %q", kind, KindLinkStartCombat)
	}
}

func TestKindsRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseTaskKind(k.String())
		if err != nil {
			t.Fatalf("ParseTaskKind(%q) error = %v", k, err)
		}
		if parsed != k {
			t.Fatalf("ParseTaskKind(%q) = %q", k, parsed)
		}
	}
}

func TestSelectableKindsExcludeHeartBeat(t *testing.T) {
	for _, k := range SelectableKinds() {
		if k == KindHeartBeat {
			t.Fatalf("HeartBeat should not be operator-selectable")
		}
	}
	if len(SelectableKinds()) != len(Kinds())-1 {
		t.Fatalf("selectable = %d, want %d", len(SelectableKinds()), len(Kinds())-1)
	}
}

func TestTaskWireFormat(t *testing.T) {
	task := NewTask(KindLinkStartBase)
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if decoded["type"] != "LinkStart-Base" {
		t.Fatalf("wire type = %q, want %q", decoded["type"], "LinkStart-Base")
	}
	if decoded["id"] != task.ID {
		t.Fatalf("wire id = %q, want %q", decoded["id"], task.ID)
	}
}
