package content

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestAccumulate_ChunkBoundaryIndependence(t *testing.T) {
	const full = "hello world"
	id := NewID()

	splits := [][]string{
		{"hello world"},
		{"hello ", "world"},
		{"h", "e", "l", "l", "o", " ", "w", "o", "r", "l", "d"},
	}

	for _, split := range splits {
		deltas := make([]*TextDelta, len(split))
		for i, s := range split {
			deltaID := NewID()
			if i == 0 {
				deltaID = id
			}
			deltas[i] = &TextDelta{ID: deltaID, Delta: s}
		}

		text := Accumulate(deltas)
		if text == nil {
			t.Fatalf("Accumulate returned nil for %d deltas", len(split))
		}
		if text.Text != full {
			t.Errorf("%d deltas: got %q, want %q", len(split), text.Text, full)
		}
		if text.ID != id {
			t.Errorf("%d deltas: accumulated ID %q, want first delta's ID %q", len(split), text.ID, id)
		}
	}
}

func TestAccumulate_Empty(t *testing.T) {
	if got := Accumulate(nil); got != nil {
		t.Errorf("Accumulate(nil) = %v, want nil", got)
	}
}

func TestUnitRoundTrip(t *testing.T) {
	units := []Unit{
		&Text{ID: "u1", Text: "hello"},
		&TextDelta{ID: "u2", Delta: "he"},
		&ToolUse{ID: "u3", ToolUseID: "call_1", Name: "lookup_weather", Input: map[string]any{"city": "Tokyo"}},
		&ToolResult{ID: "u4", ToolUseID: "call_1", Output: "sunny", IsError: false},
		&ToolResult{ID: "u5", ToolUseID: "call_2", Output: "division by zero", IsError: true, WidgetType: "chart"},
		&Image{ID: "u6", ImageURL: "https://example.com/a.png"},
		&File{ID: "u7", FileData: []byte("data"), FileName: "a.txt"},
	}

	for _, u := range units {
		data, err := MarshalUnit(u)
		if err != nil {
			t.Fatalf("marshal %T: %v", u, err)
		}
		back, err := UnmarshalUnit(data)
		if err != nil {
			t.Fatalf("unmarshal %T: %v", u, err)
		}
		if !reflect.DeepEqual(u, back) {
			t.Errorf("round trip %T: got %+v, want %+v", u, back, u)
		}
		if back.UnitID() != u.UnitID() {
			t.Errorf("round trip %T changed ID: %q -> %q", u, u.UnitID(), back.UnitID())
		}
	}
}

func TestUnmarshalUnit_UnknownType(t *testing.T) {
	_, err := UnmarshalUnit([]byte(`{"type":"hologram","id":"x"}`))
	if err == nil {
		t.Fatal("expected error for unknown content type")
	}
	if !strings.Contains(err.Error(), "hologram") {
		t.Errorf("error should name the unknown type, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		ID:   "m1",
		Role: RoleAssistant,
		Content: Units{
			&Text{ID: "u1", Text: "checking"},
			&ToolUse{ID: "u2", ToolUseID: "call_9", Name: "lookup_time", Input: map[string]any{"zone": "UTC"}},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if !reflect.DeepEqual(msg, &back) {
		t.Errorf("round trip: got %+v, want %+v", &back, msg)
	}
}

func TestNewToolMessage(t *testing.T) {
	result := &ToolResult{ID: "u1", ToolUseID: "call_3", Output: "42"}
	msg := NewToolMessage(result)

	if msg.Role != RoleTool {
		t.Errorf("role = %q, want tool", msg.Role)
	}
	if msg.ToolUseID != "call_3" {
		t.Errorf("tool_use_id = %q, want call_3", msg.ToolUseID)
	}
	if len(msg.Content) != 1 || msg.Content[0] != Unit(result) {
		t.Errorf("content = %v, want exactly the result", msg.Content)
	}
	if msg.ID == "" {
		t.Error("message ID must be set")
	}
}

func TestMessage_TextContent(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: Units{
			&Text{ID: "a", Text: "hi "},
			&ToolUse{ID: "b", ToolUseID: "c1", Name: "t", Input: map[string]any{}},
			&Text{ID: "c", Text: "there"},
		},
	}
	if got := msg.TextContent(); got != "hi there" {
		t.Errorf("TextContent() = %q, want %q", got, "hi there")
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem, RoleDeveloper, RoleTool} {
		if !r.Valid() {
			t.Errorf("role %q should be valid", r)
		}
	}
	if Role("bot").Valid() {
		t.Error("role \"bot\" should be invalid")
	}
}
