// Package content defines the message content model: the tagged union
// of content units that make up messages, and the Message aggregate
// built from them.
//
// Content units are pure data. The only computed operation is
// Accumulate, which folds streamed text deltas into a finalized Text
// unit. Every unit carries a unique ID that acts as the idempotency
// key for persistence: a unit streamed to a client and later persisted
// must keep the same ID.
package content

import (
	"strings"

	"github.com/google/uuid"
)

// Type discriminates content unit variants on the wire.
type Type string

const (
	TypeText       Type = "text"
	TypeTextDelta  Type = "text_delta"
	TypeToolUse    Type = "tool_use"
	TypeToolResult Type = "tool_result"
	TypeImage      Type = "image"
	TypeFile       Type = "file"
)

// Unit is the discriminated union of message content.
// Implementations: *Text, *TextDelta, *ToolUse, *ToolResult, *Image, *File.
type Unit interface {
	// UnitID returns the unique identifier of this content unit.
	UnitID() string

	// UnitType returns the wire discriminator.
	UnitType() Type
}

// NewID generates a fresh content unit or message identifier.
func NewID() string {
	return uuid.NewString()
}

// Text is a finalized text segment.
type Text struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (t *Text) UnitID() string { return t.ID }
func (t *Text) UnitType() Type { return TypeText }

// TextDelta is an incremental text fragment produced during streaming.
// Deltas are ephemeral: they are forwarded to clients for live display
// but never persisted directly, only accumulated into a Text.
type TextDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

func (d *TextDelta) UnitID() string { return d.ID }
func (d *TextDelta) UnitType() Type { return TypeTextDelta }

// ToolUse is a completed request by the model to call a named tool.
// Input is a mapping from string keys to JSON-compatible values.
type ToolUse struct {
	ID        string         `json:"id"`
	ToolUseID string         `json:"tool_use_id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

func (u *ToolUse) UnitID() string { return u.ID }
func (u *ToolUse) UnitType() Type { return TypeToolUse }

// ToolResult is the outcome of executing a tool. Output is an opaque
// string; callers encode structured results themselves and tag rich
// kinds via WidgetType for client rendering.
type ToolResult struct {
	ID         string `json:"id"`
	ToolUseID  string `json:"tool_use_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error"`
	WidgetType string `json:"widget_type,omitempty"`
}

func (r *ToolResult) UnitID() string { return r.ID }
func (r *ToolResult) UnitType() Type { return TypeToolResult }

// Image is binary-derived content addressed by URL.
type Image struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

func (i *Image) UnitID() string { return i.ID }
func (i *Image) UnitType() Type { return TypeImage }

// File is binary-derived content with embedded data.
type File struct {
	ID       string `json:"id"`
	FileData []byte `json:"file_data"`
	FileName string `json:"file_name"`
}

func (f *File) UnitID() string { return f.ID }
func (f *File) UnitType() Type { return TypeFile }

// Accumulate folds a sequence of text deltas into one Text by
// concatenation, preserving the first delta's ID as the stable
// identifier of the result. Returns nil for an empty sequence.
//
// The fold is chunk-boundary independent: splitting the same text
// into any number of deltas yields the same Text.
func Accumulate(deltas []*TextDelta) *Text {
	if len(deltas) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(d.Delta)
	}
	return &Text{ID: deltas[0].ID, Text: sb.String()}
}
