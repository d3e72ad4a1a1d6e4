package content

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire representation shared by all unit variants.
// The Type field discriminates; all other fields are variant-specific.
type envelope struct {
	Type       Type           `json:"type"`
	ID         string         `json:"id"`
	Text       string         `json:"text,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	WidgetType string         `json:"widget_type,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	FileData   []byte         `json:"file_data,omitempty"`
	FileName   string         `json:"file_name,omitempty"`
}

// MarshalUnit serializes a content unit to its tagged wire form.
func MarshalUnit(u Unit) ([]byte, error) {
	env, err := toEnvelope(u)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalUnit deserializes a tagged wire form back into a unit.
// Unknown type tags are an error, not silently dropped: a round-trip
// must be lossless for every variant.
func UnmarshalUnit(data []byte) (Unit, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode content unit: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(u Unit) (envelope, error) {
	switch v := u.(type) {
	case *Text:
		return envelope{Type: TypeText, ID: v.ID, Text: v.Text}, nil
	case *TextDelta:
		return envelope{Type: TypeTextDelta, ID: v.ID, Delta: v.Delta}, nil
	case *ToolUse:
		return envelope{Type: TypeToolUse, ID: v.ID, ToolUseID: v.ToolUseID, Name: v.Name, Input: v.Input}, nil
	case *ToolResult:
		return envelope{
			Type: TypeToolResult, ID: v.ID, ToolUseID: v.ToolUseID,
			Output: v.Output, IsError: v.IsError, WidgetType: v.WidgetType,
		}, nil
	case *Image:
		return envelope{Type: TypeImage, ID: v.ID, ImageURL: v.ImageURL}, nil
	case *File:
		return envelope{Type: TypeFile, ID: v.ID, FileData: v.FileData, FileName: v.FileName}, nil
	default:
		return envelope{}, fmt.Errorf("unknown content unit type %T", u)
	}
}

func fromEnvelope(env envelope) (Unit, error) {
	switch env.Type {
	case TypeText:
		return &Text{ID: env.ID, Text: env.Text}, nil
	case TypeTextDelta:
		return &TextDelta{ID: env.ID, Delta: env.Delta}, nil
	case TypeToolUse:
		input := env.Input
		if input == nil {
			input = map[string]any{}
		}
		return &ToolUse{ID: env.ID, ToolUseID: env.ToolUseID, Name: env.Name, Input: input}, nil
	case TypeToolResult:
		return &ToolResult{
			ID: env.ID, ToolUseID: env.ToolUseID,
			Output: env.Output, IsError: env.IsError, WidgetType: env.WidgetType,
		}, nil
	case TypeImage:
		return &Image{ID: env.ID, ImageURL: env.ImageURL}, nil
	case TypeFile:
		return &File{ID: env.ID, FileData: env.FileData, FileName: env.FileName}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", env.Type)
	}
}

// Units is a slice of content units with tagged JSON encoding.
// Message.Content uses this type so messages marshal losslessly.
type Units []Unit

// MarshalJSON implements json.Marshaler.
func (us Units) MarshalJSON() ([]byte, error) {
	envs := make([]envelope, len(us))
	for i, u := range us {
		env, err := toEnvelope(u)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		envs[i] = env
	}
	return json.Marshal(envs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (us *Units) UnmarshalJSON(data []byte) error {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return fmt.Errorf("decode content units: %w", err)
	}
	out := make(Units, len(envs))
	for i, env := range envs {
		u, err := fromEnvelope(env)
		if err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}
		out[i] = u
	}
	*us = out
	return nil
}
