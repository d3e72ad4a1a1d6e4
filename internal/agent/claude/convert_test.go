package claude

import (
	"context"
	"testing"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/tool"
)

func TestToMessageParamsRoundTrip(t *testing.T) {
	history := []*content.Message{
		content.NewUserMessage(&content.Text{ID: content.NewID(), Text: "what time is it?"}),
		{
			ID:   content.NewID(),
			Role: content.RoleAssistant,
			Content: content.Units{
				&content.ToolUse{
					ID:        content.NewID(),
					ToolUseID: "toolu_1",
					Name:      "current_time",
					Input:     map[string]any{"timezone": "UTC"},
				},
			},
		},
		content.NewToolMessage(&content.ToolResult{
			ID:        content.NewID(),
			ToolUseID: "toolu_1",
			Output:    "Fri, 14 Mar 2025 09:00:00 UTC",
		}),
		{
			ID:   content.NewID(),
			Role: content.RoleAssistant,
			Content: content.Units{
				&content.Text{ID: content.NewID(), Text: "It is 9am UTC."},
			},
		},
	}

	messages, system, err := toMessageParams(history, log.NewNop())
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}
	if system != "" {
		t.Errorf("system = %q, want empty", system)
	}
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}

	toolUse := messages[1].Content[0].OfToolUse
	if toolUse == nil {
		t.Fatal("second message should carry a tool use block")
	}
	if toolUse.ID != "toolu_1" || toolUse.Name != "current_time" {
		t.Errorf("tool use = %s/%s, want toolu_1/current_time", toolUse.ID, toolUse.Name)
	}

	toolResult := messages[2].Content[0].OfToolResult
	if toolResult == nil {
		t.Fatal("third message should carry a tool result block")
	}
	if toolResult.ToolUseID != "toolu_1" {
		t.Errorf("tool result ToolUseID = %q, want toolu_1", toolResult.ToolUseID)
	}
}

func TestToMessageParamsLiftsSystemText(t *testing.T) {
	history := []*content.Message{
		{
			ID:   content.NewID(),
			Role: content.RoleSystem,
			Content: content.Units{
				&content.Text{ID: content.NewID(), Text: "Answer in French."},
			},
		},
		content.NewUserMessage(&content.Text{ID: content.NewID(), Text: "hello"}),
	}

	messages, system, err := toMessageParams(history, log.NewNop())
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}
	if system != "Answer in French." {
		t.Errorf("system = %q, want the lifted instruction", system)
	}
	if len(messages) != 1 {
		t.Errorf("got %d messages, want 1 (system lifted out)", len(messages))
	}
}

func TestToMessageParamsRejectsDeltas(t *testing.T) {
	history := []*content.Message{
		{
			ID:   content.NewID(),
			Role: content.RoleAssistant,
			Content: content.Units{
				&content.TextDelta{ID: content.NewID(), Delta: "partial"},
			},
		},
	}

	if _, _, err := toMessageParams(history, log.NewNop()); err == nil {
		t.Fatal("history containing deltas should be rejected")
	}
}

func testTools() []*tool.Tool {
	return []*tool.Tool{
		tool.New("lookup", "Looks up a term.", func(ctx context.Context, in struct {
			Term string `json:"term"`
		}) (*tool.Result, error) {
			return tool.TextResult(in.Term), nil
		}),
	}
}

func TestToolParams(t *testing.T) {
	params, err := toolParams(testTools())
	if err != nil {
		t.Fatalf("toolParams() error = %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("got %d tool params, want 1", len(params))
	}
	if params[0].OfTool.Name != "lookup" {
		t.Errorf("Name = %q, want lookup", params[0].OfTool.Name)
	}
	if params[0].OfTool.InputSchema.Properties == nil {
		t.Error("InputSchema.Properties should be populated")
	}
}
