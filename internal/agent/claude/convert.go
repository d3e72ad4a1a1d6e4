package claude

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
)

// toMessageParams converts stored history into Messages API params.
// System and developer messages cannot appear in the messages array,
// so their text is lifted into an extra system prompt segment.
func toMessageParams(history []*content.Message, logger log.Logger) ([]anthropic.MessageParam, string, error) {
	var messages []anthropic.MessageParam
	var system []string

	for _, msg := range history {
		switch msg.Role {
		case content.RoleUser:
			blocks, err := toBlocks(msg.Content, logger)
			if err != nil {
				return nil, "", err
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}

		case content.RoleAssistant:
			blocks, err := toBlocks(msg.Content, logger)
			if err != nil {
				return nil, "", err
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case content.RoleTool:
			// Tool results travel as user-role content blocks.
			for _, unit := range msg.Content {
				result, ok := unit.(*content.ToolResult)
				if !ok {
					return nil, "", fmt.Errorf("tool message carries %s unit", unit.UnitType())
				}
				messages = append(messages, anthropic.NewUserMessage(toolResultBlock(result)))
			}

		case content.RoleSystem, content.RoleDeveloper:
			if text := msg.TextContent(); text != "" {
				system = append(system, text)
			}

		default:
			return nil, "", fmt.Errorf("unsupported role %q", msg.Role)
		}
	}

	return messages, strings.Join(system, "\n\n"), nil
}

func toBlocks(units content.Units, logger log.Logger) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, unit := range units {
		switch u := unit.(type) {
		case *content.Text:
			if u.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(u.Text))
			}
		case *content.TextDelta:
			// Deltas are accumulated before persistence; one in
			// history means a caller skipped that step.
			return nil, fmt.Errorf("text delta in history")
		case *content.ToolUse:
			input := u.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    u.ToolUseID,
					Name:  u.Name,
					Input: input,
				},
			})
		case *content.Image:
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfURL: &anthropic.URLImageSourceParam{URL: u.ImageURL},
					},
				},
			})
		case *content.File:
			// No generic file block on this API.
			logger.Debug("dropping file attachment", "name", u.FileName)
			blocks = append(blocks, anthropic.NewTextBlock(
				fmt.Sprintf("[attached file %q omitted]", u.FileName)))
		default:
			return nil, fmt.Errorf("unsupported unit %s", unit.UnitType())
		}
	}
	return blocks, nil
}

func toolResultBlock(r *content.ToolResult) anthropic.ContentBlockParamUnion {
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: r.ToolUseID,
			IsError:   anthropic.Bool(r.IsError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: r.Output}},
			},
		},
	}
}
