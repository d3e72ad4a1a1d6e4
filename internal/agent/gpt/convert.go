package gpt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
)

// toMessageParams converts stored history into Chat Completions
// message params. Tool calls ride on assistant messages; tool results
// become tool-role messages keyed by call ID.
func toMessageParams(history []*content.Message, logger log.Logger) ([]openai.ChatCompletionMessageParamUnion, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, msg := range history {
		switch msg.Role {
		case content.RoleUser:
			parts, err := toUserParts(msg.Content, logger)
			if err != nil {
				return nil, err
			}
			if len(parts) > 0 {
				messages = append(messages, openai.UserMessage(parts))
			}

		case content.RoleAssistant:
			converted, err := toAssistantMessage(msg.Content)
			if err != nil {
				return nil, err
			}
			messages = append(messages, converted)

		case content.RoleTool:
			for _, unit := range msg.Content {
				result, ok := unit.(*content.ToolResult)
				if !ok {
					return nil, fmt.Errorf("tool message carries %s unit", unit.UnitType())
				}
				messages = append(messages, openai.ToolMessage(result.Output, result.ToolUseID))
			}

		case content.RoleSystem:
			if text := msg.TextContent(); text != "" {
				messages = append(messages, openai.SystemMessage(text))
			}

		case content.RoleDeveloper:
			if text := msg.TextContent(); text != "" {
				messages = append(messages, openai.DeveloperMessage(text))
			}

		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}

	return messages, nil
}

func toUserParts(units content.Units, logger log.Logger) ([]openai.ChatCompletionContentPartUnionParam, error) {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, unit := range units {
		switch u := unit.(type) {
		case *content.Text:
			if u.Text != "" {
				parts = append(parts, openai.TextContentPart(u.Text))
			}
		case *content.Image:
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{
					URL:    u.ImageURL,
					Detail: "auto",
				}))
		case *content.File:
			var filename param.Opt[string]
			if u.FileName != "" {
				filename = param.NewOpt(u.FileName)
			}
			parts = append(parts, openai.FileContentPart(
				openai.ChatCompletionContentPartFileFileParam{
					FileData: param.NewOpt(base64.StdEncoding.EncodeToString(u.FileData)),
					Filename: filename,
				}))
		case *content.TextDelta:
			return nil, fmt.Errorf("text delta in history")
		default:
			logger.Debug("dropping unit from user message", "type", unit.UnitType())
		}
	}
	return parts, nil
}

func toAssistantMessage(units content.Units) (openai.ChatCompletionMessageParamUnion, error) {
	assistant := &openai.ChatCompletionAssistantMessageParam{}
	var text string

	for _, unit := range units {
		switch u := unit.(type) {
		case *content.Text:
			text += u.Text
		case *content.ToolUse:
			args, err := json.Marshal(u.Input)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("encode args for %s: %w", u.Name, err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: u.ToolUseID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(args),
						Name:      u.Name,
					},
					Type: "function",
				},
			})
		case *content.TextDelta:
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("text delta in history")
		default:
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported assistant unit %s", unit.UnitType())
		}
	}

	if text != "" {
		assistant.Content.OfString = param.NewOpt(text)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}, nil
}
