// Package openai adapts OpenAI chat-completion streaming responses
// into the normalized content-event sequence.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/stream"
)

// Events starts a streaming chat completion and returns the
// normalized event sequence. Text arrives as plain delta fragments.
// Tool calls announce their name on the first delta for a tool-call
// index; argument tokens accumulate across subsequent deltas. The
// completion API has no per-block stop signal, so pending tool calls
// are closed when the stream ends.
func Events(ctx context.Context, client *openai.Client, params openai.ChatCompletionNewParams) stream.Events {
	return func(yield func(content.Unit, error) bool) {
		st := client.Chat.Completions.NewStreaming(ctx, params)
		in := stream.NewInterpreter()

		for st.Next() {
			for _, raw := range rawEvents(st.Current()) {
				units, err := in.Interpret(raw)
				if err != nil {
					yield(nil, err)
					return
				}
				for _, u := range units {
					if !yield(u, nil) {
						return
					}
				}
			}
		}
		if err := st.Err(); err != nil {
			yield(nil, fmt.Errorf("openai stream: %w", err))
			return
		}

		units, err := in.Finish()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// rawEvents translates one completion chunk into vendor-neutral
// events. A single chunk can carry both a tool-call announcement and
// its first argument fragment.
func rawEvents(chunk openai.ChatCompletionChunk) []stream.RawEvent {
	if len(chunk.Choices) == 0 {
		return nil
	}
	delta := chunk.Choices[0].Delta

	var raws []stream.RawEvent
	if delta.Content != "" {
		raws = append(raws, stream.RawEvent{Kind: stream.RawText, Text: delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		index := int(tc.Index)
		if tc.Function.Name != "" {
			raws = append(raws, stream.RawEvent{
				Kind:     stream.RawToolStart,
				Index:    index,
				ToolID:   tc.ID,
				ToolName: tc.Function.Name,
			})
		}
		if tc.Function.Arguments != "" {
			raws = append(raws, stream.RawEvent{
				Kind:         stream.RawToolArgs,
				Index:        index,
				ArgsFragment: tc.Function.Arguments,
			})
		}
	}
	return raws
}
