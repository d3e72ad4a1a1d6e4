// Package anthropic adapts Anthropic Messages API streaming responses
// into the normalized content-event sequence.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/stream"
)

// Events starts a streaming Messages request and returns the
// normalized event sequence. The model announces tool invocations in
// content_block_start events; argument tokens arrive as
// input_json_delta fragments and are buffered until the stream-level
// content_block_stop signal.
func Events(ctx context.Context, client *anthropic.Client, params anthropic.MessageNewParams) stream.Events {
	return func(yield func(content.Unit, error) bool) {
		st := client.Messages.NewStreaming(ctx, params)
		in := stream.NewInterpreter()

		for st.Next() {
			raw, ok := rawEvent(st.Current())
			if !ok {
				continue
			}
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
		if err := st.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic stream: %w", err))
		}
	}
}

// rawEvent translates one SDK stream event into its vendor-neutral
// form. Events that carry nothing for this layer (pings, message
// lifecycle, thinking deltas) report ok=false.
func rawEvent(ev anthropic.MessageStreamEventUnion) (stream.RawEvent, bool) {
	switch v := ev.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch block := v.ContentBlock.AsAny().(type) {
		case anthropic.ToolUseBlock:
			return stream.RawEvent{
				Kind:     stream.RawToolStart,
				Index:    int(v.Index),
				ToolID:   block.ID,
				ToolName: block.Name,
			}, true
		case anthropic.TextBlock:
			if block.Text != "" {
				return stream.RawEvent{Kind: stream.RawText, Index: int(v.Index), Text: block.Text}, true
			}
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := v.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return stream.RawEvent{Kind: stream.RawText, Index: int(v.Index), Text: d.Text}, true
		case anthropic.InputJSONDelta:
			return stream.RawEvent{
				Kind:         stream.RawToolArgs,
				Index:        int(v.Index),
				ArgsFragment: d.PartialJSON,
			}, true
		}
		// Only text and tool-argument deltas are supported at this
		// layer; other delta kinds are ignored.

	case anthropic.ContentBlockStopEvent:
		return stream.RawEvent{Kind: stream.RawBlockStop, Index: int(v.Index)}, true
	}

	return stream.RawEvent{}, false
}
