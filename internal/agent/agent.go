// Package agent defines the contract between the forwarding engine
// and model-backed responders, plus the registry that names them.
package agent

import (
	"context"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/stream"
	"github.com/parlor-ai/parlor/internal/tool"
)

// Session carries the per-conversation facts an agent may consult
// when building its prompt and tool set. Agents hold no mutable
// conversation state of their own.
type Session struct {
	ThreadID string
	// Role is the persona the thread was created with, e.g. "tutor".
	// Empty means the agent's default persona.
	Role string
	// Metadata is read-only thread metadata captured at request time.
	Metadata map[string]string
}

// ToolProvider builds the tool set for one session. Memory tools
// need the thread ID, so tools are constructed per session rather
// than per agent.
type ToolProvider func(sess Session) []*tool.Tool

// Agent produces a streamed response to a conversation history. The
// returned tool list is the set in effect for that response; the
// engine dispatches any tool-use units the stream yields against it.
type Agent interface {
	// Name is the registry key clients select the agent by.
	Name() string
	// Description is a human-readable summary for discovery listings.
	Description() string
	// Tools returns the tool set in effect for the session. Respond
	// offers the same set to the model; callers use Tools to inspect
	// it without starting a turn.
	Tools(sess Session) []*tool.Tool
	// Respond starts one model turn over the full history, newest
	// message last. Iteration of the returned events drives the call.
	Respond(ctx context.Context, sess Session, history []*content.Message) (stream.Events, []*tool.Tool, error)
}
