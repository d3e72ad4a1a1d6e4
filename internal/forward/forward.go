// Package forward implements the message-forwarding engine: it turns
// one user turn into a chain of agent invocations, executing tool
// calls the model requests and feeding their results back until the
// model stops asking, then persists the whole exchange.
package forward

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/tool"
)

// DefaultMaxDepth bounds the tool-call recursion per user turn.
const DefaultMaxDepth = 15

// Store is the persistence surface the engine needs. *thread.Store
// satisfies it.
type Store interface {
	// History returns the thread's messages in order.
	History(ctx context.Context, threadID string) ([]*content.Message, error)
	// Meta returns the thread's key/value metadata.
	Meta(ctx context.Context, threadID string) (map[string]string, error)
	// AppendUserMessage durably appends the user's input, keeping
	// the message and content IDs it was streamed with.
	AppendUserMessage(ctx context.Context, threadID string, msg *content.Message) error
	// AppendGenerated durably appends agent output in order, keeping
	// IDs. All messages land or none do.
	AppendGenerated(ctx context.Context, threadID, agentName string, msgs []*content.Message) error
}

// Resolver looks agents up by name. *agent.Registry satisfies it.
type Resolver interface {
	Resolve(name string) (agent.Agent, error)
}

// Dispatcher executes one tool-use request. *tool.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, use *content.ToolUse, tools []*tool.Tool) *content.ToolResult
}

// Request is one user turn to forward.
type Request struct {
	ThreadID string
	// Agent selects the responder by registry name.
	Agent string
	// Input is the user's content for this turn.
	Input content.Units
	// MaxDepth overrides DefaultMaxDepth when positive.
	MaxDepth int
}

// Chunk is one streamed update: the content unit that just arrived
// and a snapshot of every message generated so far this turn, so
// callers can render partial progress before anything is persisted.
type Chunk struct {
	Unit     content.Unit
	Messages []*content.Message
}

// Forwarder drives the recursion. Safe for concurrent use; all turn
// state lives on the stack of Forward.
type Forwarder struct {
	store      Store
	resolver   Resolver
	dispatcher Dispatcher
	logger     log.Logger
}

// New creates a Forwarder.
func New(store Store, resolver Resolver, dispatcher Dispatcher, logger log.Logger) *Forwarder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Forwarder{store: store, resolver: resolver, dispatcher: dispatcher, logger: logger}
}

// Forward processes one user turn. The returned sequence yields a
// Chunk per streamed content unit; a non-nil error ends the sequence
// and means nothing from this turn was persisted. Context
// cancellation ends the sequence early, also without persistence.
func (f *Forwarder) Forward(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		ag, err := f.resolver.Resolve(req.Agent)
		if err != nil {
			yield(Chunk{}, err)
			return
		}

		history, err := f.store.History(ctx, req.ThreadID)
		if err != nil {
			yield(Chunk{}, fmt.Errorf("load history: %w", err))
			return
		}
		meta, err := f.store.Meta(ctx, req.ThreadID)
		if err != nil {
			yield(Chunk{}, fmt.Errorf("load metadata: %w", err))
			return
		}

		sess := agent.Session{
			ThreadID: req.ThreadID,
			Role:     meta["role"],
			Metadata: meta,
		}
		maxDepth := req.MaxDepth
		if maxDepth <= 0 {
			maxDepth = DefaultMaxDepth
		}

		userMsg := content.NewUserMessage(req.Input...)
		history = append(history, userMsg)

		turn := &turnState{forwarder: f, agent: ag, sess: sess, yield: yield}
		err = turn.callAgent(ctx, history, 0, maxDepth)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Cancelled turns are abandoned, not recorded.
			f.logger.Info("turn cancelled",
				"thread_id", req.ThreadID,
				"generated", len(turn.generated),
			)
			return
		case err != nil:
			f.logger.Error("turn failed",
				"thread_id", req.ThreadID,
				"agent", req.Agent,
				"error", err,
			)
			yield(Chunk{Messages: turn.snapshot()}, err)
			return
		case turn.stopped:
			// Consumer walked away mid-stream.
			return
		}

		if err := f.store.AppendUserMessage(ctx, req.ThreadID, userMsg); err != nil {
			yield(Chunk{Messages: turn.snapshot()}, fmt.Errorf("persist user message: %w", err))
			return
		}
		if err := f.store.AppendGenerated(ctx, req.ThreadID, req.Agent, turn.generated); err != nil {
			yield(Chunk{Messages: turn.snapshot()}, fmt.Errorf("persist generated messages: %w", err))
			return
		}
	}
}

// turnState carries one user turn across recursion levels.
type turnState struct {
	forwarder *Forwarder
	agent     agent.Agent
	sess      agent.Session
	yield     func(Chunk, error) bool

	generated []*content.Message
	// stopped is set when the consumer breaks out of the sequence.
	stopped bool
}

func (t *turnState) snapshot() []*content.Message {
	out := make([]*content.Message, len(t.generated))
	copy(out, t.generated)
	return out
}

func (t *turnState) emit(unit content.Unit) bool {
	if !t.yield(Chunk{Unit: unit, Messages: t.snapshot()}, nil) {
		t.stopped = true
		return false
	}
	return true
}

// callAgent runs one agent turn at the given depth and recurses while
// the model keeps requesting tools. The depth bound is soft: hitting
// it ends the conversation with whatever was generated, it is not an
// error.
func (t *turnState) callAgent(ctx context.Context, history []*content.Message, depth, maxDepth int) error {
	if depth >= maxDepth {
		t.forwarder.logger.Warn("recursion depth reached",
			"thread_id", t.sess.ThreadID,
			"depth", depth,
		)
		return nil
	}

	events, tools, err := t.agent.Respond(ctx, t.sess, history)
	if err != nil {
		return fmt.Errorf("agent respond: %w", err)
	}

	level := &levelState{turn: t}
	for unit, err := range events {
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !level.consume(ctx, unit, tools) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Consumer stopped iterating.
			return nil
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	level.flushDeltas()

	if !level.toolExecuted {
		return nil
	}
	next := append(history[:len(history):len(history)], level.messages...)
	return t.callAgent(ctx, next, depth+1, maxDepth)
}

// levelState buffers one agent turn's messages.
type levelState struct {
	turn *turnState
	// messages generated at this level, also appended to the turn's
	// generated list.
	messages []*content.Message
	// current is the message being filled; nil before the first unit.
	current *content.Message
	// deltas accumulate into one text unit at the next boundary.
	deltas       []*content.TextDelta
	toolExecuted bool
}

// consume routes one stream unit. Returns false when the consumer
// stopped or the context was cancelled.
func (l *levelState) consume(ctx context.Context, unit content.Unit, tools []*tool.Tool) bool {
	switch u := unit.(type) {
	case *content.TextDelta:
		l.ensureAssistant()
		l.deltas = append(l.deltas, u)
		return l.turn.emit(u)

	case *content.ToolUse:
		l.flushDeltas()
		l.ensureAssistant()
		l.current.Append(u)
		if !l.turn.emit(u) {
			return false
		}
		// Cancellation between units must not start a tool call.
		if ctx.Err() != nil {
			return false
		}
		result := l.turn.forwarder.dispatcher.Dispatch(ctx, u, tools)
		l.startMessage(content.NewToolMessage(result))
		l.toolExecuted = true
		return l.turn.emit(result)

	default:
		l.flushDeltas()
		l.ensureAssistant()
		l.current.Append(unit)
		return l.turn.emit(unit)
	}
}

// ensureAssistant makes sure the current message can take assistant
// content: a fresh one starts when there is none or the current one
// holds a tool result.
func (l *levelState) ensureAssistant() {
	if l.current == nil || l.current.Role == content.RoleTool {
		l.startMessage(content.NewAssistantMessage())
	}
}

func (l *levelState) startMessage(msg *content.Message) {
	l.flushDeltas()
	l.current = msg
	l.messages = append(l.messages, msg)
	l.turn.generated = append(l.turn.generated, msg)
}

// flushDeltas folds buffered text deltas into one finalized text unit
// on the current message.
func (l *levelState) flushDeltas() {
	if len(l.deltas) == 0 {
		return
	}
	text := content.Accumulate(l.deltas)
	l.deltas = nil
	if text != nil && l.current != nil {
		l.current.Append(text)
	}
}
