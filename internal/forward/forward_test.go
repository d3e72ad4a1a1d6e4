package forward

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/stream"
	"github.com/parlor-ai/parlor/internal/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptTurn is one scripted agent response: its streamed units, then
// an optional terminal error.
type scriptTurn struct {
	units []content.Unit
	err   error
}

// scriptedAgent replays scripted turns and records the history it was
// called with. When calls outrun the script the last turn repeats.
type scriptedAgent struct {
	turns     []scriptTurn
	tools     []*tool.Tool
	calls     int
	histories [][]*content.Message
}

func (s *scriptedAgent) Name() string { return "scripted" }

func (s *scriptedAgent) Description() string { return "test double" }

func (s *scriptedAgent) Tools(agent.Session) []*tool.Tool { return s.tools }

func (s *scriptedAgent) Respond(ctx context.Context, sess agent.Session, history []*content.Message) (stream.Events, []*tool.Tool, error) {
	idx := s.calls
	s.calls++
	s.histories = append(s.histories, history)
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	}
	turn := s.turns[idx]
	events := func(yield func(content.Unit, error) bool) {
		for _, u := range turn.units {
			if !yield(u, nil) {
				return
			}
		}
		if turn.err != nil {
			yield(nil, turn.err)
		}
	}
	return events, s.tools, nil
}

// recordingStore keeps everything in memory and records append calls.
type recordingStore struct {
	history []*content.Message
	meta    map[string]string

	userAppends      []*content.Message
	generatedAppends [][]*content.Message
	appendedAgent    string
}

func (r *recordingStore) History(ctx context.Context, threadID string) ([]*content.Message, error) {
	return r.history, nil
}

func (r *recordingStore) Meta(ctx context.Context, threadID string) (map[string]string, error) {
	return r.meta, nil
}

func (r *recordingStore) AppendUserMessage(ctx context.Context, threadID string, msg *content.Message) error {
	r.userAppends = append(r.userAppends, msg)
	return nil
}

func (r *recordingStore) AppendGenerated(ctx context.Context, threadID, agentName string, msgs []*content.Message) error {
	r.generatedAppends = append(r.generatedAppends, msgs)
	r.appendedAgent = agentName
	return nil
}

func newForwarder(t *testing.T, ag agent.Agent, store Store) *Forwarder {
	t.Helper()
	registry := agent.NewRegistry()
	if err := registry.Register(ag); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	return New(store, registry, tool.NewDispatcher(log.NewNop(), 0), log.NewNop())
}

func deltas(texts ...string) []content.Unit {
	units := make([]content.Unit, len(texts))
	for i, s := range texts {
		units[i] = &content.TextDelta{ID: content.NewID(), Delta: s}
	}
	return units
}

func toolUse(callID, name string, input map[string]any) *content.ToolUse {
	return &content.ToolUse{
		ID:        content.NewID(),
		ToolUseID: callID,
		Name:      name,
		Input:     input,
	}
}

func run(t *testing.T, f *Forwarder, req Request) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for chunk, err := range f.Forward(context.Background(), req) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func userInput(text string) content.Units {
	return content.Units{&content.Text{ID: content.NewID(), Text: text}}
}

func TestSingleTurnPersistence(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{{units: deltas("hi ", "there")}},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	chunks, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("hello")})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if ag.calls != 1 {
		t.Errorf("agent calls = %d, want 1", ag.calls)
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks, want 2 deltas", len(chunks))
	}

	if len(store.userAppends) != 1 {
		t.Fatalf("user appends = %d, want 1", len(store.userAppends))
	}
	if got := store.userAppends[0].TextContent(); got != "hello" {
		t.Errorf("persisted user text = %q, want %q", got, "hello")
	}

	if len(store.generatedAppends) != 1 {
		t.Fatalf("generated appends = %d, want 1", len(store.generatedAppends))
	}
	generated := store.generatedAppends[0]
	if len(generated) != 1 {
		t.Fatalf("got %d generated messages, want 1", len(generated))
	}
	msg := generated[0]
	if msg.Role != content.RoleAssistant {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("got %d content units, want 1 accumulated text", len(msg.Content))
	}
	text, ok := msg.Content[0].(*content.Text)
	if !ok {
		t.Fatalf("content unit is %T, want *content.Text", msg.Content[0])
	}
	if text.Text != "hi there" {
		t.Errorf("text = %q, want %q", text.Text, "hi there")
	}
	if store.appendedAgent != "scripted" {
		t.Errorf("appended agent = %q, want scripted", store.appendedAgent)
	}
}

func TestAccumulatedTextKeepsFirstDeltaID(t *testing.T) {
	first := &content.TextDelta{ID: content.NewID(), Delta: "hi "}
	ag := &scriptedAgent{
		turns: []scriptTurn{{units: []content.Unit{
			first,
			&content.TextDelta{ID: content.NewID(), Delta: "there"},
		}}},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	if _, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("hello")}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	text := store.generatedAppends[0][0].Content[0].(*content.Text)
	if text.ID != first.ID {
		t.Errorf("persisted text ID = %q, want the first delta's ID %q", text.ID, first.ID)
	}
}

func TestToolRoundTrip(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: []content.Unit{toolUse("call_1", "current_time", map[string]any{})}},
			{units: deltas("It is 9am.")},
		},
		tools: []*tool.Tool{
			tool.New("current_time", "Returns the time.", func(ctx context.Context, in struct{}) (*tool.Result, error) {
				return tool.TextResult("9am"), nil
			}),
		},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	if _, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("time?")}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if ag.calls != 2 {
		t.Fatalf("agent calls = %d, want 2 (tool result feeds a second turn)", ag.calls)
	}

	generated := store.generatedAppends[0]
	if len(generated) != 3 {
		t.Fatalf("got %d generated messages, want assistant+tool+assistant", len(generated))
	}
	if generated[0].Role != content.RoleAssistant || generated[1].Role != content.RoleTool || generated[2].Role != content.RoleAssistant {
		t.Fatalf("roles = %s/%s/%s, want assistant/tool/assistant",
			generated[0].Role, generated[1].Role, generated[2].Role)
	}

	result := generated[1].Content[0].(*content.ToolResult)
	if result.ToolUseID != "call_1" {
		t.Errorf("result ToolUseID = %q, want call_1", result.ToolUseID)
	}
	if result.Output != "9am" {
		t.Errorf("result Output = %q, want 9am", result.Output)
	}

	// The second agent call sees the tool exchange in its history.
	second := ag.histories[1]
	last := second[len(second)-1]
	if last.Role != content.RoleTool {
		t.Errorf("last history message role = %q, want tool", last.Role)
	}
}

func TestRecursionStopsAtDepthLimit(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: []content.Unit{toolUse("call_loop", "noop", map[string]any{})}},
		},
		tools: []*tool.Tool{
			tool.New("noop", "Does nothing.", func(ctx context.Context, in struct{}) (*tool.Result, error) {
				return tool.TextResult("ok"), nil
			}),
		},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	const depth = 3
	_, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("go"), MaxDepth: depth})
	if err != nil {
		t.Fatalf("Forward() error = %v (depth exhaustion must not be an error)", err)
	}

	if ag.calls != depth {
		t.Errorf("agent calls = %d, want exactly %d", ag.calls, depth)
	}
	// Depth exhaustion still persists what was generated.
	if len(store.generatedAppends) != 1 {
		t.Errorf("generated appends = %d, want 1", len(store.generatedAppends))
	}
}

func TestToolErrorContainment(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: []content.Unit{toolUse("call_div", "divide", map[string]any{"a": 1, "b": 0})}},
			{units: deltas("Cannot divide by zero.")},
		},
		tools: []*tool.Tool{
			tool.New("divide", "Divides a by b.", func(ctx context.Context, in struct {
				A float64 `json:"a"`
				B float64 `json:"b"`
			}) (*tool.Result, error) {
				if in.B == 0 {
					return nil, errors.New("division by zero")
				}
				return tool.TextResult("ok"), nil
			}),
		},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	if _, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("1/0?")}); err != nil {
		t.Fatalf("Forward() error = %v (tool failure must not abort the turn)", err)
	}

	if ag.calls != 2 {
		t.Fatalf("agent calls = %d, want 2 (model must get to react to the error)", ag.calls)
	}

	result := store.generatedAppends[0][1].Content[0].(*content.ToolResult)
	if !result.IsError {
		t.Error("result IsError = false, want true")
	}
	if !strings.Contains(result.Output, "division by zero") {
		t.Errorf("result Output = %q, want the error text", result.Output)
	}
}

func TestTwoToolsDispatchInStreamOrder(t *testing.T) {
	var order []string
	record := func(name string) *tool.Tool {
		return tool.New(name, name, func(ctx context.Context, in struct{}) (*tool.Result, error) {
			order = append(order, name)
			return tool.TextResult(name + " done"), nil
		})
	}
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: []content.Unit{
				toolUse("call_w", "lookup_weather", map[string]any{}),
				toolUse("call_t", "lookup_time", map[string]any{}),
			}},
			{units: deltas("Sunny, 9am.")},
		},
		tools: []*tool.Tool{record("lookup_weather"), record("lookup_time")},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	if _, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("weather and time?")}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if len(order) != 2 || order[0] != "lookup_weather" || order[1] != "lookup_time" {
		t.Errorf("dispatch order = %v, want [lookup_weather lookup_time]", order)
	}

	// Results land in the persisted list in the same order.
	var results []string
	for _, msg := range store.generatedAppends[0] {
		if msg.Role != content.RoleTool {
			continue
		}
		results = append(results, msg.Content[0].(*content.ToolResult).ToolUseID)
	}
	if len(results) != 2 || results[0] != "call_w" || results[1] != "call_t" {
		t.Errorf("persisted result order = %v, want [call_w call_t]", results)
	}
}

func TestStreamErrorSkipsPersistence(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: deltas("partial "), err: errors.New("model stream broke")},
		},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	_, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("hello")})
	if err == nil {
		t.Fatal("Forward() should surface the stream error")
	}
	if !strings.Contains(err.Error(), "model stream broke") {
		t.Errorf("error = %v, want the stream failure", err)
	}

	if len(store.userAppends) != 0 || len(store.generatedAppends) != 0 {
		t.Errorf("store recorded %d user / %d generated appends, want none",
			len(store.userAppends), len(store.generatedAppends))
	}
}

func TestAgentNotFound(t *testing.T) {
	store := &recordingStore{}
	f := New(store, agent.NewRegistry(), tool.NewDispatcher(log.NewNop(), 0), log.NewNop())

	_, err := run(t, f, Request{ThreadID: "t1", Agent: "ghost", Input: userInput("hello")})
	if !errors.Is(err, agent.ErrNotFound) {
		t.Fatalf("error = %v, want agent.ErrNotFound", err)
	}
	if len(store.userAppends) != 0 || len(store.generatedAppends) != 0 {
		t.Error("resolution failure must not touch the store")
	}
}

func TestCancellationSkipsPersistence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	executed := 0
	ag := &scriptedAgent{
		turns: []scriptTurn{
			{units: []content.Unit{
				toolUse("call_1", "cancel_after", map[string]any{}),
				toolUse("call_2", "cancel_after", map[string]any{}),
			}},
		},
		tools: []*tool.Tool{
			tool.New("cancel_after", "Cancels the request.", func(ctx context.Context, in struct{}) (*tool.Result, error) {
				executed++
				cancel()
				return tool.TextResult("done"), nil
			}),
		},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	var lastErr error
	for _, err := range f.Forward(ctx, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("go")}) {
		lastErr = err
	}

	if lastErr != nil {
		t.Errorf("cancellation should end the stream without an error event, got %v", lastErr)
	}
	if executed != 1 {
		t.Errorf("tools executed = %d, want 1 (no tool calls after cancellation)", executed)
	}
	if len(store.userAppends) != 0 || len(store.generatedAppends) != 0 {
		t.Error("cancelled turn must not be persisted")
	}
}

func TestChunksCarryMessageSnapshots(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{{units: deltas("hi")}},
	}
	f := newForwarder(t, ag, &recordingStore{})

	chunks, err := run(t, f, Request{ThreadID: "t1", Agent: "scripted", Input: userInput("hello")})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if len(chunks[0].Messages) != 1 {
		t.Errorf("snapshot has %d messages, want the in-progress assistant message", len(chunks[0].Messages))
	}
	if _, ok := chunks[0].Unit.(*content.TextDelta); !ok {
		t.Errorf("chunk unit is %T, want *content.TextDelta", chunks[0].Unit)
	}
}

func TestConsumerStopMidStream(t *testing.T) {
	ag := &scriptedAgent{
		turns: []scriptTurn{{units: deltas("a", "b", "c")}},
	}
	store := &recordingStore{}
	f := newForwarder(t, ag, store)

	seen := 0
	for range f.Forward(context.Background(), Request{ThreadID: "t1", Agent: "scripted", Input: userInput("go")}) {
		seen++
		break
	}

	if seen != 1 {
		t.Fatalf("saw %d chunks before break, want 1", seen)
	}
	if len(store.generatedAppends) != 0 {
		t.Error("abandoned stream must not be persisted")
	}
}
