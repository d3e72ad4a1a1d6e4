// Package stream normalizes vendor-specific model response streams
// into the internal content-event sequence.
//
// Vendor adapters (subpackages anthropic and openai) translate SDK
// stream events into RawEvents and drive an Interpreter, which owns
// the buffering rules shared by all vendors: text fragments become
// text deltas immediately, while tool-call argument fragments are
// buffered per content index and parsed as a single JSON object at
// block stop. Malformed argument JSON is fatal for the turn; a tool
// must never execute with partial arguments.
package stream

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"

	"github.com/parlor-ai/parlor/internal/content"
)

// Events is the normalized stream of content units produced by one
// model turn. The second value carries stream-level failures; a
// non-nil error terminates the turn.
type Events = iter.Seq2[content.Unit, error]

// RawKind identifies a vendor-neutral wire event.
type RawKind int

const (
	// RawText is an incremental text fragment.
	RawText RawKind = iota

	// RawToolStart announces a tool invocation by name; argument
	// tokens follow as RawToolArgs fragments.
	RawToolStart

	// RawToolArgs is a partial-JSON fragment of tool arguments.
	RawToolArgs

	// RawBlockStop closes the content block at Index.
	RawBlockStop
)

// RawEvent is the vendor-neutral event an adapter feeds the
// Interpreter. Only the fields relevant to Kind are set.
type RawEvent struct {
	Kind  RawKind
	Index int

	// Text fragment for RawText.
	Text string

	// Tool identity for RawToolStart.
	ToolID   string
	ToolName string

	// Argument fragment for RawToolArgs.
	ArgsFragment string
}

// pendingTool buffers an in-flight tool call until its block stops.
type pendingTool struct {
	unitID string
	toolID string
	name   string
	args   []byte
}

// Interpreter folds raw vendor events into normalized content units.
// One Interpreter serves one model turn; it is not safe for
// concurrent use.
type Interpreter struct {
	pending map[int]*pendingTool
}

// NewInterpreter creates an interpreter for a single model turn.
func NewInterpreter() *Interpreter {
	return &Interpreter{pending: make(map[int]*pendingTool)}
}

// Interpret consumes one raw event and returns the content units it
// completes, if any. Text fragments yield a TextDelta immediately;
// tool calls yield a single ToolUse when their block stops.
func (in *Interpreter) Interpret(ev RawEvent) ([]content.Unit, error) {
	switch ev.Kind {
	case RawText:
		if ev.Text == "" {
			return nil, nil
		}
		return []content.Unit{&content.TextDelta{ID: content.NewID(), Delta: ev.Text}}, nil

	case RawToolStart:
		if _, ok := in.pending[ev.Index]; ok {
			return nil, fmt.Errorf("tool block started twice at index %d", ev.Index)
		}
		in.pending[ev.Index] = &pendingTool{
			unitID: content.NewID(),
			toolID: ev.ToolID,
			name:   ev.ToolName,
		}
		return nil, nil

	case RawToolArgs:
		p, ok := in.pending[ev.Index]
		if !ok {
			return nil, fmt.Errorf("tool arguments at index %d without a tool block", ev.Index)
		}
		p.args = append(p.args, ev.ArgsFragment...)
		return nil, nil

	case RawBlockStop:
		p, ok := in.pending[ev.Index]
		if !ok {
			// Text blocks need no closing unit; the orchestrator
			// accumulates deltas itself.
			return nil, nil
		}
		delete(in.pending, ev.Index)
		use, err := p.complete()
		if err != nil {
			return nil, err
		}
		return []content.Unit{use}, nil

	default:
		return nil, fmt.Errorf("unknown raw event kind %d", ev.Kind)
	}
}

// Finish closes any tool blocks still open, in index order. Adapters
// for vendors without an explicit block-stop signal (plain chat
// completion streaming) call this at stream end.
func (in *Interpreter) Finish() ([]content.Unit, error) {
	if len(in.pending) == 0 {
		return nil, nil
	}
	indexes := make([]int, 0, len(in.pending))
	for i := range in.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	units := make([]content.Unit, 0, len(indexes))
	for _, i := range indexes {
		use, err := in.pending[i].complete()
		if err != nil {
			return nil, err
		}
		units = append(units, use)
	}
	in.pending = make(map[int]*pendingTool)
	return units, nil
}

// complete parses the buffered argument fragments into a single JSON
// object. An empty buffer means a zero-argument call. A parse failure
// is fatal: executing a tool with malformed arguments is unsafe.
func (p *pendingTool) complete() (*content.ToolUse, error) {
	input := map[string]any{}
	if len(p.args) > 0 {
		if err := json.Unmarshal(p.args, &input); err != nil {
			return nil, fmt.Errorf("tool %q arguments are not valid JSON: %w", p.name, err)
		}
	}
	return &content.ToolUse{
		ID:        p.unitID,
		ToolUseID: p.toolID,
		Name:      p.name,
		Input:     input,
	}, nil
}
