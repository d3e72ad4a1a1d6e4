package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
)

// Dispatcher executes tool-use requests against a set of available
// tools. Execution failures never escape as errors; they become
// error-flagged results so the model can react to them.
type Dispatcher struct {
	logger  log.Logger
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. A zero timeout disables the
// per-call deadline.
func NewDispatcher(logger log.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{logger: logger, timeout: timeout}
}

// Dispatch runs one tool-use request. The returned result always
// carries the request's tool-use ID. Unknown tools and handler
// failures come back with IsError set rather than aborting the
// conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, use *content.ToolUse, tools []*Tool) *content.ToolResult {
	result := &content.ToolResult{
		ID:        content.NewID(),
		ToolUseID: use.ToolUseID,
	}

	var target *Tool
	for _, t := range tools {
		if t.Name() == use.Name {
			target = t
			break
		}
	}
	if target == nil {
		d.logger.Warn("unknown tool requested", "tool", use.Name)
		result.Output = fmt.Sprintf("tool %q is not available", use.Name)
		result.IsError = true
		return result
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := target.Call(ctx, use.Input)
	if err != nil {
		d.logger.Warn("tool call failed",
			"tool", use.Name,
			"duration", time.Since(start),
			"error", err,
		)
		result.Output = fmt.Sprintf("tool %s failed: %v", use.Name, err)
		result.IsError = true
		return result
	}

	d.logger.Debug("tool call completed",
		"tool", use.Name,
		"duration", time.Since(start),
	)
	result.Output = out.Output
	result.WidgetType = out.WidgetType
	return result
}
