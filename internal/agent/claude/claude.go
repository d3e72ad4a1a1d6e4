// Package claude implements the Anthropic-backed agent.
package claude

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/stream"
	anthstream "github.com/parlor-ai/parlor/internal/stream/anthropic"
	"github.com/parlor-ai/parlor/internal/tool"
)

const defaultMaxTokens = 8192

// Config holds the model settings for the agent.
type Config struct {
	Model        string
	MaxTokens    int64
	SystemPrompt string
	// Personas maps a thread role to an alternative system prompt.
	Personas map[string]string
	Retry    agent.RetryConfig
}

// Agent talks to the Anthropic Messages API. It holds no
// conversation state; every call rebuilds the wire request from the
// history it is given.
type Agent struct {
	client  *anthropic.Client
	cfg     Config
	tools   agent.ToolProvider
	logger  log.Logger
	limiter *rate.Limiter
}

// New creates the agent. limiter may be nil to disable client-side
// rate limiting.
func New(client *anthropic.Client, cfg Config, tools agent.ToolProvider, logger log.Logger, limiter *rate.Limiter) *Agent {
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_5)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Retry == (agent.RetryConfig{}) {
		cfg.Retry = agent.DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{client: client, cfg: cfg, tools: tools, logger: logger, limiter: limiter}
}

func (a *Agent) Name() string { return "claude" }

func (a *Agent) Description() string {
	return "General-purpose assistant backed by Anthropic Claude."
}

// Tools implements agent.Agent.
func (a *Agent) Tools(sess agent.Session) []*tool.Tool {
	if a.tools == nil {
		return nil
	}
	return a.tools(sess)
}

// Respond implements agent.Agent.
func (a *Agent) Respond(ctx context.Context, sess agent.Session, history []*content.Message) (stream.Events, []*tool.Tool, error) {
	tools := a.Tools(sess)

	params, err := a.buildParams(sess, history, tools)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}

	events := agent.RetryEvents(ctx, a.logger, a.cfg.Retry, a.limiter,
		func(ctx context.Context) stream.Events {
			return anthstream.Events(ctx, a.client, params)
		})
	return events, tools, nil
}

func (a *Agent) systemPrompt(sess agent.Session) string {
	if p, ok := a.cfg.Personas[sess.Role]; ok && sess.Role != "" {
		return p
	}
	return a.cfg.SystemPrompt
}

func (a *Agent) buildParams(sess agent.Session, history []*content.Message, tools []*tool.Tool) (anthropic.MessageNewParams, error) {
	messages, extraSystem, err := toMessageParams(history, a.logger)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	system := a.systemPrompt(sess)
	if extraSystem != "" {
		if system != "" {
			system += "\n\n"
		}
		system += extraSystem
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools, err = toolParams(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
	}
	return params, nil
}

func toolParams(tools []*tool.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := t.SchemaMap()
		if err != nil {
			return nil, err
		}
		input := anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					input.Required = append(input.Required, s)
				}
			}
		}
		p := anthropic.ToolUnionParamOfTool(input, t.Name())
		if d := t.Description(); d != "" {
			p.OfTool.Description = anthropic.String(d)
		}
		out = append(out, p)
	}
	return out, nil
}
