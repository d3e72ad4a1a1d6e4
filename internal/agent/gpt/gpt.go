// Package gpt implements the OpenAI-backed agent.
package gpt

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/stream"
	oaistream "github.com/parlor-ai/parlor/internal/stream/openai"
	"github.com/parlor-ai/parlor/internal/tool"
)

// Config holds the model settings for the agent.
type Config struct {
	Model        string
	SystemPrompt string
	// Personas maps a thread role to an alternative system prompt.
	Personas map[string]string
	Retry    agent.RetryConfig
}

// Agent talks to the OpenAI Chat Completions API. Stateless; every
// call rebuilds the wire request from the given history.
type Agent struct {
	client  *openai.Client
	cfg     Config
	tools   agent.ToolProvider
	logger  log.Logger
	limiter *rate.Limiter
}

// New creates the agent. limiter may be nil to disable client-side
// rate limiting.
func New(client *openai.Client, cfg Config, tools agent.ToolProvider, logger log.Logger, limiter *rate.Limiter) *Agent {
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT5
	}
	if cfg.Retry == (agent.RetryConfig{}) {
		cfg.Retry = agent.DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{client: client, cfg: cfg, tools: tools, logger: logger, limiter: limiter}
}

func (a *Agent) Name() string { return "gpt" }

func (a *Agent) Description() string {
	return "General-purpose assistant backed by OpenAI GPT."
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
			return oaistream.Events(ctx, a.client, params)
		})
	return events, tools, nil
}

func (a *Agent) systemPrompt(sess agent.Session) string {
	if p, ok := a.cfg.Personas[sess.Role]; ok && sess.Role != "" {
		return p
	}
	return a.cfg.SystemPrompt
}

func (a *Agent) buildParams(sess agent.Session, history []*content.Message, tools []*tool.Tool) (openai.ChatCompletionNewParams, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system := a.systemPrompt(sess); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	converted, err := toMessageParams(history, a.logger)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	messages = append(messages, converted...)

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    a.cfg.Model,
	}
	if len(tools) > 0 {
		params.Tools, err = toolParams(tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
	}
	return params, nil
}

func toolParams(tools []*tool.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := t.SchemaMap()
		if err != nil {
			return nil, err
		}
		out = append(out, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  openai.FunctionParameters(schema),
			},
		))
	}
	return out, nil
}
