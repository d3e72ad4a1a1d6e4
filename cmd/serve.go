package cmd

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaiopt "github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/parlor-ai/parlor/api"
	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/agent/claude"
	"github.com/parlor-ai/parlor/internal/agent/gpt"
	"github.com/parlor-ai/parlor/internal/config"
	"github.com/parlor-ai/parlor/internal/forward"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/postgres"
	"github.com/parlor-ai/parlor/internal/thread"
	"github.com/parlor-ai/parlor/internal/tool"
	"github.com/parlor-ai/parlor/internal/tool/builtin"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// fetchTimeout bounds the page-fetching tool's HTTP requests.
const fetchTimeout = 30 * time.Second

func runServe(parent context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	logger.Info("starting parlor", "version", Version)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := postgres.Migrate(cfg.Postgres.URL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres.URL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	store := thread.NewStore(thread.NewQueries(pool), pool, logger)

	fetchClient := &http.Client{Timeout: fetchTimeout}
	toolProvider := func(sess agent.Session) []*tool.Tool {
		return []*tool.Tool{
			builtin.CurrentTime(time.Now),
			builtin.FetchPage(fetchClient),
			builtin.Remember(store, sess.ThreadID),
			builtin.Recall(store, sess.ThreadID),
		}
	}

	registry := agent.NewRegistry()
	if cfg.Anthropic.APIKey != "" {
		opts := []anthopt.RequestOption{anthopt.WithAPIKey(cfg.Anthropic.APIKey)}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthopt.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		err := registry.Register(claude.New(&client, claude.Config{
			Model:        cfg.Anthropic.Model,
			MaxTokens:    cfg.Anthropic.MaxTokens,
			SystemPrompt: cfg.Anthropic.SystemPrompt,
		}, toolProvider, logger, newLimiter(cfg.Forward.RequestsPerSecond)))
		if err != nil {
			return fmt.Errorf("registering claude agent: %w", err)
		}
	}
	if cfg.OpenAI.APIKey != "" {
		opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(cfg.OpenAI.APIKey)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client := openai.NewClient(opts...)
		err := registry.Register(gpt.New(&client, gpt.Config{
			Model:        cfg.OpenAI.Model,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
		}, toolProvider, logger, newLimiter(cfg.Forward.RequestsPerSecond)))
		if err != nil {
			return fmt.Errorf("registering gpt agent: %w", err)
		}
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no API keys configured, no agents registered")
	}

	dispatcher := tool.NewDispatcher(logger, time.Duration(cfg.Forward.ToolTimeoutSeconds)*time.Second)
	forwarder := forward.New(store, registry, dispatcher, logger)

	srv := api.NewServer(store, boundedForwarder{
		inner:    forwarder,
		maxDepth: cfg.Forward.MaxDepth,
	}, registry, pool, logger)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	return srv.Run(ctx, addr)
}

// newLimiter builds a per-agent rate limiter. Zero disables limiting.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// boundedForwarder applies the configured recursion depth to requests
// that do not set their own.
type boundedForwarder struct {
	inner    *forward.Forwarder
	maxDepth int
}

func (f boundedForwarder) Forward(ctx context.Context, req forward.Request) iter.Seq2[forward.Chunk, error] {
	if req.MaxDepth <= 0 {
		req.MaxDepth = f.maxDepth
	}
	return f.inner.Forward(ctx, req)
}
