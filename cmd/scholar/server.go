package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/scholar/internal/api"
	"github.com/kalambet/scholar/internal/assistant"
	"github.com/kalambet/scholar/internal/config"
	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/llm"
	"github.com/kalambet/scholar/internal/memory"
	"github.com/kalambet/scholar/internal/observability"
	"github.com/kalambet/scholar/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scholar HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and configuration summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

// app is the wired set of services behind the HTTP and MCP surfaces.
type app struct {
	deps     api.Deps
	provider storage.Provider
}

func (a *app) Close() error {
	return a.provider.Close()
}

// buildBackends returns one llm.Backend per configured model.
func buildBackends(cfg config.Config) map[assistant.Model]llm.Backend {
	backends := make(map[assistant.Model]llm.Backend)
	base := llm.Options{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}

	if cfg.OpenAI.APIKey != "" {
		opts := base
		opts.Model = cfg.OpenAI.Model
		opts.BaseURL = cfg.OpenAI.BaseURL
		backends[assistant.ModelOpenAI] = llm.NewOpenAI(cfg.OpenAI.APIKey, opts)
	}
	if cfg.Gemini.APIKey != "" {
		opts := base
		opts.Model = cfg.Gemini.Model
		opts.BaseURL = cfg.Gemini.BaseURL
		backends[assistant.ModelGemini] = llm.NewGemini(cfg.Gemini.APIKey, opts)
	}
	if cfg.Ollama.Model != "" {
		opts := base
		opts.Model = cfg.Ollama.Model
		opts.BaseURL = cfg.Ollama.BaseURL
		backends[assistant.ModelOllama] = llm.NewOllama(opts)
	}
	return backends
}

// buildApp opens storage, loads both collections and wires the assistant.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := storage.ParseCorruptPolicy(cfg.Storage.OnCorrupt)
	if err != nil {
		return nil, err
	}

	defaultModel, err := assistant.ParseModel(cfg.LLM.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("llm.default_model: %w", err)
	}
	if defaultModel == "" {
		defaultModel = assistant.ModelOpenAI
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	asst, err := assistant.New(buildBackends(cfg),
		assistant.WithDefaultModel(defaultModel),
		assistant.WithMetrics(metrics),
		assistant.WithLogger(logger),
	)
	if err != nil {
		if errors.Is(err, assistant.ErrNoBackends) {
			return nil, fmt.Errorf("%w: set SCHOLAR_OPENAI_API_KEY or SCHOLAR_GEMINI_API_KEY, or configure ollama.model", err)
		}
		return nil, err
	}
	if !asst.Configured(defaultModel) {
		logger.Warn("default model is not configured", "model", defaultModel, "configured", asst.Models())
	}

	provider, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.Storage.Backend,
		DataDir:     cfg.Storage.DataDir,
		DatabaseURL: cfg.Storage.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	mem, kb, err := openServices(ctx, cfg, provider, policy, logger)
	if err != nil {
		provider.Close()
		return nil, err
	}

	metrics.SetRejected(storage.ConversationsCollection, mem.LoadReport().Rejected)
	metrics.SetRejected(storage.KnowledgeCollection, kb.LoadReport().Rejected)
	metrics.SetStored(storage.ConversationsCollection, mem.Summary().TotalMessages)
	metrics.SetStored(storage.KnowledgeCollection, kb.Len())

	return &app{
		provider: provider,
		deps: api.Deps{
			Memory:      mem,
			Knowledge:   kb,
			Assistant:   asst,
			Metrics:     metrics,
			Token:       cfg.Server.APIToken,
			HTTPClient:  &http.Client{Timeout: 15 * time.Second},
			RecentLimit: cfg.Memory.RecentLimit,
			Logger:      logger,
		},
	}, nil
}

func openServices(ctx context.Context, cfg config.Config, provider storage.Provider, policy storage.CorruptPolicy, logger *slog.Logger) (*memory.Memory, *knowledge.Base, error) {
	convBackend, err := provider.Collection(storage.ConversationsCollection)
	if err != nil {
		return nil, nil, err
	}
	kbBackend, err := provider.Collection(storage.KnowledgeCollection)
	if err != nil {
		return nil, nil, err
	}

	mem, err := memory.New(ctx,
		storage.NewList[memory.Turn](storage.ConversationsCollection, convBackend, policy),
		memory.WithMaxTurns(cfg.Memory.MaxTurns),
		memory.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("loading conversation memory: %w", err)
	}
	kb, err := knowledge.New(ctx,
		storage.NewList[knowledge.Entry](storage.KnowledgeCollection, kbBackend, policy),
		knowledge.WithMaxEntries(cfg.Knowledge.MaxEntries),
		knowledge.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("loading knowledge base: %w", err)
	}
	return mem, kb, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "scholar version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if cfg.Ollama.Model != "" {
		if !llm.NewOllama(llm.Options{BaseURL: cfg.Ollama.BaseURL, Model: cfg.Ollama.Model}).IsRunning(ctx) {
			logger.Warn("ollama is not reachable, local model requests will fail", "base_url", cfg.Ollama.BaseURL)
		}
	}

	logger.Info("storage ready",
		"backend", cfg.Storage.Backend,
		"messages", a.deps.Memory.Summary().TotalMessages,
		"knowledge", a.deps.Knowledge.Len(),
		"models", a.deps.Assistant.Models(),
	)
	if cfg.Server.APIToken == "" {
		logger.Info("no API token set, clear and import routes are unauthenticated")
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := newHTTPServer(addr, api.NewHandler(a.deps))

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(a.deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "scholar listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHTTPServer keeps request contexts independent of the signal context so
// Shutdown can drain in-flight requests.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := clientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", client.baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		var summary struct {
			Summary memory.Summary `json:"summary"`
		}
		if resp, err := client.get(ctx, "/api/history/summary"); err == nil && decodeJSON(resp, &summary) == nil {
			printStatus("Messages", "%d (%d user, %d assistant)",
				summary.Summary.TotalMessages, summary.Summary.UserMessages, summary.Summary.AssistantMessages)
		}
		var kb struct {
			Knowledge []knowledge.Entry `json:"knowledge"`
		}
		if resp, err := client.get(ctx, "/api/knowledge"); err == nil && decodeJSON(resp, &kb) == nil {
			printStatus("Knowledge", "%d entries", len(kb.Knowledge))
		}
	}

	printStatus("Default model", "%s", cfg.LLM.DefaultModel)
	printStatus("OpenAI", "%s", keyState(cfg.OpenAI.APIKey, cfg.OpenAI.Model))
	printStatus("Gemini", "%s", keyState(cfg.Gemini.APIKey, cfg.Gemini.Model))
	if cfg.Ollama.Model == "" {
		printStatus("Ollama", "disabled")
	} else if llm.NewOllama(llm.Options{BaseURL: cfg.Ollama.BaseURL, Model: cfg.Ollama.Model}).IsRunning(ctx) {
		printStatus("Ollama", "running at %s (%s)", cfg.Ollama.BaseURL, cfg.Ollama.Model)
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Storage", "%s", cfg.Storage.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if !cfg.HasAIKeys() && cfg.Ollama.Model == "" {
		printWarning("no AI API keys configured")
	}
	return nil
}

func keyState(key, model string) string {
	if key == "" {
		return "not configured"
	}
	return "configured (" + model + ")"
}
