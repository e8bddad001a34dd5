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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/drleelm/drleelm/internal/answer"
	"github.com/drleelm/drleelm/internal/api"
	"github.com/drleelm/drleelm/internal/config"
	"github.com/drleelm/drleelm/internal/document"
	"github.com/drleelm/drleelm/internal/jobs"
	"github.com/drleelm/drleelm/internal/notes"
	"github.com/drleelm/drleelm/internal/ollama"
	"github.com/drleelm/drleelm/internal/provider"
	"github.com/drleelm/drleelm/internal/realtime"
	"github.com/drleelm/drleelm/internal/retrieval"
	"github.com/drleelm/drleelm/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the drleelm server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running drleelm server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show drleelm server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "drleelm.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "drleelm version %s\n", version)

	cfg, settings, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	pidPath := pidFilePath(cfg.Storage.Dir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sel := provider.Select(cfg)
	logger.Info("providers selected",
		"chat", sel.ChatProvider, "model", cfg.ChatModel(),
		"embeddings", sel.EmbeddingProvider, "embedding_model", sel.EmbeddingModel)
	if sel.ChatProvider == provider.Ollama || sel.EmbeddingProvider == provider.Ollama {
		embed := ""
		if sel.EmbeddingProvider == provider.Ollama {
			embed = sel.EmbeddingModel
		}
		if err := ollama.CheckReady(ctx, ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.Model, embed); err != nil {
			printWarning("%v", err)
		}
	}

	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	resolver, err := document.NewResolver(cfg.Storage.Dir, cfg.Storage.AssetsDir)
	if err != nil {
		return err
	}

	rag := retrieval.NewStore(retrieval.Options{
		Mode:             cfg.Storage.DBMode,
		Docs:             retrieval.NewDocStore(cfg.Storage.JSONDir()),
		Qdrant:           retrieval.NewQdrantClient(cfg.Storage.QdrantURL, cfg.Storage.QdrantAPIKey),
		DefaultNamespace: cfg.Retrieval.Namespace,
		Logger:           logger,
	}, func() *retrieval.Embedder {
		sel := provider.Select(settings.Config())
		return retrieval.NewEmbedder(sel.Embeddings, sel.EmbeddingProvider+":"+sel.EmbeddingModel, store)
	})
	if rag.Mode() == retrieval.ModeJSON {
		if err := rag.Watch(ctx, cfg.Storage.JSONDir()); err != nil {
			logger.Warn("collection watcher disabled", "error", err)
		}
	}

	orch := answer.New(answer.Options{
		Config:      settings.Config,
		Retriever:   rag,
		Concurrency: cfg.LLM.Concurrency,
		Logger:      logger,
	})
	gen := notes.NewGenerator(orch, resolver, filepath.Join(cfg.Storage.Dir, "smartnotes"), func() string {
		return serverURL(settings.Config())
	})

	tracker := jobs.NewTracker()
	go tracker.Run(ctx, jobs.DefaultSweepInterval)

	hub := realtime.NewHub(logger)
	defer hub.Close()

	// Jobs run under their own context so a shutdown lets them finish
	// within the generation timeout.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	handler := api.NewHandler(jobCtx, api.Deps{
		Settings:   settings,
		Jobs:       tracker,
		Hub:        hub,
		Answerer:   orch,
		Notes:      gen,
		Resolver:   resolver,
		RAG:        rag,
		Store:      store,
		StorageDir: cfg.Storage.Dir,
		Version:    version,
		Logger:     logger,
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			RAG:        rag,
			Answerer:   orch,
			Flashcards: store,
			Version:    version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("drleelm listening", "addr", addr, "db_mode", rag.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	err = srv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.LLM.Timeout()):
		logger.Warn("abandoning running jobs")
		cancelJobs()
	}
	return err
}

func stopServer() error {
	cfg, _, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.Dir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("drleelm is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop drleelm (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to drleelm (PID %d)", pid)
	return nil
}

func showStatus(cmd *cobra.Command) error {
	cfg, _, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	var info struct {
		Version  string `json:"version"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := c.Do(cmd.Context(), http.MethodGet, "/api/version", nil, &info); err != nil {
		printStatus("Server", "stopped (%s)", c.BaseURL())
	} else {
		printStatus("Server", "running at %s (version %s)", c.BaseURL(), info.Version)
		printStatus("Provider", "%s", info.Provider)
		printStatus("Model", "%s", info.Model)
	}

	if cfg.LLM.Provider == provider.Ollama {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
	}

	printStatus("DB mode", "%s", cfg.Storage.DBMode)
	printStatus("Storage dir", "%s", cfg.Storage.Dir)
	return nil
}
