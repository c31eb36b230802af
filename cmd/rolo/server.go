package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/halwer/rolo/internal/api"
	"github.com/halwer/rolo/internal/config"
	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/logging"
	"github.com/halwer/rolo/internal/ollama"
	"github.com/halwer/rolo/internal/pipeline"
	"github.com/halwer/rolo/internal/provider"
	"github.com/halwer/rolo/internal/ratelimit"
	"github.com/halwer/rolo/internal/retrieval"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rolo server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running rolo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rolo system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "rolo.pid")
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

// parseDurationOr parses a duration config value, logging and falling back
// to def when it does not parse.
func parseDurationOr(value string, def time.Duration, key string) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in config, using default", "key", key, "value", value, "default", def)
		return def
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "rolo version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("rolo is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("rolo is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness and warm the embedding model.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Build the ingestion pipeline.
	vault := provider.NewVault(cfg.Vault.BaseURL, cfg.Vault.Token)
	gateway := provider.NewGateway(cfg.Gateway.BaseURL)
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	settingsMgr := settings.NewManager(store)
	limiter := ratelimit.New(store, map[string]int{
		pipeline.ResourceEmbedding: cfg.Limits.EmbedPerMinute,
	})

	syncCfg := pipeline.SyncConfig{
		ChunkSize:  cfg.Sync.ChunkSize,
		ChunkDelay: parseDurationOr(cfg.Sync.ChunkDelay, 150*time.Millisecond, "sync.chunk_delay"),
		Deadline:   parseDurationOr(cfg.Sync.Deadline, 3*time.Minute, "sync.deadline"),
		ItemCap:    cfg.Sync.ItemCap,
	}

	processingTimeout := parseDurationOr(cfg.Runner.ProcessingTimeout, 10*time.Minute, "runner.processing_timeout")
	runner := ingest.NewRunner(store, ingest.Config{
		PollInterval:      parseDurationOr(cfg.Runner.PollInterval, 500*time.Millisecond, "runner.poll_interval"),
		BatchSize:         cfg.Runner.BatchSize,
		MaxAttempts:       cfg.Runner.MaxAttempts,
		ProcessingTimeout: processingTimeout,
		StuckAfter:        2 * processingTimeout, // presumed dead only past the handler deadline
	})
	runner.Register(pipeline.KindSyncProvider, pipeline.NewSyncStage(store, vault, gateway, settingsMgr, syncCfg))
	runner.Register(pipeline.KindNormalizeRecord, pipeline.NewNormalizeStage(store))
	runner.Register(pipeline.KindGenerateEmbedding, pipeline.NewEmbedStage(store, embedder, vectorStore, limiter, settingsMgr))
	runner.Register(pipeline.KindExtractContacts, pipeline.NewContactsStage(store, settingsMgr))

	go runner.Run(ctx)
	slog.Info("job runner started", "poll_interval", cfg.Runner.PollInterval)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Runner:      runner,
		Retriever:   retriever,
		Vectors:     vectorStore,
		Settings:    settingsMgr,
		Token:       cfg.Server.Token,
		DefaultUser: cfg.User.ID,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:       store,
		Retriever:   retriever,
		DefaultUser: cfg.User.ID,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "rolo listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("rolo is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop rolo (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to rolo (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show queue and data counts if the server is up.
	if serverUp {
		sumResp, err := apiGet(client, serverURL+"/summary", cfg.Server.Token)
		if err == nil {
			var sum struct {
				Jobs         map[string]int `json:"jobs"`
				RawRecords   int            `json:"raw_records"`
				Interactions int            `json:"interactions"`
				Contacts     int            `json:"contacts"`
				Vectors      int            `json:"vectors"`
			}
			if decodeJSON(sumResp, &sum) == nil {
				printStatus("Jobs", "%d queued, %d processing, %d done, %d error",
					sum.Jobs[storage.JobQueued], sum.Jobs[storage.JobProcessing],
					sum.Jobs[storage.JobDone], sum.Jobs[storage.JobError])
				printStatus("Raw records", "%d", sum.RawRecords)
				printStatus("Interactions", "%d", sum.Interactions)
				printStatus("Contacts", "%d", sum.Contacts)
				printStatus("Vectors", "%d", sum.Vectors)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
