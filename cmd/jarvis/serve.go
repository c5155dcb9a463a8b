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
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jarvis/internal/api"
	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/ollama"
	"github.com/kalambet/jarvis/internal/preferences"
	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the management API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant's memory to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, Ollama and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

// services holds what the long-running commands share.
type services struct {
	cfg   config.Config
	store *storage.Store
	prefs *preferences.Manager
	ret   *retrieval.Retriever
}

func openServices() (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DBPath, storage.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	prefs := preferences.NewManager(store)
	if _, err := prefs.SeedDefaults(preferences.Defaults()); err != nil {
		slog.Warn("seeding default preferences failed", "error", err)
	}
	return &services{
		cfg:   cfg,
		store: store,
		prefs: prefs,
		ret:   retrieval.NewRetriever(store, cfg.Retrieval.ContextLimit),
	}, nil
}

// close writes the shutdown backup, if enabled, and closes the store.
func (rt *services) close() {
	if rt.cfg.Backup.OnShutdown && rt.store.Path() != storage.MemoryPath {
		keep := rt.cfg.Backup.MaxBackups
		path, removed, err := backupAndPrune(rt.store, rt.cfg.Storage.BackupDir, keep > 0, keep)
		if err != nil {
			slog.Error("shutdown backup failed", "error", err)
		} else {
			slog.Info("shutdown backup written", "path", path, "pruned", len(removed))
		}
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func apiToken(cfg config.Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	return config.GetAPIToken(config.NewFileSecrets())
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "jarvis version %s\n", version)

	rt, err := openServices()
	if err != nil {
		return err
	}
	defer rt.close()

	token, err := apiToken(rt.cfg)
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", rt.cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + addr + "/health"); err == nil {
		resp.Body.Close()
		printWarning("jarvis is already running on port %d", rt.cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", rt.cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Store:       rt.store,
		Preferences: rt.prefs,
		Retriever:   rt.ret,
		Ingester:    retrieval.NewIngester(rt.store, slog.Default()),
		Token:       token,
		BackupDir:   rt.cfg.Storage.BackupDir,
		MaxBackups:  rt.cfg.Backup.MaxBackups,
		Logger:      slog.Default(),
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("jarvis listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return watchConfig(gctx, config.FilePath(), func(cfg config.Config) {
			logLevel.Set(parseLevel(cfg.Log.Level))
			slog.Info("config reloaded", "log_level", cfg.Log.Level)
		})
	})
	if withMCP {
		g.Go(func() error {
			return serveMCP(gctx, rt)
		})
	}
	return g.Wait()
}

func runMCP() error {
	rt, err := openServices()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serveMCP(ctx, rt)
}

func serveMCP(ctx context.Context, rt *services) error {
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:       rt.store,
		Preferences: rt.prefs,
		Retriever:   rt.ret,
	}, version)
	slog.Info("MCP server started (stdio transport)")
	err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

// watchConfig calls onChange with the reloaded configuration each time the
// file at path is written. Invalid edits are logged and skipped. It returns
// when ctx is done.
func watchConfig(ctx context.Context, path string, onChange func(config.Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close()

	// Editors often replace the file, so watch its directory.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				slog.Warn("ignoring invalid config change", "path", path, "error", err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, "/health")
	running := err == nil
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			running = false
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Model", "%s", cfg.Assistant.Model)

	if running {
		var sum storage.UsageSummary
		if err := client.getJSON(ctx, "/usage?days=1", &sum); err == nil {
			printStatus("Turns today", "%d", sum.TotalInteractions)
		}
		var pending []storage.Reminder
		if err := client.getJSON(ctx, "/reminders/pending", &pending); err == nil {
			printStatus("Pending reminders", "%s", countLabel(len(pending), 100))
		}
	}

	printStatus("Database", "%s", cfg.Storage.DBPath)
	printStatus("Backups", "%s", cfg.Storage.BackupDir)
	return nil
}
