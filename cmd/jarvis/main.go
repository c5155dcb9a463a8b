package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/storage"
)

var version = "dev"

var (
	noColor  bool
	dbFlag   string
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:           "jarvis",
	Short:         "Local voice assistant with persistent memory",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `jarvis keeps the memory of a local voice assistant: sessions, turns,
commands, reminders, preferences, usage statistics and backups.

Examples:
  jarvis chat
  jarvis explore overview
  jarvis reminders add "llamar al dentista" --at 2026-03-15T10:00:00Z
  jarvis serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the jarvis version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jarvis version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "database path (overrides storage.db_path)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(remindersCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the --db flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if dbFlag != "" {
		cfg.Storage.DBPath = dbFlag
	}
	return cfg, nil
}

// setupLogging installs a text handler on stderr whose level follows
// logLevel, so a config reload can change it in place.
func setupLogging(level string) {
	logLevel.Set(parseLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore loads the configuration and opens the database. One-shot
// commands log at warn so store chatter does not mix with their output.
func openStore() (*storage.Store, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	setupLogging("warn")
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return store, cfg, nil
}

// withStore runs fn against an open store and closes it afterwards.
func withStore(fn func(*storage.Store, config.Config) error) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	return fn(store, cfg)
}
