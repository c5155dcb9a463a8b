package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/preferences"
	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read or change typed user preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a preference value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			v, err := preferences.NewManager(store).Get(args[0], storage.Value{})
			if err != nil {
				return err
			}
			if v.Type == "" {
				return fmt.Errorf("preference %q is not set", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v.Text(), v.Type)
			return nil
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference",
	Long: `Set a preference. The value is coerced to --type.

Examples:
  jarvis prefs set user_name Tony
  jarvis prefs set tts_rate 200 --type int
  jarvis prefs set favorite_topics '["música","ciencia"]' --type json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		typ, err := storage.ParsePrefType(typeName)
		if err != nil {
			return err
		}
		raw, err := prefArg(args[1], typ)
		if err != nil {
			return err
		}
		return withStore(func(store *storage.Store, _ config.Config) error {
			if err := preferences.NewManager(store).SetAny(args[0], raw, typ); err != nil {
				return err
			}
			printSuccess("Set %s = %s (%s)", args[0], args[1], typ)
			return nil
		})
	},
}

// prefArg parses JSON input for json preferences; other types are coerced
// from the text as given.
func prefArg(value string, typ storage.PrefType) (any, error) {
	if typ != storage.PrefJSON {
		return value, nil
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return nil, fmt.Errorf("value is not valid JSON: %w", err)
	}
	return v, nil
}

var prefsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			if err := preferences.NewManager(store).Delete(args[0]); err != nil {
				return err
			}
			printSuccess("Deleted %s", args[0])
			return nil
		})
	},
}

var prefsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the default preferences when none are stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			seeded, err := preferences.NewManager(store).SeedDefaults(preferences.Defaults())
			if err != nil {
				return err
			}
			if seeded {
				printSuccess("Default preferences written")
			} else {
				printStep("Preferences already present, nothing to do")
			}
			return nil
		})
	},
}

func init() {
	prefsSetCmd.Flags().String("type", string(storage.PrefString), "value type: string, int, float or json")
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsDeleteCmd)
	prefsCmd.AddCommand(prefsSeedCmd)
}

// --- reminders ---

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Create and settle reminders",
}

var remindersAddCmd = &cobra.Command{
	Use:   "add <task>",
	Short: "Create a pending reminder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		priority, _ := cmd.Flags().GetInt("priority")
		notes, _ := cmd.Flags().GetString("notes")

		var scheduled *time.Time
		if at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at must be an RFC 3339 time: %w", err)
			}
			scheduled = &t
		}
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}

		return withStore(func(store *storage.Store, _ config.Config) error {
			id, err := store.CreateReminder(strings.Join(args, " "), scheduled, priority, notesPtr)
			if err != nil {
				return err
			}
			printSuccess("Created reminder %d", id)
			return nil
		})
	},
}

var remindersDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a pending reminder completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return settleReminder(args[0], "Completed", (*storage.Store).CompleteReminder)
	},
}

var remindersCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return settleReminder(args[0], "Cancelled", (*storage.Store).CancelReminder)
	},
}

func settleReminder(arg, verb string, transition func(*storage.Store, int64) error) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return withStore(func(store *storage.Store, _ config.Config) error {
		if err := transition(store, id); err != nil {
			return err
		}
		printSuccess("%s reminder %d", verb, id)
		return nil
	})
}

func init() {
	remindersAddCmd.Flags().String("at", "", "scheduled time (RFC 3339)")
	remindersAddCmd.Flags().Int("priority", 0, "higher is more urgent")
	remindersAddCmd.Flags().String("notes", "", "free-form notes")
	remindersCmd.AddCommand(remindersAddCmd)
	remindersCmd.AddCommand(remindersDoneCmd)
	remindersCmd.AddCommand(remindersCancelCmd)
}

// --- errors ---

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Manage the error log",
}

var errorsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a logged error resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withStore(func(store *storage.Store, _ config.Config) error {
			if err := store.ResolveError(id); err != nil {
				return err
			}
			printSuccess("Resolved error %d", id)
			return nil
		})
	},
}

func init() {
	errorsCmd.AddCommand(errorsResolveCmd)
}

// --- maintenance ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the database into the backup directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		prune, _ := cmd.Flags().GetBool("prune")
		keep, _ := cmd.Flags().GetInt("keep")

		return withStore(func(store *storage.Store, cfg config.Config) error {
			if dir == "" {
				dir = cfg.Storage.BackupDir
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Backup.MaxBackups
			}
			path, removed, err := backupAndPrune(store, dir, prune, keep)
			if err != nil {
				return err
			}
			printSuccess("Backup written to %s", path)
			for _, p := range removed {
				printStep("Pruned %s", p)
			}
			return nil
		})
	},
}

// backupAndPrune writes a backup and, when prune is set, keeps only the
// newest keep backups in dir.
func backupAndPrune(store *storage.Store, dir string, prune bool, keep int) (string, []string, error) {
	path, err := store.Backup(dir)
	if err != nil {
		return "", nil, err
	}
	if !prune {
		return path, nil, nil
	}
	removed, err := store.PruneBackups(dir, keep)
	return path, removed, err
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Check integrity and compact the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			printStep("Checking integrity...")
			if err := store.IntegrityCheck(); err != nil {
				return err
			}
			printStep("Vacuuming and analyzing...")
			if err := store.Optimize(); err != nil {
				return err
			}
			printSuccess("Database optimized")
			return nil
		})
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export [session-id...]",
	Short: "Export sessions with their turns as JSONL",
	Long: `Export sessions with their turns and commands as JSONL, one session per
line. Without ids the most recent sessions are exported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		var writer io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		return withStore(func(store *storage.Store, _ config.Config) error {
			n, err := exportSessions(writer, store, ids, limit)
			if err != nil {
				return err
			}
			if output != "" {
				printSuccess("Exported %d sessions to %s", n, output)
			}
			return nil
		})
	},
}

type turnExport struct {
	storage.Interaction
	Commands []storage.CommandRecord `json:"commands,omitempty"`
}

type sessionExport struct {
	Session storage.Session `json:"session"`
	Turns   []turnExport    `json:"turns"`
}

func exportSessions(w io.Writer, store *storage.Store, ids []int64, limit int) (int, error) {
	var sessions []storage.Session
	if len(ids) == 0 {
		list, err := store.ListSessions(limit)
		if err != nil {
			return 0, err
		}
		sessions = list
	}
	for _, id := range ids {
		s, err := store.GetSession(id)
		if err != nil {
			return 0, err
		}
		sessions = append(sessions, s)
	}

	enc := json.NewEncoder(w)
	for _, s := range sessions {
		interactions, err := store.SessionInteractions(s.ID)
		if err != nil {
			return 0, err
		}
		rec := sessionExport{Session: s, Turns: make([]turnExport, len(interactions))}
		for i, ix := range interactions {
			rec.Turns[i] = turnExport{Interaction: ix}
			if ix.Kind == storage.KindCommand {
				if rec.Turns[i].Commands, err = store.CommandsForInteraction(ix.ID); err != nil {
					return 0, err
				}
			}
		}
		if err := enc.Encode(rec); err != nil {
			return 0, err
		}
	}
	return len(sessions), nil
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCmd.Flags().Int("limit", 100, "number of recent sessions when no ids are given")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Store documents as retrievable context",
	Long: `Store documents as retrievable context. Text, Markdown, HTML and PDF
files are split into chunks and indexed by keyword.

Examples:
  jarvis ingest ./notas.md ./manual.pdf
  jarvis ingest --text "Mi hija se llama Ana"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" && len(args) == 0 {
			return fmt.Errorf("a file or --text is required")
		}

		return withStore(func(store *storage.Store, _ config.Config) error {
			in := retrieval.NewIngester(store, nil)
			if text != "" {
				ids, err := in.IngestText(text)
				if err != nil {
					return err
				}
				printSuccess("Stored %d context entries", len(ids))
			}
			if len(args) == 0 {
				return nil
			}

			results, err := in.IngestFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					printError("%s: %v", r.Path, r.Err)
					continue
				}
				printSuccess("%s: %d entries", r.Path, len(r.ContextIDs))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "  %s\n", colorize(styleMuted, "file: "+config.FilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(styleBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(config.FilePath(), key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(config.FilePath(), args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
