package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/storage"
)

const displayTime = "2006-01-02 15:04:05"

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Browse the assistant's stored memory",
}

var exploreOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Summarize sessions, reminders, errors and usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, cfg config.Config) error {
			return writeOverview(cmd.OutOrStdout(), store, cfg.Storage.BackupDir)
		})
	},
}

func writeOverview(w io.Writer, store *storage.Store, backupDir string) error {
	writeHeader(w, "Last session")
	latest, err := store.LatestSession()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintln(w, "  no sessions yet")
	case err != nil:
		return err
	default:
		writeSession(w, latest)
	}

	writeHeader(w, "Last 7 days")
	sum, err := store.UsageStatistics(7)
	if err != nil {
		return err
	}
	writeUsage(w, sum)

	writeHeader(w, "Reminders")
	counts, err := store.ReminderCounts()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  pending %d, completed %d, cancelled %d\n",
		counts[storage.ReminderPending], counts[storage.ReminderCompleted], counts[storage.ReminderCancelled])

	unresolved, err := store.ListErrors(true, 100)
	if err != nil {
		return err
	}
	writeHeader(w, "Health")
	fmt.Fprintf(w, "  unresolved errors: %s\n", countLabel(len(unresolved), 100))
	if backupDir != "" {
		backups, err := store.ListBackups(backupDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  backups in %s: %d\n", backupDir, len(backups))
	}
	return nil
}

var exploreRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			list, err := store.GetRecentInteractions(limit)
			if err != nil {
				return err
			}
			writeInteractions(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var exploreSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find turns whose input or response contains text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			list, err := store.SearchInteractions(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			writeInteractions(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var exploreCommandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Rank the most used commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			usage, err := store.MostUsedCommands(limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(usage) == 0 {
				fmt.Fprintln(w, "No commands found.")
				return nil
			}
			for i, u := range usage {
				fmt.Fprintf(w, "%2d. %-24s %4d  %s\n", i+1, u.Keyword, u.UsageCount,
					colorize(styleMuted, "last "+u.LastUsed.Local().Format(displayTime)))
			}
			return nil
		})
	},
}

var exploreSessionCmd = &cobra.Command{
	Use:   "session [id]",
	Short: "Show a session and its turns (latest when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			var sess storage.Session
			var err error
			if len(args) == 1 {
				id, perr := parseID(args[0])
				if perr != nil {
					return perr
				}
				sess, err = store.GetSession(id)
			} else {
				sess, err = store.LatestSession()
			}
			if err != nil {
				return err
			}
			return writeSessionDetail(cmd.OutOrStdout(), store, sess)
		})
	},
}

func writeSessionDetail(w io.Writer, store *storage.Store, sess storage.Session) error {
	writeHeader(w, fmt.Sprintf("Session %d", sess.ID))
	writeSession(w, sess)

	turns, err := store.SessionInteractions(sess.ID)
	if err != nil {
		return err
	}
	writeHeader(w, "Turns")
	writeInteractions(w, turns)
	for _, t := range turns {
		if t.Kind != storage.KindCommand {
			continue
		}
		cmds, err := store.CommandsForInteraction(t.ID)
		if err != nil {
			return err
		}
		for _, c := range cmds {
			status := colorize(styleSuccess, "ok")
			if !c.Success {
				status = colorize(styleError, "failed")
			}
			fmt.Fprintf(w, "    #%d %s -> %s [%s]\n", t.ID, c.Keyword, c.ActionType, status)
		}
	}
	return nil
}

var explorePrefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "List stored preferences with their types",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			prefs, err := store.ListPreferences()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(prefs) == 0 {
				fmt.Fprintln(w, "No preferences set.")
				return nil
			}
			for _, p := range prefs {
				fmt.Fprintf(w, "  %s = %s %s\n", colorize(styleBold, p.Key), p.Raw,
					colorize(styleMuted, "("+string(p.Type)+")"))
			}
			return nil
		})
	},
}

var exploreRemindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List pending reminders, soonest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store, _ config.Config) error {
			list, err := store.GetPendingReminders()
			if err != nil {
				return err
			}
			writeReminders(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var exploreErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List logged errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			list, err := store.ListErrors(!all, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "No errors found.")
				return nil
			}
			for _, e := range list {
				module := "-"
				if e.Module != nil {
					module = *e.Module
				}
				mark := " "
				if e.Resolved {
					mark = colorize(styleSuccess, "✓")
				}
				fmt.Fprintf(w, "%s %4d  %s  %s/%s  %s\n", mark, e.ID,
					e.Timestamp.Local().Format(displayTime), module, e.ErrorType, truncate(e.Message, 80))
			}
			return nil
		})
	},
}

var exploreUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage totals, or hourly buckets for one date",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		date, _ := cmd.Flags().GetString("date")
		return withStore(func(store *storage.Store, _ config.Config) error {
			w := cmd.OutOrStdout()
			if date != "" {
				buckets, err := store.UsageBuckets(date)
				if err != nil {
					return err
				}
				if len(buckets) == 0 {
					fmt.Fprintf(w, "No usage recorded on %s.\n", date)
					return nil
				}
				for _, b := range buckets {
					fmt.Fprintf(w, "  %02d:00  %3d turns  %3d commands  %3d ai  avg %.2fs\n",
						b.Hour, b.InteractionCount, b.CommandCount, b.AICount, b.AvgDuration)
				}
				return nil
			}
			sum, err := store.UsageStatistics(days)
			if err != nil {
				return err
			}
			writeUsage(w, sum)
			return nil
		})
	},
}

var exploreModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the model load history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			loads, err := store.ModelHistory(limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, m := range loads {
				took := "-"
				if m.LoadTime != nil {
					took = fmt.Sprintf("%.2fs", *m.LoadTime)
				}
				fmt.Fprintf(w, "  %s  %-8s %-20s %s\n", m.LoadedAt.Local().Format(displayTime), m.ModelType, m.ModelName, took)
			}
			return nil
		})
	},
}

var exploreContextCmd = &cobra.Command{
	Use:   "context <text>",
	Short: "Search remembered context, most important first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *storage.Store, _ config.Config) error {
			hits, err := store.SearchContext(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(w, "No results found.")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(w, "%s [importance %.2f] %s\n  %s\n",
					colorize(styleBold, fmt.Sprintf("#%d", h.ID)), h.Importance,
					colorize(styleMuted, strings.Join(h.Keywords, ", ")), truncate(h.Content, 300))
			}
			return nil
		})
	},
}

func init() {
	exploreRecentCmd.Flags().Int("limit", 10, "maximum number of turns")
	exploreSearchCmd.Flags().Int("limit", 20, "maximum number of turns")
	exploreCommandsCmd.Flags().Int("limit", 10, "maximum number of commands")
	exploreErrorsCmd.Flags().Bool("all", false, "include resolved errors")
	exploreErrorsCmd.Flags().Int("limit", 50, "maximum number of errors")
	exploreUsageCmd.Flags().Int("days", 7, "trailing window in days")
	exploreUsageCmd.Flags().String("date", "", "show hourly buckets for YYYY-MM-DD")
	exploreModelsCmd.Flags().Int("limit", 10, "maximum number of loads")
	exploreContextCmd.Flags().Int("limit", 5, "maximum number of entries")

	exploreCmd.AddCommand(exploreOverviewCmd)
	exploreCmd.AddCommand(exploreRecentCmd)
	exploreCmd.AddCommand(exploreSearchCmd)
	exploreCmd.AddCommand(exploreCommandsCmd)
	exploreCmd.AddCommand(exploreSessionCmd)
	exploreCmd.AddCommand(explorePrefsCmd)
	exploreCmd.AddCommand(exploreRemindersCmd)
	exploreCmd.AddCommand(exploreErrorsCmd)
	exploreCmd.AddCommand(exploreUsageCmd)
	exploreCmd.AddCommand(exploreModelsCmd)
	exploreCmd.AddCommand(exploreContextCmd)
}

func writeSession(w io.Writer, s storage.Session) {
	end := "open"
	if s.EndTime != nil {
		end = s.EndTime.Local().Format(displayTime)
	}
	fmt.Fprintf(w, "  #%d  %s → %s\n", s.ID, s.StartTime.Local().Format(displayTime), end)
	fmt.Fprintf(w, "  %d turns (%d commands, %d ai)", s.TotalInteractions, s.TotalCommands, s.TotalAIResponses)
	if s.AverageDuration != nil {
		fmt.Fprintf(w, ", avg %.2fs", *s.AverageDuration)
	}
	fmt.Fprintln(w)
}

func writeInteractions(w io.Writer, list []storage.Interaction) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return
	}
	for _, ix := range list {
		kind := colorize(styleStep, string(ix.Kind))
		fmt.Fprintf(w, "%s  %s  %-7s %s\n", colorize(styleMuted, fmt.Sprintf("#%d", ix.ID)),
			ix.Timestamp.Local().Format(displayTime), kind, truncate(ix.UserInput, 60))
		fmt.Fprintf(w, "    ↳ %s\n", truncate(ix.Response, 100))
	}
}

func writeReminders(w io.Writer, list []storage.Reminder) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No pending reminders.")
		return
	}
	for _, r := range list {
		when := "unscheduled"
		if r.ScheduledTime != nil {
			when = r.ScheduledTime.Local().Format(displayTime)
		}
		fmt.Fprintf(w, "%4d  p%d  %-19s  %s\n", r.ID, r.Priority, when, r.Task)
	}
}

func writeUsage(w io.Writer, sum storage.UsageSummary) {
	fmt.Fprintf(w, "  %d turns (%d commands, %d ai)", sum.TotalInteractions, sum.Commands, sum.AIResponses)
	if sum.AvgDuration != nil {
		fmt.Fprintf(w, ", avg %.2fs", *sum.AvgDuration)
	}
	fmt.Fprintln(w)
	if sum.FirstInteraction != nil && sum.LastInteraction != nil {
		fmt.Fprintf(w, "  from %s to %s\n",
			sum.FirstInteraction.Local().Format(displayTime), sum.LastInteraction.Local().Format(displayTime))
	}
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
