package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/jarvis/internal/assistant"
	"github.com/kalambet/jarvis/internal/ollama"
	"github.com/kalambet/jarvis/internal/storage"
)

const maxRemindersShown = 5

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant by typing",
	Long: `Talk to the assistant by typing. Every turn is stored in the current
session; commands such as "abrir youtube" or "dame la hora" run locally and
everything else is answered by the Ollama model with remembered context.

Type "salir" or press Ctrl+D to end the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		return runChat(model, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().String("model", "", "Ollama model (overrides assistant.model)")
}

func runChat(model string, in io.Reader, out io.Writer) error {
	rt, err := openServices()
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if model == "" {
		model = cfg.Assistant.Model
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ollama.New(cfg.Ollama.BaseURL)
	loadTime, err := ollama.EnsureReady(ctx, client, model, os.Stderr)
	if err != nil {
		module := "ollama"
		if _, logErr := rt.store.LogError("InitializationError", err.Error(), &module, nil); logErr != nil {
			slog.Warn("could not store error record", "error", logErr)
		}
		rt.store.Close()
		return err
	}

	rec := assistant.NewRecorder(rt.store, model, slog.Default())
	rec.SetModelLoadTime(loadTime)
	if _, err := rec.Start(); err != nil {
		rt.store.Close()
		return err
	}
	defer func() {
		dir, keep := "", 0
		if cfg.Backup.OnShutdown {
			dir, keep = cfg.Storage.BackupDir, cfg.Backup.MaxBackups
		}
		if path, err := rec.Close(dir, keep); err != nil {
			printError("closing session: %v", err)
		} else if path != "" {
			printSuccess("Backup written to %s", path)
		}
		if err := rt.store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	a := &assistant.Assistant{
		Recorder:  rec,
		Retriever: rt.ret,
		Responder: ollama.NewResponder(client, model, ""),
		Commands:  assistant.NewKeywordExecutor(nil),
		Logger:    slog.Default(),
	}

	name, err := rt.prefs.String("user_name", "Usuario")
	if err != nil {
		slog.Warn("reading user_name preference", "error", err)
	}
	fmt.Fprintf(out, "¡Hola, %s!\n", name)
	if pending, err := rt.store.GetPendingReminders(); err == nil {
		writePendingReminders(out, pending)
	}
	return chatLoop(ctx, a, in, out)
}

func writePendingReminders(w io.Writer, pending []storage.Reminder) {
	if len(pending) == 0 {
		return
	}
	writeHeader(w, "Recordatorios pendientes")
	if len(pending) > maxRemindersShown {
		pending = pending[:maxRemindersShown]
	}
	writeReminders(w, pending)
	fmt.Fprintln(w)
}

// chatLoop answers one line at a time until the input ends, the user says
// goodbye or ctx is cancelled. Failed turns are reported and the loop goes on.
func chatLoop(ctx context.Context, a *assistant.Assistant, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, colorize(styleBold, "tú> "))
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "salir", "adiós", "adios":
			fmt.Fprintln(out, colorize(styleStep, "jarvis> ")+"Hasta luego.")
			return nil
		}

		reply, err := a.Handle(ctx, line)
		if err != nil {
			printError("%v", err)
			if reply == "" {
				continue
			}
		}
		fmt.Fprintln(out, colorize(styleStep, "jarvis> ")+reply)
	}
}
