package assistant

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Action types understood by KeywordExecutor.
const (
	ActionOpenBrowser = "open_browser"
	ActionOpenURL     = "open_url"
	ActionGetTime     = "get_time"
)

// Command maps a spoken keyword to an action.
type Command struct {
	Keyword string
	Action  string
	Arg     string
}

// DefaultCommands is the built-in command table. Earlier entries win when
// several keywords appear in the same input.
var DefaultCommands = []Command{
	{Keyword: "abrir navegador", Action: ActionOpenBrowser, Arg: "https://www.google.com"},
	{Keyword: "abrir youtube", Action: ActionOpenURL, Arg: "https://www.youtube.com"},
	{Keyword: "abrir spotify", Action: ActionOpenURL, Arg: "https://open.spotify.com"},
	{Keyword: "dame la hora", Action: ActionGetTime},
}

// Opener opens a URL with the desktop's default handler.
type Opener func(ctx context.Context, target string) error

// SystemOpener launches the platform URL handler without waiting for it.
func SystemOpener(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening %s: %w", target, err)
	}
	go cmd.Wait()
	return nil
}

// KeywordExecutor recognizes commands by case-insensitive keyword containment.
type KeywordExecutor struct {
	open Opener
	now  func() time.Time

	mu       sync.RWMutex
	commands []Command
}

// NewKeywordExecutor creates an executor over DefaultCommands. A nil opener
// uses SystemOpener.
func NewKeywordExecutor(open Opener) *KeywordExecutor {
	if open == nil {
		open = SystemOpener
	}
	return &KeywordExecutor{
		open:     open,
		now:      time.Now,
		commands: append([]Command(nil), DefaultCommands...),
	}
}

// Add registers a command, replacing any with the same keyword.
func (e *KeywordExecutor) Add(c Command) {
	c.Keyword = strings.ToLower(strings.TrimSpace(c.Keyword))
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.commands {
		if e.commands[i].Keyword == c.Keyword {
			e.commands[i] = c
			return
		}
	}
	e.commands = append(e.commands, c)
}

// Remove drops the command for keyword and reports whether it existed.
func (e *KeywordExecutor) Remove(keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.commands {
		if e.commands[i].Keyword == keyword {
			e.commands = append(e.commands[:i], e.commands[i+1:]...)
			return true
		}
	}
	return false
}

// Keywords lists the registered keywords in match order.
func (e *KeywordExecutor) Keywords() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.commands))
	for i, c := range e.commands {
		out[i] = c.Keyword
	}
	return out
}

func (e *KeywordExecutor) match(input string) (Command, bool) {
	lower := strings.ToLower(input)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.commands {
		if strings.Contains(lower, c.Keyword) {
			return c, true
		}
	}
	return Command{}, false
}

// Execute runs the first command whose keyword appears in input. A command
// whose action fails is still handled: the outcome reports Success false and
// a spoken apology as the result.
func (e *KeywordExecutor) Execute(ctx context.Context, input string) (CommandOutcome, bool, error) {
	c, ok := e.match(input)
	if !ok {
		return CommandOutcome{}, false, nil
	}

	out := CommandOutcome{Keyword: c.Keyword, ActionType: c.Action, Success: true}
	switch c.Action {
	case ActionGetTime:
		out.Result = fmt.Sprintf("Son las %s.", e.now().Format("15:04"))
	case ActionOpenURL, ActionOpenBrowser:
		if err := e.open(ctx, c.Arg); err != nil {
			out.Success = false
			out.Result = "No pude abrir " + siteName(c.Arg) + "."
			return out, true, nil
		}
		if c.Action == ActionOpenBrowser {
			out.Result = "Abriendo el navegador."
		} else {
			out.Result = "Abriendo " + siteName(c.Arg) + "."
		}
	default:
		out.Success = false
		out.Result = "Comando no reconocido."
	}
	return out, true, nil
}

// siteName turns https://www.youtube.com into Youtube.
func siteName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	parts := strings.Split(u.Hostname(), ".")
	name := parts[0]
	if len(parts) > 2 {
		name = parts[len(parts)-2]
	}
	if name == "" {
		return target
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
