package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jarvis/internal/preferences"
	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       *storage.Store
	Preferences *preferences.Manager
	Retriever   *retrieval.Retriever
}

// NewMCPServer creates an MCP server exposing the assistant's memory to
// other agents.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"jarvis",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("jarvis: conversation memory, reminders and preferences of a local voice assistant."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recall_context",
			mcp.WithDescription("Find remembered conversation snippets containing a query, most important first."),
			mcp.WithString("query", mcp.Description("Text to look for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpRecallContext(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a snippet so later conversations can retrieve it."),
			mcp.WithString("content", mcp.Description("The text to remember"), mcp.Required()),
			mcp.WithArray("keywords", mcp.Description("Up to five keywords; extracted from content when omitted")),
			mcp.WithNumber("importance", mcp.Description("Ranking weight between 0 and 1 (default 0.5)")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("get_preference",
			mcp.WithDescription("Read a typed user preference."),
			mcp.WithString("key", mcp.Description("Preference key, e.g. tts_rate"), mcp.Required()),
		),
		mcpGetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Write a typed user preference."),
			mcp.WithString("key", mcp.Description("Preference key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value; JSON text when type is json"), mcp.Required()),
			mcp.WithString("type", mcp.Description("One of string, int, float, json (default string)")),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("create_reminder",
			mcp.WithDescription("Create a pending reminder."),
			mcp.WithString("task", mcp.Description("What to remind about"), mcp.Required()),
			mcp.WithString("scheduled_time", mcp.Description("RFC 3339 time, optional")),
			mcp.WithNumber("priority", mcp.Description("Higher is more urgent (default 0)")),
		),
		mcpCreateReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("pending_reminders",
			mcp.WithDescription("List pending reminders, soonest first."),
		),
		mcpPendingReminders(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jarvis://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 conversation turns"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jarvis://preferences",
			"Preferences",
			mcp.WithResourceDescription("All user preferences with their types"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpRecallContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		r := deps.Retriever
		if limit := req.GetInt("limit", 0); limit > 0 {
			r = retrieval.NewRetriever(deps.Store, min(limit, 50))
		}
		entries, err := r.Retrieve(query)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if entries == nil {
			entries = []storage.ContextEntry{}
		}
		return mcpJSON(entries)
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil || content == "" {
			return mcpError("content is required"), nil
		}
		keywords := req.GetStringSlice("keywords", nil)
		if keywords == nil {
			keywords = retrieval.ExtractKeywords(content)
		}
		importance := req.GetFloat("importance", 0.5)

		id, err := deps.Store.SaveContext(nil, content, keywords, importance)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored context %d", id)), nil
	}
}

func mcpGetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		v, err := deps.Preferences.Get(key, storage.Value{})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read preference: %v", err)), nil
		}
		if v.Type == "" {
			return mcpError(fmt.Sprintf("preference %q is not set", key)), nil
		}
		return mcpJSON(preferenceView{Key: key, Type: v.Type, Value: v.Interface()})
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		typ, err := storage.ParsePrefType(req.GetString("type", string(storage.PrefString)))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var raw any = value
		if typ == storage.PrefJSON {
			if err := json.Unmarshal([]byte(value), &raw); err != nil {
				return mcpError(fmt.Sprintf("value is not valid JSON: %v", err)), nil
			}
		}
		if err := deps.Preferences.SetAny(key, raw, typ); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s (%s)", key, value, typ)), nil
	}
}

func mcpCreateReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcpError("task is required"), nil
		}
		var scheduled *time.Time
		if s := req.GetString("scheduled_time", ""); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return mcpError(fmt.Sprintf("scheduled_time must be RFC 3339: %v", err)), nil
			}
			scheduled = &t
		}

		id, err := deps.Store.CreateReminder(task, scheduled, req.GetInt("priority", 0), nil)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create reminder: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created reminder %d", id)), nil
	}
}

func mcpPendingReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Store.GetPendingReminders()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reminders: %v", err)), nil
		}
		if list == nil {
			list = []storage.Reminder{}
		}
		return mcpJSON(list)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.GetRecentInteractions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type turnSummary struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			Kind      string `json:"kind"`
			Input     string `json:"input"`
			Response  string `json:"response"`
		}
		out := make([]turnSummary, len(interactions))
		for i, ix := range interactions {
			out[i] = turnSummary{
				ID:        ix.ID,
				Timestamp: ix.Timestamp.Format(time.RFC3339),
				Kind:      string(ix.Kind),
				Input:     truncateRunes(ix.UserInput, 200),
				Response:  truncateRunes(ix.Response, 200),
			}
		}
		return resourceJSON(req.Params.URI, out)
	}
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all, err := deps.Preferences.All()
		if err != nil {
			return nil, fmt.Errorf("failed to get preferences: %w", err)
		}
		out := make([]preferenceView, 0, len(all))
		for k, v := range all {
			out = append(out, preferenceView{Key: k, Type: v.Type, Value: v.Interface()})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		return resourceJSON(req.Params.URI, out)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func resourceJSON(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(b)},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
