package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jarvis/internal/preferences"
	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

type AppDeps struct {
	Store       *storage.Store
	Preferences *preferences.Manager
	Retriever   *retrieval.Retriever
	Ingester    *retrieval.Ingester
	Token       string
	BackupDir   string
	MaxBackups  int
	Logger      *slog.Logger
}

// NewAppHandler serves the management API. Everything except /health needs
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Get("/interactions/recent", handleRecentInteractions(deps))
		r.Get("/interactions/search", handleSearchInteractions(deps))
		r.Get("/commands/top", handleTopCommands(deps))

		r.Get("/preferences", handleListPreferences(deps))
		r.Get("/preferences/{key}", handleGetPreference(deps))
		r.Put("/preferences/{key}", handlePutPreference(deps))
		r.Delete("/preferences/{key}", handleDeletePreference(deps))

		r.Get("/reminders/pending", handlePendingReminders(deps))
		r.Post("/reminders", handleCreateReminder(deps))
		r.Post("/reminders/{id}/complete", handleReminderTransition(deps, deps.Store.CompleteReminder))
		r.Post("/reminders/{id}/cancel", handleReminderTransition(deps, deps.Store.CancelReminder))

		r.Get("/context/search", handleSearchContext(deps))
		r.Post("/context", handleSaveContext(deps))
		r.Post("/ingest", handleIngest(deps))

		r.Get("/usage", handleUsageSummary(deps))
		r.Get("/usage/{date}", handleUsageBuckets(deps))
		r.Get("/errors", handleListErrors(deps))
		r.Post("/errors/{id}/resolve", handleResolveError(deps))

		r.Post("/backup", handleBackup(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.IntegrityCheck(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "integrity check failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Store.ListSessions(parseIntParam(r, "limit", 20, 100))
		if err != nil {
			storeError(w, err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		sess, err := deps.Store.GetSession(id)
		if err != nil {
			storeError(w, err)
			return
		}
		turns, err := deps.Store.SessionInteractions(id)
		if err != nil {
			storeError(w, err)
			return
		}
		if turns == nil {
			turns = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "interactions": turns})
	}
}

func handleRecentInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.GetRecentInteractions(parseIntParam(r, "limit", 10, 100))
		if err != nil {
			storeError(w, err)
			return
		}
		if list == nil {
			list = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleSearchInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		list, err := deps.Store.SearchInteractions(q, parseIntParam(r, "limit", 20, 100))
		if err != nil {
			storeError(w, err)
			return
		}
		if list == nil {
			list = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleTopCommands(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := deps.Store.MostUsedCommands(parseIntParam(r, "limit", 10, 100))
		if err != nil {
			storeError(w, err)
			return
		}
		if top == nil {
			top = []storage.CommandUsage{}
		}
		writeJSON(w, http.StatusOK, top)
	}
}

type preferenceView struct {
	Key   string           `json:"key"`
	Type  storage.PrefType `json:"type"`
	Value any              `json:"value"`
}

func handleListPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Store.ListPreferences()
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]preferenceView, 0, len(prefs))
		for _, p := range prefs {
			v, err := p.Decode()
			if err != nil {
				deps.Logger.Warn("skipping undecodable preference", "key", p.Key, "error", err)
				continue
			}
			out = append(out, preferenceView{Key: p.Key, Type: v.Type, Value: v.Interface()})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetPreference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		v, err := deps.Preferences.Get(key, storage.Value{})
		if err != nil {
			storeError(w, err)
			return
		}
		if v.Type == "" {
			httpError(w, http.StatusNotFound, "not_found", "preference %q not set", key)
			return
		}
		writeJSON(w, http.StatusOK, preferenceView{Key: key, Type: v.Type, Value: v.Interface()})
	}
}

type putPreferenceRequest struct {
	Type  storage.PrefType `json:"type"`
	Value json.RawMessage  `json:"value"`
}

func handlePutPreference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var req putPreferenceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Value) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}

		raw, err := decodeNumbers(req.Value)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid value: %v", err)
			return
		}
		typ := req.Type
		if typ == "" {
			typ = inferPrefType(raw)
		}
		if err := deps.Preferences.SetAny(key, raw, typ); err != nil {
			storeError(w, err)
			return
		}
		v, err := deps.Preferences.Get(key, storage.Value{})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preferenceView{Key: key, Type: v.Type, Value: v.Interface()})
	}
}

// decodeNumbers keeps JSON numbers as json.Number so integers survive.
func decodeNumbers(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func inferPrefType(v any) storage.PrefType {
	switch n := v.(type) {
	case string:
		return storage.PrefString
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return storage.PrefInt
		}
		return storage.PrefFloat
	default:
		return storage.PrefJSON
	}
}

func handleDeletePreference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Preferences.Delete(chi.URLParam(r, "key")); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handlePendingReminders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.GetPendingReminders()
		if err != nil {
			storeError(w, err)
			return
		}
		if list == nil {
			list = []storage.Reminder{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type createReminderRequest struct {
	Task          string     `json:"task"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	Priority      int        `json:"priority"`
	Notes         *string    `json:"notes"`
}

func handleCreateReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReminderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := deps.Store.CreateReminder(req.Task, req.ScheduledTime, req.Priority, req.Notes)
		if err != nil {
			storeError(w, err)
			return
		}
		rem, err := deps.Store.GetReminder(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rem)
	}
}

func handleReminderTransition(deps AppDeps, transition func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		if err := transition(id); err != nil {
			storeError(w, err)
			return
		}
		rem, err := deps.Store.GetReminder(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}

func handleSearchContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		entries, err := deps.Retriever.Retrieve(q)
		if err != nil {
			storeError(w, err)
			return
		}
		if entries == nil {
			entries = []storage.ContextEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type saveContextRequest struct {
	InteractionID *int64   `json:"interaction_id"`
	Content       string   `json:"content"`
	Keywords      []string `json:"keywords"`
	Importance    *float64 `json:"importance"`
}

func handleSaveContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		importance := 0.5
		if req.Importance != nil {
			importance = *req.Importance
		}
		if req.Keywords == nil {
			req.Keywords = retrieval.ExtractKeywords(req.Content)
		}
		id, err := deps.Store.SaveContext(req.InteractionID, req.Content, req.Keywords, importance)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
	}
}

type ingestRequest struct {
	Content string `json:"content"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ingester == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "ingestion is not enabled")
			return
		}
		var req ingestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		ids, err := deps.Ingester.IngestText(req.Content)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ids": ids, "chunks": len(ids)})
	}
}

func handleUsageSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Store.UsageStatistics(parseIntParam(r, "days", 7, 3650))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func handleUsageBuckets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buckets, err := deps.Store.UsageBuckets(chi.URLParam(r, "date"))
		if err != nil {
			storeError(w, err)
			return
		}
		if buckets == nil {
			buckets = []storage.UsageBucket{}
		}
		writeJSON(w, http.StatusOK, buckets)
	}
}

func handleListErrors(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unresolved := r.URL.Query().Get("unresolved") == "true"
		recs, err := deps.Store.ListErrors(unresolved, parseIntParam(r, "limit", 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		if recs == nil {
			recs = []storage.ErrorRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleResolveError(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		if err := deps.Store.ResolveError(id); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	}
}

func handleBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.BackupDir == "" {
			httpError(w, http.StatusNotImplemented, "api_error", "no backup directory configured")
			return
		}
		path, err := deps.Store.Backup(deps.BackupDir)
		if err != nil {
			storeError(w, err)
			return
		}
		resp := map[string]any{"path": path}
		if r.URL.Query().Get("prune") == "true" && deps.MaxBackups > 0 {
			removed, err := deps.Store.PruneBackups(deps.BackupDir, deps.MaxBackups)
			if err != nil {
				storeError(w, err)
				return
			}
			if removed == nil {
				removed = []string{}
			}
			resp["pruned"] = removed
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}
