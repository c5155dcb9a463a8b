package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	var r struct {
		Models []entry `json:"models"`
	}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:8b"))
	}))
	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() after close = true, want false")
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:8b", "mistral:latest"))
	}))
	defer srv.Close()
	c := New(srv.URL)

	tests := []struct {
		name string
		want bool
	}{
		{"llama3.1:8b", true},
		{"mistral", true},
		{"phi3.5", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPullModel_ReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"status":"pulling manifest"}`+"\n")
		io.WriteString(w, `{"status":"downloading","total":100,"completed":50}`+"\n")
		io.WriteString(w, `{"status":"success"}`+"\n")
	}))
	defer srv.Close()

	var statuses []string
	err := New(srv.URL).PullModel(context.Background(), "llama3.1:8b", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 3 || statuses[2] != "success" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "llama3.1:8b" || req.Stream || len(req.Messages) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"message": Message{Role: "assistant", Content: "París"}})
	}))
	defer srv.Close()

	got, err := New(srv.URL).Chat(context.Background(), "llama3.1:8b", []Message{{Role: "user", Content: "capital de Francia"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "París" {
		t.Errorf("Chat = %q", got)
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Chat(context.Background(), "m", nil); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}

// chatServer answers every chat with the same padded reply and records the
// message count of each request.
type chatServer struct {
	mu     sync.Mutex
	counts []int
	fail   bool
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req chatRequest
	json.NewDecoder(r.Body).Decode(&req)
	s.counts = append(s.counts, len(req.Messages))
	json.NewEncoder(w).Encode(map[string]any{"message": Message{Role: "assistant", Content: "  respuesta  "}})
}

func TestResponder_KeepsHistory(t *testing.T) {
	cs := &chatServer{}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	r := NewResponder(New(srv.URL), "llama3.1:8b", "")
	if r.ModelName() != "llama3.1:8b" {
		t.Errorf("ModelName = %q", r.ModelName())
	}

	got, err := r.Respond(context.Background(), "hola")
	if err != nil {
		t.Fatal(err)
	}
	if got != "respuesta" {
		t.Errorf("reply not trimmed: %q", got)
	}
	r.Respond(context.Background(), "¿y ahora?")

	// system + user, then system + user + assistant + user
	if len(cs.counts) != 2 || cs.counts[0] != 2 || cs.counts[1] != 4 {
		t.Errorf("message counts = %v", cs.counts)
	}
	if r.Turns() != 4 {
		t.Errorf("Turns = %d, want 4", r.Turns())
	}

	cs.mu.Lock()
	cs.fail = true
	cs.mu.Unlock()
	if _, err := r.Respond(context.Background(), "falla"); err == nil {
		t.Fatal("expected error")
	}
	if r.Turns() != 4 {
		t.Errorf("failed turn changed history: %d", r.Turns())
	}

	r.Reset()
	if r.Turns() != 0 {
		t.Errorf("Turns after Reset = %d", r.Turns())
	}
}

func TestEnsureReady_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := EnsureReady(context.Background(), New(srv.URL), "llama3.1:8b", io.Discard)
	if err == nil {
		t.Fatal("expected error when server is down")
	}
}

func TestEnsureReady_PullsMissingModel(t *testing.T) {
	var pulled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("other:latest"))
		case "/api/pull":
			pulled = true
			io.WriteString(w, `{"status":"success"}`+"\n")
		case "/api/chat":
			json.NewEncoder(w).Encode(map[string]any{"message": Message{Role: "assistant", Content: "hola"}})
		}
	}))
	defer srv.Close()

	var out strings.Builder
	if _, err := EnsureReady(context.Background(), New(srv.URL), "llama3.1:8b", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !pulled {
		t.Error("missing model was not pulled")
	}
	if !strings.Contains(out.String(), "model llama3.1:8b: ready") {
		t.Errorf("output = %q", out.String())
	}
}
