package retrieval

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/jarvis/internal/storage"
)

type fakeSearcher struct {
	entries []storage.ContextEntry
	queries []string
	err     error
}

func (f *fakeSearcher) SearchContext(query string, limit int) ([]storage.ContextEntry, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.ContextEntry
	for _, e := range f.entries {
		if strings.Contains(e.Content, query) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestRetrieve_VerbatimMatch(t *testing.T) {
	fs := &fakeSearcher{entries: []storage.ContextEntry{{ID: 1, Content: "receta de paella"}}}
	r := NewRetriever(fs, 3)

	got, err := r.Retrieve("paella")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(fs.queries) != 1 {
		t.Errorf("got %d entries after %d queries", len(got), len(fs.queries))
	}
}

func TestRetrieve_KeywordFallbackMergesAndRanks(t *testing.T) {
	now := time.Now()
	fs := &fakeSearcher{entries: []storage.ContextEntry{
		{ID: 1, Content: "receta de paella valenciana", Importance: 0.5, Timestamp: now},
		{ID: 2, Content: "la paella lleva azafrán", Importance: 0.7, Timestamp: now.Add(-time.Hour)},
		{ID: 3, Content: "receta de gazpacho", Importance: 0.5, Timestamp: now.Add(time.Minute)},
	}}
	r := NewRetriever(fs, 2)

	got, err := r.Retrieve("dame una receta de paella")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("order = %d, %d; want 2, 3", got[0].ID, got[1].ID)
	}
}

func TestRetrieve_Error(t *testing.T) {
	r := NewRetriever(&fakeSearcher{err: errors.New("db closed")}, 0)
	if _, err := r.Retrieve("x"); err == nil {
		t.Fatal("expected error")
	}
	if r.limit != 3 {
		t.Errorf("default limit = %d, want 3", r.limit)
	}
}

func TestAugment(t *testing.T) {
	s, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.SaveContext(nil, "Usuario: ¿capital de Francia?\nAsistente: París", []string{"capital", "francia"}, 0.5)

	r := NewRetriever(s, 3)
	prompt, used, err := r.Augment("Francia")
	if err != nil {
		t.Fatal(err)
	}
	if len(used) != 1 || !strings.HasPrefix(prompt, "Contexto relevante") || !strings.HasSuffix(prompt, "Pregunta actual: Francia") {
		t.Errorf("unexpected prompt %q (%d entries)", prompt, len(used))
	}

	prompt, used, _ = r.Augment("Japón")
	if prompt != "Japón" || len(used) != 0 {
		t.Errorf("no match should leave question alone: %q", prompt)
	}
}
