package retrieval

import (
	"fmt"
	"sort"

	"github.com/kalambet/jarvis/internal/storage"
)

// ContextSearcher is the slice of the store the Retriever reads from.
// Implemented by storage.Store.
type ContextSearcher interface {
	SearchContext(query string, limit int) ([]storage.ContextEntry, error)
}

// Retriever finds stored context for a question.
type Retriever struct {
	store ContextSearcher
	limit int
}

// NewRetriever creates a Retriever returning at most limit entries.
// If limit <= 0, 3 is used.
func NewRetriever(store ContextSearcher, limit int) *Retriever {
	if limit <= 0 {
		limit = 3
	}
	return &Retriever{store: store, limit: limit}
}

// Retrieve searches for the whole query first. When nothing contains it
// verbatim, each extracted keyword is searched and the hits are merged and
// re-ranked by importance, then recency.
func (r *Retriever) Retrieve(query string) ([]storage.ContextEntry, error) {
	entries, err := r.store.SearchContext(query, r.limit)
	if err != nil {
		return nil, fmt.Errorf("searching context: %w", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}

	seen := make(map[int64]struct{})
	var merged []storage.ContextEntry
	for _, kw := range ExtractKeywords(query) {
		hits, err := r.store.SearchContext(kw, r.limit)
		if err != nil {
			return nil, fmt.Errorf("searching context for %q: %w", kw, err)
		}
		for _, h := range hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			merged = append(merged, h)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
	if len(merged) > r.limit {
		merged = merged[:r.limit]
	}
	return merged, nil
}

// Augment returns the question enriched with retrieved context, and the
// entries used. A question with no matching context comes back unchanged.
func (r *Retriever) Augment(question string) (string, []storage.ContextEntry, error) {
	entries, err := r.Retrieve(question)
	if err != nil {
		return question, nil, err
	}
	return InjectContext(entries, question), entries, nil
}
