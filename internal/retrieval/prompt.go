package retrieval

import (
	"strings"

	"github.com/kalambet/jarvis/internal/storage"
)

const defaultMaxContextTokens = 1000

const (
	contextHeader  = "Contexto relevante de conversaciones previas:\n"
	questionHeader = "\n\nPregunta actual: "
)

// InjectContext prefixes the question with the content of the retrieved
// entries. With no entries the question is returned unchanged.
func InjectContext(entries []storage.ContextEntry, question string) string {
	return injectWithBudget(entries, question, defaultMaxContextTokens)
}

// injectWithBudget keeps entries in the order given (already ranked) and
// skips any entry that would push the injected context past maxTokens.
func injectWithBudget(entries []storage.ContextEntry, question string, maxTokens int) string {
	if len(entries) == 0 {
		return question
	}

	remaining := maxTokens - EstimateTokens(contextHeader) - EstimateTokens(questionHeader)
	var selected []string
	for _, e := range entries {
		tokens := EstimateTokens(e.Content) + 1
		if tokens > remaining {
			continue
		}
		selected = append(selected, e.Content)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return question
	}

	var sb strings.Builder
	sb.WriteString(contextHeader)
	sb.WriteString(strings.Join(selected, "\n"))
	sb.WriteString(questionHeader)
	sb.WriteString(question)
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
