package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jarvis/internal/storage"
)

const (
	defaultChunkRunes   = 800
	maxParallelExtracts = 4
	maxTextFileSize     = 5 << 20 // 5MB
)

// ContextSaver is the slice of the store the Ingester writes to.
// Implemented by storage.Store.
type ContextSaver interface {
	SaveContext(interactionID *int64, content string, keywords []string, importance float64) (int64, error)
}

// Ingester turns documents into context entries that are not tied to any
// conversation turn.
type Ingester struct {
	store      ContextSaver
	chunkRunes int
	importance float64
	logger     *slog.Logger
}

// NewIngester creates an Ingester with 800-character chunks and the default
// importance.
func NewIngester(store ContextSaver, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:      store,
		chunkRunes: defaultChunkRunes,
		importance: importanceDefault,
		logger:     logger,
	}
}

// FileResult reports what was stored for one input file.
type FileResult struct {
	Path       string
	ContextIDs []int64
	Err        error
}

// IngestFiles extracts every file concurrently, then stores the chunks one
// file at a time. A file that cannot be read is reported in its result and
// does not stop the others; a store failure aborts the run.
func (in *Ingester) IngestFiles(ctx context.Context, paths []string) ([]FileResult, error) {
	texts := make([]string, len(paths))
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelExtracts)
	for i, p := range paths {
		results[i].Path = p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := ExtractText(p)
			if err != nil {
				results[i].Err = err
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range paths {
		if results[i].Err != nil {
			in.logger.Warn("skipping unreadable document", "path", paths[i], "error", results[i].Err)
			continue
		}
		ids, err := in.IngestText(texts[i])
		results[i].ContextIDs = ids
		if err != nil {
			return results, fmt.Errorf("storing %s: %w", paths[i], err)
		}
		in.logger.Info("document ingested", "path", paths[i], "chunks", len(ids))
	}
	return results, nil
}

// IngestText chunks text and stores each chunk with its keywords.
func (in *Ingester) IngestText(text string) ([]int64, error) {
	var ids []int64
	for _, chunk := range Chunk(text, in.chunkRunes) {
		id, err := in.store.SaveContext(nil, chunk, ExtractKeywords(chunk), in.importance)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ExtractText returns the plain text of a document, chosen by extension:
// PDF, HTML, or anything else read as UTF-8 text.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return parseHTML(f)
	default:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		b, err := io.ReadAll(io.LimitReader(f, maxTextFileSize))
		if err != nil {
			return "", err
		}
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%s is not a text document", path)
		}
		return cleanText(string(b)), nil
	}
}

func parsePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", pageIndex, err)
		}
		sb.WriteString(cleanText(text))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
}

// parseHTML collects visible text, starting a new paragraph at block
// elements and dropping script and style bodies.
func parseHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return cleanText(sb.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockElements[tag] {
				sb.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				sb.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
	}
}

// cleanText normalizes line endings and collapses runs of blank lines.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}

// Chunk packs paragraphs into pieces of at most maxRunes characters.
// Paragraphs longer than that are split on word boundaries.
func Chunk(text string, maxRunes int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece string, sep string) {
		n := utf8.RuneCountInString(piece)
		if curLen > 0 && curLen+utf8.RuneCountInString(sep)+n > maxRunes {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += utf8.RuneCountInString(sep)
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, para := range strings.Split(cleanText(text), "\n\n") {
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= maxRunes {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, w := range strings.Fields(para) {
			add(w, " ")
		}
		flush()
	}
	flush()
	return chunks
}
