package loader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/docpilot/rag"
)

// MarkdownLoader loads a Markdown file as a single Document, keeping the
// heading structure intact so the chunker can build heading paths from it.
// The document title is taken from the first level-1 heading, falling back
// to the file name.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// Load reads a Markdown file into a Document.
func (l *MarkdownLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return []rag.Document{}, nil
	}

	title := firstH1(content)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}

	doc := rag.Document{
		ID:      source,
		Title:   title,
		Content: content,
		Metadata: map[string]any{
			"source_file":  filepath.Base(source),
			"source_path":  source,
			"content_type": "text/markdown",
			"loader":       "markdown",
		},
	}

	return []rag.Document{doc}, nil
}

// firstH1 returns the text of the first level-1 ATX heading, if any.
func firstH1(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// SupportedTypes returns the extensions handled by MarkdownLoader.
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
