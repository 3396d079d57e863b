package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/docpilot/rag"
)

// FAQLoaderConfig configures the CSV-based FAQ loader.
type FAQLoaderConfig struct {
	// Delimiter is the field separator. Defaults to ','.
	Delimiter rune
	// QuestionColumn is the header name of the question column. Defaults to "question".
	QuestionColumn string
	// AnswerColumn is the header name of the answer column. Defaults to "answer".
	AnswerColumn string
}

// FAQLoader loads question/answer pairs from CSV files. Each row becomes one
// Document whose content pairs the question with its answer, so a retrieval
// hit on either side surfaces the full entry.
type FAQLoader struct {
	config FAQLoaderConfig
}

// NewFAQLoader creates an FAQLoader with the given config.
func NewFAQLoader(config FAQLoaderConfig) *FAQLoader {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.QuestionColumn == "" {
		config.QuestionColumn = "question"
	}
	if config.AnswerColumn == "" {
		config.AnswerColumn = "answer"
	}
	return &FAQLoader{config: config}
}

// Load reads a CSV file of question/answer rows and returns Documents.
func (l *FAQLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("faq loader: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = l.config.Delimiter
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("faq loader: parsing %s: %w", source, err)
	}
	if len(records) < 2 {
		// Only header or empty file.
		return []rag.Document{}, nil
	}

	questionIdx, answerIdx := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case strings.ToLower(l.config.QuestionColumn):
			questionIdx = i
		case strings.ToLower(l.config.AnswerColumn):
			answerIdx = i
		}
	}
	if questionIdx < 0 || answerIdx < 0 {
		return nil, fmt.Errorf("faq loader: %s is missing %q or %q column",
			source, l.config.QuestionColumn, l.config.AnswerColumn)
	}

	docs := make([]rag.Document, 0, len(records)-1)
	for rowNo, row := range records[1:] {
		if questionIdx >= len(row) || answerIdx >= len(row) {
			continue
		}
		question := strings.TrimSpace(row[questionIdx])
		answer := strings.TrimSpace(row[answerIdx])
		if question == "" || answer == "" {
			continue
		}

		docs = append(docs, rag.Document{
			ID:      fmt.Sprintf("%s#%d", source, rowNo+1),
			Title:   question,
			Content: fmt.Sprintf("Q: %s\nA: %s", question, answer),
			Metadata: map[string]any{
				"source_file":  filepath.Base(source),
				"source_path":  source,
				"content_type": "text/csv",
				"loader":       "faq",
				"doc_type":     "faq",
			},
		})
	}

	return docs, nil
}

// SupportedTypes returns the extensions handled by FAQLoader.
func (l *FAQLoader) SupportedTypes() []string {
	return []string{".csv"}
}
