package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/docpilot/rag"
)

// JSONLoaderConfig configures the JSON/JSONL loader.
type JSONLoaderConfig struct {
	// ContentField is the JSON field name to use as Document.Content.
	ContentField string
	// TitleField is the JSON field name to use as Document.Title.
	TitleField string
	// IDField is the JSON field name to use as Document.ID.
	// If empty, a path-based ID is generated.
	IDField string
	// URLField is the JSON field name to use as Document.SourceURL.
	URLField string
}

// JSONLoader loads documents from JSON (single object or array) and JSONL
// files. Each object becomes one Document; configured fields are lifted into
// the Document, everything else lands in Metadata.
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	if config.ContentField == "" {
		config.ContentField = "content"
	}
	if config.TitleField == "" {
		config.TitleField = "title"
	}
	if config.IDField == "" {
		config.IDField = "id"
	}
	if config.URLField == "" {
		config.URLField = "url"
	}
	return &JSONLoader{config: config}
}

// Load reads a JSON or JSONL file and returns Documents.
func (l *JSONLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.ToLower(filepath.Ext(source)) == ".jsonl" {
		return l.loadJSONL(source)
	}
	return l.loadJSON(source)
}

func (l *JSONLoader) loadJSON(source string) ([]rag.Document, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []rag.Document{}, nil
	}

	if trimmed[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("json loader: parsing array in %s: %w", source, err)
		}
		return l.objectsToDocs(source, items), nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("json loader: parsing object in %s: %w", source, err)
	}
	return l.objectsToDocs(source, []map[string]any{obj}), nil
}

func (l *JSONLoader) loadJSONL(source string) ([]rag.Document, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var items []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("jsonl loader: %s line %d: %w", source, lineNo, err)
		}
		items = append(items, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", source, err)
	}

	return l.objectsToDocs(source, items), nil
}

func (l *JSONLoader) objectsToDocs(source string, items []map[string]any) []rag.Document {
	docs := make([]rag.Document, 0, len(items))
	for i, item := range items {
		content := stringField(item, l.config.ContentField)
		if content == "" {
			// No content field: serialize the whole object.
			raw, err := json.Marshal(item)
			if err != nil {
				continue
			}
			content = string(raw)
		}

		id := stringField(item, l.config.IDField)
		if id == "" {
			id = fmt.Sprintf("%s#%d", source, i)
		}

		meta := map[string]any{
			"source_file":  filepath.Base(source),
			"source_path":  source,
			"content_type": "application/json",
			"loader":       "json",
		}
		for k, v := range item {
			switch k {
			case l.config.ContentField, l.config.TitleField, l.config.IDField, l.config.URLField:
			default:
				meta[k] = v
			}
		}

		docs = append(docs, rag.Document{
			ID:        id,
			Title:     stringField(item, l.config.TitleField),
			Content:   content,
			SourceURL: stringField(item, l.config.URLField),
			Metadata:  meta,
		})
	}
	return docs
}

func stringField(item map[string]any, field string) string {
	if v, ok := item[field].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// SupportedTypes returns the extensions handled by JSONLoader.
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
