package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/providers"
)

// CategoryMap assigns each category an ordered list of 1-based pages.
// The same page may appear under several categories.
type CategoryMap map[string][]int

// Categories returns the mapped category names in manifest order, so
// downstream stages iterate deterministically.
func (cm CategoryMap) Categories(dt doctype.DocType) []string {
	out := make([]string, 0, len(cm))
	for _, c := range doctype.Categories(dt) {
		if pages, ok := cm[c.Name]; ok && len(pages) > 0 {
			out = append(out, c.Name)
		}
	}
	return out
}

// Classify uploads the document to a multimodal provider and asks it to
// assign pages to the document type's categories. Malformed JSON is a
// hard failure for this stage; there is no guessing fallback.
// The returned file handle must be deleted by the caller after the job
// finishes, success or not.
func Classify(ctx context.Context, chat providers.ChatProvider, filePath string, dt doctype.DocType, cfg config.Pipeline, logger *slog.Logger) (CategoryMap, string, error) {
	handle, err := chat.UploadFile(ctx, filePath, "application/pdf")
	if err != nil {
		return nil, "", fmt.Errorf("classifier upload failed: %w", err)
	}

	raw, err := chat.GenerateWithFile(ctx, handle, classifierPrompt(dt), providers.GenConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
		JSONOnly:        true,
	})
	if err != nil {
		return nil, handle, fmt.Errorf("classification failed: %w", err)
	}

	cm, err := parseCategoryMap(raw, dt)
	if err != nil {
		return nil, handle, err
	}

	logger.Info("document classified",
		"doc_type", dt,
		"categories", len(cm))
	return cm, handle, nil
}

// categoryMapSchema is the shape contract for classifier replies:
// category names mapping to arrays of 1-based page numbers.
const categoryMapSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {
		"type": "array",
		"items": {"type": "integer", "minimum": 1}
	}
}`

// parseCategoryMap decodes and schema-checks the classifier's answer.
func parseCategoryMap(raw string, dt doctype.DocType) (CategoryMap, error) {
	normalized, err := providers.ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("classifier returned malformed JSON: %w", err)
	}
	if err := providers.ValidateJSON(json.RawMessage(categoryMapSchema), normalized); err != nil {
		return nil, fmt.Errorf("classifier reply rejected: %w", err)
	}

	var decoded map[string][]int
	if err := json.Unmarshal(normalized, &decoded); err != nil {
		return nil, fmt.Errorf("classifier returned unexpected shape: %w", err)
	}

	cm := make(CategoryMap, len(decoded))
	for name, pages := range decoded {
		if _, ok := doctype.Lookup(dt, name); !ok {
			return nil, fmt.Errorf("classifier returned unknown category %q", name)
		}
		if len(pages) == 0 {
			continue
		}
		sorted := append([]int(nil), pages...)
		sort.Ints(sorted)
		cm[name] = sorted
	}

	if len(cm) == 0 {
		return nil, fmt.Errorf("classifier returned no categories")
	}
	return cm, nil
}
