package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/providers"
)

// minBatchMarkdown is the markdown length below which a batch is skipped
// as content-free. The page cursor still advances so the loop terminates.
const minBatchMarkdown = 40

// metadataObjectSchema constrains metadata replies to a flat object of
// scalar fields. Arrays or nested objects mean the model answered with a
// table shape, which would corrupt the merged record if hoisted.
const metadataObjectSchema = `{
	"type": "object",
	"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
}`

// StructuredData holds the structuring stage's output: row lists per
// table category and a single object for metadata.
type StructuredData struct {
	Tables   map[string][]map[string]any `json:"tables"`
	Metadata map[string]any              `json:"metadata"`
}

// Structure converts per-category OCR markdown into structured data over
// one conversational session. Table categories run first and metadata
// strictly last: the metadata prompt depends on the table rows already in
// the transcript to fill summary indicator fields. This order is a
// correctness requirement, not a tuning choice.
func Structure(ctx context.Context, chat providers.ChatProvider, ocr OCRResults, dt doctype.DocType, cat *catalog.Catalog, cfg config.Pipeline, logger *slog.Logger) (*StructuredData, error) {
	sess, err := chat.OpenSession(ctx, systemInstruction, providers.GenConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
		JSONOnly:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open structuring session: %w", err)
	}

	// Prime the session with reference data once.
	if _, err := sess.Send(ctx, referenceContext(cat)); err != nil {
		return nil, fmt.Errorf("failed to prime session: %w", err)
	}

	data := &StructuredData{Tables: make(map[string][]map[string]any)}

	for _, c := range doctype.TableCategories(dt) {
		co, ok := ocr[c.Name]
		if !ok || co.Error != "" || len(co.Pages) == 0 {
			continue
		}
		rows := structureCategory(ctx, sess, c, co.Pages, cfg, logger)
		data.Tables[c.Name] = rows
	}

	if co, ok := ocr[doctype.MetadataCategory]; ok && co.Error == "" && len(co.Pages) > 0 {
		meta, _ := doctype.Lookup(dt, doctype.MetadataCategory)
		data.Metadata = structureMetadata(ctx, sess, meta, co.Pages, cfg, logger)
	}

	return data, nil
}

// structureCategory runs the batch loop for one table category,
// accumulating rows. Batch failures are skipped, never fatal.
func structureCategory(ctx context.Context, sess providers.ChatSession, cat doctype.Category, pages []providers.OCRPage, cfg config.Pipeline, logger *slog.Logger) []map[string]any {
	var rows []map[string]any

	batches := chunkPages(pages, cfg.BatchPageSize, cfg.MinBatchPageSize)
	for i, batch := range batches {
		md := joinMarkdown(batch)
		if len(strings.TrimSpace(md)) < minBatchMarkdown {
			logger.Debug("skipping thin batch",
				"category", cat.Name,
				"batch", i+1)
			continue
		}

		reply, err := sess.Send(ctx, batchPrompt(cat, i+1, len(batches), md))
		if err != nil {
			logger.Error("batch send failed, skipping",
				"category", cat.Name,
				"batch", i+1,
				"error", err)
			continue
		}

		raw, err := providers.ParseJSON(reply)
		if err != nil {
			logger.Error("batch reply unparseable, skipping",
				"category", cat.Name,
				"batch", i+1,
				"error", err)
			continue
		}

		resp := DecodeBatchResponse(raw, false)
		switch resp.Kind {
		case KindRowList:
			rows = append(rows, resp.Rows...)
		case KindCategoryDict:
			for _, catRows := range resp.ByCategory {
				rows = append(rows, catRows...)
			}
		default:
			logger.Warn("unrecognized batch reply shape, dropping",
				"category", cat.Name,
				"batch", i+1)
		}
	}

	return rows
}

// structureMetadata extracts the metadata object. Unlike table
// categories the batches merge into one object rather than accumulate.
func structureMetadata(ctx context.Context, sess providers.ChatSession, cat doctype.Category, pages []providers.OCRPage, cfg config.Pipeline, logger *slog.Logger) map[string]any {
	merged := make(map[string]any)

	batches := chunkPages(pages, cfg.BatchPageSize, cfg.MinBatchPageSize)
	for i, batch := range batches {
		md := joinMarkdown(batch)
		if len(strings.TrimSpace(md)) < minBatchMarkdown {
			continue
		}

		reply, err := sess.Send(ctx, batchPrompt(cat, i+1, len(batches), md))
		if err != nil {
			logger.Error("metadata batch send failed, skipping",
				"batch", i+1,
				"error", err)
			continue
		}

		raw, err := providers.ParseJSON(reply)
		if err != nil {
			logger.Error("metadata reply unparseable, skipping",
				"batch", i+1,
				"error", err)
			continue
		}
		if err := providers.ValidateJSON(json.RawMessage(metadataObjectSchema), raw); err != nil {
			logger.Warn("metadata reply rejected, skipping",
				"batch", i+1,
				"error", err)
			continue
		}

		resp := DecodeBatchResponse(raw, true)
		if resp.Kind != KindMetadataObject {
			logger.Warn("unrecognized metadata reply shape, dropping",
				"batch", i+1)
			continue
		}
		for k, v := range resp.Metadata {
			merged[k] = v
		}
	}

	if len(merged) == 0 {
		return nil
	}
	return merged
}

// chunkPages splits OCR pages into fixed-size batches. A trailing batch
// shorter than minSize is folded into the previous one so a near-empty
// remainder does not get a model turn of its own.
func chunkPages(pages []providers.OCRPage, size, minSize int) [][]providers.OCRPage {
	if size <= 0 {
		size = 7
	}
	var out [][]providers.OCRPage
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		out = append(out, pages[start:end])
	}
	if n := len(out); n > 1 && len(out[n-1]) < minSize {
		merged := append(append([]providers.OCRPage(nil), out[n-2]...), out[n-1]...)
		out[n-2] = merged
		out = out[:n-1]
	}
	return out
}

func joinMarkdown(pages []providers.OCRPage) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, "\n\n")
}
