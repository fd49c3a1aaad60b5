package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/providers"
)

// CategoryOCR is the OCR outcome for one category. A failed category
// records its error instead of aborting the whole stage.
type CategoryOCR struct {
	Category string              `json:"category"`
	Pages    []providers.OCRPage `json:"pages,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// OCRResults maps category name to its OCR outcome.
type OCRResults map[string]*CategoryOCR

// Succeeded reports whether at least one category produced OCR output.
func (r OCRResults) Succeeded() bool {
	for _, c := range r {
		if c.Error == "" && len(c.Pages) > 0 {
			return true
		}
	}
	return false
}

// ExtractFunc builds a sub-document containing the given pages of a
// source PDF. The production implementation is pdf.ExtractPages.
type ExtractFunc func(srcPath, outPath string, pages []int) error

// RunOCR extracts a sub-document per category and submits each to the
// OCR service with a family-specific instruction. The source document is
// never modified, so categories sharing pages do not interfere. Failures
// are per-category; the orchestrator decides whether partial output is
// enough to continue.
func RunOCR(ctx context.Context, ocr providers.OCRProvider, extract ExtractFunc, srcPath string, cm CategoryMap, dt doctype.DocType, cfg config.Pipeline, logger *slog.Logger) (OCRResults, error) {
	workDir, err := os.MkdirTemp("", "declpipe-ocr-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	results := make(OCRResults, len(cm))
	for _, name := range cm.Categories(dt) {
		cat, _ := doctype.Lookup(dt, name)
		out := &CategoryOCR{Category: name}
		results[name] = out

		pages, err := runCategoryOCR(ctx, ocr, extract, srcPath, workDir, cat, cm[name], cfg)
		if err != nil {
			logger.Error("category OCR failed",
				"category", name,
				"error", err)
			out.Error = err.Error()
			continue
		}
		out.Pages = pages
		logger.Info("category OCR done",
			"category", name,
			"pages", len(pages))
	}
	return results, nil
}

func runCategoryOCR(ctx context.Context, ocr providers.OCRProvider, extract ExtractFunc, srcPath, workDir string, cat doctype.Category, pages []int, cfg config.Pipeline) ([]providers.OCRPage, error) {
	subPath := filepath.Join(workDir, cat.Name+".pdf")
	if err := extract(srcPath, subPath, pages); err != nil {
		return nil, fmt.Errorf("failed to build sub-document: %w", err)
	}

	handle, err := ocr.Upload(ctx, subPath, ocrInstruction(cat.Family))
	if err != nil {
		return nil, fmt.Errorf("ocr upload failed: %w", err)
	}

	if err := awaitOCR(ctx, ocr, handle, cfg); err != nil {
		return nil, err
	}

	out, err := ocr.Result(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("ocr result fetch failed: %w", err)
	}
	return out.Pages, nil
}

// awaitOCR polls job readiness with a fixed interval and a bounded
// attempt budget. Exhausting the budget is a timeout, not an endless
// wait.
func awaitOCR(ctx context.Context, ocr providers.OCRProvider, handle string, cfg config.Pipeline) error {
	err := retry.Do(
		func() error {
			status, err := ocr.Poll(ctx, handle)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if status == providers.OCRStatusReady {
				return nil
			}
			return fmt.Errorf("ocr job %s still processing", handle)
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.PollMaxAttempts)),
		retry.Delay(time.Duration(cfg.PollInterval)*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if retry.IsRecoverable(err) {
			return fmt.Errorf("%w: %v", providers.ErrOCRTimeout, err)
		}
		return err
	}
	return nil
}
