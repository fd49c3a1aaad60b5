// Package pdf wraps the PDF operations the pipeline needs: upload
// validation, page counting and building per-category sub-documents.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidUpload is returned when a submitted file fails validation
// before any external call is made.
var ErrInvalidUpload = errors.New("invalid upload")

var pdfMagic = []byte("%PDF-")

// Validate checks a candidate upload: the file must exist, start with the
// PDF signature and not exceed maxBytes (0 disables the size cap).
func Validate(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidUpload, info.Size(), maxBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	defer f.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := f.Read(header); err != nil {
		return fmt.Errorf("%w: cannot read header: %v", ErrInvalidUpload, err)
	}
	if !bytes.Equal(header, pdfMagic) {
		return fmt.Errorf("%w: not a PDF file", ErrInvalidUpload)
	}
	return nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return count, nil
}

// ExtractPages writes a sub-document containing exactly the given 1-based
// pages, in order, to outPath. The source document is never modified, so
// the same page may appear in sub-documents for different categories.
func ExtractPages(srcPath, outPath string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages selected")
	}

	total, err := PageCount(srcPath)
	if err != nil {
		return err
	}
	selection := make([]string, 0, len(pages))
	for _, p := range pages {
		if p < 1 || p > total {
			return fmt.Errorf("page %d out of range (document has %d pages)", p, total)
		}
		selection = append(selection, strconv.Itoa(p))
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.CollectFile(srcPath, outPath, selection, conf); err != nil {
		return fmt.Errorf("failed to extract pages: %w", err)
	}
	return nil
}
