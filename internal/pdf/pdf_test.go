package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate(t *testing.T) {
	t.Run("accepts pdf signature", func(t *testing.T) {
		path := writeFile(t, "ok.pdf", []byte("%PDF-1.7\nrest of file"))
		if err := Validate(path, 0); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects wrong signature", func(t *testing.T) {
		path := writeFile(t, "bad.pdf", []byte("PK\x03\x04 zip content"))
		err := Validate(path, 0)
		if !errors.Is(err, ErrInvalidUpload) {
			t.Errorf("expected ErrInvalidUpload, got %v", err)
		}
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		path := writeFile(t, "big.pdf", []byte("%PDF-1.7 plus lots of data here"))
		err := Validate(path, 10)
		if !errors.Is(err, ErrInvalidUpload) {
			t.Errorf("expected ErrInvalidUpload for oversized file, got %v", err)
		}
	})

	t.Run("rejects missing file", func(t *testing.T) {
		err := Validate(filepath.Join(t.TempDir(), "missing.pdf"), 0)
		if !errors.Is(err, ErrInvalidUpload) {
			t.Errorf("expected ErrInvalidUpload for missing file, got %v", err)
		}
	})
}

func TestExtractPagesRejectsEmptySelection(t *testing.T) {
	if err := ExtractPages("in.pdf", "out.pdf", nil); err == nil {
		t.Error("expected error for empty page selection")
	}
}
