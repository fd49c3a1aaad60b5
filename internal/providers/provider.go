// Package providers contains the external AI service clients: the
// layout-preserving OCR service and the conversational structuring
// providers. All clients are hand-rolled HTTP clients except OpenAI,
// which uses the official SDK.
package providers

import (
	"context"
	"errors"
)

// Sentinel errors shared across providers.
var (
	// ErrOCRTimeout is returned when an OCR job does not become ready
	// within the bounded poll budget.
	ErrOCRTimeout = errors.New("ocr job did not complete in time")

	// ErrOCRFailed is returned when the OCR service reports a failed job.
	ErrOCRFailed = errors.New("ocr job failed")

	// ErrFileInputUnsupported is returned by chat providers that cannot
	// accept document uploads.
	ErrFileInputUnsupported = errors.New("provider does not support file input")
)

// OCRStatus is the readiness state of an OCR job.
type OCRStatus string

const (
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusReady      OCRStatus = "ready"
	OCRStatusFailed     OCRStatus = "failed"
)

// OCRPage is one page of OCR output.
type OCRPage struct {
	Index    int     `json:"index"`
	Markdown string  `json:"markdown"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
}

// OCROutput is the full result of one OCR job.
type OCROutput struct {
	Handle string    `json:"handle"`
	Pages  []OCRPage `json:"pages"`
}

// OCRProvider is the layout-preserving OCR service boundary.
// Upload returns an opaque job handle; callers poll until ready and then
// fetch the result. Readiness polling is the caller's responsibility so
// the poll budget stays in pipeline configuration.
type OCRProvider interface {
	Name() string
	Upload(ctx context.Context, filePath string, instruction string) (string, error)
	Poll(ctx context.Context, handle string) (OCRStatus, error)
	Result(ctx context.Context, handle string) (*OCROutput, error)
}

// GenConfig holds per-call generation parameters.
type GenConfig struct {
	Model           string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	JSONOnly        bool
}

// ChatSession is a conversational exchange that preserves turn history
// for its whole life. A session belongs to exactly one job execution and
// is never shared.
type ChatSession interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// ChatProvider is the conversational structuring boundary. File upload
// and deletion exist for multimodal classification; providers without
// file support return ErrFileInputUnsupported from UploadFile.
type ChatProvider interface {
	Name() string
	OpenSession(ctx context.Context, systemInstruction string, cfg GenConfig) (ChatSession, error)

	UploadFile(ctx context.Context, filePath, mimeType string) (string, error)
	GenerateWithFile(ctx context.Context, fileHandle, prompt string, cfg GenConfig) (string, error)
	DeleteFile(ctx context.Context, fileHandle string) error
}
