package providers

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// MockOCR is a scripted OCRProvider for tests. Results are keyed by the
// uploaded file's base name; handles are deterministic.
type MockOCR struct {
	mu      sync.Mutex
	results map[string]*OCROutput // file path -> output
	fail    map[string]error      // file path -> upload error
	nextID  int
	handles map[string]string // handle -> file path

	// PollsUntilReady controls how many Poll calls report processing
	// before ready. Zero means ready immediately.
	PollsUntilReady int
	polls           map[string]int

	Uploads []string
}

// NewMockOCR creates an empty mock OCR provider.
func NewMockOCR() *MockOCR {
	return &MockOCR{
		results: make(map[string]*OCROutput),
		fail:    make(map[string]error),
		handles: make(map[string]string),
		polls:   make(map[string]int),
	}
}

// SetResult scripts the OCR output for an uploaded file base name.
func (m *MockOCR) SetResult(baseName string, out *OCROutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[baseName] = out
}

// SetError scripts an upload failure for an uploaded file base name.
func (m *MockOCR) SetError(baseName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[baseName] = err
}

func (m *MockOCR) Name() string { return "mock-ocr" }

func (m *MockOCR) Upload(_ context.Context, filePath string, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := filepath.Base(filePath)
	if err := m.fail[base]; err != nil {
		return "", err
	}
	m.nextID++
	handle := fmt.Sprintf("mock-job-%d", m.nextID)
	m.handles[handle] = base
	m.Uploads = append(m.Uploads, base)
	return handle, nil
}

func (m *MockOCR) Poll(_ context.Context, handle string) (OCRStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[handle]; !ok {
		return OCRStatusFailed, fmt.Errorf("%w: unknown handle %s", ErrOCRFailed, handle)
	}
	m.polls[handle]++
	if m.polls[handle] <= m.PollsUntilReady {
		return OCRStatusProcessing, nil
	}
	return OCRStatusReady, nil
}

func (m *MockOCR) Result(_ context.Context, handle string) (*OCROutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePath, ok := m.handles[handle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle %s", ErrOCRFailed, handle)
	}
	out, ok := m.results[filePath]
	if !ok {
		return &OCROutput{Handle: handle}, nil
	}
	cp := *out
	cp.Handle = handle
	return &cp, nil
}

var _ OCRProvider = (*MockOCR)(nil)

// MockChat is a scripted ChatProvider for tests. Session replies are
// served in order; GenerateWithFile replies come from FileReplies.
type MockChat struct {
	mu sync.Mutex

	// Replies are returned by session Send calls in order. When the
	// script runs out the session returns an error.
	Replies []string

	// FileReplies are returned by GenerateWithFile calls in order.
	FileReplies []string

	// Prompts records every prompt sent on any session, in order.
	Prompts []string

	UploadedFiles []string
	DeletedFiles  []string

	replyIdx int
	fileIdx  int
}

// NewMockChat creates an empty mock chat provider.
func NewMockChat() *MockChat {
	return &MockChat{}
}

func (m *MockChat) Name() string { return "mock-chat" }

func (m *MockChat) UploadFile(_ context.Context, filePath, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadedFiles = append(m.UploadedFiles, filePath)
	return fmt.Sprintf("mock-file-%d", len(m.UploadedFiles)), nil
}

func (m *MockChat) DeleteFile(_ context.Context, fileHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedFiles = append(m.DeletedFiles, fileHandle)
	return nil
}

func (m *MockChat) GenerateWithFile(_ context.Context, _, prompt string, _ GenConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)
	if m.fileIdx >= len(m.FileReplies) {
		return "", fmt.Errorf("mock chat: no scripted file reply %d", m.fileIdx)
	}
	reply := m.FileReplies[m.fileIdx]
	m.fileIdx++
	return reply, nil
}

func (m *MockChat) OpenSession(_ context.Context, _ string, _ GenConfig) (ChatSession, error) {
	return &mockSession{provider: m}, nil
}

type mockSession struct {
	provider *MockChat
}

func (s *mockSession) Send(_ context.Context, prompt string) (string, error) {
	m := s.provider
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)
	if m.replyIdx >= len(m.Replies) {
		return "", fmt.Errorf("mock chat: no scripted reply %d", m.replyIdx)
	}
	reply := m.Replies[m.replyIdx]
	m.replyIdx++
	return reply, nil
}

var _ ChatProvider = (*MockChat)(nil)
