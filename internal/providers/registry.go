package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ozonereg/declpipe/internal/config"
)

// Registry holds the configured provider clients, keyed by config name.
// Reload swaps the maps wholesale so config hot reloads never leave a
// half-built registry visible.
type Registry struct {
	mu   sync.RWMutex
	ocr  map[string]OCRProvider
	chat map[string]ChatProvider
}

// NewRegistry builds provider clients from configuration. Disabled
// providers are skipped; API key placeholders are resolved against the
// environment at construction time.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		ocr:  make(map[string]OCRProvider),
		chat: make(map[string]ChatProvider),
	}
	if err := r.Reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the provider clients from a fresh config snapshot.
func (r *Registry) Reload(cfg *config.Config) error {
	ocr := make(map[string]OCRProvider)
	chat := make(map[string]ChatProvider)

	for name, pc := range cfg.OCRProviders {
		if !pc.Enabled {
			continue
		}
		switch pc.Type {
		case "llamaparse":
			ocr[name] = NewLlamaParseClient(LlamaParseConfig{
				APIKey:    config.ResolveEnvVars(pc.APIKey),
				RateLimit: pc.RateLimit,
			})
		default:
			return fmt.Errorf("unknown OCR provider type %q", pc.Type)
		}
	}

	for name, pc := range cfg.ChatProviders {
		if !pc.Enabled {
			continue
		}
		switch pc.Type {
		case "gemini":
			chat[name] = NewGeminiClient(GeminiConfig{
				APIKey:    config.ResolveEnvVars(pc.APIKey),
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				RateLimit: pc.RateLimit,
			})
		case "openai":
			chat[name] = NewOpenAIClient(OpenAIConfig{
				APIKey:    config.ResolveEnvVars(pc.APIKey),
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				RateLimit: pc.RateLimit,
			})
		default:
			return fmt.Errorf("unknown chat provider type %q", pc.Type)
		}
	}

	r.mu.Lock()
	r.ocr = ocr
	r.chat = chat
	r.mu.Unlock()
	return nil
}

// OCR returns an OCR provider by name.
func (r *Registry) OCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ocr[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider %q not configured", name)
	}
	return p, nil
}

// Chat returns a chat provider by name.
func (r *Registry) Chat(name string) (ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.chat[name]
	if !ok {
		return nil, fmt.Errorf("chat provider %q not configured", name)
	}
	return p, nil
}

// ListOCR returns the configured OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocr))
	for name := range r.ocr {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListChat returns the configured chat provider names, sorted.
func (r *Registry) ListChat() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chat))
	for name := range r.chat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterOCR adds or replaces an OCR provider. Used by tests.
func (r *Registry) RegisterOCR(name string, p OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[name] = p
}

// RegisterChat adds or replaces a chat provider. Used by tests.
func (r *Registry) RegisterChat(name string, p ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = p
}
