package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
)

const (
	GeminiName    = "gemini"
	GeminiBaseURL = "https://generativelanguage.googleapis.com"
	GeminiModel   = "gemini-2.0-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit float64 // requests per second
}

// GeminiClient implements ChatProvider against the Gemini REST API.
// It is the default classifier (file input) and structuring provider.
type GeminiClient struct {
	apiKey  string
	baseURL string
	model   string
	limiter *RateLimiter
	client  *http.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = GeminiModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	return &GeminiClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// UploadFile uploads a document to the Gemini file API and waits until it
// is ACTIVE. The returned handle is the file resource name (files/...).
func (c *GeminiClient) UploadFile(ctx context.Context, filePath, mimeType string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	url := fmt.Sprintf("%s/upload/v1beta/files?uploadType=media&key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gemini upload error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var uploadResp geminiFileResponse
	if err := json.Unmarshal(respBody, &uploadResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if uploadResp.File.Name == "" {
		return "", fmt.Errorf("no file name in upload response: %s", string(respBody))
	}

	if err := c.waitForFileActive(ctx, uploadResp.File.Name); err != nil {
		return "", err
	}
	return uploadResp.File.Name, nil
}

// waitForFileActive polls the file resource until Gemini finishes
// processing the upload.
func (c *GeminiClient) waitForFileActive(ctx context.Context, name string) error {
	return retry.Do(
		func() error {
			var file geminiFile
			url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
			if err := c.doJSON(ctx, "GET", url, nil, &file); err != nil {
				return err
			}
			switch file.State {
			case "ACTIVE":
				return nil
			case "FAILED":
				return retry.Unrecoverable(fmt.Errorf("file processing failed: %s", name))
			default:
				return fmt.Errorf("file %s still %s", name, file.State)
			}
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
	)
}

// DeleteFile removes an uploaded file. Best-effort cleanup path.
func (c *GeminiClient) DeleteFile(ctx context.Context, fileHandle string) error {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, fileHandle, c.apiKey)
	return c.doJSON(ctx, "DELETE", url, nil, nil)
}

// GenerateWithFile runs a single multimodal generation over an uploaded
// document. Used for page classification.
func (c *GeminiClient) GenerateWithFile(ctx context.Context, fileHandle, prompt string, cfg GenConfig) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var fileURI string
	{
		var file geminiFile
		url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, fileHandle, c.apiKey)
		if err := c.doJSON(ctx, "GET", url, nil, &file); err != nil {
			return "", fmt.Errorf("failed to look up file: %w", err)
		}
		fileURI = file.URI
	}

	reqBody := geminiGenerateRequest{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{FileData: &geminiFileData{MimeType: "application/pdf", FileURI: fileURI}},
					{Text: prompt},
				},
			},
		},
		GenerationConfig: c.genConfig(cfg),
	}
	return c.generate(ctx, cfg, reqBody)
}

// OpenSession starts a stateful chat. History is kept client-side and
// replayed on every turn; the session belongs to one job execution.
func (c *GeminiClient) OpenSession(_ context.Context, systemInstruction string, cfg GenConfig) (ChatSession, error) {
	return &geminiSession{
		client: c,
		cfg:    cfg,
		system: systemInstruction,
	}, nil
}

type geminiSession struct {
	client  *GeminiClient
	cfg     GenConfig
	system  string
	history []geminiContent
}

// Send appends the prompt to the transcript, generates a reply and
// records it so later turns see the full conversation.
func (s *geminiSession) Send(ctx context.Context, prompt string) (string, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return "", err
	}

	s.history = append(s.history, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: prompt}},
	})

	reqBody := geminiGenerateRequest{
		Contents:         s.history,
		GenerationConfig: s.client.genConfig(s.cfg),
	}
	if s.system != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: s.system}},
		}
	}

	text, err := s.client.generate(ctx, s.cfg, reqBody)
	if err != nil {
		// The failed turn stays out of the transcript so a retried
		// batch does not see a phantom user message.
		s.history = s.history[:len(s.history)-1]
		return "", err
	}

	s.history = append(s.history, geminiContent{
		Role:  "model",
		Parts: []geminiPart{{Text: text}},
	})
	return text, nil
}

func (c *GeminiClient) genConfig(cfg GenConfig) *geminiGenerationConfig {
	gc := &geminiGenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	if cfg.JSONOnly {
		gc.ResponseMimeType = "application/json"
	}
	return gc
}

// generate posts a generateContent request and extracts the reply text.
func (c *GeminiClient) generate(ctx context.Context, cfg GenConfig, reqBody geminiGenerateRequest) (string, error) {
	model := cfg.Model
	if model == "" {
		model = c.model
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	var genResp geminiGenerateResponse
	if err := c.doJSON(ctx, "POST", url, reqBody, &genResp); err != nil {
		return "", err
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in Gemini response")
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// doJSON performs an HTTP round-trip with optional JSON body and decodes
// the JSON response into out when out is non-nil.
func (c *GeminiClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp geminiErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("Gemini error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("Gemini error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Gemini API types

type geminiFileResponse struct {
	File geminiFile `json:"file"`
}

type geminiFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Verify interface
var _ ChatProvider = (*GeminiClient)(nil)
