package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // Optional (tests, proxies)
	RateLimit  float64
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIClient implements ChatProvider using the official OpenAI SDK.
// It is an alternative structuring backend; it has no document upload
// support, so classification must run on a provider that does.
type OpenAIClient struct {
	model   string
	limiter *RateLimiter
	client  openai.Client
}

// NewOpenAIClient creates a new OpenAI chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit),
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// UploadFile is unsupported; the classifier must use a multimodal provider.
func (c *OpenAIClient) UploadFile(_ context.Context, _, _ string) (string, error) {
	return "", ErrFileInputUnsupported
}

// GenerateWithFile is unsupported.
func (c *OpenAIClient) GenerateWithFile(_ context.Context, _, _ string, _ GenConfig) (string, error) {
	return "", ErrFileInputUnsupported
}

// DeleteFile is a no-op since nothing can be uploaded.
func (c *OpenAIClient) DeleteFile(_ context.Context, _ string) error {
	return nil
}

// OpenSession starts a stateful chat backed by client-side history.
func (c *OpenAIClient) OpenSession(_ context.Context, systemInstruction string, cfg GenConfig) (ChatSession, error) {
	s := &openAISession{client: c, cfg: cfg}
	if systemInstruction != "" {
		s.messages = append(s.messages, openai.SystemMessage(systemInstruction))
	}
	return s, nil
}

type openAISession struct {
	client   *OpenAIClient
	cfg      GenConfig
	messages []openai.ChatCompletionMessageParamUnion
}

// Send appends the prompt, runs a completion over the full transcript and
// records the assistant reply.
func (s *openAISession) Send(ctx context.Context, prompt string) (string, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return "", err
	}

	s.messages = append(s.messages, openai.UserMessage(prompt))

	model := s.cfg.Model
	if model == "" {
		model = s.client.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: s.messages,
	}
	if s.cfg.Temperature > 0 {
		params.Temperature = openai.Float(s.cfg.Temperature)
	}
	if s.cfg.TopP > 0 {
		params.TopP = openai.Float(s.cfg.TopP)
	}
	if s.cfg.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(s.cfg.MaxOutputTokens))
	}
	if s.cfg.JSONOnly {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := s.client.client.Chat.Completions.New(ctx, params)
	if err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return "", err
	}
	if len(resp.Choices) == 0 {
		s.messages = s.messages[:len(s.messages)-1]
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	text := resp.Choices[0].Message.Content
	s.messages = append(s.messages, openai.AssistantMessage(text))
	return text, nil
}

// Verify interface
var _ ChatProvider = (*OpenAIClient)(nil)
