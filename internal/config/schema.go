package config

// Config holds declpipe configuration.
// Loaded from ./config.yaml or ~/.declpipe/config.yaml.
type Config struct {
	OCRProviders  map[string]OCRProviderCfg  `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	ChatProviders map[string]ChatProviderCfg `mapstructure:"chat_providers" yaml:"chat_providers"`
	Pipeline      PipelineCfg                `mapstructure:"pipeline" yaml:"pipeline"`
	Ingest        IngestCfg                  `mapstructure:"ingest" yaml:"ingest"`
	Store         StoreConfig                `mapstructure:"store" yaml:"store"`
}

// OCRProviderCfg configures a layout-preserving OCR provider.
type OCRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`   // "llamaparse"
	Model     string  `mapstructure:"model" yaml:"model"` // parse mode / model preset
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ChatProviderCfg configures a conversational structuring provider.
type ChatProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"` // "gemini", "openai"
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// PipelineCfg holds tunables for a single extraction run.
type PipelineCfg struct {
	OCRProvider  string `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	ChatProvider string `mapstructure:"chat_provider" yaml:"chat_provider"`

	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP            float64 `mapstructure:"top_p" yaml:"top_p"`
	TopK            int     `mapstructure:"top_k" yaml:"top_k"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	MaxRetries      int     `mapstructure:"max_retries" yaml:"max_retries"`

	// Page batching for AI structuring.
	BatchPageSize    int `mapstructure:"batch_page_size" yaml:"batch_page_size"`
	MinBatchPageSize int `mapstructure:"min_batch_page_size" yaml:"min_batch_page_size"`

	// OCR readiness polling.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	PollMaxAttempts     int `mapstructure:"poll_max_attempts" yaml:"poll_max_attempts"`

	MaxFileSizeMB int `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// IngestCfg holds the scheduled drive-ingestion settings.
type IngestCfg struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	IncomingFolder  string `mapstructure:"incoming_folder" yaml:"incoming_folder"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
	IntervalMinutes int    `mapstructure:"interval_minutes" yaml:"interval_minutes"`
}

// StoreConfig holds the document-store container configuration.
type StoreConfig struct {
	// ContainerName is the Docker container name (default: declpipe-store)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			"llamaparse": {
				Type:      "llamaparse",
				APIKey:    "${LLAMA_CLOUD_API_KEY}",
				RateLimit: 2.0,
				Enabled:   true,
			},
		},
		ChatProviders: map[string]ChatProviderCfg{
			"gemini": {
				Type:      "gemini",
				Model:     "gemini-2.0-flash",
				APIKey:    "${GEMINI_API_KEY}",
				RateLimit: 2.0,
				Enabled:   true,
			},
			"openai": {
				Type:    "openai",
				Model:   "gpt-4o",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: false,
			},
		},
		Pipeline: PipelineCfg{
			OCRProvider:         "llamaparse",
			ChatProvider:        "gemini",
			Temperature:         0.1,
			TopP:                0.95,
			TopK:                40,
			MaxOutputTokens:     65536,
			MaxRetries:          3,
			BatchPageSize:       7,
			MinBatchPageSize:    1,
			PollIntervalSeconds: 5,
			PollMaxAttempts:     60,
			MaxFileSizeMB:       25,
		},
		Ingest: IngestCfg{
			Enabled:         false,
			IncomingFolder:  "incoming",
			BatchSize:       5,
			IntervalMinutes: 15,
		},
		Store: StoreConfig{
			ContainerName: "declpipe-store",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
	}
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// GetChatProvider returns a chat provider config by name.
func (c *Config) GetChatProvider(name string) (ChatProviderCfg, bool) {
	cfg, ok := c.ChatProviders[name]
	return cfg, ok
}

// EnabledChatProviders returns all enabled chat providers.
func (c *Config) EnabledChatProviders() map[string]ChatProviderCfg {
	result := make(map[string]ChatProviderCfg)
	for name, cfg := range c.ChatProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// Snapshot returns the immutable per-run pipeline settings with normalized
// bounds. Every stage receives this value explicitly; nothing reads global
// state mid-run.
func (c *Config) Snapshot() Pipeline {
	p := Pipeline{
		OCRProvider:      c.Pipeline.OCRProvider,
		ChatProvider:     c.Pipeline.ChatProvider,
		Temperature:      c.Pipeline.Temperature,
		TopP:             c.Pipeline.TopP,
		TopK:             c.Pipeline.TopK,
		MaxOutputTokens:  c.Pipeline.MaxOutputTokens,
		MaxRetries:       c.Pipeline.MaxRetries,
		BatchPageSize:    c.Pipeline.BatchPageSize,
		MinBatchPageSize: c.Pipeline.MinBatchPageSize,
		PollInterval:     c.Pipeline.PollIntervalSeconds,
		PollMaxAttempts:  c.Pipeline.PollMaxAttempts,
		MaxFileSizeMB:    c.Pipeline.MaxFileSizeMB,
	}
	if p.BatchPageSize <= 0 {
		p.BatchPageSize = 7
	}
	if p.MinBatchPageSize <= 0 {
		p.MinBatchPageSize = 1
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 5
	}
	if p.PollMaxAttempts <= 0 {
		p.PollMaxAttempts = 60
	}
	if p.MaxFileSizeMB <= 0 {
		p.MaxFileSizeMB = 25
	}
	return p
}

// Pipeline is the immutable snapshot of pipeline settings for one run.
type Pipeline struct {
	OCRProvider  string
	ChatProvider string

	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	MaxRetries      int

	BatchPageSize    int
	MinBatchPageSize int

	PollInterval    int // seconds between OCR readiness polls
	PollMaxAttempts int

	MaxFileSizeMB int
}

// MaxFileSizeBytes returns the ingest size cap in bytes.
func (p Pipeline) MaxFileSizeBytes() int64 {
	return int64(p.MaxFileSizeMB) * 1024 * 1024
}
