package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "VIDEORAG_"

type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Database      DatabaseConfig      `yaml:"database" envPrefix:"DB_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
	LLM           LLMConfig           `yaml:"llm" envPrefix:"LLM_"`
	EmbedLLM      EmbedConfig         `yaml:"embed_llm" envPrefix:"EMBED_"`
	Transcription TranscriptionConfig `yaml:"transcription" envPrefix:"TRANSCRIBE_"`
	Media         MediaConfig         `yaml:"media" envPrefix:"MEDIA_"`
	RAG           RAGConfig           `yaml:"rag" envPrefix:"RAG_"`
	Pipeline      PipelineConfig      `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Chat          ChatConfig          `yaml:"chat" envPrefix:"CHAT_"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	JWTSecret    string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"DSN"`
	Debug          bool   `yaml:"debug" env:"DEBUG"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// LLMConfig describes a chat-completion endpoint.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Key         string        `yaml:"key" env:"KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type EmbedConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Key         string        `yaml:"key" env:"KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	Dimension   int           `yaml:"dimension" env:"DIMENSION"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
}

type TranscriptionConfig struct {
	Provider        string        `yaml:"provider" env:"PROVIDER"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	Key             string        `yaml:"key" env:"KEY"`
	Model           string        `yaml:"model" env:"MODEL"`
	Language        string        `yaml:"language" env:"LANGUAGE"`
	CredentialsFile string        `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// SegmentDuration is the longest audio slice sent in one request.
	// Providers clamp it to what their API accepts.
	SegmentDuration time.Duration `yaml:"segment_duration" env:"SEGMENT_DURATION"`
}

type MediaConfig struct {
	UploadDir           string        `yaml:"upload_dir" env:"UPLOAD_DIR"`
	WorkDir             string        `yaml:"work_dir" env:"WORK_DIR"`
	MaxUploadBytes      int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	AllowedExtensions   []string      `yaml:"allowed_extensions" env:"ALLOWED_EXTENSIONS"`
	AllowedMIMEPrefixes []string      `yaml:"allowed_mime_prefixes" env:"ALLOWED_MIME_PREFIXES"`
	MaxDurationSeconds  float64       `yaml:"max_duration_seconds" env:"MAX_DURATION_SECONDS"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	FFmpegPath          string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	FFprobePath         string        `yaml:"ffprobe_path" env:"FFPROBE_PATH"`
	YTDLPPath           string        `yaml:"ytdlp_path" env:"YTDLP_PATH"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	SearchLimit  int `yaml:"search_limit" env:"SEARCH_LIMIT"`
}

type PipelineConfig struct {
	Workers       int           `yaml:"workers" env:"WORKERS"`
	QueueSize     int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	JobTimeout    time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	StaleAfter    time.Duration `yaml:"stale_after" env:"STALE_AFTER"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type ChatConfig struct {
	MaxHistoryMessages int    `yaml:"max_history_messages" env:"MAX_HISTORY_MESSAGES"`
	SystemPrompt       string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
}

// Default returns the configuration used when a key is absent from both
// the YAML file and the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  2 * time.Minute,
		},
		EmbedLLM: EmbedConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			Timeout:     30 * time.Second,
			Concurrency: 4,
		},
		Transcription: TranscriptionConfig{
			Provider: "whisper",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "whisper-1",
			Language:        "en-US",
			Timeout:         10 * time.Minute,
			SegmentDuration: 10 * time.Minute,
		},
		Media: MediaConfig{
			UploadDir:           "./data/uploads",
			WorkDir:             "./data/work",
			MaxUploadBytes:      500 << 20,
			AllowedExtensions:   []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v"},
			AllowedMIMEPrefixes: []string{"video/"},
			DownloadTimeout:     10 * time.Minute,
			FFmpegPath:          "ffmpeg",
			FFprobePath:         "ffprobe",
		},
		RAG: RAGConfig{
			ChunkSize:   1000,
			SearchLimit: 5,
		},
		Pipeline: PipelineConfig{
			Workers:       2,
			QueueSize:     64,
			JobTimeout:    30 * time.Minute,
			StaleAfter:    2 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Chat: ChatConfig{
			SystemPrompt: "You are a helpful assistant. Answer questions about the video using the provided transcript excerpts.",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// VIDEORAG_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.EmbedLLM.Dimension <= 0 {
		return fmt.Errorf("embed_llm.dimension must be positive, got %d", c.EmbedLLM.Dimension)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("media.max_upload_bytes must be positive, got %d", c.Media.MaxUploadBytes)
	}
	if c.Transcription.SegmentDuration <= 0 {
		return fmt.Errorf("transcription.segment_duration must be positive, got %s", c.Transcription.SegmentDuration)
	}

	// every external call needs a finite deadline
	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"pipeline.job_timeout", c.Pipeline.JobTimeout},
		{"llm.timeout", c.LLM.Timeout},
		{"embed_llm.timeout", c.EmbedLLM.Timeout},
		{"transcription.timeout", c.Transcription.Timeout},
		{"media.download_timeout", c.Media.DownloadTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.key, t.d)
		}
	}
	return nil
}
