package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Media         MediaConfig         `yaml:"media"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	LLM           LLMConfig           `yaml:"llm"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Logging       LoggingConfig       `yaml:"logging"`
	StoragePath   string              `yaml:"storage_path"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PipelineConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	EstimatedDuration   time.Duration `yaml:"estimated_duration"`
	BestEffortArtifacts bool          `yaml:"best_effort_artifacts"`
	WorkDir             string        `yaml:"work_dir"`
}

type MediaConfig struct {
	FFmpegPath          string        `yaml:"ffmpeg_path"`
	SampleRate          int           `yaml:"sample_rate"`
	ChunkThresholdBytes int64         `yaml:"chunk_threshold_bytes"`
	ChunkDuration       float64       `yaml:"chunk_duration"` // seconds
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
}

type TranscriptionConfig struct {
	Provider string        `yaml:"provider"` // "whisper" or "mock"
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxRetry time.Duration `yaml:"max_retry"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "gateway" or "mock"
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetry    time.Duration `yaml:"max_retry"`
}

type CalendarConfig struct {
	Provider string        `yaml:"provider"` // "sqlite" or "http"
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	DBPath   string        `yaml:"db_path"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			QueueSize:         100,
			EstimatedDuration: 5 * time.Minute,
			WorkDir:           os.TempDir(),
		},
		Media: MediaConfig{
			FFmpegPath:          "ffmpeg",
			SampleRate:          16000,
			ChunkThresholdBytes: 20 * 1024 * 1024,
			ChunkDuration:       300,
			FetchTimeout:        2 * time.Minute,
		},
		Transcription: TranscriptionConfig{
			Provider: "mock",
			Endpoint: "https://api.openai.com/v1/audio/transcriptions",
			Model:    "whisper-1",
			Timeout:  2 * time.Minute,
			MaxRetry: 45 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "mock",
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
			MaxRetry: 45 * time.Second,
		},
		Calendar: CalendarConfig{
			Provider: "sqlite",
			DBPath:   "./data/calendar.sqlite",
			Timeout:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		StoragePath: "./data",
	}
}

// Load reads the optional YAML file over the defaults, then applies .env and
// environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Address, "SERVER_ADDRESS")
	setString(&c.StoragePath, "STORAGE_PATH")
	setString(&c.Pipeline.WorkDir, "WORK_DIR")
	setInt(&c.Pipeline.Workers, "PIPELINE_WORKERS")
	setBool(&c.Pipeline.BestEffortArtifacts, "BEST_EFFORT_ARTIFACTS")
	setString(&c.Media.FFmpegPath, "FFMPEG_PATH")
	setString(&c.Transcription.Provider, "STT_PROVIDER")
	setString(&c.Transcription.Endpoint, "STT_ENDPOINT")
	setString(&c.Transcription.APIKey, "STT_API_KEY")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Endpoint, "LLM_GATEWAY_URL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Calendar.Provider, "CALENDAR_PROVIDER")
	setString(&c.Calendar.Endpoint, "CALENDAR_ENDPOINT")
	setString(&c.Calendar.APIKey, "CALENDAR_API_KEY")
	setString(&c.Logging.Level, "LOG_LEVEL")
	if env := os.Getenv("ENVIRONMENT"); env != "" && env != "local" {
		c.Logging.Format = "json"
	}
	setString(&c.Logging.Format, "LOG_FORMAT")

	// Whisper and the chat gateway commonly share one OpenAI key.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Transcription.APIKey == "" {
			c.Transcription.APIKey = key
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path cannot be empty")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}
	if p.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", p.QueueSize)
	}
	if p.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	return nil
}

func (m *MediaConfig) Validate() error {
	if m.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}
	if m.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", m.SampleRate)
	}
	if m.ChunkThresholdBytes <= 0 {
		return fmt.Errorf("chunk_threshold_bytes must be positive, got %d", m.ChunkThresholdBytes)
	}
	if m.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", m.ChunkDuration)
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "mock":
		return nil
	case "whisper":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty")
		}
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty")
		}
		if t.Timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", t.Timeout)
		}
		return nil
	default:
		return fmt.Errorf("provider must be 'whisper' or 'mock', got '%s'", t.Provider)
	}
}

func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case "mock":
		return nil
	case "gateway":
		if l.Endpoint == "" || l.APIKey == "" {
			return fmt.Errorf("endpoint and api_key are required for the gateway provider")
		}
		if l.Temperature < 0 || l.Temperature > 2 {
			return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
		}
		return nil
	default:
		return fmt.Errorf("provider must be 'gateway' or 'mock', got '%s'", l.Provider)
	}
}

func (c *CalendarConfig) Validate() error {
	switch c.Provider {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("db_path cannot be empty for the sqlite provider")
		}
	case "http":
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	default:
		return fmt.Errorf("provider must be 'sqlite' or 'http', got '%s'", c.Provider)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}
