package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "zero workers",
			mutate:   func(c *Config) { c.Pipeline.Workers = 0 },
			errorMsg: "workers must be at least 1",
		},
		{
			name:     "wrong sample rate",
			mutate:   func(c *Config) { c.Media.SampleRate = 44100 },
			errorMsg: "sample_rate must be 16000",
		},
		{
			name:     "negative chunk duration",
			mutate:   func(c *Config) { c.Media.ChunkDuration = -1 },
			errorMsg: "chunk_duration must be positive",
		},
		{
			name: "whisper without key",
			mutate: func(c *Config) {
				c.Transcription.Provider = "whisper"
				c.Transcription.APIKey = ""
			},
			errorMsg: "api_key cannot be empty",
		},
		{
			name:     "unknown llm provider",
			mutate:   func(c *Config) { c.LLM.Provider = "oracle" },
			errorMsg: "provider must be 'gateway' or 'mock'",
		},
		{
			name: "http calendar without endpoint",
			mutate: func(c *Config) {
				c.Calendar.Provider = "http"
				c.Calendar.Endpoint = ""
			},
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9090"
pipeline:
  workers: 2
  queue_size: 10
  estimated_duration: 90s
  best_effort_artifacts: true
  work_dir: /tmp
media:
  ffmpeg_path: /usr/bin/ffmpeg
  sample_rate: 16000
  chunk_threshold_bytes: 1048576
  chunk_duration: 120
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.EstimatedDuration != 90*time.Second {
		t.Errorf("estimated duration = %s, want 90s", cfg.Pipeline.EstimatedDuration)
	}
	if !cfg.Pipeline.BestEffortArtifacts {
		t.Error("best_effort_artifacts should be true")
	}
	if cfg.Media.ChunkDuration != 120 {
		t.Errorf("chunk duration = %f, want 120", cfg.Media.ChunkDuration)
	}
	// untouched sections keep their defaults
	if cfg.Transcription.Provider != "mock" {
		t.Errorf("transcription provider = %q, want mock", cfg.Transcription.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_WORKERS", "7")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STT_PROVIDER", "whisper")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Pipeline.Workers)
	}
	if cfg.Transcription.APIKey != "sk-test" {
		t.Errorf("transcription key = %q, want sk-test", cfg.Transcription.APIKey)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm key = %q, want sk-test", cfg.LLM.APIKey)
	}
}

func TestEnvironmentSelectsLogFormat(t *testing.T) {
	tests := []struct {
		env    string
		format string
		want   string
	}{
		{"local", "", "text"},
		{"production", "", "json"},
		{"production", "text", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.format, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.env)
			t.Setenv("LOG_FORMAT", tt.format)

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Logging.Format != tt.want {
				t.Errorf("format = %q, want %q", cfg.Logging.Format, tt.want)
			}
		})
	}
}
