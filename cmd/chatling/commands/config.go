package commands

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/chatling/chatling/pkg/voice"
)

// Config is the chatling.yaml file.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Sessions selects and configures the session persistence backend.
	Sessions SessionsConfig `yaml:"sessions"`

	// OutputDir receives synthesized audio artifacts and backs /audio.
	OutputDir string `yaml:"output_dir"`

	// Persona overrides the built-in system prompt.
	Persona string `yaml:"persona"`

	LLM   LLMConfig    `yaml:"llm"`
	TTS   TTSConfig    `yaml:"tts"`
	ASR   ASRConfig    `yaml:"asr"`
	S3    *S3Config    `yaml:"s3"`
	Voice voice.Config `yaml:"voice"`
}

// SessionsConfig selects where session memory and history live.
type SessionsConfig struct {
	// Backend is "dir" (one JSON file pair per session) or "badger".
	Backend string `yaml:"backend"`

	// Dir is the directory for the dir backend, or the database directory
	// for badger.
	Dir string `yaml:"dir"`

	// MaxHistoryTurns bounds the prompt context window.
	MaxHistoryTurns int `yaml:"max_history_turns"`

	// CacheSessions bounds the in-process session cache.
	CacheSessions int `yaml:"cache_sessions"`
}

// LLMConfig configures the chat model.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "gemini".
	Provider string `yaml:"provider"`

	// APIKey may be left empty to read the provider's usual environment
	// variable (OPENAI_API_KEY, GEMINI_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL points openai-provider requests at a compatible endpoint.
	BaseURL string `yaml:"base_url"`

	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Voice is the fallback preset when no reference sample maps.
	Voice string `yaml:"voice"`

	// VoiceMap maps reference sample names to provider presets.
	VoiceMap map[string]string `yaml:"voice_map"`
}

// ASRConfig configures transcription.
type ASRConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// S3Config switches audio artifact serving to an S3-compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen: ":8000",
		Sessions: SessionsConfig{
			Backend: "dir",
			Dir:     "memory",
		},
		OutputDir: "outputs",
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
		TTS: TTSConfig{Model: "tts-1"},
		ASR: ASRConfig{Model: "whisper-1"},
		Voice: voice.DefaultConfig(),
	}
}

// LoadConfig reads the YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// apiKey resolves a configured key with an environment fallback.
func apiKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}
