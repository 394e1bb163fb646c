// Package voice maps a session's voice preference or detected emotion to a
// reference audio sample for speech synthesis.
package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultSample is the fallback key of the voice-sample table.
	DefaultSample = "default"

	// NeutralEmotion is the fallback key of the emotion table.
	NeutralEmotion = "neutral"
)

// Config holds the static selection tables. Entries map lower-case keys to
// audio file names resolved against the corresponding directory.
type Config struct {
	// RefAudioDir holds the emotion reference samples.
	RefAudioDir string `yaml:"ref_audio_dir"`

	// SampleAudioDir holds the named voice samples.
	SampleAudioDir string `yaml:"sample_audio_dir"`

	// EmotionAudio maps a detected emotion to a reference sample.
	// Must contain a "neutral" entry.
	EmotionAudio map[string]string `yaml:"emotion_audio"`

	// VoiceSamples maps a voice preference to a sample.
	// Must contain a "default" entry.
	VoiceSamples map[string]string `yaml:"voice_samples"`

	// ReferenceText is the transcript passed alongside reference audio to
	// synthesizers that require one.
	ReferenceText string `yaml:"reference_text"`
}

// DefaultConfig returns the built-in tables covering the supported emotion
// vocabulary.
func DefaultConfig() Config {
	return Config{
		RefAudioDir:    "ref_audio",
		SampleAudioDir: "sample_audio",
		EmotionAudio: map[string]string{
			"happy":      "cheerful.mp3",
			"cheerful":   "cheerful.mp3",
			"excited":    "cheerful.mp3",
			"sad":        "sad.mp3",
			"anxious":    "sad.mp3",
			"comforting": "comforting.mp3",
			"neutral":    "neutral.mp3",
			"curious":    "neutral.mp3",
			"serious":    "serious.mp3",
		},
		VoiceSamples: map[string]string{
			"default":    "default.mp3",
			"cheerful":   "cheerful.mp3",
			"sad":        "sad.mp3",
			"comforting": "comforting.mp3",
			"serious":    "serious.mp3",
		},
		ReferenceText: "请说一段经典的相声，题材可以是关于医生和病人的趣事。",
	}
}

// LoadConfig reads a YAML table file. Missing optional fields fall back to
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("voice: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("voice: parse config: %w", err)
	}
	return cfg, nil
}

// Selector resolves reference audio from static tables.
// It holds no mutable state and is safe for concurrent use.
type Selector struct {
	cfg Config
}

// NewSelector validates the tables and builds a Selector.
func NewSelector(cfg Config) (*Selector, error) {
	if _, ok := cfg.EmotionAudio[NeutralEmotion]; !ok {
		return nil, fmt.Errorf("voice: emotion table is missing the %q entry", NeutralEmotion)
	}
	if _, ok := cfg.VoiceSamples[DefaultSample]; !ok {
		return nil, fmt.Errorf("voice: sample table is missing the %q entry", DefaultSample)
	}
	return &Selector{cfg: cfg}, nil
}

// ReferenceText returns the transcript for the reference samples.
func (s *Selector) ReferenceText() string {
	return s.cfg.ReferenceText
}

// Select returns the reference audio path for a turn.
//
// A non-empty voice preference always wins, resolved case-insensitively
// against the sample table with the "default" entry as fallback. Otherwise
// the detected emotion is resolved against the emotion table, falling back
// to "neutral" for misses and for emotion strings outside the vocabulary.
func (s *Selector) Select(voicePreference, emotion string) string {
	if voicePreference != "" {
		return s.sample(voicePreference)
	}
	return s.emotionAudio(emotion)
}

func (s *Selector) sample(name string) string {
	file, ok := s.cfg.VoiceSamples[strings.ToLower(name)]
	if !ok {
		file = s.cfg.VoiceSamples[DefaultSample]
	}
	return filepath.Join(s.cfg.SampleAudioDir, file)
}

func (s *Selector) emotionAudio(emotion string) string {
	file, ok := s.cfg.EmotionAudio[strings.ToLower(emotion)]
	if !ok {
		file = s.cfg.EmotionAudio[NeutralEmotion]
	}
	return filepath.Join(s.cfg.RefAudioDir, file)
}
