package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
)

var _ Synthesizer = (*OpenAISynthesizer)(nil)

// OpenAISynthesizer implements Synthesizer using the OpenAI speech API.
//
// The API works from named voice presets rather than reference audio, so the
// reference audio handle is mapped to a preset by its base name; unmapped
// handles fall back to the default voice.
type OpenAISynthesizer struct {
	client openai.Client
	model  openai.SpeechModel
	voice  openai.AudioSpeechNewParamsVoice
	voices map[string]openai.AudioSpeechNewParamsVoice
}

// OpenAISynthesizerOption configures an OpenAISynthesizer.
type OpenAISynthesizerOption func(*OpenAISynthesizer)

// WithTTSModel sets the speech model.
func WithTTSModel(model string) OpenAISynthesizerOption {
	return func(s *OpenAISynthesizer) { s.model = openai.SpeechModel(model) }
}

// WithTTSVoice sets the default voice preset.
func WithTTSVoice(voice string) OpenAISynthesizerOption {
	return func(s *OpenAISynthesizer) { s.voice = openai.AudioSpeechNewParamsVoice(voice) }
}

// WithTTSVoiceMap maps reference audio base names to voice presets.
func WithTTSVoiceMap(m map[string]string) OpenAISynthesizerOption {
	return func(s *OpenAISynthesizer) {
		s.voices = make(map[string]openai.AudioSpeechNewParamsVoice, len(m))
		for ref, voice := range m {
			s.voices[ref] = openai.AudioSpeechNewParamsVoice(voice)
		}
	}
}

// NewOpenAISynthesizer creates a synthesizer backed by the OpenAI speech API.
func NewOpenAISynthesizer(client openai.Client, opts ...OpenAISynthesizerOption) *OpenAISynthesizer {
	s := &OpenAISynthesizer{
		client: client,
		model:  openai.SpeechModelTTS1,
		voice:  openai.AudioSpeechNewParamsVoiceAlloy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// selectVoice resolves a reference audio handle to a voice preset.
func (s *OpenAISynthesizer) selectVoice(refAudio string) openai.AudioSpeechNewParamsVoice {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(refAudio), filepath.Ext(refAudio)))
	if v, ok := s.voices[base]; ok {
		return v
	}
	return s.voice
}

// Synthesize implements Synthesizer. The artifact is written as MP3 under
// req.OutputDir, which is created if absent.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("speech: create output dir: %w", err)
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: s.model,
		Voice: s.selectVoice(req.ReferenceAudio),
		Input: req.Text,
	})
	if err != nil {
		return "", fmt.Errorf("speech: openai synthesis: %w", err)
	}
	defer resp.Body.Close()

	path := filepath.Join(req.OutputDir, req.FilenamePrefix+".mp3")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("speech: create artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("speech: write artifact: %w", err)
	}
	return path, nil
}
