package speech

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
)

var _ Transcriber = (*OpenAITranscriber)(nil)

// OpenAITranscriber implements Transcriber using the OpenAI audio
// transcription API (Whisper family).
type OpenAITranscriber struct {
	client openai.Client
	model  openai.AudioModel
}

// NewOpenAITranscriber creates a transcriber for the given model.
// An empty model selects whisper-1.
func NewOpenAITranscriber(client openai.Client, model string) *OpenAITranscriber {
	m := openai.AudioModelWhisper1
	if model != "" {
		m = openai.AudioModel(model)
	}
	return &OpenAITranscriber{client: client, model: m}
}

// Transcribe implements Transcriber.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("speech: open audio: %w", err)
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: t.model,
		File:  f,
	})
	if err != nil {
		return "", fmt.Errorf("speech: openai transcription: %w", err)
	}
	return resp.Text, nil
}
