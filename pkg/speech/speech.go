// Package speech provides the synthesis and transcription contracts consumed
// by the response pipeline, together with streaming sentence segmentation of
// model output.
package speech

import "context"

// SynthesisRequest describes one synthesis call.
type SynthesisRequest struct {
	// Text is the text to speak.
	Text string

	// ReferenceAudio is the voice/style conditioning sample chosen by the
	// voice selector. Synthesizers that cannot clone from a sample may map
	// it to a named preset instead.
	ReferenceAudio string

	// ReferenceText is the transcript of the reference audio, for
	// synthesizers that require it.
	ReferenceText string

	// OutputDir is the directory for the produced artifact. It is created
	// if absent.
	OutputDir string

	// FilenamePrefix names the artifact inside OutputDir.
	FilenamePrefix string
}

// Synthesizer converts text to an audio artifact on disk.
//
// A synthesizer may internally produce several chunks; only the path of the
// final complete artifact is returned.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// SynthesizeFunc adapts a function to the Synthesizer interface.
type SynthesizeFunc func(ctx context.Context, req SynthesisRequest) (string, error)

// Synthesize implements Synthesizer.
func (f SynthesizeFunc) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	return f(ctx, req)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
