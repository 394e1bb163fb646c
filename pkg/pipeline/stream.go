package pipeline

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	"github.com/chatling/chatling/pkg/speech"
)

// Event types carried by an EventStream.
const (
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one streaming response event, shaped for direct JSON encoding
// onto the wire.
type Event struct {
	Type string `json:"type"`

	// Chunk fields. Index starts at 1 and increases without gaps.
	Text      string `json:"text,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	Index     int    `json:"index,omitempty"`

	// Complete field: the whole reply text.
	FullText string `json:"full_text,omitempty"`

	// Error field: a descriptive message for mid-stream failures.
	Error string `json:"error,omitempty"`
}

// EventStream yields the events of one streaming turn in order: chunk
// events as sentences complete, then a terminal complete event. A
// mid-stream model or synthesis failure yields one error event instead of
// the complete event. Next returns iterator.Done after the terminal event.
type EventStream struct {
	p         *Pipeline
	ctx       context.Context
	sessionID string
	userText  string

	sentences *speech.SentenceStream
	refAudio  string
	prefix    string

	index    int
	fullText string
	done     bool
}

// OpenStream starts a streaming turn. The voice is resolved from the
// session's Memory as it stands now and stays fixed for the whole turn.
// The caller must drain or close the returned stream.
func (p *Pipeline) OpenStream(ctx context.Context, sessionID, text string) (*EventStream, error) {
	m := p.store.LoadMemory(ctx, sessionID)
	history := p.store.LoadHistory(ctx, sessionID)

	tokens, err := p.llm.Stream(ctx, p.messages(m, history, text))
	if err != nil {
		return nil, fmt.Errorf("pipeline: open stream: %w", err)
	}

	return &EventStream{
		p:         p,
		ctx:       ctx,
		sessionID: sessionID,
		userText:  text,
		sentences: speech.Segment(tokens),
		refAudio:  p.voices.Select(m.VoicePreference, m.CurrentEmotion),
		prefix:    "stream_" + shortID(),
	}, nil
}

// Next returns the next event. Each sentence's synthesis is awaited before
// its chunk event is returned, so events arrive in sentence order.
func (s *EventStream) Next() (Event, error) {
	if s.done {
		return Event{}, iterator.Done
	}
	if err := s.ctx.Err(); err != nil {
		// Client gone: stop synthesizing, skip finalization.
		s.Close()
		return Event{}, err
	}

	sent, err := s.sentences.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return s.finish()
		}
		s.p.log.Error("token stream failed", "session", s.sessionID, "err", err)
		return s.fail(fmt.Sprintf("model stream failed: %v", err))
	}
	s.fullText = sent.FullText

	audioPath, err := s.p.tts.Synthesize(s.ctx, speech.SynthesisRequest{
		Text:           sent.Text,
		ReferenceAudio: s.refAudio,
		ReferenceText:  s.p.voices.ReferenceText(),
		OutputDir:      s.p.outputDir,
		FilenamePrefix: fmt.Sprintf("%s_%d", s.prefix, s.index+1),
	})
	if err != nil {
		s.p.log.Error("sentence synthesis failed", "session", s.sessionID, "err", err)
		return s.fail(fmt.Sprintf("speech synthesis failed: %v", err))
	}

	s.index++
	return Event{
		Type:      EventChunk,
		Text:      sent.Text,
		AudioPath: audioPath,
		Index:     s.index,
	}, nil
}

// finish records the completed turn and returns the terminal event. History
// and extraction run here, after the token stream has ended, so a failed
// stream never persists a partial turn.
func (s *EventStream) finish() (Event, error) {
	s.done = true
	s.sentences.Close()

	s.p.store.UpdateHistory(s.ctx, s.sessionID, s.userText, s.fullText)
	s.p.extract.Extract(s.ctx, s.sessionID, s.userText, s.fullText)

	return Event{Type: EventComplete, FullText: s.fullText}, nil
}

// fail terminates the stream with an in-band error event.
func (s *EventStream) fail(msg string) (Event, error) {
	s.done = true
	s.sentences.Close()
	return Event{Type: EventError, Error: msg}, nil
}

// Close abandons the stream without emitting further events. History and
// extraction do not run for an abandoned stream.
func (s *EventStream) Close() {
	if !s.done {
		s.done = true
		s.sentences.Close()
	}
}
