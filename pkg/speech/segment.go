package speech

import (
	"errors"
	"strings"

	"google.golang.org/api/iterator"

	"github.com/chatling/chatling/pkg/genai"
)

// terminators is the sentence-ending rune set. A sentence is complete the
// moment one of these arrives, regardless of how the stream fragments fall.
const terminators = "。！？.!?"

// Sentence is one synthesizable unit cut from a live token stream.
type Sentence struct {
	// Text is the exact sentence, terminator included. The trailing
	// residue of a stream with no final terminator is whitespace-trimmed.
	Text string

	// FullText is the response text accumulated through this sentence.
	// For the trailing residue it is the complete raw stream text.
	FullText string
}

// SentenceStream cuts a token stream into sentences as they complete.
//
// The stream is bound to a single TokenStream and is not restartable.
// Next returns iterator.Done after the last sentence; closing the
// SentenceStream closes the underlying token stream.
type SentenceStream struct {
	tokens genai.TokenStream

	buf     []rune          // runes since the last terminator
	emitted strings.Builder // everything already emitted as sentences
	pending []Sentence      // sentences cut but not yet returned
	done    bool
}

// Segment binds a SentenceStream to the given token stream.
func Segment(tokens genai.TokenStream) *SentenceStream {
	return &SentenceStream{tokens: tokens}
}

// Next returns the next complete sentence, pulling tokens as needed.
func (s *SentenceStream) Next() (Sentence, error) {
	for {
		if len(s.pending) > 0 {
			sent := s.pending[0]
			s.pending = s.pending[1:]
			return sent, nil
		}
		if s.done {
			return Sentence{}, iterator.Done
		}

		tok, err := s.tokens.Next()
		if err != nil {
			if !errors.Is(err, iterator.Done) {
				return Sentence{}, err
			}
			s.done = true
			s.flushResidue()
			continue
		}
		s.consume(tok)
	}
}

// consume appends a token and cuts any sentences it completes. A single
// token may hold several terminators, so every rune is inspected.
func (s *SentenceStream) consume(tok string) {
	for _, r := range tok {
		s.buf = append(s.buf, r)
		if strings.ContainsRune(terminators, r) {
			text := string(s.buf)
			s.buf = s.buf[:0]
			s.emitted.WriteString(text)
			s.pending = append(s.pending, Sentence{
				Text:     text,
				FullText: s.emitted.String(),
			})
		}
	}
}

// flushResidue emits unterminated trailing text once, trimmed. Whitespace-only
// residue produces nothing.
func (s *SentenceStream) flushResidue() {
	residue := string(s.buf)
	s.buf = nil
	trimmed := strings.TrimSpace(residue)
	if trimmed == "" {
		return
	}
	s.pending = append(s.pending, Sentence{
		Text:     trimmed,
		FullText: s.emitted.String() + residue,
	})
}

// Close closes the underlying token stream.
func (s *SentenceStream) Close() {
	s.done = true
	s.pending = nil
	s.tokens.Close()
}
