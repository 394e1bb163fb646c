// Package genai defines the language-model contract the assistant core
// depends on: a one-shot completion call and a token stream. Concrete
// clients are provided for OpenAI-compatible APIs and Google Gemini.
package genai

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Role identifies the author of a chat message.
type Role string

// Message is a single chat message sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TokenStream yields text fragments from a streaming generation.
//
// Fragments carry no alignment guarantee: a fragment may hold zero, one, or
// many sentences, and may split words or multi-byte sequences arbitrarily.
// Next returns iterator.Done after the final fragment.
type TokenStream interface {
	Next() (string, error)
	Close()
}

// Client is a chat-completion client.
type Client interface {
	// Complete runs a single completion call and returns the full reply text.
	Complete(ctx context.Context, msgs []Message) (string, error)

	// Stream opens a streaming completion. The caller must drain or close
	// the returned stream.
	Stream(ctx context.Context, msgs []Message) (TokenStream, error)
}

// CollectStream drains a token stream and returns the concatenated text.
func CollectStream(ts TokenStream) (string, error) {
	defer ts.Close()
	var out []byte
	for {
		tok, err := ts.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				return string(out), nil
			}
			return string(out), err
		}
		out = append(out, tok...)
	}
}

// sliceStream replays a fixed fragment sequence. Used by tests and as the
// degenerate stream for clients without streaming support.
type sliceStream struct {
	toks []string
	pos  int
}

// NewSliceStream returns a TokenStream that yields the given fragments in
// order, then iterator.Done.
func NewSliceStream(toks ...string) TokenStream {
	return &sliceStream{toks: toks}
}

func (s *sliceStream) Next() (string, error) {
	if s.pos >= len(s.toks) {
		return "", iterator.Done
	}
	tok := s.toks[s.pos]
	s.pos++
	return tok, nil
}

func (s *sliceStream) Close() {
	s.pos = len(s.toks)
}

var _ TokenStream = (*sliceStream)(nil)
