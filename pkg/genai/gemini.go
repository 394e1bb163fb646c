package genai

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/api/iterator"
	gg "google.golang.org/genai"
)

var _ Client = (*GeminiClient)(nil)

// GeminiClient implements Client on top of the Gemini API.
type GeminiClient struct {
	client *gg.Client
	model  string
}

// NewGeminiClient creates a chat client for the given Gemini model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := gg.NewClient(ctx, &gg.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai: gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// convert splits messages into a system instruction config and content turns.
// Gemini carries the system prompt out of band and knows only user/model roles.
func (c *GeminiClient) convert(msgs []Message) (*gg.GenerateContentConfig, []*gg.Content) {
	cfg := &gg.GenerateContentConfig{}
	var contents []*gg.Content
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			cfg.SystemInstruction = &gg.Content{
				Parts: []*gg.Part{gg.NewPartFromText(m.Content)},
			}
		case RoleAssistant:
			contents = append(contents, &gg.Content{
				Role:  "model",
				Parts: []*gg.Part{gg.NewPartFromText(m.Content)},
			})
		default:
			contents = append(contents, &gg.Content{
				Role:  "user",
				Parts: []*gg.Part{gg.NewPartFromText(m.Content)},
			})
		}
	}
	return cfg, contents
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	cfg, contents := c.convert(msgs)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("genai: gemini completion: %w", err)
	}
	return resp.Text(), nil
}

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, msgs []Message) (TokenStream, error) {
	cfg, contents := c.convert(msgs)
	next, stop := iter.Pull2(c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg))
	return &geminiTokenStream{next: next, stop: stop}, nil
}

// geminiTokenStream adapts the SDK's push iterator to the pull-based
// TokenStream contract.
type geminiTokenStream struct {
	next func() (*gg.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiTokenStream) Next() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", iterator.Done
		}
		if err != nil {
			return "", fmt.Errorf("genai: gemini stream: %w", err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiTokenStream) Close() {
	s.stop()
}
