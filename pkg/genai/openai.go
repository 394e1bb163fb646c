package genai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"google.golang.org/api/iterator"
)

var _ Client = (*OpenAIClient)(nil)

// OpenAIClient implements Client on top of the OpenAI chat completions API.
// It also covers OpenAI-compatible providers (DeepSeek, local gateways)
// via a custom base URL.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAITemperature sets the sampling temperature for both completion
// and streaming calls.
func WithOpenAITemperature(t float64) OpenAIOption {
	return func(c *OpenAIClient) { c.temperature = t }
}

// NewOpenAIClient creates a chat client for the given model.
// baseURL may be empty to use the default OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAIClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	c := &OpenAIClient{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) params(msgs []Message) openai.ChatCompletionNewParams {
	oaiMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			oaiMsgs = append(oaiMsgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			oaiMsgs = append(oaiMsgs, openai.AssistantMessage(m.Content))
		default:
			oaiMsgs = append(oaiMsgs, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages:    oaiMsgs,
		Model:       c.model,
		Temperature: param.NewOpt(c.temperature),
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(msgs))
	if err != nil {
		return "", fmt.Errorf("genai: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("genai: openai completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, msgs []Message) (TokenStream, error) {
	return &oaiTokenStream{
		stream: c.client.Chat.Completions.NewStreaming(ctx, c.params(msgs)),
	}, nil
}

type oaiTokenStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *oaiTokenStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("genai: openai stream: %w", err)
	}
	return "", iterator.Done
}

func (s *oaiTokenStream) Close() {
	s.stream.Close()
}
