// Package pipeline composes the language model, session state, voice
// selection, and speech synthesis into the assistant's response flow. It
// supports a one-shot mode returning a single result and a streaming mode
// emitting per-sentence events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chatling/chatling/pkg/genai"
	"github.com/chatling/chatling/pkg/session"
	"github.com/chatling/chatling/pkg/speech"
	"github.com/chatling/chatling/pkg/voice"
)

// defaultPersona is the base system prompt when none is configured.
const defaultPersona = `你是一个温暖友好的儿童陪伴助手，名叫"小铃"。` +
	`用简单、亲切的语言和孩子交流，回答要简短自然，适合朗读出来。` +
	`不要使用表情符号、列表或特殊符号。`

// Config wires a Pipeline's collaborators.
type Config struct {
	LLM         genai.Client
	Store       *session.Store
	Extractor   *session.Extractor
	Voices      *voice.Selector
	Synthesizer speech.Synthesizer

	// OutputDir receives synthesized audio artifacts.
	OutputDir string

	// Persona overrides the base system prompt.
	Persona string

	Logger *slog.Logger
}

// Pipeline runs the response flow for one deployment. Safe for concurrent
// use across sessions.
type Pipeline struct {
	llm     genai.Client
	store   *session.Store
	extract *session.Extractor
	voices  *voice.Selector
	tts     speech.Synthesizer

	outputDir string
	persona   string
	log       *slog.Logger
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.LLM == nil:
		return nil, errors.New("pipeline: LLM client is required")
	case cfg.Store == nil:
		return nil, errors.New("pipeline: session store is required")
	case cfg.Extractor == nil:
		return nil, errors.New("pipeline: memory extractor is required")
	case cfg.Voices == nil:
		return nil, errors.New("pipeline: voice selector is required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	}
	p := &Pipeline{
		llm:       cfg.LLM,
		store:     cfg.Store,
		extract:   cfg.Extractor,
		voices:    cfg.Voices,
		tts:       cfg.Synthesizer,
		outputDir: cfg.OutputDir,
		persona:   cfg.Persona,
		log:       cfg.Logger,
	}
	if p.outputDir == "" {
		p.outputDir = "outputs"
	}
	if p.persona == "" {
		p.persona = defaultPersona
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p, nil
}

// Result is the outcome of a non-streaming turn.
type Result struct {
	// Text is the assistant's full reply.
	Text string `json:"llm_response"`

	// AudioPath is the synthesized artifact for the whole reply.
	AudioPath string `json:"audio_path"`
}

// Respond runs one non-streaming turn: prompt, completion, history update,
// memory extraction, then a single synthesis call over the whole reply.
//
// A failed completion or synthesis aborts with an error; a failed completion
// is never recorded in history.
func (p *Pipeline) Respond(ctx context.Context, sessionID, text string) (*Result, error) {
	m := p.store.LoadMemory(ctx, sessionID)
	history := p.store.LoadHistory(ctx, sessionID)

	reply, err := p.llm.Complete(ctx, p.messages(m, history, text))
	if err != nil {
		return nil, fmt.Errorf("pipeline: completion: %w", err)
	}

	p.store.UpdateHistory(ctx, sessionID, text, reply)
	emotion := p.extract.Extract(ctx, sessionID, text, reply)

	audioPath, err := p.tts.Synthesize(ctx, speech.SynthesisRequest{
		Text:           reply,
		ReferenceAudio: p.voices.Select(m.VoicePreference, emotion),
		ReferenceText:  p.voices.ReferenceText(),
		OutputDir:      p.outputDir,
		FilenamePrefix: "resp_" + shortID(),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: synthesis: %w", err)
	}

	p.log.Debug("turn complete", "session", sessionID,
		"reply_len", len(reply), "emotion", emotion, "audio", audioPath)
	return &Result{Text: reply, AudioPath: audioPath}, nil
}

// messages builds the chat payload: one system prompt embedding memory and
// recent history, then the user's input.
func (p *Pipeline) messages(m session.Memory, history []session.Turn, text string) []genai.Message {
	return []genai.Message{
		{Role: genai.RoleSystem, Content: p.systemPrompt(m, history)},
		{Role: genai.RoleUser, Content: text},
	}
}

// systemPrompt renders the persona plus optional blocks for known facts,
// preferences, and recent conversation, in that order. Empty blocks are
// skipped entirely.
func (p *Pipeline) systemPrompt(m session.Memory, history []session.Turn) string {
	var b strings.Builder
	b.WriteString(p.persona)

	if len(m.Facts) > 0 {
		b.WriteString("\n\n关于用户的已知信息:\n")
		for _, f := range m.Facts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteByte('\n')
		}
	}

	if len(m.Preferences) > 0 {
		keys := make([]string, 0, len(m.Preferences))
		for k := range m.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\n用户偏好:\n")
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(m.Preferences[k])
			b.WriteByte('\n')
		}
	}

	if len(history) > 0 {
		if max := p.store.MaxHistoryTurns(); len(history) > max {
			history = history[len(history)-max:]
		}
		b.WriteString("\n\n最近的对话:\n")
		for _, turn := range history {
			b.WriteString("用户: ")
			b.WriteString(turn.User)
			b.WriteString("\n助手: ")
			b.WriteString(turn.Assistant)
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// shortID returns a compact unique token for artifact filenames.
func shortID() string {
	id := uuid.NewString()
	return strings.ReplaceAll(id, "-", "")[:12]
}
