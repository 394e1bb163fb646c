package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/api/iterator"

	"github.com/chatling/chatling/pkg/genai"
	"github.com/chatling/chatling/pkg/kv"
	"github.com/chatling/chatling/pkg/session"
	"github.com/chatling/chatling/pkg/speech"
	"github.com/chatling/chatling/pkg/voice"
)

// fakeLLM serves Complete from reply and Stream from fragments (or a
// failing stream), recording the prompts it received.
type fakeLLM struct {
	reply     string
	err       error
	fragments []string
	streamErr error // returned by the stream after the fragments
	calls     [][]genai.Message
}

func (f *fakeLLM) Complete(_ context.Context, msgs []genai.Message) (string, error) {
	f.calls = append(f.calls, msgs)
	return f.reply, f.err
}

func (f *fakeLLM) Stream(_ context.Context, msgs []genai.Message) (genai.TokenStream, error) {
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return nil, f.err
	}
	return &scriptedStream{toks: f.fragments, finalErr: f.streamErr}, nil
}

// scriptedStream yields fragments, then finalErr or iterator.Done.
type scriptedStream struct {
	toks     []string
	finalErr error
	pos      int
}

func (s *scriptedStream) Next() (string, error) {
	if s.pos >= len(s.toks) {
		if s.finalErr != nil {
			return "", s.finalErr
		}
		return "", iterator.Done
	}
	tok := s.toks[s.pos]
	s.pos++
	return tok, nil
}

func (s *scriptedStream) Close() { s.pos = len(s.toks) }

// extractorReply is a canned extraction result carrying the given emotion.
func extractorReply(emotion string) string {
	return `{"new_facts":[],"preferences":{},"emotional_state":"` + emotion + `"}`
}

type synthCall struct {
	req speech.SynthesisRequest
}

// recordingSynth records requests and returns deterministic paths.
type recordingSynth struct {
	calls []synthCall
	err   error
}

func (r *recordingSynth) Synthesize(_ context.Context, req speech.SynthesisRequest) (string, error) {
	r.calls = append(r.calls, synthCall{req: req})
	if r.err != nil {
		return "", r.err
	}
	return req.OutputDir + "/" + req.FilenamePrefix + ".mp3", nil
}

type testEnv struct {
	pipeline *Pipeline
	store    *session.Store
	llm      *fakeLLM
	extLLM   *fakeLLM
	synth    *recordingSynth
}

func newTestEnv(t *testing.T, llm *fakeLLM, extLLM *fakeLLM) *testEnv {
	t.Helper()
	store := session.NewStore(session.NewKVBackend(kv.NewMemory()))
	voices, err := voice.NewSelector(voice.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	synth := &recordingSynth{}
	p, err := New(Config{
		LLM:         llm,
		Store:       store,
		Extractor:   session.NewExtractor(extLLM, store),
		Voices:      voices,
		Synthesizer: synth,
		OutputDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{pipeline: p, store: store, llm: llm, extLLM: extLLM, synth: synth}
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{reply: "你好呀！很高兴见到你。"},
		&fakeLLM{reply: extractorReply("happy")})

	res, err := env.pipeline.Respond(ctx, "a", "你好")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "你好呀！很高兴见到你。" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.AudioPath == "" {
		t.Error("AudioPath is empty")
	}

	// One synthesis call over the whole reply, voiced by the extracted
	// emotion (happy maps to the cheerful sample).
	if len(env.synth.calls) != 1 {
		t.Fatalf("synthesizer called %d times; want 1", len(env.synth.calls))
	}
	req := env.synth.calls[0].req
	if req.Text != res.Text {
		t.Errorf("synthesized %q; want the whole reply", req.Text)
	}
	if !strings.HasSuffix(req.ReferenceAudio, "cheerful.mp3") {
		t.Errorf("ReferenceAudio = %q; want the cheerful sample", req.ReferenceAudio)
	}

	h := env.store.LoadHistory(ctx, "a")
	if len(h) != 1 || h[0].User != "你好" || h[0].Assistant != res.Text {
		t.Errorf("history = %+v", h)
	}
}

func TestRespondCompletionFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{err: errors.New("model unavailable")},
		&fakeLLM{reply: extractorReply("neutral")})

	if _, err := env.pipeline.Respond(ctx, "a", "你好"); err == nil {
		t.Fatal("want error on completion failure")
	}
	if h := env.store.LoadHistory(ctx, "a"); len(h) != 0 {
		t.Errorf("failed completion recorded in history: %+v", h)
	}
	if len(env.synth.calls) != 0 {
		t.Error("synthesizer called after failed completion")
	}
}

func TestRespondSynthesisFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{reply: "你好呀。"},
		&fakeLLM{reply: extractorReply("neutral")})
	env.synth.err = errors.New("tts down")

	if _, err := env.pipeline.Respond(ctx, "a", "你好"); err == nil {
		t.Fatal("want error on synthesis failure")
	}
}

func TestSystemPrompt(t *testing.T) {
	env := newTestEnv(t, &fakeLLM{}, &fakeLLM{})
	p := env.pipeline

	t.Run("empty memory is persona only", func(t *testing.T) {
		got := p.systemPrompt(session.NewMemory(), nil)
		if got != p.persona {
			t.Errorf("prompt = %q; want bare persona", got)
		}
	})

	t.Run("blocks in fixed order", func(t *testing.T) {
		m := session.NewMemory()
		m.AddFact("[基本信息] 名叫小明")
		m.Preferences["称呼"] = "小明"
		history := []session.Turn{{User: "你好", Assistant: "你好呀"}}

		got := p.systemPrompt(m, history)
		facts := strings.Index(got, "关于用户的已知信息")
		prefs := strings.Index(got, "用户偏好")
		conv := strings.Index(got, "最近的对话")
		if facts < 0 || prefs < 0 || conv < 0 {
			t.Fatalf("missing block in prompt:\n%s", got)
		}
		if !(facts < prefs && prefs < conv) {
			t.Errorf("block order wrong: facts=%d prefs=%d conv=%d", facts, prefs, conv)
		}
		if !strings.Contains(got, "- [基本信息] 名叫小明") {
			t.Errorf("fact not rendered as bullet:\n%s", got)
		}
		if !strings.Contains(got, "用户: 你好\n助手: 你好呀") {
			t.Errorf("turn not rendered:\n%s", got)
		}
	})

	t.Run("history window", func(t *testing.T) {
		var history []session.Turn
		for _, u := range []string{"一", "二", "三", "四", "五"} {
			history = append(history, session.Turn{User: u, Assistant: "嗯"})
		}
		got := p.systemPrompt(session.NewMemory(), history)
		if strings.Contains(got, "用户: 二") {
			t.Error("prompt includes turns beyond the window")
		}
		// Default window is three turns: 三四五.
		for _, u := range []string{"三", "四", "五"} {
			if !strings.Contains(got, "用户: "+u) {
				t.Errorf("prompt missing recent turn %q", u)
			}
		}
	})
}

func collectEvents(t *testing.T, es *EventStream) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := es.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				return events
			}
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestStreamEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{fragments: []string{"你好", "！今天", "天气不错", "。"}},
		&fakeLLM{reply: extractorReply("happy")})

	es, err := env.pipeline.OpenStream(ctx, "a", "你好")
	if err != nil {
		t.Fatal(err)
	}
	events := collectEvents(t, es)

	if len(events) != 3 {
		t.Fatalf("got %d events; want 2 chunks + complete: %+v", len(events), events)
	}
	want := []struct {
		text  string
		index int
	}{
		{"你好！", 1},
		{"今天天气不错。", 2},
	}
	for i, w := range want {
		ev := events[i]
		if ev.Type != EventChunk || ev.Text != w.text || ev.Index != w.index {
			t.Errorf("events[%d] = %+v; want chunk %q index %d", i, ev, w.text, w.index)
		}
		if ev.AudioPath == "" {
			t.Errorf("events[%d] has no audio path", i)
		}
	}
	final := events[2]
	if final.Type != EventComplete || final.FullText != "你好！今天天气不错。" {
		t.Errorf("terminal event = %+v", final)
	}

	// Turn recorded with the full text, and extraction ran.
	h := env.store.LoadHistory(ctx, "a")
	if len(h) != 1 || h[0].Assistant != "你好！今天天气不错。" {
		t.Errorf("history = %+v", h)
	}
	if len(env.extLLM.calls) != 1 {
		t.Errorf("extraction called %d times; want 1", len(env.extLLM.calls))
	}
}

func TestStreamVoiceFixedAtStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{fragments: []string{"好的。", "没问题。"}},
		&fakeLLM{reply: extractorReply("sad")})

	// The session already prefers the serious voice.
	env.store.SetVoicePreference(ctx, "a", "serious")

	es, err := env.pipeline.OpenStream(ctx, "a", "讲个故事")
	if err != nil {
		t.Fatal(err)
	}
	collectEvents(t, es)

	if len(env.synth.calls) != 2 {
		t.Fatalf("synthesizer called %d times; want 2", len(env.synth.calls))
	}
	for i, c := range env.synth.calls {
		if !strings.HasSuffix(c.req.ReferenceAudio, "serious.mp3") {
			t.Errorf("call %d ReferenceAudio = %q; preference must win for the whole turn",
				i, c.req.ReferenceAudio)
		}
	}
}

func TestStreamModelFailureEmitsErrorEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{fragments: []string{"第一句。"}, streamErr: errors.New("connection reset")},
		&fakeLLM{reply: extractorReply("neutral")})

	es, err := env.pipeline.OpenStream(ctx, "a", "你好")
	if err != nil {
		t.Fatal(err)
	}
	events := collectEvents(t, es)

	if len(events) != 2 {
		t.Fatalf("got %d events; want chunk + error: %+v", len(events), events)
	}
	if events[0].Type != EventChunk {
		t.Errorf("events[0] = %+v; want chunk", events[0])
	}
	if events[1].Type != EventError || events[1].Error == "" {
		t.Errorf("events[1] = %+v; want error event", events[1])
	}

	// A failed stream must not record a partial turn.
	if h := env.store.LoadHistory(ctx, "a"); len(h) != 0 {
		t.Errorf("partial turn recorded: %+v", h)
	}
	if len(env.extLLM.calls) != 0 {
		t.Error("extraction ran for a failed stream")
	}
}

func TestStreamSynthesisFailureEmitsErrorEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t,
		&fakeLLM{fragments: []string{"你好。"}},
		&fakeLLM{reply: extractorReply("neutral")})
	env.synth.err = errors.New("tts down")

	es, err := env.pipeline.OpenStream(ctx, "a", "你好")
	if err != nil {
		t.Fatal(err)
	}
	events := collectEvents(t, es)

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v; want a single error event", events)
	}
	if h := env.store.LoadHistory(ctx, "a"); len(h) != 0 {
		t.Errorf("partial turn recorded: %+v", h)
	}
}

func TestStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newTestEnv(t,
		&fakeLLM{fragments: []string{"第一句。", "第二句。"}},
		&fakeLLM{reply: extractorReply("neutral")})

	es, err := env.pipeline.OpenStream(ctx, "a", "你好")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := es.Next(); err != nil {
		t.Fatal(err)
	}

	cancel()
	if _, err := es.Next(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next after cancel = %v; want context.Canceled", err)
	}

	// Cancelled turns are not finalized.
	if h := env.store.LoadHistory(context.Background(), "a"); len(h) != 0 {
		t.Errorf("cancelled turn recorded: %+v", h)
	}
	if len(env.synth.calls) != 1 {
		t.Errorf("synthesizer called %d times after cancel; want 1", len(env.synth.calls))
	}
}
