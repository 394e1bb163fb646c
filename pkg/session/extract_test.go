package session

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/chatling/chatling/pkg/genai"
	"github.com/chatling/chatling/pkg/kv"
)

// scriptedLLM replies with canned responses in order and records prompts.
type scriptedLLM struct {
	replies []string
	errs    []error
	calls   [][]genai.Message
}

func (f *scriptedLLM) Complete(_ context.Context, msgs []genai.Message) (string, error) {
	i := len(f.calls)
	f.calls = append(f.calls, msgs)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.replies[i], nil
}

func (f *scriptedLLM) Stream(_ context.Context, msgs []genai.Message) (genai.TokenStream, error) {
	reply, err := f.Complete(context.Background(), msgs)
	if err != nil {
		return nil, err
	}
	return genai.NewSliceStream(reply), nil
}

func TestExtractMergesFacts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	llm := &scriptedLLM{replies: []string{
		`{"new_facts":[{"category":"基本信息","fact":"名叫小明"},{"category":"兴趣爱好","fact":"喜欢恐龙"}],"preferences":{"称呼":"小明"},"emotional_state":"excited"}`,
	}}
	ext := NewExtractor(llm, store)

	emotion := ext.Extract(ctx, "a", "我叫小明，我最喜欢恐龙了！", "哇，小明你好呀！")
	if emotion != "excited" {
		t.Errorf("emotion = %q; want excited", emotion)
	}

	m := store.LoadMemory(ctx, "a")
	wantFacts := []string{"[基本信息] 名叫小明", "[兴趣爱好] 喜欢恐龙"}
	if !reflect.DeepEqual(m.Facts, wantFacts) {
		t.Errorf("Facts = %v; want %v", m.Facts, wantFacts)
	}
	if m.Preferences["称呼"] != "小明" {
		t.Errorf("Preferences = %v", m.Preferences)
	}
	if m.CurrentEmotion != "excited" {
		t.Errorf("CurrentEmotion = %q; want excited", m.CurrentEmotion)
	}

	if len(llm.calls) != 1 {
		t.Fatalf("llm called %d times; want 1", len(llm.calls))
	}
	prompt := llm.calls[0][1].Content
	if !strings.Contains(prompt, "我叫小明") || !strings.Contains(prompt, "哇，小明你好呀！") {
		t.Errorf("extraction prompt missing turn text:\n%s", prompt)
	}
}

func TestExtractDedupsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reply := `{"new_facts":[{"category":"基本信息","fact":"名叫小明"}],"preferences":{},"emotional_state":"happy"}`
	llm := &scriptedLLM{replies: []string{reply, reply}}
	ext := NewExtractor(llm, store)

	ext.Extract(ctx, "a", "我叫小明", "你好小明")
	ext.Extract(ctx, "a", "我叫小明", "记得呢")

	m := store.LoadMemory(ctx, "a")
	if len(m.Facts) != 1 {
		t.Errorf("Facts = %v; want exactly one entry", m.Facts)
	}
}

func TestExtractPreferenceOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	llm := &scriptedLLM{replies: []string{
		`{"new_facts":[],"preferences":{"最爱颜色":"蓝色"},"emotional_state":""}`,
		`{"new_facts":[],"preferences":{"最爱颜色":"红色"},"emotional_state":""}`,
	}}
	ext := NewExtractor(llm, store)

	ext.Extract(ctx, "a", "我喜欢蓝色", "好的")
	ext.Extract(ctx, "a", "现在我喜欢红色了", "记住了")

	m := store.LoadMemory(ctx, "a")
	if m.Preferences["最爱颜色"] != "红色" {
		t.Errorf("Preferences = %v; want latest value 红色", m.Preferences)
	}
}

func TestExtractEmptyEmotionKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := store.LoadMemory(ctx, "a")
	m.CurrentEmotion = "cheerful"
	store.SaveMemory(ctx, "a", m)

	llm := &scriptedLLM{replies: []string{
		`{"new_facts":[],"preferences":{},"emotional_state":""}`,
	}}
	ext := NewExtractor(llm, store)

	if emotion := ext.Extract(ctx, "a", "嗯", "嗯？"); emotion != DefaultEmotion {
		t.Errorf("emotion = %q; want %q when nothing detected", emotion, DefaultEmotion)
	}
	if got := store.LoadMemory(ctx, "a"); got.CurrentEmotion != "cheerful" {
		t.Errorf("CurrentEmotion = %q; empty extraction must not overwrite", got.CurrentEmotion)
	}
}

func TestExtractUnparsableLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := store.LoadMemory(ctx, "a")
	m.AddFact("[基本信息] 名叫小明")
	store.SaveMemory(ctx, "a", m)
	before := store.LoadMemory(ctx, "a")

	llm := &scriptedLLM{replies: []string{"对不起，我无法提取任何信息。"}}
	ext := NewExtractor(llm, store)

	if emotion := ext.Extract(ctx, "a", "你好", "你好呀"); emotion != DefaultEmotion {
		t.Errorf("emotion = %q; want %q on unparsable output", emotion, DefaultEmotion)
	}

	after := store.LoadMemory(ctx, "a")
	if !reflect.DeepEqual(after.Facts, before.Facts) ||
		!reflect.DeepEqual(after.Preferences, before.Preferences) ||
		after.CurrentEmotion != before.CurrentEmotion {
		t.Errorf("Memory changed on failed extraction:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestExtractRepairsSloppyJSON(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	llm := &scriptedLLM{replies: []string{
		"```json\n{\"new_facts\":[{\"category\":\"情感状态\",\"fact\":\"今天很开心\"},],\"preferences\":{},\"emotional_state\":\"happy\"}\n```",
	}}
	ext := NewExtractor(llm, store)

	if emotion := ext.Extract(ctx, "a", "今天真开心", "太好啦"); emotion != "happy" {
		t.Errorf("emotion = %q; want happy after fence strip and repair", emotion)
	}
	if m := store.LoadMemory(ctx, "a"); len(m.Facts) != 1 {
		t.Errorf("Facts = %v; want one entry", m.Facts)
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"dir": func(t *testing.T) Backend {
			b, err := NewDirBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
		"kv": func(t *testing.T) Backend {
			return NewKVBackend(kv.NewMemory())
		},
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := mk(t)

			if _, err := b.LoadMemory(ctx, "a"); err != ErrNotFound {
				t.Errorf("LoadMemory on empty backend = %v; want ErrNotFound", err)
			}
			if _, err := b.LoadHistory(ctx, "a"); err != ErrNotFound {
				t.Errorf("LoadHistory on empty backend = %v; want ErrNotFound", err)
			}

			m := NewMemory()
			m.AddFact("[基本信息] 名叫小明")
			m.Preferences["称呼"] = "小明"
			m.CurrentEmotion = "happy"
			if err := b.SaveMemory(ctx, "a", m); err != nil {
				t.Fatal(err)
			}
			got, err := b.LoadMemory(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got.Facts, m.Facts) || got.CurrentEmotion != "happy" {
				t.Errorf("memory round trip = %+v; want %+v", got, m)
			}

			// Memory and history persist independently.
			h := []Turn{{User: "你好", Assistant: "你好呀"}}
			if err := b.SaveHistory(ctx, "a", h); err != nil {
				t.Fatal(err)
			}
			gotH, err := b.LoadHistory(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if len(gotH) != 1 || gotH[0].User != "你好" {
				t.Errorf("history round trip = %+v", gotH)
			}
		})
	}
}

func TestDirBackendFlattensPathSeparators(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewDirBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SaveMemory(ctx, "../escape/attempt", NewMemory()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.LoadMemory(ctx, "../escape/attempt"); err != nil {
		t.Errorf("LoadMemory after save = %v", err)
	}
}
