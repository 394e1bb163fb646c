package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatling/chatling/pkg/genai"
)

// extractSystemPrompt pins the model to JSON-only output.
const extractSystemPrompt = "你是一个精确提取信息的助手。只返回JSON格式，不要添加任何额外说明。"

// extractPromptTemplate asks for categorized facts, preferences, and the
// current emotional state from one completed turn.
const extractPromptTemplate = `分析以下对话并提取重要信息:

用户: %s
助手: %s

请提取以下分类的信息:
1. 基本信息 - 姓名、年龄、性别、学校等
2. 家庭信息 - 父母、兄弟姐妹、家庭结构等
3. 兴趣爱好 - 喜欢的活动、游戏、书籍等
4. 情感状态 - 当前情绪、担忧、期待等
5. 学习情况 - 学科喜好、困难、成就等
6. 重要事件 - 过去经历或即将发生的事件

以JSON格式返回，不要包含任何其他内容:
{
  "new_facts": [{"category": "类别", "fact": "具体事实"}],
  "preferences": {},
  "emotional_state": ""
}

emotional_state 从以下词汇中选择: "happy", "sad", "neutral", "curious", "anxious", "excited", "cheerful", "comforting", "serious"。
只提取对话中直接提及或强烈暗示的信息，不要推测。如果没有提取到新信息，则返回空数组和空对象。`

// extractedFact is one categorized fact from the extraction response.
type extractedFact struct {
	Category string `json:"category"`
	Fact     string `json:"fact"`
}

// extraction is the JSON schema the extraction call asks the model for.
type extraction struct {
	NewFacts       []extractedFact   `json:"new_facts"`
	Preferences    map[string]string `json:"preferences"`
	EmotionalState string            `json:"emotional_state"`
}

// Extractor updates session Memory from completed turns by running a
// structured-extraction call against the language model.
type Extractor struct {
	llm   genai.Client
	store *Store
	log   *slog.Logger
}

// NewExtractor creates an Extractor writing through the given Store.
func NewExtractor(llm genai.Client, store *Store) *Extractor {
	return &Extractor{llm: llm, store: store, log: slog.Default()}
}

// Extract analyses one turn and merges the result into the session's
// Memory. It returns the detected emotion.
//
// Extraction is best effort: if the model call fails or returns unparsable
// output, the error is logged, Memory is left untouched, and
// DefaultEmotion is returned. Failures never propagate to the caller.
func (e *Extractor) Extract(ctx context.Context, sessionID, userText, assistantText string) string {
	reply, err := e.llm.Complete(ctx, []genai.Message{
		{Role: genai.RoleSystem, Content: extractSystemPrompt},
		{Role: genai.RoleUser, Content: fmt.Sprintf(extractPromptTemplate, userText, assistantText)},
	})
	if err != nil {
		e.log.Error("memory extraction call failed", "session", sessionID, "err", err)
		return DefaultEmotion
	}

	var ext extraction
	if err := genai.UnmarshalOutput(reply, &ext); err != nil {
		e.log.Error("memory extraction returned unparsable output", "session", sessionID, "err", err)
		return DefaultEmotion
	}

	m := e.store.LoadMemory(ctx, sessionID)
	for _, f := range ext.NewFacts {
		m.AddFact(fmt.Sprintf("[%s] %s", f.Category, f.Fact))
	}
	for k, v := range ext.Preferences {
		m.Preferences[k] = v
	}
	if ext.EmotionalState != "" {
		m.CurrentEmotion = ext.EmotionalState
	}
	e.store.SaveMemory(ctx, sessionID, m)
	e.log.Debug("memory updated", "session", sessionID,
		"facts", len(m.Facts), "preferences", len(m.Preferences), "emotion", m.CurrentEmotion)

	if ext.EmotionalState == "" {
		return DefaultEmotion
	}
	return ext.EmotionalState
}
