// Package session owns per-session conversational state: extracted memory
// (facts, preferences, emotion, voice preference) and a bounded history of
// turns. State is persisted through a pluggable Backend and cached in
// process; callers always receive copies and persist mutations by calling
// back through the Store.
package session

import (
	"errors"
	"maps"
	"slices"

	"github.com/chatling/chatling/pkg/jsontime"
)

// ErrNotFound is returned by backends when a session has no persisted state
// of the requested kind.
var ErrNotFound = errors.New("session: not found")

// DefaultEmotion is the emotion assumed before any has been detected.
const DefaultEmotion = "neutral"

// Memory is the durable extracted knowledge about one session's user.
type Memory struct {
	// Facts is append-only and deduplicated by exact string match.
	// Each entry is a category-prefixed display string: "[分类] 事实".
	Facts []string `json:"facts" msgpack:"facts"`

	// Preferences maps a preference type to its value.
	Preferences map[string]string `json:"preferences" msgpack:"preferences"`

	// CurrentEmotion is the last detected emotion, DefaultEmotion if none.
	CurrentEmotion string `json:"current_emotion" msgpack:"current_emotion"`

	// VoicePreference overrides emotion-based voice selection when set.
	VoicePreference string `json:"voice_preference,omitempty" msgpack:"voice_preference,omitempty"`

	// LastUpdated is stamped on every persisted write.
	LastUpdated jsontime.Unix `json:"last_updated" msgpack:"last_updated"`
}

// NewMemory returns the empty-default Memory.
func NewMemory() Memory {
	return Memory{
		Facts:          []string{},
		Preferences:    map[string]string{},
		CurrentEmotion: DefaultEmotion,
	}
}

// Clone returns a deep copy.
func (m Memory) Clone() Memory {
	cp := m
	cp.Facts = slices.Clone(m.Facts)
	cp.Preferences = maps.Clone(m.Preferences)
	return cp
}

// AddFact appends a fact unless an identical entry already exists.
// Reports whether the fact was added.
func (m *Memory) AddFact(fact string) bool {
	if slices.Contains(m.Facts, fact) {
		return false
	}
	m.Facts = append(m.Facts, fact)
	return true
}

// Turn is one user input and the assistant's response.
type Turn struct {
	User      string        `json:"user" msgpack:"user"`
	Assistant string        `json:"assistant" msgpack:"assistant"`
	Timestamp jsontime.Unix `json:"timestamp" msgpack:"timestamp"`
}

// cloneHistory deep-copies a turn slice.
func cloneHistory(h []Turn) []Turn {
	return slices.Clone(h)
}
