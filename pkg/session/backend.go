package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Backend persists session state. A session's Memory and History are stored
// independently: either may exist without the other.
type Backend interface {
	LoadMemory(ctx context.Context, sessionID string) (Memory, error)
	SaveMemory(ctx context.Context, sessionID string, m Memory) error
	LoadHistory(ctx context.Context, sessionID string) ([]Turn, error)
	SaveHistory(ctx context.Context, sessionID string, h []Turn) error
}

var _ Backend = (*DirBackend)(nil)

// DirBackend stores one memory file and one history file per session as
// JSON under a dedicated directory:
//
//	{dir}/{id}_memory.json
//	{dir}/{id}_history.json
//
// The layout matches what external tooling expects, so the files stay
// human-readable.
type DirBackend struct {
	dir string
}

// NewDirBackend creates the directory if absent and returns the backend.
func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create memory dir: %w", err)
	}
	return &DirBackend{dir: dir}, nil
}

// path builds the file path for a session's state of the given kind.
// Path separators in the session id are flattened so an id cannot escape
// the memory directory.
func (b *DirBackend) path(sessionID, kind string) string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, sessionID)
	return filepath.Join(b.dir, id+"_"+kind+".json")
}

func (b *DirBackend) LoadMemory(_ context.Context, sessionID string) (Memory, error) {
	data, err := os.ReadFile(b.path(sessionID, "memory"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Memory{}, ErrNotFound
		}
		return Memory{}, fmt.Errorf("session: read memory: %w", err)
	}
	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return Memory{}, fmt.Errorf("session: decode memory: %w", err)
	}
	return m, nil
}

func (b *DirBackend) SaveMemory(_ context.Context, sessionID string, m Memory) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode memory: %w", err)
	}
	if err := os.WriteFile(b.path(sessionID, "memory"), data, 0o644); err != nil {
		return fmt.Errorf("session: write memory: %w", err)
	}
	return nil
}

func (b *DirBackend) LoadHistory(_ context.Context, sessionID string) ([]Turn, error) {
	data, err := os.ReadFile(b.path(sessionID, "history"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: read history: %w", err)
	}
	var h []Turn
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("session: decode history: %w", err)
	}
	return h, nil
}

func (b *DirBackend) SaveHistory(_ context.Context, sessionID string, h []Turn) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode history: %w", err)
	}
	if err := os.WriteFile(b.path(sessionID, "history"), data, 0o644); err != nil {
		return fmt.Errorf("session: write history: %w", err)
	}
	return nil
}
