package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chatling/chatling/pkg/kv"
)

var _ Backend = (*KVBackend)(nil)

// KVBackend persists session state as msgpack blobs in a kv.Store under
// the "sess:" prefix. Suited to the BadgerDB store when many sessions make
// one-file-per-session layouts unwieldy.
type KVBackend struct {
	store kv.Store
}

// NewKVBackend wraps a kv.Store. The store remains owned by the caller.
func NewKVBackend(store kv.Store) *KVBackend {
	return &KVBackend{store: store}
}

func memoryKey(sessionID string) string  { return "sess:" + sessionID + ":memory" }
func historyKey(sessionID string) string { return "sess:" + sessionID + ":history" }

func (b *KVBackend) LoadMemory(ctx context.Context, sessionID string) (Memory, error) {
	data, err := b.store.Get(ctx, memoryKey(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Memory{}, ErrNotFound
		}
		return Memory{}, fmt.Errorf("session: kv get memory: %w", err)
	}
	var m Memory
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Memory{}, fmt.Errorf("session: decode memory: %w", err)
	}
	return m, nil
}

func (b *KVBackend) SaveMemory(ctx context.Context, sessionID string, m Memory) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("session: encode memory: %w", err)
	}
	if err := b.store.Set(ctx, memoryKey(sessionID), data); err != nil {
		return fmt.Errorf("session: kv set memory: %w", err)
	}
	return nil
}

func (b *KVBackend) LoadHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	data, err := b.store.Get(ctx, historyKey(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: kv get history: %w", err)
	}
	var h []Turn
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("session: decode history: %w", err)
	}
	return h, nil
}

func (b *KVBackend) SaveHistory(ctx context.Context, sessionID string, h []Turn) error {
	data, err := msgpack.Marshal(h)
	if err != nil {
		return fmt.Errorf("session: encode history: %w", err)
	}
	if err := b.store.Set(ctx, historyKey(sessionID), data); err != nil {
		return fmt.Errorf("session: kv set history: %w", err)
	}
	return nil
}
