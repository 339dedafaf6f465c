// Package session persists conductor conversation history.
// Stores implement agent.HistoryStore and can be shared between conductors;
// each conversation is keyed by its conversation ID.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/config"
)

var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("history store is closed")
	// ErrInvalidConversationID is returned for IDs unsafe to use as keys or paths.
	ErrInvalidConversationID = errors.New("invalid conversation id")
)

// Store is a HistoryStore that can enumerate conversations and be closed.
type Store interface {
	agent.HistoryStore

	// Conversations returns the IDs of stored conversations, sorted.
	Conversations(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// New builds the store selected by cfg.Store.
func New(cfg config.SessionConfig) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(RedisConfig{
			URL:    cfg.RedisURL,
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL.Std(),
		})
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.Store)
	}
}

// MemoryStore keeps history in process.
type MemoryStore struct {
	*agent.MemoryHistory
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryHistory: agent.NewMemoryHistory()}
}

// Conversations implements Store
func (m *MemoryStore) Conversations(context.Context) ([]string, error) {
	return m.IDs(), nil
}

// Close implements Store
func (m *MemoryStore) Close() error { return nil }
