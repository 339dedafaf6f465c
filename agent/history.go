package agent

import (
	"context"
	"sort"
	"sync"
)

// HistoryStore persists conversation history keyed by conversation ID.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Load returns the messages of a conversation in append order.
	// Unknown conversations yield an empty history.
	Load(ctx context.Context, conversationID string) ([]Message, error)

	// Append adds messages to the end of a conversation atomically.
	Append(ctx context.Context, conversationID string, msgs ...Message) error

	// Clear removes a conversation.
	Clear(ctx context.Context, conversationID string) error
}

// MemoryHistory is the default in-process HistoryStore.
type MemoryHistory struct {
	mu    sync.RWMutex
	convs map[string][]Message
}

// NewMemoryHistory creates an empty in-memory store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{convs: make(map[string][]Message)}
}

// Load implements HistoryStore
func (h *MemoryHistory) Load(_ context.Context, conversationID string) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.convs[conversationID]
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

// Append implements HistoryStore
func (h *MemoryHistory) Append(_ context.Context, conversationID string, msgs ...Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.convs[conversationID] = append(h.convs[conversationID], m.Clone())
	}
	return nil
}

// Clear implements HistoryStore
func (h *MemoryHistory) Clear(_ context.Context, conversationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, conversationID)
	return nil
}

// Conversations returns the number of stored conversations
func (h *MemoryHistory) Conversations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.convs)
}

// IDs returns the stored conversation IDs, sorted
func (h *MemoryHistory) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.convs))
	for id := range h.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
