package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/security"
)

const historyExt = ".jsonl"

// validateID checks that an ID is safe to use as a file name.
func validateID(id string) error {
	if err := security.ValidateFileName(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConversationID, err)
	}
	return nil
}

// FileStore implements Store using one JSONL file per conversation.
// Storage layout:
//
//	<dir>/
//	  └── <conversation-id>.jsonl
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed store. If dir is empty, uses
// ~/.reasona/history.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".reasona", "history")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+historyExt)
}

// Load implements agent.HistoryStore
func (f *FileStore) Load(_ context.Context, conversationID string) ([]agent.Message, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	file, err := os.Open(f.path(conversationID)) // #nosec G304 - id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return []agent.Message{}, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer func() { _ = file.Close() }()

	msgs := []agent.Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m agent.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return msgs, nil
}

// Append implements agent.HistoryStore. The messages of one call are
// written with a single write.
func (f *FileStore) Append(_ context.Context, conversationID string, msgs ...agent.Message) error {
	if err := validateID(conversationID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}

	file, err := os.OpenFile(f.path(conversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - id validated to prevent traversal
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Clear implements agent.HistoryStore
func (f *FileStore) Clear(_ context.Context, conversationID string) error {
	if err := validateID(conversationID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}

	if err := os.Remove(f.path(conversationID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove history file: %w", err)
	}
	return nil
}

// Conversations implements Store
func (f *FileStore) Conversations(context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), historyExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), historyExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
