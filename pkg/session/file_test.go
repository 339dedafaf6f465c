package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/config"
)

func TestFileStore_AppendLoadClear(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Append(ctx, "conv-1", agent.UserMessage("hi"), agent.AssistantMessage("hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "conv-1", agent.UserMessage("again")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[2].Content != "again" {
		t.Errorf("order not preserved: %v", msgs)
	}

	info, err := os.Stat(filepath.Join(dir, "conv-1.jsonl"))
	if err != nil {
		t.Fatalf("history file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v", info.Mode().Perm())
	}

	ids, _ := store.Conversations(ctx)
	if len(ids) != 1 || ids[0] != "conv-1" {
		t.Errorf("Conversations = %v", ids)
	}

	if err := store.Clear(ctx, "conv-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := store.Clear(ctx, "conv-1"); err != nil {
		t.Errorf("Clear of absent conversation should succeed: %v", err)
	}
	msgs, _ = store.Load(ctx, "conv-1")
	if len(msgs) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(msgs))
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if err := store.Append(context.Background(), id, agent.UserMessage("x")); !errors.Is(err, ErrInvalidConversationID) {
			t.Errorf("id %q: expected ErrInvalidConversationID, got %v", id, err)
		}
	}
}

func TestFileStore_Closed(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	_ = store.Close()

	if err := store.Append(context.Background(), "c", agent.UserMessage("x")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestNew(t *testing.T) {
	mem, err := New(config.SessionConfig{Store: "memory"})
	if err != nil {
		t.Fatalf("New memory failed: %v", err)
	}
	if _, ok := mem.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", mem)
	}

	file, err := New(config.SessionConfig{Store: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New file failed: %v", err)
	}
	if _, ok := file.(*FileStore); !ok {
		t.Errorf("expected *FileStore, got %T", file)
	}

	if _, err := New(config.SessionConfig{Store: "etcd"}); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Append(ctx, "b", agent.UserMessage("x"))
	_ = store.Append(ctx, "a", agent.UserMessage("y"))

	ids, err := store.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Conversations = %v", ids)
	}
}
