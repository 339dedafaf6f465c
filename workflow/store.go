package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/muthuks2020/reasona/pkg/security"
)

// Store persists run records.
type Store interface {
	// Save persists a run record, replacing any record with the same RunID
	Save(ctx context.Context, rec *RunRecord) error

	// Load retrieves a run record by ID
	Load(ctx context.Context, runID string) (*RunRecord, error)

	// List returns the records of one workflow, oldest first. An empty
	// name lists every workflow.
	List(ctx context.Context, workflow string) ([]*RunRecord, error)

	// Delete removes a run record
	Delete(ctx context.Context, runID string) error

	// Clear removes every record of one workflow
	Clear(ctx context.Context, workflow string) error
}

// validateID checks that a run ID or workflow name is usable as a file name
func validateID(id string) error {
	return security.ValidateFileName(id)
}

func copyRecord(rec *RunRecord) (*RunRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal run record: %w", err)
	}
	var out RunRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &out, nil
}

func sortRecords(recs []*RunRecord) {
	slices.SortStableFunc(recs, func(a, b *RunRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// MemoryStore implements Store in memory. Records are deep-copied on the way
// in and out.
type MemoryStore struct {
	records map[string]*RunRecord
	order   []string
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*RunRecord)}
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, rec *RunRecord) error {
	c, err := copyRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.RunID]; !exists {
		s.order = append(s.order, rec.RunID)
	}
	s.records[rec.RunID] = c
	return nil
}

// Load implements Store
func (s *MemoryStore) Load(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return copyRecord(rec)
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, workflow string) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RunRecord
	for _, id := range s.order {
		rec := s.records[id]
		if workflow != "" && rec.Workflow != workflow {
			continue
		}
		c, err := copyRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortRecords(out)
	return out, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == runID })
	return nil
}

// Clear implements Store
func (s *MemoryStore) Clear(_ context.Context, workflow string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if s.records[id].Workflow == workflow {
			delete(s.records, id)
			return true
		}
		return false
	})
	return nil
}

// FileStore implements Store with one JSON file per run, grouped in a
// directory per workflow.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new file-based run store
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// workflowDir maps a workflow name to its directory. Safe file names are
// used as they are; any other name gets a directory named after its hash.
// Records keep the real name.
func (s *FileStore) workflowDir(workflow string) (string, error) {
	if workflow == "" {
		return "", fmt.Errorf("invalid workflow name: empty")
	}
	if validateID(workflow) == nil {
		return filepath.Join(s.baseDir, workflow), nil
	}
	sum := sha256.Sum256([]byte(workflow))
	return filepath.Join(s.baseDir, "wf~"+hex.EncodeToString(sum[:12])), nil
}

// Save implements Store
func (s *FileStore) Save(_ context.Context, rec *RunRecord) error {
	if err := validateID(rec.RunID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	dir, err := s.workflowDir(rec.Workflow)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create workflow directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rec.RunID+".json"), data, 0600); err != nil {
		return fmt.Errorf("write run file: %w", err)
	}
	return nil
}

// Load implements Store
func (s *FileStore) Load(_ context.Context, runID string) (*RunRecord, error) {
	if err := validateID(runID); err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*", runID+".json"))
	if err != nil {
		return nil, fmt.Errorf("find run file: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return readRecord(matches[0])
}

func readRecord(path string) (*RunRecord, error) {
	// G304: path is built from the trusted base directory and validated names
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// List implements Store. Unreadable files are skipped.
func (s *FileStore) List(_ context.Context, workflow string) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dirs []string
	if workflow != "" {
		dir, err := s.workflowDir(workflow)
		if err != nil {
			return nil, err
		}
		dirs = []string{dir}
	} else {
		entries, err := os.ReadDir(s.baseDir)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(s.baseDir, e.Name()))
			}
		}
	}

	var recs []*RunRecord
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			rec, err := readRecord(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			recs = append(recs, rec)
		}
	}
	sortRecords(recs)
	return recs, nil
}

// Delete implements Store
func (s *FileStore) Delete(_ context.Context, runID string) error {
	if err := validateID(runID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*", runID+".json"))
	if err != nil {
		return fmt.Errorf("find run file: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove run file: %w", err)
		}
	}
	return nil
}

// Clear implements Store
func (s *FileStore) Clear(_ context.Context, workflow string) error {
	dir, err := s.workflowDir(workflow)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workflow directory: %w", err)
	}
	return nil
}
