package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// File names used by FileStore inside its directory.
const (
	ProgressFileName = "progress.json"
	ResultsFileName  = "results.json"
	FiresFileName    = "fires.json"
)

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore persists progress as {userId: [questionText, ...]}, the results
// log as a JSON array and fire claims as {key: time}. Jobs stay in memory.
//
// Files are loaded once at open and rewritten after every mutation and on Close.
type FileStore struct {
	*InMemoryStore
	dir     string
	flushMu sync.Mutex
}

// NewFileStore opens (or creates) a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	s := &FileStore{InMemoryStore: NewInMemoryStore(), dir: dir}

	if err := readJSONFile(s.path(ProgressFileName), &s.progress); err != nil {
		return nil, err
	}
	if err := readJSONFile(s.path(ResultsFileName), &s.results); err != nil {
		return nil, err
	}
	if err := readJSONFile(s.path(FiresFileName), &s.fires); err != nil {
		return nil, err
	}
	if s.progress == nil {
		s.progress = make(map[string][]string)
	}
	if s.fires == nil {
		s.fires = make(map[string]time.Time)
	}
	slog.Info("FileStore opened", "dir", dir, "users", len(s.progress), "results", len(s.results))
	return s, nil
}

func (s *FileStore) RegisterUser(userID string) error {
	if err := s.InMemoryStore.RegisterUser(userID); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) AppendProgress(userID string, texts []string) error {
	if err := s.InMemoryStore.AppendProgress(userID, texts); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) AppendResult(r models.FlowResult) error {
	if err := s.InMemoryStore.AppendResult(r); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) ClaimFire(key string) (bool, error) {
	claimed, err := s.InMemoryStore.ClaimFire(key)
	if err != nil || !claimed {
		return claimed, err
	}
	return true, s.flush()
}

// Close writes every file one last time.
func (s *FileStore) Close() error {
	slog.Debug("FileStore.Close: flushing", "dir", s.dir)
	return s.flush()
}

func (s *FileStore) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	progress, results, fires := s.snapshot()
	if err := writeJSONFile(s.path(ProgressFileName), progress); err != nil {
		return err
	}
	if results == nil {
		results = []models.FlowResult{}
	}
	if err := writeJSONFile(s.path(ResultsFileName), results); err != nil {
		return err
	}
	return writeJSONFile(s.path(FiresFileName), fires)
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSONFile decodes path into v; a missing or empty file leaves v untouched.
func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// writeJSONFile replaces path atomically through a temp file and rename.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
