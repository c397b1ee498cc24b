// Package profile stores each user's profile document and provides the text
// helpers used to edit it.
//
// Documents are opaque markdown to the rest of AskFlow; only section headers
// of the form "### N. TITLE" carry meaning.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// backupTimeFormat is used in backup file names.
const backupTimeFormat = "20060102150405"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.+-]`)

// Store reads and writes a user's profile document.
type Store interface {
	Read(ctx context.Context, userID string) (string, error)
	Write(ctx context.Context, userID string, text string) error
	Backup(ctx context.Context, userID string) (string, error)
}

// FileStore keeps one markdown file per user under dir.
type FileStore struct {
	dir string
	now func() time.Time
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Path returns the profile file for userID.
func (s *FileStore) Path(userID string) string {
	return filepath.Join(s.dir, fileName(userID)+".md")
}

// Read returns the user's profile, or "" when none has been written yet.
func (s *FileStore) Read(ctx context.Context, userID string) (string, error) {
	data, err := os.ReadFile(s.Path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read profile for %s: %w", userID, err)
	}
	return string(data), nil
}

// Write replaces the user's profile.
func (s *FileStore) Write(ctx context.Context, userID string, text string) error {
	path := s.Path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write profile for %s: %w", userID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace profile for %s: %w", userID, err)
	}
	slog.Debug("profile.FileStore.Write", "userID", userID, "length", len(text))
	return nil
}

// Backup copies the current profile to a timestamped file and returns its
// path. It returns "" without error when there is nothing to back up.
func (s *FileStore) Backup(ctx context.Context, userID string) (string, error) {
	current, err := s.Read(ctx, userID)
	if err != nil || current == "" {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s_backup.md", fileName(userID), s.now().Format(backupTimeFormat)))
	if err := os.WriteFile(path, []byte(current), 0644); err != nil {
		return "", fmt.Errorf("failed to back up profile for %s: %w", userID, err)
	}
	slog.Info("profile.FileStore.Backup: existing profile backed up", "userID", userID, "path", path)
	return path, nil
}

func fileName(userID string) string {
	name := unsafeNameChars.ReplaceAllString(userID, "_")
	if name == "" {
		name = "_"
	}
	return name
}
