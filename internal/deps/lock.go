package deps

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LockFile is the name of the lock file kept in each library directory.
const LockFile = ".compilo-lock.toml"

// Lock records the artifacts materialized for one descriptor.
type Lock struct {
	Descriptor string        `toml:"descriptor"`
	Artifacts  []LockedEntry `toml:"artifact"`
}

// LockedEntry is one fetched artifact.
type LockedEntry struct {
	Source  string    `toml:"source"`
	File    string    `toml:"file"`
	Size    int64     `toml:"size"`
	SHA256  string    `toml:"sha256"`
	Fetched time.Time `toml:"fetched"`
}

// Find returns the entry recorded for source.
func (l *Lock) Find(source string) (LockedEntry, bool) {
	for _, e := range l.Artifacts {
		if e.Source == source {
			return e, true
		}
	}
	return LockedEntry{}, false
}

// ReadLock reads dir's lock file. A missing file yields an empty lock.
func ReadLock(dir string) (*Lock, error) {
	var l Lock
	_, err := toml.DecodeFile(filepath.Join(dir, LockFile), &l)
	if errors.Is(err, fs.ErrNotExist) {
		return &Lock{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	return &l, nil
}

// WriteLock writes l to dir's lock file.
func WriteLock(dir string, l *Lock) error {
	var buf bytes.Buffer
	buf.WriteString("# Generated by compilo. Do not edit.\n")
	if err := toml.NewEncoder(&buf).Encode(l); err != nil {
		return fmt.Errorf("failed to encode lock file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, LockFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}
