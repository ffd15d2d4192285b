// Package resource provides the named, timestamped byte-content value that
// flows through every stage of the pipeline, together with the handler and
// output abstractions that consume it.
package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Resource is an immutable value: a name, a modification time and content.
// Transforms never modify a Resource; they return a new one.
type Resource struct {
	name     string
	modified time.Time
	bytes    []byte
}

// New creates a Resource. The content is copied.
func New(name string, modified time.Time, content []byte) Resource {
	b := make([]byte, len(content))
	copy(b, content)
	return Resource{name: name, modified: modified, bytes: b}
}

// Name returns the resource name.
func (r Resource) Name() string { return r.name }

// Modified returns the last-modified timestamp.
func (r Resource) Modified() time.Time { return r.modified }

// Bytes returns a copy of the content.
func (r Resource) Bytes() []byte {
	b := make([]byte, len(r.bytes))
	copy(b, r.bytes)
	return b
}

// Size returns the content length.
func (r Resource) Size() int { return len(r.bytes) }

// WithBytes returns a new Resource with the same name and timestamp and new content.
func (r Resource) WithBytes(content []byte) Resource {
	return New(r.name, r.modified, content)
}

// IsZero reports whether r is the zero Resource.
func (r Resource) IsZero() bool {
	return r.name == "" && r.bytes == nil
}

// FromFile reads path into a Resource named by its slash-separated path
// relative to root.
func FromFile(root, path string) (Resource, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to relativize %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Resource{name: filepath.ToSlash(rel), modified: info.ModTime(), bytes: data}, nil
}
