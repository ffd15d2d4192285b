package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Options configures an Updater.
type Options struct {
	Client *http.Client
	Logger *zap.Logger
	// Now stamps lock entries. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns updater options. Fetches have no timeout of their
// own; only the caller's context bounds them.
func DefaultOptions() *Options {
	return &Options{
		Client: &http.Client{},
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

// Updater materializes descriptors under a library root.
type Updater struct {
	libDir string
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// Result summarizes one descriptor update.
type Result struct {
	Name    string
	Dir     string
	Fetched []string
	Kept    []string
	Removed []string
}

// NewUpdater creates an updater writing into libDir.
func NewUpdater(libDir string, opts *Options) *Updater {
	def := DefaultOptions()
	if opts == nil {
		opts = def
	}
	u := &Updater{libDir: libDir, client: opts.Client, logger: opts.Logger, now: opts.Now}
	if u.client == nil {
		u.client = def.Client
	}
	if u.logger == nil {
		u.logger = def.Logger
	}
	if u.now == nil {
		u.now = def.Now
	}
	return u
}

// Dir returns the library directory of the named descriptor.
func (u *Updater) Dir(name string) string { return filepath.Join(u.libDir, name) }

// Update brings lib/<d.Name>/ in line with d: artifacts already recorded in
// the lock file and present on disk are kept, the rest are fetched, and
// files the descriptor no longer lists are removed.
func (u *Updater) Update(ctx context.Context, d Descriptor) (Result, error) {
	dir := u.Dir(d.Name)
	res := Result{Name: d.Name, Dir: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	old, err := ReadLock(dir)
	if err != nil {
		return res, fmt.Errorf("%s: %w", d.Name, err)
	}
	lock := &Lock{Descriptor: filepath.ToSlash(d.Path)}

	for _, a := range d.Artifacts {
		if e, ok := old.Find(a.Source); ok && e.File == a.File && u.present(dir, e) {
			lock.Artifacts = append(lock.Artifacts, e)
			res.Kept = append(res.Kept, a.File)
			continue
		}

		e, err := u.fetch(ctx, dir, a)
		if err != nil {
			return res, fmt.Errorf("%s: fetching %s: %w", d.Name, a.Source, err)
		}
		u.logger.Debug("fetched artifact",
			zap.String("dependency", d.Name),
			zap.String("source", a.Source),
			zap.Int64("size", e.Size))
		lock.Artifacts = append(lock.Artifacts, e)
		res.Fetched = append(res.Fetched, a.File)
	}

	removed, err := prune(dir, d)
	res.Removed = removed
	if err != nil {
		return res, fmt.Errorf("%s: %w", d.Name, err)
	}
	if err := WriteLock(dir, lock); err != nil {
		return res, fmt.Errorf("%s: %w", d.Name, err)
	}
	return res, nil
}

func (u *Updater) present(dir string, e LockedEntry) bool {
	info, err := os.Stat(filepath.Join(dir, e.File))
	return err == nil && info.Mode().IsRegular() && info.Size() == e.Size
}

func (u *Updater) open(ctx context.Context, a Artifact) (io.ReadCloser, error) {
	if a.url.Scheme == "file" {
		return os.Open(filepath.FromSlash(a.url.Path))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// fetch downloads a into dir through a temporary file so that a failed
// transfer never leaves a truncated artifact behind.
func (u *Updater) fetch(ctx context.Context, dir string, a Artifact) (LockedEntry, error) {
	src, err := u.open(ctx, a)
	if err != nil {
		return LockedEntry{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return LockedEntry{}, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return LockedEntry{}, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, a.File)); err != nil {
		return LockedEntry{}, err
	}

	return LockedEntry{
		Source:  a.Source,
		File:    a.File,
		Size:    n,
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		Fetched: u.now().UTC().Truncate(time.Second),
	}, nil
}

// prune removes top-level files of dir that d does not list.
func prune(dir string, d Descriptor) ([]string, error) {
	keep := map[string]bool{LockFile: true}
	for _, a := range d.Artifacts {
		keep[a.File] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var removed []string
	for _, e := range entries {
		if keep[e.Name()] || e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove stale artifact: %w", err)
		}
		removed = append(removed, e.Name())
	}
	sort.Strings(removed)
	return removed, nil
}
