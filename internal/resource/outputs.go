package resource

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
)

// Outputs is a write destination for resources.
type Outputs interface {
	Put(r Resource) error
}

// OutputsFunc adapts a function to Outputs.
type OutputsFunc func(r Resource) error

// Put calls f(r).
func (f OutputsFunc) Put(r Resource) error { return f(r) }

// DirOutputs writes each resource to dir/<name>, creating parent
// directories and stamping the file with the resource's timestamp.
func DirOutputs(dir string) Outputs {
	return OutputsFunc(func(r Resource) error {
		dest := filepath.Join(dir, filepath.FromSlash(r.Name()))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", r.Name(), err)
		}
		if err := os.WriteFile(dest, r.bytes, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
		if !r.modified.IsZero() {
			if err := os.Chtimes(dest, r.modified, r.modified); err != nil {
				return fmt.Errorf("failed to stamp %s: %w", dest, err)
			}
		}
		return nil
	})
}

// ZipOutputs writes resources as members of a zip archive.
type ZipOutputs struct {
	w     io.Writer
	zw    *zip.Writer
	names map[string]bool

	// tmp and dest are set for archives created with CreateZip.
	tmp  string
	dest string
}

// NewZipOutputs creates a ZipOutputs writing to w. Close must be called to
// flush the central directory.
func NewZipOutputs(w io.Writer) *ZipOutputs {
	return &ZipOutputs{w: w, zw: zip.NewWriter(w), names: make(map[string]bool)}
}

// Put writes r as an archive member. Writing the same name twice is an error
// because zip readers disagree on which duplicate wins.
func (z *ZipOutputs) Put(r Resource) error {
	name := path.Clean(strings.TrimPrefix(r.Name(), "/"))
	if z.names[name] {
		return fmt.Errorf("duplicate archive member %s", name)
	}
	z.names[name] = true

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: r.modified,
	}
	fw, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to create archive member %s: %w", name, err)
	}
	if _, err := fw.Write(r.bytes); err != nil {
		return fmt.Errorf("failed to write archive member %s: %w", name, err)
	}
	return nil
}

// Members returns the member names written so far, sorted.
func (z *ZipOutputs) Members() []string {
	names := make([]string, 0, len(z.names))
	for n := range z.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close finishes the archive and closes the underlying writer if it is a
// Closer. An archive created with CreateZip is then moved to its final path.
func (z *ZipOutputs) Close() error {
	err := z.zw.Close()
	if c, ok := z.w.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if z.tmp == "" {
		return err
	}
	if err == nil {
		if err = os.Rename(z.tmp, z.dest); err == nil {
			return nil
		}
		err = fmt.Errorf("failed to install %s: %w", z.dest, err)
	}
	os.Remove(z.tmp)
	return err
}

// Abort discards an archive created with CreateZip, leaving nothing at its
// path. Other archives are simply closed.
func (z *ZipOutputs) Abort() {
	if c, ok := z.w.(io.Closer); ok {
		c.Close()
	}
	if z.tmp != "" {
		os.Remove(z.tmp)
	}
}

// CreateZip starts an archive that appears at path only once Close succeeds.
// Members are written to a temporary file next to path.
func CreateZip(path string) (*ZipOutputs, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.CreateTemp(dir, ".pack-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	z := NewZipOutputs(f)
	z.tmp, z.dest = f.Name(), path
	return z, nil
}
