// Package archive locates resources in archives and other named locations.
//
// A SearchPath is an ordered list of locations; lookups return the first
// match. Zip archives are read fully into memory when opened, so a search
// path never holds file handles.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/compilo-build/compilo/internal/resource"
)

// Suffix is the file suffix of archives picked up by FindArchives.
const Suffix = ".zip"

// Location is something resources can be looked up in by name.
type Location interface {
	Lookup(name string) (resource.Resource, bool, error)
	String() string
}

// Finder is the read side of a class path.
type Finder interface {
	Lookup(name string) (resource.Resource, bool, error)
}

// SearchPath is an ordered list of locations.
type SearchPath []Location

// Lookup returns the resource from the first location that has name.
func (p SearchPath) Lookup(name string) (resource.Resource, bool, error) {
	for _, loc := range p {
		r, ok, err := loc.Lookup(name)
		if err != nil {
			return resource.Resource{}, false, fmt.Errorf("%s: %w", loc, err)
		}
		if ok {
			return r, true, nil
		}
	}
	return resource.Resource{}, false, nil
}

// Prepend returns a new path with locs in front of p.
func (p SearchPath) Prepend(locs ...Location) SearchPath {
	out := make(SearchPath, 0, len(locs)+len(p))
	out = append(out, locs...)
	return append(out, p...)
}

// Append returns a new path with locs after p.
func (p SearchPath) Append(locs ...Location) SearchPath {
	out := make(SearchPath, 0, len(locs)+len(p))
	out = append(out, p...)
	return append(out, locs...)
}

func (p SearchPath) String() string {
	parts := make([]string, len(p))
	for i, loc := range p {
		parts[i] = loc.String()
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// Zip is an archive held in memory.
type Zip struct {
	path    string
	members map[string]*zip.File
	names   []string
}

var _ Location = (*Zip)(nil)

// OpenZip reads the archive at path.
func OpenZip(path string) (*Zip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return ReadZip(path, data)
}

// ReadZip indexes an archive already in memory. path names it in errors.
func ReadZip(path string, data []byte) (*Zip, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	z := &Zip{path: path, members: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, dup := z.members[f.Name]; dup {
			continue
		}
		z.members[f.Name] = f
		z.names = append(z.names, f.Name)
	}
	sort.Strings(z.names)
	return z, nil
}

// Lookup implements Location.
func (z *Zip) Lookup(name string) (resource.Resource, bool, error) {
	f, ok := z.members[name]
	if !ok {
		return resource.Resource{}, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return resource.Resource{}, false, fmt.Errorf("failed to open member %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return resource.Resource{}, false, fmt.Errorf("failed to read member %s: %w", name, err)
	}
	return resource.New(name, f.Modified, data), true, nil
}

// Names lists member names in sorted order.
func (z *Zip) Names() []string { return append([]string(nil), z.names...) }

func (z *Zip) String() string { return z.path }

// FindArchives returns every archive under root, recursively, sorted by
// path. A missing root yields no archives.
func FindArchives(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), Suffix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// OpenAll opens every archive in paths, in order.
func OpenAll(paths []string) (SearchPath, error) {
	sp := make(SearchPath, 0, len(paths))
	for _, p := range paths {
		z, err := OpenZip(p)
		if err != nil {
			return nil, err
		}
		sp = append(sp, z)
	}
	return sp, nil
}
