// Package deps materializes dependency descriptors into the library root.
//
// A descriptor build/<name>.dependencies lists one artifact per line: an
// http(s) URL, a file:// URL or a path relative to the descriptor. Blank
// lines and lines starting with # are ignored. The artifacts of <name> are
// kept in lib/<name>/ next to a lock file recording what was fetched.
package deps

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Suffix is the file suffix of dependency descriptors.
const Suffix = ".dependencies"

// Descriptor is a parsed dependency descriptor.
type Descriptor struct {
	// Name is the descriptor's base name without Suffix; it names the
	// library subdirectory.
	Name      string
	Path      string
	Artifacts []Artifact
}

// Artifact is one line of a descriptor.
type Artifact struct {
	Line   int
	Source string
	// File is the name the artifact is stored under.
	File string

	url *url.URL
}

// Find returns every descriptor directly under dir, sorted. A missing dir
// has no descriptors.
func Find(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Suffix) && len(e.Name()) > len(Suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ParseFile reads and parses the descriptor at path.
func ParseFile(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to open descriptor: %w", err)
	}
	defer f.Close()

	d := Descriptor{
		Name: strings.TrimSuffix(filepath.Base(path), Suffix),
		Path: path,
	}
	files := make(map[string]int)

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		a, err := parseArtifact(filepath.Dir(path), text)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		a.Line = line
		if prev, dup := files[a.File]; dup {
			return Descriptor{}, fmt.Errorf("%s:%d: artifact file %s already listed on line %d", path, line, a.File, prev)
		}
		files[a.File] = line
		d.Artifacts = append(d.Artifacts, a)
	}
	if err := sc.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return d, nil
}

func parseArtifact(base, text string) (Artifact, error) {
	u, err := url.Parse(text)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// A plain path (one-letter schemes are Windows drive letters).
		p := text
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, filepath.FromSlash(p))
		}
		u = &url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	}

	switch u.Scheme {
	case "http", "https", "file":
	default:
		return Artifact{}, fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}

	file := path.Base(u.Path)
	if file == "." || file == "/" || file == "" {
		return Artifact{}, fmt.Errorf("artifact %q has no file name", text)
	}
	return Artifact{Source: text, File: file, url: u}, nil
}
