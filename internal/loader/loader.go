// Package loader turns compiled units into definitions.
//
// A Loader resolves symbolic names against, in order, the definitions it
// has already made, its in-memory store, its archive search path and
// finally its parent. Each name is defined at most once per loader; a second
// loader over the same store produces independent definitions.
package loader

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/archive"
	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/store"
	"github.com/compilo-build/compilo/internal/unit"
)

// maxHierarchyDepth bounds super-chain walks so that a cycle across units
// cannot hang resolution.
const maxHierarchyDepth = 64

// Options configures a Loader.
type Options struct {
	Logger *zap.Logger
}

// Loader is a definition space.
type Loader struct {
	id      uuid.UUID
	store   *store.Store
	path    archive.SearchPath
	parent  *Loader
	defined map[string]*Definition
	logger  *zap.Logger
}

// New creates a loader. Any of s, path and parent may be nil.
func New(s *store.Store, path archive.SearchPath, parent *Loader, opts *Options) *Loader {
	logger := zap.NewNop()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}
	id := uuid.New()
	return &Loader{
		id:      id,
		store:   s,
		path:    path,
		parent:  parent,
		defined: make(map[string]*Definition),
		logger:  logger.With(zap.String("loader", id.String())),
	}
}

// ID identifies the loader's definition space.
func (l *Loader) ID() uuid.UUID { return l.id }

// Parent returns the delegation parent, or nil.
func (l *Loader) Parent() *Loader { return l.parent }

// Defined returns the definition of name made by this loader, if any.
// Parents are not consulted.
func (l *Loader) Defined(name string) (*Definition, bool) {
	d, ok := l.defined[canonical(name)]
	return d, ok
}

// Resolve returns the definition for a symbolic name such as "app/Build".
// Resolving the same name again returns the same *Definition.
func (l *Loader) Resolve(name string) (*Definition, error) {
	d, err := l.resolve(canonical(name))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, failure.New(failure.ClassResolutionFailed, "cannot resolve %s", name)
	}
	return d, nil
}

// resolve returns nil, nil when no location in the chain has name.
func (l *Loader) resolve(name string) (*Definition, error) {
	if d, ok := l.defined[name]; ok {
		return d, nil
	}

	key := unit.FileName(name)
	if l.store != nil {
		if r, ok := l.store.Get(key); ok {
			return l.define(r, l.store.String())
		}
	}

	for _, loc := range l.path {
		r, ok, err := loc.Lookup(key)
		if err != nil {
			return nil, failure.Wrap(failure.ClassResolutionFailed, err, "reading %s from %s", name, loc)
		}
		if ok {
			return l.define(r, loc.String())
		}
	}

	if l.parent != nil {
		return l.parent.resolve(name)
	}
	return nil, nil
}

// Define parses, verifies and records the unit in r. Defining a name this
// loader has already defined fails.
func (l *Loader) Define(r resource.Resource, origin string) (*Definition, error) {
	return l.define(r, origin)
}

func (l *Loader) define(r resource.Resource, origin string) (*Definition, error) {
	name := unit.NameOf(r.Name())
	if _, ok := l.defined[name]; ok {
		return nil, failure.New(failure.ClassResolutionFailed, "duplicate definition of %s in loader %s", name, l.id)
	}

	tree, err := unit.Parse(r.Bytes())
	if err != nil {
		return nil, fmt.Errorf("defining %s: %w", name, err)
	}
	if tree.Name != name {
		return nil, failure.New(failure.ClassResolutionFailed, "%s contains unit %s", r.Name(), tree.Name)
	}
	if err := unit.Verify(tree); err != nil {
		return nil, fmt.Errorf("defining %s: %w", name, err)
	}

	d := &Definition{Name: name, Tree: tree, Origin: origin, LoaderID: l.id, loader: l}
	l.defined[name] = d
	l.logger.Debug("defined unit", zap.String("name", name), zap.String("origin", origin))
	return d, nil
}

func canonical(name string) string { return unit.NameOf(unit.FileName(name)) }

// Definition is a loaded unit bound to the loader that defined it.
type Definition struct {
	Name     string
	Tree     unit.Tree
	Origin   string
	LoaderID uuid.UUID

	loader *Loader
}

// Loader returns the loader that made d.
func (d *Definition) Loader() *Loader { return d.loader }

// Super resolves d's super unit through d's loader. It returns nil when d
// has no super unit.
func (d *Definition) Super() (*Definition, error) {
	if d.Tree.Super == "" {
		return nil, nil
	}
	return d.loader.Resolve(d.Tree.Super)
}

// FindMethod looks name/desc up in d and then along its super chain. It
// returns the definition that declares the method.
func (d *Definition) FindMethod(name string, desc unit.Descriptor) (*Definition, unit.Method, error) {
	cur := d
	for depth := 0; cur != nil; depth++ {
		if depth > maxHierarchyDepth {
			return nil, unit.Method{}, failure.New(failure.ClassResolutionFailed, "hierarchy of %s is too deep or cyclic", d.Name)
		}
		if m, _, ok := cur.Tree.Method(name, desc); ok {
			return cur, m, nil
		}
		next, err := cur.Super()
		if err != nil {
			return nil, unit.Method{}, err
		}
		cur = next
	}
	return nil, unit.Method{}, failure.New(failure.ClassResolutionFailed, "no method %s%s in %s", name, desc, d.Name)
}

// Extends reports whether d is name or has name on its super chain.
func (d *Definition) Extends(name string) (bool, error) {
	name = canonical(name)
	cur := d
	for depth := 0; cur != nil; depth++ {
		if depth > maxHierarchyDepth {
			return false, failure.New(failure.ClassResolutionFailed, "hierarchy of %s is too deep or cyclic", d.Name)
		}
		if cur.Name == name {
			return true, nil
		}
		next, err := cur.Super()
		if err != nil {
			return false, err
		}
		cur = next
	}
	return false, nil
}

// Methods returns every method of d carrying the given tag, in declaration
// order.
func (d *Definition) Methods(tag string) []unit.Method {
	var out []unit.Method
	for _, m := range d.Tree.Methods {
		if m.HasTag(tag) {
			out = append(out, m)
		}
	}
	return out
}
