// Package transform rewrites compiled units by dispatching on method tags.
//
// A Registry maps tag types to pure Transformer steps. The Handler plugs a
// registry into the resource pipeline: it parses each unit, runs the
// registered transformers over every tagged method, strips the consumed
// tags and re-serializes the result.
package transform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/failure"
	"github.com/compilo-build/compilo/internal/resource"
	"github.com/compilo-build/compilo/internal/unit"
)

// Transformer rewrites one method of t. It must not modify its arguments.
type Transformer func(t unit.Tree, m unit.Method) (unit.Method, error)

// Registration binds a tag type to the transformer it triggers.
type Registration struct {
	Tag         string
	Transformer Transformer
}

// Registry is an ordered list of registrations. Order is significant: when a
// method carries several registered tags, transformers run in registration
// order.
type Registry struct {
	entries []Registration
}

// NewRegistry creates a registry from registrations in order.
func NewRegistry(regs ...Registration) Registry {
	return Registry{entries: append([]Registration(nil), regs...)}
}

// Add returns a registry extended with one more registration. The receiver
// is left untouched.
func (r Registry) Add(tag string, fn Transformer) Registry {
	entries := make([]Registration, len(r.entries), len(r.entries)+1)
	copy(entries, r.entries)
	return Registry{entries: append(entries, Registration{Tag: tag, Transformer: fn})}
}

// Len returns the number of registrations.
func (r Registry) Len() int { return len(r.entries) }

// Tags lists the registered tag types in order.
func (r Registry) Tags() []string {
	tags := make([]string, len(r.entries))
	for i, e := range r.entries {
		tags[i] = e.Tag
	}
	return tags
}

// Apply runs the registry over every method of t and returns the rewritten
// tree. Each time a transformer fires, exactly one instance of its tag is
// removed from the method.
func (r Registry) Apply(t unit.Tree) (unit.Tree, int, error) {
	applied := 0
	for i := range t.Methods {
		m := t.Methods[i]
		changed := false
		for _, e := range r.entries {
			if !m.HasTag(e.Tag) {
				continue
			}
			out, err := e.Transformer(t, m)
			if err != nil {
				return unit.Tree{}, applied, fmt.Errorf("%s on %s.%s: %w", e.Tag, t.Name, m.Key(), err)
			}
			m = out.WithoutTag(e.Tag)
			changed = true
			applied++
		}
		if changed {
			t = t.WithMethod(i, m)
		}
	}
	return t, applied, nil
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Verify runs the structural verifier over every rewritten unit.
	Verify bool
	// Suffix selects the resources the handler claims.
	Suffix string
	Logger *zap.Logger
}

// DefaultHandlerOptions returns options matching compiled units with
// verification off.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{Suffix: unit.Suffix, Logger: zap.NewNop()}
}

// Handler is a resource.Handler that applies a registry to compiled units.
type Handler struct {
	registry Registry
	verify   bool
	suffix   string
	logger   *zap.Logger
}

var _ resource.Handler = (*Handler)(nil)

// NewHandler creates a handler for reg.
func NewHandler(reg Registry, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	}
	h := &Handler{registry: reg, verify: opts.Verify, suffix: opts.Suffix, logger: opts.Logger}
	if h.suffix == "" {
		h.suffix = unit.Suffix
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Matches reports whether name ends in the handler's suffix.
func (h *Handler) Matches(name string) bool {
	return len(name) > len(h.suffix) && name[len(name)-len(h.suffix):] == h.suffix
}

// Handle transforms one compiled unit. On verification failure the error
// is returned and no output resource is produced.
func (h *Handler) Handle(r resource.Resource) (resource.Resource, error) {
	tree, err := unit.Parse(r.Bytes())
	if err != nil {
		return resource.Resource{}, err
	}

	out, applied, err := h.registry.Apply(tree)
	if err != nil {
		return resource.Resource{}, err
	}

	b, err := unit.Serialize(out)
	if err != nil {
		return resource.Resource{}, fmt.Errorf("failed to serialize %s: %w", r.Name(), err)
	}

	if h.verify {
		if err := verifyBytes(b); err != nil {
			return resource.Resource{}, err
		}
	}

	h.logger.Debug("transformed unit",
		zap.String("resource", r.Name()),
		zap.Int("applied", applied),
		zap.Bool("verified", h.verify))

	return r.WithBytes(b), nil
}

// verifyBytes checks the serialized form so that what is verified is exactly
// what will be written.
func verifyBytes(b []byte) error {
	t, err := unit.Parse(b)
	if err != nil {
		return failure.Wrap(failure.VerificationFailed, err, "rewritten unit does not parse")
	}
	return unit.Verify(t)
}
