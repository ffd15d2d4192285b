package resource

import "fmt"

// Handler transforms resources whose names it matches.
type Handler interface {
	Matches(name string) bool
	Handle(r Resource) (Resource, error)
}

// Handlers is an ordered handler pipeline.
type Handlers []Handler

// Process runs r through every matching handler in order. Resources no
// handler matches are returned unchanged.
func (hs Handlers) Process(r Resource) (Resource, error) {
	for _, h := range hs {
		if !h.Matches(r.Name()) {
			continue
		}
		out, err := h.Handle(r)
		if err != nil {
			return Resource{}, fmt.Errorf("failed to process %s: %w", r.Name(), err)
		}
		r = out
	}
	return r, nil
}

// ProcessAll processes every resource and writes the results to out.
// It stops at the first failure.
func (hs Handlers) ProcessAll(rs []Resource, out Outputs) error {
	for _, r := range rs {
		processed, err := hs.Process(r)
		if err != nil {
			return err
		}
		if err := out.Put(processed); err != nil {
			return err
		}
	}
	return nil
}
