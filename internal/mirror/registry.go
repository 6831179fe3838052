package mirror

import "strings"

// Factory builds the Resource that handles one discovered reference.
type Factory func(s *Scheduler, c Context) Resource

// Registry maps element tags to the variant that handles their references.
// A Registry is not modified after construction; With returns a copy.
type Registry struct {
	handlers map[string]Factory
	fallback Factory
}

// NewRegistry returns an empty registry. A nil fallback makes lookups of
// unknown tags fail.
func NewRegistry(fallback Factory) *Registry {
	return &Registry{handlers: map[string]Factory{}, fallback: fallback}
}

// With returns a copy of r with tag routed to f.
func (r *Registry) With(tag string, f Factory) *Registry {
	clone := &Registry{handlers: make(map[string]Factory, len(r.handlers)+1), fallback: r.fallback}
	for k, v := range r.handlers {
		clone.handlers[k] = v
	}
	clone.handlers[strings.ToLower(tag)] = f
	return clone
}

// Lookup returns the factory for tag, falling back to the default.
func (r *Registry) Lookup(tag string) (Factory, bool) {
	if f, ok := r.handlers[strings.ToLower(tag)]; ok {
		return f, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// PageRegistry saves one page with everything it embeds. Hyperlinks and
// frames are only saved when they point at something other than markup.
func PageRegistry() *Registry {
	r := NewRegistry(NewGeneric)
	for _, tag := range []string{"link", "style"} {
		r = r.With(tag, NewStylesheet)
	}
	r = r.With("img", NewGeneric).With("script", NewScript)
	for _, tag := range []string{"a", "area", "form", "iframe", "frame", "meta"} {
		r = r.With(tag, NewGenericOnly)
	}
	return r
}

// SiteRegistry follows hyperlinks, frames and meta refreshes as pages.
func SiteRegistry() *Registry {
	r := PageRegistry()
	for _, tag := range []string{"a", "area", "iframe", "frame", "meta"} {
		r = r.With(tag, NewMarkup)
	}
	return r
}

// WithoutScripts routes script references to "#".
func WithoutScripts(r *Registry) *Registry {
	return r.With("script", NewInertRemove)
}

// WithInline routes the given tags to data URI inlining.
func WithInline(r *Registry, tags ...string) *Registry {
	for _, tag := range tags {
		r = r.With(tag, NewDataURI)
	}
	return r
}
