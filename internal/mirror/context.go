package mirror

import (
	"fmt"
	"net/url"
	"strings"
)

// Context binds a resource to a location: where it came from, what its
// relative references resolve against, and where on disk the mirror lives.
// Values are never mutated in place; Derive and Refine return copies.
type Context struct {
	SourceURL   string
	BaseURL     string
	BasePath    string
	ContentType string
}

// NewContext returns the context for an entry URL saved under basePath.
func NewContext(rawURL, basePath string) (Context, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Context{}, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Context{}, fmt.Errorf("%w: %q is not an absolute url", ErrConfiguration, rawURL)
	}
	u.Fragment, u.RawFragment = "", ""
	return Context{SourceURL: u.String(), BaseURL: u.String(), BasePath: basePath}, nil
}

// Derive resolves relative against the base URL. The result keeps the
// base path and has no content type yet.
func (c Context) Derive(relative string) (Context, error) {
	if c.BaseURL == "" {
		return Context{}, ErrConfiguration
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return Context{}, fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(relative))
	if err != nil {
		return Context{}, fmt.Errorf("parse reference %q: %w", relative, err)
	}
	abs := base.ResolveReference(ref)
	abs.Fragment, abs.RawFragment = "", ""
	resolved := abs.String()
	return Context{SourceURL: resolved, BaseURL: resolved, BasePath: c.BasePath}, nil
}

// Refine returns a copy with the final URL and content type applied.
// Empty arguments leave the corresponding field unchanged.
func (c Context) Refine(rawURL, contentType string) Context {
	if rawURL != "" {
		c.SourceURL = rawURL
		c.BaseURL = rawURL
	}
	if contentType != "" {
		c.ContentType = contentType
	}
	return c
}

// ResolvePath returns the absolute destination for this context under
// root, or under BasePath when root is empty.
func (c Context) ResolvePath(root string) (string, error) {
	if root == "" {
		root = c.BasePath
	}
	if root == "" || c.BaseURL == "" || c.SourceURL == "" {
		return "", ErrConfiguration
	}
	return ResolvePath(c.SourceURL, c.ContentType, root)
}
