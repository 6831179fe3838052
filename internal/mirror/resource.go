package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"webmirror/internal/extract"
	"webmirror/pkg/types"
)

// Resource is one fetchable artifact and the logic that saves it.
type Resource interface {
	// Context returns the current location binding. After Fetch it
	// reflects the final URL and the served content type.
	Context() Context
	Kind() Kind
	// Fetch requests the resource from the session and binds the response.
	Fetch(ctx context.Context) error
	Classify() Category
	// Retrieve saves the fetched resource and returns its destination.
	Retrieve(ctx context.Context) (string, error)
	// Resolve returns the value that replaces a reference to this resource
	// inside the document saved at parentPath.
	Resolve(parentPath string) (string, error)

	core() *base
	prepare(ctx context.Context) error
}

// base carries the state and behaviour shared by every file-backed variant.
type base struct {
	sched *Scheduler
	kind  Kind
	ctx   Context
	resp  *types.Response
	entry *Entry

	// path caches the destination for the current context and is cleared
	// whenever the context is refined.
	path string
	// target replaces the file path when the resource is substituted by
	// value instead of saved.
	target string
}

func newBase(s *Scheduler, c Context, kind Kind) base {
	return base{sched: s, ctx: c, kind: kind}
}

func (b *base) Context() Context { return b.ctx }

func (b *base) Kind() Kind { return b.kind }

func (b *base) Classify() Category { return Classify(b.ctx.ContentType) }

func (b *base) core() *base { return b }

func (b *base) prepare(context.Context) error { return nil }

func (b *base) Fetch(ctx context.Context) error {
	resp, err := b.sched.session.Fetch(ctx, b.ctx.SourceURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, b.ctx.SourceURL, err)
	}
	b.resp = resp
	final := b.ctx.SourceURL
	if resp.FinalURL != nil {
		u := *resp.FinalURL
		u.Fragment, u.RawFragment = "", ""
		final = u.String()
	}
	b.refine(b.ctx.Refine(final, resp.ContentType()))
	return nil
}

func (b *base) refine(c Context) {
	b.ctx = c
	b.path = ""
}

// Destination returns the file this resource is saved to.
func (b *base) Destination() (string, error) {
	if b.resp == nil {
		return "", ErrResolution
	}
	if b.path == "" {
		p, err := b.ctx.ResolvePath("")
		if err != nil {
			return "", err
		}
		b.path = p
	}
	return b.path, nil
}

func (b *base) Resolve(parentPath string) (string, error) {
	var path, target string
	switch {
	case b.entry != nil:
		p, t, err := b.entry.Destination()
		if err != nil {
			return "", err
		}
		path, target = p, t
	case b.resp != nil:
		target = b.target
		if target == "" {
			p, err := b.Destination()
			if err != nil {
				return "", err
			}
			path = p
		}
	default:
		return "", ErrResolution
	}
	if target != "" {
		return target, nil
	}
	return relativeURL(parentPath, path)
}

// relativeURL expresses path relative to the directory of parentPath as a
// URL path reference.
func relativeURL(parentPath, path string) (string, error) {
	if path == "" {
		return "", ErrResolution
	}
	rel := path
	if parentPath != "" {
		r, err := filepath.Rel(filepath.Dir(parentPath), path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrResolution, err)
		}
		rel = r
	}
	return (&url.URL{Path: filepath.ToSlash(rel)}).String(), nil
}

// retrieveGeneric writes the body, or the status reason when the server
// did not answer with a usable status.
func (b *base) retrieveGeneric(ctx context.Context) (string, error) {
	path, err := b.Destination()
	if err != nil {
		return "", err
	}
	var body io.Reader = strings.NewReader(b.resp.Reason())
	if b.resp.OK() && b.resp.Body != nil {
		body = b.resp.Body
	}
	return b.write(ctx, path, body)
}

func (b *base) write(ctx context.Context, path string, r io.Reader) (string, error) {
	if _, err := b.sched.writer.Write(ctx, path, r); err != nil {
		return path, err
	}
	return path, nil
}

// buffer reads at most limit bytes of the body. The boolean is false when
// the body is longer; the unread remainder stays in the response.
func (b *base) buffer(limit int64) ([]byte, bool, error) {
	if b.resp == nil || b.resp.Body == nil {
		return nil, true, nil
	}
	if limit <= 0 {
		buf, err := io.ReadAll(b.resp.Body)
		return buf, true, err
	}
	buf, err := io.ReadAll(io.LimitReader(b.resp.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > limit {
		return buf, false, nil
	}
	return buf, true, nil
}

// writeOversized saves a body that was too large to rewrite, byte for byte.
func (b *base) writeOversized(ctx context.Context, path string, head []byte) (string, error) {
	b.sched.logger.Info("body exceeds rewrite limit, saving unmodified",
		"url", b.ctx.SourceURL, "limit", b.sched.opts.MaxBodyBytes)
	return b.write(ctx, path, io.MultiReader(bytes.NewReader(head), b.resp.Body))
}

type child struct {
	ref extract.Reference
	res Resource
}

// dispatch hands every usable reference to the scheduler, resolving each
// against from, and waits until all of them have a final destination.
func (b *base) dispatch(ctx context.Context, from Context, refs []extract.Reference, handler func(extract.Reference, Context) (Resource, error)) ([]child, error) {
	children := make([]child, 0, len(refs))
	waits := make([]<-chan struct{}, 0, len(refs))
	for _, ref := range refs {
		if extract.Ignorable(ref.URL) {
			continue
		}
		c, err := from.Derive(ref.URL)
		if err != nil {
			b.sched.logger.Debug("reference not resolvable", "url", b.ctx.SourceURL, "ref", ref.URL, "error", err)
			continue
		}
		if !fetchable(c.SourceURL) {
			continue
		}
		res, err := handler(ref, c)
		if err != nil {
			b.sched.logger.Debug("reference has no handler", "url", b.ctx.SourceURL, "tag", ref.Tag, "error", err)
			continue
		}
		waits = append(waits, b.sched.Handle(ctx, res))
		children = append(children, child{ref: ref, res: res})
	}
	if err := b.sched.Await(ctx, waits...); err != nil {
		return nil, err
	}
	return children, nil
}

// rewriteValues resolves every child against parentPath. Children that
// could not be resolved are left out so their references stay untouched.
func (b *base) rewriteValues(children []child, parentPath string) map[int]string {
	values := make(map[int]string, len(children))
	for _, ch := range children {
		value, err := ch.res.Resolve(parentPath)
		if err != nil {
			b.sched.logger.Debug("reference left unchanged", "url", b.ctx.SourceURL, "ref", ch.ref.URL, "error", err)
			continue
		}
		values[ch.ref.Start] = value
	}
	return values
}

func fetchable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// Generic streams the body to disk without looking at it.
type Generic struct {
	base
}

// NewGeneric returns an opaque resource.
func NewGeneric(s *Scheduler, c Context) Resource {
	return &Generic{base: newBase(s, c, KindGeneric)}
}

func (g *Generic) Retrieve(ctx context.Context) (string, error) {
	return g.retrieveGeneric(ctx)
}
