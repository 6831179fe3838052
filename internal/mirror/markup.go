package mirror

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"webmirror/internal/extract"
	"webmirror/internal/version"
)

const watermarkFormat = "\n* webmirror %s\n* Mirrored from %s\n* At UTC time: %s\n"

// Markup saves an HTML document after mirroring everything it references
// and rewriting those references to the local copies.
type Markup struct {
	base
}

// NewMarkup returns a markup resource.
func NewMarkup(s *Scheduler, c Context) Resource {
	return &Markup{base: newBase(s, c, KindMarkup)}
}

func (m *Markup) Retrieve(ctx context.Context) (string, error) {
	if m.Classify() != ContentMarkup || !m.resp.OK() {
		return m.retrieveGeneric(ctx)
	}
	path, err := m.Destination()
	if err != nil {
		return "", err
	}
	buf, whole, err := m.buffer(m.sched.opts.MaxBodyBytes)
	if err != nil {
		return path, fmt.Errorf("read %s: %w", m.ctx.SourceURL, err)
	}
	if !whole {
		return m.writeOversized(ctx, path, buf)
	}

	doc, err := extract.ParseMarkup(bytes.NewReader(buf), m.resp.Header.Get("Content-Type"))
	if err != nil {
		m.sched.logger.Warn("saving markup unmodified",
			"url", m.ctx.SourceURL, "error", fmt.Errorf("%w: %w", ErrExtraction, err))
		return m.write(ctx, path, bytes.NewReader(buf))
	}

	from := m.ctx
	if href := doc.Base(); href != "" {
		if based, err := m.ctx.Derive(href); err == nil {
			from.BaseURL = based.SourceURL
		}
		doc.DropBase()
	}

	children, err := m.dispatch(ctx, from, doc.References(), func(ref extract.Reference, c Context) (Resource, error) {
		return m.sched.GetHandler(ref.Tag, c)
	})
	if err != nil {
		return path, err
	}
	for _, ch := range children {
		value, err := ch.res.Resolve(path)
		if err != nil {
			m.sched.logger.Debug("reference left unchanged", "url", m.ctx.SourceURL, "ref", ch.ref.URL, "error", err)
			continue
		}
		if !doc.Replace(ch.ref, value) {
			m.sched.logger.Debug("reference moved before rewrite", "url", m.ctx.SourceURL, "ref", ch.ref.URL)
		}
	}

	doc.NormaliseCharset()
	doc.Watermark(m.watermark())

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		return path, fmt.Errorf("render %s: %w", m.ctx.SourceURL, err)
	}
	return m.write(ctx, path, &out)
}

// watermark never contains "--", which would end the comment early.
func (m *Markup) watermark() string {
	source := strings.ReplaceAll(m.ctx.SourceURL, "--", "%2D%2D")
	stamp := m.sched.now().UTC().Format(time.RFC3339)
	return fmt.Sprintf(watermarkFormat, version.Version, source, stamp)
}

// Stylesheet saves CSS with its url() and @import references rewritten.
type Stylesheet struct {
	base
}

// NewStylesheet returns a stylesheet resource.
func NewStylesheet(s *Scheduler, c Context) Resource {
	return &Stylesheet{base: newBase(s, c, KindStylesheet)}
}

func (st *Stylesheet) Retrieve(ctx context.Context) (string, error) {
	if st.Classify() != ContentStylesheet || !st.resp.OK() {
		return st.retrieveGeneric(ctx)
	}
	return st.rewriteBytes(ctx, extract.Stylesheet, NewStylesheet)
}

// Script saves JavaScript with URL-shaped string literals rewritten. The
// scan is heuristic; it misses URLs built at runtime.
type Script struct {
	base
}

// NewScript returns a script resource.
func NewScript(s *Scheduler, c Context) Resource {
	return &Script{base: newBase(s, c, KindScript)}
}

func (sc *Script) Retrieve(ctx context.Context) (string, error) {
	if sc.Classify() != ContentScript || !sc.resp.OK() {
		return sc.retrieveGeneric(ctx)
	}
	return sc.rewriteBytes(ctx, extract.Script, NewScript)
}

// rewriteBytes runs a byte scanner over the body, mirrors every match with
// resources built by factory and splices the local paths back in.
func (b *base) rewriteBytes(ctx context.Context, scan func([]byte) []extract.Reference, factory Factory) (string, error) {
	path, err := b.Destination()
	if err != nil {
		return "", err
	}
	buf, whole, err := b.buffer(b.sched.opts.MaxBodyBytes)
	if err != nil {
		return path, fmt.Errorf("read %s: %w", b.ctx.SourceURL, err)
	}
	if !whole {
		return b.writeOversized(ctx, path, buf)
	}

	refs := scan(buf)
	children, err := b.dispatch(ctx, b.ctx, refs, func(_ extract.Reference, c Context) (Resource, error) {
		return b.sched.build(factory, c), nil
	})
	if err != nil {
		return path, err
	}
	values := b.rewriteValues(children, path)
	out := extract.Splice(buf, refs, func(ref extract.Reference) (string, bool) {
		value, ok := values[ref.Start]
		return value, ok
	})
	return b.write(ctx, path, bytes.NewReader(out))
}
