package mirror

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"

	"webmirror/pkg/types"
)

// GenericOnly saves non-markup targets like Generic and leaves markup
// targets pointing at the live site. It serves hyperlinks that should not
// be crawled when mirroring a single page.
type GenericOnly struct {
	base
}

// NewGenericOnly returns a resource that skips markup.
func NewGenericOnly(s *Scheduler, c Context) Resource {
	return &GenericOnly{base: newBase(s, c, KindGenericOnly)}
}

func (g *GenericOnly) prepare(context.Context) error {
	if g.Classify() == ContentMarkup {
		g.target = g.ctx.SourceURL
	}
	return nil
}

func (g *GenericOnly) Retrieve(ctx context.Context) (string, error) {
	if g.Classify() == ContentMarkup {
		return "", ErrSkipped
	}
	return g.retrieveGeneric(ctx)
}

// Inert never touches the network. References routed to it are replaced
// by a fixed value instead of a local copy.
type Inert struct {
	ctx   Context
	value func(Context) string
}

// NewInertRemove returns a resource whose references become "#".
func NewInertRemove(_ *Scheduler, c Context) Resource {
	return &Inert{ctx: c, value: func(Context) string { return "#" }}
}

// NewInertAbsolute returns a resource whose references keep pointing at
// the absolute source URL.
func NewInertAbsolute(_ *Scheduler, c Context) Resource {
	return &Inert{ctx: c, value: func(c Context) string { return c.SourceURL }}
}

func (i *Inert) Context() Context { return i.ctx }

func (i *Inert) Kind() Kind { return KindInert }

func (i *Inert) Fetch(context.Context) error { return nil }

func (i *Inert) Classify() Category { return ContentOpaque }

func (i *Inert) Retrieve(context.Context) (string, error) { return "", nil }

func (i *Inert) Resolve(string) (string, error) { return i.value(i.ctx), nil }

func (i *Inert) core() *base { return nil }

func (i *Inert) prepare(context.Context) error { return nil }

// DataURI substitutes small bodies into the referencing document as
// base64 data URIs. Bodies over the inline limit are saved as files.
type DataURI struct {
	base
	head []byte
}

// NewDataURI returns an inlining resource.
func NewDataURI(s *Scheduler, c Context) Resource {
	return &DataURI{base: newBase(s, c, KindDataURI)}
}

func (d *DataURI) prepare(context.Context) error {
	if !d.resp.OK() {
		return nil
	}
	buf, whole, err := d.buffer(d.sched.opts.InlineMaxBytes)
	if err != nil {
		return err
	}
	if !whole {
		d.head = buf
		return nil
	}
	mediaType := d.ctx.ContentType
	if mediaType == "" {
		mediaType = types.MediaType(http.DetectContentType(buf))
	}
	d.target = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(buf)
	return nil
}

func (d *DataURI) Retrieve(ctx context.Context) (string, error) {
	if d.target != "" {
		return "", nil
	}
	if d.head == nil {
		return d.retrieveGeneric(ctx)
	}
	path, err := d.Destination()
	if err != nil {
		return "", err
	}
	return d.write(ctx, path, io.MultiReader(bytes.NewReader(d.head), d.resp.Body))
}
