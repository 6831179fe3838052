package mirror

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextRequiresAbsoluteURL(t *testing.T) {
	_, err := NewContext("a.html", t.TempDir())
	assert.ErrorIs(t, err, ErrConfiguration)

	c, err := NewContext(" http://ex.com/a.html#frag ", "/srv/mirror")
	require.NoError(t, err)
	assert.Equal(t, "http://ex.com/a.html", c.SourceURL)
	assert.Equal(t, c.SourceURL, c.BaseURL)
	assert.Equal(t, "/srv/mirror", c.BasePath)
}

func TestContextDerive(t *testing.T) {
	parent := Context{
		SourceURL:   "http://ex.com/a/b.html",
		BaseURL:     "http://ex.com/a/b.html",
		BasePath:    "/srv/mirror",
		ContentType: "text/html",
	}
	child, err := parent.Derive("../c.css#x")
	require.NoError(t, err)
	assert.Equal(t, "http://ex.com/c.css", child.SourceURL)
	assert.Equal(t, "http://ex.com/c.css", child.BaseURL)
	assert.Equal(t, "/srv/mirror", child.BasePath)
	assert.Empty(t, child.ContentType)

	abs, err := parent.Derive("https://cdn.ex.com/lib.js")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.ex.com/lib.js", abs.SourceURL)

	_, err = Context{}.Derive("x.png")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestContextRefineCopies(t *testing.T) {
	orig := Context{SourceURL: "http://ex.com/old", BaseURL: "http://ex.com/old", BasePath: "/m"}
	refined := orig.Refine("http://ex.com/new.png", "image/png")

	assert.Equal(t, "http://ex.com/old", orig.SourceURL)
	assert.Empty(t, orig.ContentType)
	assert.Equal(t, "http://ex.com/new.png", refined.SourceURL)
	assert.Equal(t, "http://ex.com/new.png", refined.BaseURL)
	assert.Equal(t, "image/png", refined.ContentType)

	same := refined.Refine("", "")
	assert.Equal(t, refined, same)
}

func TestContextResolvePath(t *testing.T) {
	root := t.TempDir()
	c := Context{SourceURL: "http://ex.com/img/b", BaseURL: "http://ex.com/img/b", BasePath: root, ContentType: "image/png"}
	p, err := c.ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "ex.com", "img", "b_"+shortHash("b")+".png"), p)

	again, err := c.ResolvePath(root)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	_, err = Context{SourceURL: "http://ex.com/x"}.ResolvePath("")
	assert.ErrorIs(t, err, ErrConfiguration)
}
