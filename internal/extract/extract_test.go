package extract

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<meta charset="iso-8859-1">
<meta http-equiv="refresh" content="5; url='next.html'">
<meta property="og:image" content=" /cover.jpg ">
<link rel="stylesheet" href="c.css" integrity="sha384-abc" crossorigin="anonymous">
<link rel="preconnect" href="https://fonts.example">
<style>body { background: url("bg.png") } @import 'print.css';</style>
</head><body style="background-image:url(body.gif)">
<a href="mailto:me@example.com">mail</a>
<a href="#top">top</a>
<a href="page2.html">next</a>
<img src="b.png" srcset="small.png 480w, large.png 1080w">
<object data="movie.swf"><param name="movie" valuetype="ref" value="clip.swf"></object>
<script>var x = 1;</script>
</body></html>`

func urls(refs []Reference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.URL)
	}
	return out
}

func TestMarkupReferences(t *testing.T) {
	doc, err := ParseMarkup(strings.NewReader(samplePage), "text/html; charset=utf-8")
	require.NoError(t, err)

	got := urls(doc.References())
	assert.ElementsMatch(t, []string{
		"next.html", "/cover.jpg", "c.css", "bg.png", "print.css", "body.gif",
		"page2.html", "b.png", "large.png", "small.png", "movie.swf", "clip.swf",
	}, got)
	assert.NotContains(t, got, "https://fonts.example")
	assert.NotContains(t, got, "#top")
}

func TestMarkupReplaceRewritesInPlace(t *testing.T) {
	doc, err := ParseMarkup(strings.NewReader(samplePage), "text/html; charset=utf-8")
	require.NoError(t, err)

	for _, ref := range doc.References() {
		require.True(t, doc.Replace(ref, "local/"+ref.URL), ref.URL)
	}
	doc.NormaliseCharset()
	doc.Watermark(" saved ")

	var buf bytes.Buffer
	require.NoError(t, doc.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, `<html><!-- saved -->`)
	assert.Contains(t, out, `srcset="local/small.png 480w, local/large.png 1080w"`)
	assert.Contains(t, out, `url('local/bg.png')`)
	assert.Contains(t, out, `@import "local/print.css"`)
	assert.Contains(t, out, `style="background-image:url(&#39;local/body.gif&#39;)"`)
	assert.Contains(t, out, `content="5; url=&#39;local/next.html&#39;"`)
	assert.Contains(t, out, `content=" local//cover.jpg "`)
	assert.Contains(t, out, `charset="utf-8"`)
	assert.NotContains(t, out, "integrity")
	assert.NotContains(t, out, "crossorigin")
	assert.Contains(t, out, `href="mailto:me@example.com"`)
}

func TestReplaceRejectsStaleSpan(t *testing.T) {
	doc, err := ParseMarkup(strings.NewReader(`<img src="a.png">`), "text/html")
	require.NoError(t, err)
	refs := doc.References()
	require.Len(t, refs, 1)
	require.True(t, doc.Replace(refs[0], "x.png"))
	assert.False(t, doc.Replace(refs[0], "y.png"))
}

func TestBaseHref(t *testing.T) {
	doc, err := ParseMarkup(strings.NewReader(`<head><base href="http://cdn.example/root/"></head>`), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example/root/", doc.Base())
	doc.DropBase()
	assert.Empty(t, doc.Base())
}

func TestParseMarkupTranscodes(t *testing.T) {
	latin1 := []byte("<p>caf\xe9</p><img src=\"caf\xe9.png\">")
	doc, err := ParseMarkup(bytes.NewReader(latin1), "text/html; charset=iso-8859-1")
	require.NoError(t, err)
	refs := doc.References()
	require.Len(t, refs, 1)
	assert.Equal(t, "café.png", refs[0].URL)
}

func TestStylesheet(t *testing.T) {
	css := []byte(`@import "d.css";
@import url(e.css);
.a { background: URL( 'b.png' ) }
.b { background: url(data:image/png;base64,AAAA) }
.c { src: url("font.woff2") format("woff2") }`)

	refs := Stylesheet(css)
	assert.Equal(t, []string{"d.css", "e.css", "b.png", "font.woff2"}, urls(refs))

	out := Splice(css, refs, func(r Reference) (string, bool) {
		return "x/" + r.URL, r.URL != "e.css"
	})
	assert.Contains(t, string(out), `@import "x/d.css";`)
	assert.Contains(t, string(out), `@import url(e.css);`)
	assert.Contains(t, string(out), `url('x/b.png')`)
	assert.Contains(t, string(out), `url(data:image/png;base64,AAAA)`)
	assert.Contains(t, string(out), `url('x/font.woff2') format("woff2")`)
}

func TestScript(t *testing.T) {
	js := []byte(`var logo = "img/logo.png";
var api = '/api/v1/items';
var cdn = "https://cdn.example/lib.js";
var mime = "text/html";
el.style.background = "url(bg.jpg)";
var word = "hello";`)

	got := urls(Script(js))
	assert.Equal(t, []string{"img/logo.png", "/api/v1/items", "https://cdn.example/lib.js", "bg.jpg"}, got)
}

func TestIgnorable(t *testing.T) {
	for _, raw := range []string{"", "  ", "#x", "mailto:a@b", "JavaScript:void(0)", "data:,x", "tel:1"} {
		assert.True(t, Ignorable(raw), raw)
	}
	for _, raw := range []string{"a.png", "//cdn/x.js", "http://example.com/"} {
		assert.False(t, Ignorable(raw), raw)
	}
}
