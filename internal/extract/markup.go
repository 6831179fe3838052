package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

var linkAttrs = map[string]struct{}{
	"action":     {},
	"archive":    {},
	"background": {},
	"cite":       {},
	"classid":    {},
	"codebase":   {},
	"data":       {},
	"dynsrc":     {},
	"formaction": {},
	"href":       {},
	"icon":       {},
	"longdesc":   {},
	"lowsrc":     {},
	"manifest":   {},
	"poster":     {},
	"profile":    {},
	"src":        {},
	"usemap":     {},
}

var srcsetAttrs = map[string]struct{}{
	"srcset":      {},
	"data-srcset": {},
	"src-set":     {},
	"imagesrcset": {},
}

// Metas whose content attribute is an image URL.
var imageMetaKeys = map[string]struct{}{
	"image":               {},
	"og:image":            {},
	"og:image:url":        {},
	"og:image:secure_url": {},
	"twitter:image":       {},
	"thumbnail":           {},
}

// Link relations whose href is an origin hint rather than a resource.
var hintRels = map[string]struct{}{
	"dns-prefetch": {},
	"preconnect":   {},
}

var metaRefreshPattern = regexp.MustCompile(`(?i)^[^;=]*;\s*(?:url\s*=\s*)?(.*)$`)

// Document is a parsed markup document whose references can be rewritten
// in place and serialised back.
type Document struct {
	doc *goquery.Document
}

// ParseMarkup parses r as HTML. The input is transcoded to UTF-8 using the
// charset from contentType, a byte order mark, or a <meta> declaration.
func ParseMarkup(r io.Reader, contentType string) (*Document, error) {
	utf8, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &Document{doc: doc}, nil
}

// References returns every URL reference in document order. References
// inside one attribute or text node are listed last-first.
func (d *Document) References() []Reference {
	var refs []Reference
	d.doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		refs = append(refs, elementReferences(sel.Get(0))...)
	})
	return refs
}

func elementReferences(n *html.Node) []Reference {
	tag := n.Data
	var refs []Reference

	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		switch {
		case key == "style":
			refs = append(refs, reversed(cssReferences(a.Val, n, tag, a.Key))...)
		case isKey(srcsetAttrs, key):
			refs = append(refs, reversed(srcsetReferences(a.Val, n, tag, a.Key))...)
		case isKey(linkAttrs, key):
			if tag == "link" && key == "href" && isHint(n) {
				continue
			}
			if key == "archive" {
				refs = append(refs, reversed(listReferences(a.Val, n, tag, a.Key))...)
				continue
			}
			if ref, ok := wholeValue(a.Val, n, tag, a.Key); ok {
				refs = append(refs, ref)
			}
		}
	}

	switch tag {
	case "meta":
		refs = append(refs, metaReferences(n)...)
	case "param":
		if strings.EqualFold(attr(n, "valuetype"), "ref") {
			if ref, ok := wholeValue(attr(n, "value"), n, tag, attrKey(n, "value")); ok {
				refs = append(refs, ref)
			}
		}
	case "style":
		if text := textChild(n); text != nil {
			refs = append(refs, reversed(cssReferences(text.Data, n, tag, ""))...)
		}
	case "script":
		if text := textChild(n); text != nil && attr(n, "src") == "" {
			refs = append(refs, reversed(cssReferences(text.Data, n, tag, ""))...)
		}
	}
	return refs
}

func metaReferences(n *html.Node) []Reference {
	content := attr(n, "content")
	if content == "" {
		return nil
	}
	key := attrKey(n, "content")
	if strings.EqualFold(attr(n, "http-equiv"), "refresh") {
		m := metaRefreshPattern.FindStringSubmatchIndex(content)
		if m == nil {
			return nil
		}
		raw := strings.TrimRightFunc(content[m[2]:m[3]], unicode.IsSpace)
		inner, off := unquote(raw)
		inner = strings.TrimSpace(inner)
		if Ignorable(inner) {
			return nil
		}
		start := m[2] + off + strings.Index(raw[off:], inner)
		return []Reference{{
			Node: n, Tag: "meta", Attr: key,
			URL: inner, Raw: inner,
			Start: start, End: start + len(inner),
		}}
	}
	for _, name := range []string{"itemprop", "property", "name"} {
		if isKey(imageMetaKeys, strings.ToLower(attr(n, name))) {
			if ref, ok := wholeValue(content, n, "meta", key); ok {
				return []Reference{ref}
			}
		}
	}
	return nil
}

// srcsetReferences parses "url descriptor, url descriptor" candidate lists.
func srcsetReferences(value string, n *html.Node, tag, key string) []Reference {
	var refs []Reference
	i := 0
	for i < len(value) {
		for i < len(value) && (value[i] == ',' || isSpace(value[i])) {
			i++
		}
		start := i
		for i < len(value) && !isSpace(value[i]) {
			i++
		}
		end := i
		for end > start && value[end-1] == ',' {
			end--
		}
		if end > start {
			u := value[start:end]
			if !Ignorable(u) {
				refs = append(refs, Reference{Node: n, Tag: tag, Attr: key, URL: u, Raw: u, Start: start, End: end})
			}
		}
		if end < i {
			// the candidate ended with a comma, no descriptor follows
			continue
		}
		for i < len(value) && value[i] != ',' {
			i++
		}
	}
	return refs
}

func listReferences(value string, n *html.Node, tag, key string) []Reference {
	var refs []Reference
	i := 0
	for i < len(value) {
		for i < len(value) && (isSpace(value[i]) || value[i] == ',') {
			i++
		}
		start := i
		for i < len(value) && !isSpace(value[i]) && value[i] != ',' {
			i++
		}
		if i > start && !Ignorable(value[start:i]) {
			u := value[start:i]
			refs = append(refs, Reference{Node: n, Tag: tag, Attr: key, URL: u, Raw: u, Start: start, End: i})
		}
	}
	return refs
}

func wholeValue(value string, n *html.Node, tag, key string) (Reference, bool) {
	trimmed := strings.TrimSpace(value)
	if Ignorable(trimmed) {
		return Reference{}, false
	}
	start := strings.Index(value, trimmed)
	return Reference{
		Node: n, Tag: tag, Attr: key,
		URL: trimmed, Raw: trimmed,
		Start: start, End: start + len(trimmed),
	}, true
}

// Replace rewrites ref's span to value. Integrity and crossorigin
// attributes are dropped from a rewritten element since the local copy
// is no longer the resource they describe.
func (d *Document) Replace(ref Reference, value string) bool {
	n := ref.Node
	if n == nil {
		return false
	}
	if ref.Attr == "" {
		text := textChild(n)
		if text == nil {
			return false
		}
		updated, ok := splice(text.Data, ref, value)
		if ok {
			text.Data = updated
		}
		return ok
	}
	for i := range n.Attr {
		if n.Attr[i].Key != ref.Attr {
			continue
		}
		updated, ok := splice(n.Attr[i].Val, ref, value)
		if !ok {
			return false
		}
		n.Attr[i].Val = updated
		removeAttr(n, "integrity")
		removeAttr(n, "crossorigin")
		return true
	}
	return false
}

func splice(s string, ref Reference, value string) (string, bool) {
	if ref.Start < 0 || ref.End > len(s) || ref.Start > ref.End || s[ref.Start:ref.End] != ref.Raw {
		return s, false
	}
	return s[:ref.Start] + ref.Form.Render(value) + s[ref.End:], true
}

// Base returns the href of the first <base> element, if any.
func (d *Document) Base() string {
	href, _ := d.doc.Find("base[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

// DropBase removes <base href> so relative local paths resolve against the
// saved file.
func (d *Document) DropBase() {
	d.doc.Find("base[href]").RemoveAttr("href")
}

// NormaliseCharset rewrites charset declarations to UTF-8, matching the
// encoding Render produces.
func (d *Document) NormaliseCharset() {
	d.doc.Find("meta[charset]").SetAttr("charset", "utf-8")
	d.doc.Find("meta[http-equiv]").Each(func(_ int, sel *goquery.Selection) {
		if equiv, _ := sel.Attr("http-equiv"); strings.EqualFold(equiv, "content-type") {
			sel.SetAttr("content", "text/html; charset=utf-8")
		}
	})
}

// Watermark inserts a comment as the first child of the root element.
func (d *Document) Watermark(text string) {
	comment := &html.Node{Type: html.CommentNode, Data: text}
	root := d.doc.Find("html").First()
	if root.Length() == 0 {
		top := d.doc.Nodes[0]
		top.InsertBefore(comment, top.FirstChild)
		return
	}
	n := root.Get(0)
	n.InsertBefore(comment, n.FirstChild)
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.doc.Nodes[0])
}

func isHint(n *html.Node) bool {
	for _, rel := range strings.Fields(strings.ToLower(attr(n, "rel"))) {
		if isKey(hintRels, rel) {
			return true
		}
	}
	return false
}

func isKey(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func attrKey(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Key
		}
	}
	return key
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, key) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func textChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c
		}
	}
	return nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
