// Package extract finds URL references inside markup, stylesheets and
// scripts and rewrites them in place.
package extract

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// ErrMalformed is returned when a document cannot be parsed.
var ErrMalformed = errors.New("extract: malformed document")

// Form controls how a replacement value is written back over a span.
type Form int

const (
	// FormRaw writes the value verbatim.
	FormRaw Form = iota
	// FormCSSURL writes url('value').
	FormCSSURL
	// FormCSSImport writes "value".
	FormCSSImport
)

// Render formats value for the span it replaces.
func (f Form) Render(value string) string {
	switch f {
	case FormCSSURL:
		return "url('" + strings.ReplaceAll(value, "'", "%27") + "')"
	case FormCSSImport:
		return `"` + strings.ReplaceAll(value, `"`, "%22") + `"`
	default:
		return value
	}
}

// Reference is one URL occurrence.
//
// For markup, Node is the element and Attr the attribute holding the URL;
// an empty Attr means the URL sits in the element's text content. For byte
// scans Node is nil. Start and End delimit the span (Raw) that a rewrite
// replaces, as byte offsets into the attribute value, text, or buffer.
type Reference struct {
	Node  *html.Node
	Tag   string
	Attr  string
	URL   string
	Raw   string
	Start int
	End   int
	Form  Form
}

var ignoredPrefixes = []string{
	"#", "mailto:", "javascript:", "data:", "tel:", "about:", "blob:", "sms:", "file:",
}

// Ignorable reports whether raw never names a fetchable resource.
func Ignorable(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return true
	}
	for _, prefix := range ignoredPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}
	return false
}

// Splice replaces each reference's span in buf with the rendered value
// returned by fn. References must not overlap; fn returning false leaves
// that span untouched.
func Splice(buf []byte, refs []Reference, fn func(Reference) (string, bool)) []byte {
	if len(refs) == 0 {
		return buf
	}
	var out strings.Builder
	out.Grow(len(buf))
	last := 0
	for _, ref := range sortedByStart(refs) {
		if ref.Start < last || ref.End > len(buf) {
			continue
		}
		value, ok := fn(ref)
		if !ok {
			continue
		}
		out.Write(buf[last:ref.Start])
		out.WriteString(ref.Form.Render(value))
		last = ref.End
	}
	out.Write(buf[last:])
	return []byte(out.String())
}

func sortedByStart(refs []Reference) []Reference {
	sorted := make([]Reference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return sorted
}

// reversed returns refs with the last span first, so sequential in-place
// edits of one string keep the remaining offsets valid.
func reversed(refs []Reference) []Reference {
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}
	return refs
}

func unquote(s string) (string, int) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], 1
	}
	return s, 0
}
