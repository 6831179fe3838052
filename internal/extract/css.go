package extract

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

var (
	cssURLPattern    = regexp.MustCompile(`(?i)url\(\s*("[^"]*"|'[^']*'|[^)'"]*)\s*\)`)
	cssImportPattern = regexp.MustCompile(`(?i)@import\s*("[^"]*"|'[^']*')`)
)

// Stylesheet returns the url() and @import references of a CSS buffer in
// position order.
func Stylesheet(buf []byte) []Reference {
	return cssReferences(string(buf), nil, "", "")
}

func cssReferences(text string, node *html.Node, tag, attr string) []Reference {
	var refs []Reference
	for _, m := range cssURLPattern.FindAllStringSubmatchIndex(text, -1) {
		inner, _ := unquote(strings.TrimSpace(text[m[2]:m[3]]))
		inner = strings.TrimSpace(inner)
		if Ignorable(inner) {
			continue
		}
		refs = append(refs, Reference{
			Node: node, Tag: tag, Attr: attr,
			URL:   inner,
			Raw:   text[m[0]:m[1]],
			Start: m[0],
			End:   m[1],
			Form:  FormCSSURL,
		})
	}
	for _, m := range cssImportPattern.FindAllStringSubmatchIndex(text, -1) {
		inner, _ := unquote(text[m[2]:m[3]])
		inner = strings.TrimSpace(inner)
		if Ignorable(inner) {
			continue
		}
		refs = append(refs, Reference{
			Node: node, Tag: tag, Attr: attr,
			URL:   inner,
			Raw:   text[m[2]:m[3]],
			Start: m[2],
			End:   m[3],
			Form:  FormCSSImport,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Start < refs[j].Start })
	return refs
}
