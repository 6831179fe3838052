package extract

import (
	"regexp"
	"sort"
)

// scriptLiteralPattern matches quoted strings that look like resource
// locations: absolute or protocol-relative URLs, paths ending in a known
// asset extension, and rooted multi-segment paths.
var scriptLiteralPattern = regexp.MustCompile(`["'](` +
	`(?:https?:)?//[^"'\s<>\\]+` +
	`|(?:\.{1,2}/|/)?[\w\-./%]+\.(?:js|mjs|css|png|jpe?g|gif|svg|webp|avif|ico|bmp|woff2?|ttf|otf|eot|json|xml|html?|mp4|webm|ogg|mp3|wav|pdf)(?:\?[^"'\s<>\\]*)?` +
	`|/[\w\-]+(?:/[\w\-.]+)+/?` +
	`)["']`)

// Script returns references found in JavaScript source. The scan is a
// heuristic; it misses URLs assembled at runtime and may pick up strings
// that only look like paths.
func Script(buf []byte) []Reference {
	text := string(buf)
	refs := cssReferences(text, nil, "", "")
	covered := func(start, end int) bool {
		for _, r := range refs {
			if start < r.End && end > r.Start {
				return true
			}
		}
		return false
	}
	var literals []Reference
	for _, m := range scriptLiteralPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if covered(start, end) || Ignorable(text[start:end]) {
			continue
		}
		literals = append(literals, Reference{
			URL:   text[start:end],
			Raw:   text[start:end],
			Start: start,
			End:   end,
			Form:  FormRaw,
		})
	}
	refs = append(refs, literals...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Start < refs[j].Start })
	return refs
}
