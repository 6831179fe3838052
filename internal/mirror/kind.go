package mirror

import "webmirror/pkg/types"

// Category is the content family a media type belongs to.
type Category int

const (
	ContentOpaque Category = iota
	ContentMarkup
	ContentStylesheet
	ContentScript
)

func (c Category) String() string {
	switch c {
	case ContentMarkup:
		return "markup"
	case ContentStylesheet:
		return "stylesheet"
	case ContentScript:
		return "script"
	default:
		return "opaque"
	}
}

var categories = map[string]Category{
	"text/html":                ContentMarkup,
	"application/xhtml+xml":    ContentMarkup,
	"text/css":                 ContentStylesheet,
	"application/javascript":   ContentScript,
	"application/x-javascript": ContentScript,
	"application/ecmascript":   ContentScript,
	"text/javascript":          ContentScript,
	"text/ecmascript":          ContentScript,
}

// Classify maps a Content-Type value to its category. Unknown and empty
// types are opaque.
func Classify(contentType string) Category {
	if c, ok := categories[types.MediaType(contentType)]; ok {
		return c
	}
	return ContentOpaque
}

// Kind names a Resource variant.
type Kind int

const (
	KindGeneric Kind = iota
	KindMarkup
	KindStylesheet
	KindScript
	KindGenericOnly
	KindInert
	KindDataURI
)

func (k Kind) String() string {
	switch k {
	case KindMarkup:
		return "markup"
	case KindStylesheet:
		return "stylesheet"
	case KindScript:
		return "script"
	case KindGenericOnly:
		return "generic-only"
	case KindInert:
		return "inert"
	case KindDataURI:
		return "data-uri"
	default:
		return "generic"
	}
}
