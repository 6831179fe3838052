package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"webmirror/pkg/types"
)

const (
	maxSegmentBytes = 120
	hashLen         = 8
	indexName       = "index"
)

var preferredExtensions = map[string]string{
	"text/html":                ".html",
	"application/xhtml+xml":    ".html",
	"text/css":                 ".css",
	"application/javascript":   ".js",
	"application/x-javascript": ".js",
	"application/ecmascript":   ".js",
	"text/javascript":          ".js",
	"text/ecmascript":          ".js",
	"application/json":         ".json",
	"application/ld+json":      ".json",
	"application/xml":          ".xml",
	"text/xml":                 ".xml",
	"text/plain":               ".txt",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/avif":               ".avif",
	"image/svg+xml":            ".svg",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"image/bmp":                ".bmp",
	"font/woff":                ".woff",
	"font/woff2":               ".woff2",
	"application/font-woff":    ".woff",
	"font/ttf":                 ".ttf",
	"font/otf":                 ".otf",
	"application/pdf":          ".pdf",
	"video/mp4":                ".mp4",
	"video/webm":               ".webm",
	"audio/mpeg":               ".mp3",
}

var markupExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".xhtml": {}, ".shtml": {},
}

// ResolvePath maps a URL and its content type to a file under root.
//
// The layout is root/host[_port]/segments/name[_queryhash][.ext]. Directory
// URLs become "index" files, a missing extension is inferred from the
// content type, and any segment that had to be altered, including file
// names given an extension, carries a short hash of its original text so
// distinct URLs never share a path. The result depends only on the three inputs.
func ResolvePath(rawURL, contentType, root string) (string, error) {
	if root == "" {
		return "", ErrConfiguration
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	escaped := u.EscapedPath()
	isDir := escaped == "" || strings.HasSuffix(escaped, "/")
	var parts []string
	for _, seg := range strings.Split(escaped, "/") {
		if seg == "" {
			continue
		}
		if decoded, err := url.PathUnescape(seg); err == nil {
			seg = decoded
		}
		parts = append(parts, seg)
	}

	file := indexName
	if !isDir && len(parts) > 0 {
		file = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}

	elems := make([]string, 0, len(parts)+3)
	elems = append(elems, absRoot, hostDir(u))
	for _, seg := range parts {
		elems = append(elems, safeSegment(seg))
	}
	elems = append(elems, fileName(file, u.RawQuery, types.MediaType(contentType), isDir))
	return filepath.Join(elems...), nil
}

func hostDir(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(strings.ToLower(u.Scheme)) {
		host += "_" + port
	}
	return safeSegment(host)
}

// fileName builds the last path element. Names whose extension was
// inferred or appended, and literal "index" files, carry a hash of the raw
// segment so they cannot meet a URL that spells the same name out.
func fileName(file, rawQuery, contentType string, isDir bool) string {
	name, ext := splitExt(file)
	want := extensionFor(contentType)
	tagged := false
	switch {
	case isDir:
		ext = want
		if ext == "" {
			ext = ".html"
		}
	case ext == "" && want != "":
		ext = want
		tagged = true
	case Classify(contentType) == ContentMarkup && !isMarkupExt(ext):
		name, ext = name+ext, ".html"
		tagged = true
	case strings.EqualFold(name, indexName):
		tagged = true
	}
	if tagged {
		name += "_" + shortHash(file)
	}
	if rawQuery != "" {
		name += "_" + shortHash(rawQuery)
	}
	return safeSegment(name) + ext
}

// splitExt separates a short alphanumeric extension from name.
func splitExt(file string) (string, string) {
	dot := strings.LastIndexByte(file, '.')
	if dot <= 0 || dot == len(file)-1 {
		return file, ""
	}
	ext := file[dot:]
	if len(ext) > 9 {
		return file, ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return file, ""
		}
	}
	return file[:dot], ext
}

func isMarkupExt(ext string) bool {
	_, ok := markupExtensions[strings.ToLower(ext)]
	return ok
}

func extensionFor(contentType string) string {
	if contentType == "" {
		return ""
	}
	if ext, ok := preferredExtensions[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// safeSegment replaces characters that are not portable in file names.
// Altered segments get a hash suffix of the original text.
func safeSegment(seg string) string {
	var b strings.Builder
	changed := false
	for _, r := range seg {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteByte('_')
			changed = true
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if trimmed := strings.TrimRight(out, " ."); trimmed != out {
		out = trimmed
		changed = true
	}
	if len(out) > maxSegmentBytes {
		cut := maxSegmentBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
		changed = true
	}
	if out == "" {
		out = "_"
		changed = true
	}
	if changed {
		out += "_" + shortHash(seg)
	}
	return out
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
