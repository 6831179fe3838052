package types

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Response is a fetched resource whose body is still streaming.
type Response struct {
	// URL is the address that was requested.
	URL *url.URL
	// FinalURL is the address that produced the body after redirects.
	FinalURL *url.URL
	// History lists every redirect hop between URL and FinalURL, oldest first.
	History []*url.URL

	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser

	FetchedAt       time.Time
	ResponseLatency time.Duration
}

// OK reports whether the status is one whose body should be kept as-is.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 100 && r.StatusCode < 400
}

// Reason returns the textual status, e.g. "Not Found".
func (r *Response) Reason() string {
	if r == nil {
		return ""
	}
	reason := strings.TrimSpace(strings.TrimPrefix(r.Status, strconv.Itoa(r.StatusCode)))
	if reason == "" {
		reason = http.StatusText(r.StatusCode)
	}
	return reason
}

// ContentType returns the lower-cased media type without parameters.
func (r *Response) ContentType() string {
	if r == nil {
		return ""
	}
	return MediaType(r.Header.Get("Content-Type"))
}

// Charset returns the charset parameter of the Content-Type header, if any.
func (r *Response) Charset() string {
	if r == nil {
		return ""
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// Close releases the body. It is safe to call more than once.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	err := r.Body.Close()
	r.Body = nil
	return err
}

// MediaType strips parameters from a Content-Type value.
func MediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		if i := strings.IndexByte(raw, ';'); i >= 0 {
			raw = raw[:i]
		}
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}

// Capture records one retrieved resource for the run ledger.
type Capture struct {
	RunID       string
	URL         string
	FinalURL    string
	Path        string
	StatusCode  int
	ContentType string
	Kind        string
	CapturedAt  time.Time
}
