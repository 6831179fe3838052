package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"webmirror/internal/version"
	"webmirror/pkg/types"
)

// ErrDisallowed is returned when robots.txt forbids the request.
var ErrDisallowed = errors.New("fetch: disallowed by robots.txt")

// Permission decides whether a URL may be requested.
type Permission interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Options controls HTTP session behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	ProxyURL     string
	MaxRedirects int

	// Politeness applied per host before every request.
	Delay     time.Duration
	RateLimit RateLimiterSettings

	Logger *slog.Logger
}

// Session fetches resources over HTTP, honouring robots.txt and
// per-host politeness before each request.
type Session struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	limiter      *DomainLimiter
	permission   Permission
	logger       *slog.Logger
}

// NewSession constructs an HTTP session using the provided options.
func NewSession(opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = version.UserAgent()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Session{
		client:       client,
		userAgent:    opts.UserAgent,
		extraHeaders: headers,
		limiter:      NewDomainLimiter(opts.Delay, opts.RateLimit),
		logger:       opts.Logger,
	}, nil
}

// UsePermission installs the robots gate consulted before each request.
func (s *Session) UsePermission(p Permission) {
	s.permission = p
}

// Fetch issues a GET for rawURL and returns the response with its body
// still open. Callers must Close the response.
func (s *Session) Fetch(ctx context.Context, rawURL string) (*types.Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}

	if s.permission != nil && !s.permission.Allowed(ctx, target) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	if err := s.limiter.Wait(ctx, target.Hostname()); err != nil {
		return nil, fmt.Errorf("politeness wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range s.extraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	s.logger.Debug("fetched", "url", rawURL, "final_url", finalURL.String(), "status", resp.StatusCode)

	return &types.Response{
		URL:             target,
		FinalURL:        finalURL,
		History:         redirectHistory(resp),
		StatusCode:      resp.StatusCode,
		Status:          resp.Status,
		Header:          resp.Header.Clone(),
		Body:            body,
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}, nil
}

// redirectHistory walks the chain of responses that led to resp.
func redirectHistory(resp *http.Response) []*url.URL {
	var hops []*url.URL
	for req := resp.Request; req != nil && req.Response != nil; req = req.Response.Request {
		prev := req.Response.Request
		if prev == nil || prev.URL == nil {
			break
		}
		hops = append(hops, prev.URL)
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	body := &decodedBody{Reader: resp.Body, closers: []io.Closer{resp.Body}}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return body, nil
			}
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		body.Reader = gz
		body.closers = append(body.closers, gz)
	case "br":
		body.Reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		body.Reader = fl
		body.closers = append(body.closers, fl)
	default:
		return body, nil
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	return body, nil
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (s *Session) Client() *http.Client {
	if s == nil {
		return nil
	}
	return s.client
}
