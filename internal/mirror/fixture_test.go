package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"webmirror/internal/config"
	"webmirror/internal/fetcher"
	"webmirror/pkg/types"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// page is one fixture response. "{{host}}" in body is replaced with the
// server origin at request time.
type page struct {
	contentType string
	body        string
	status      int
	redirect    string
}

type site struct {
	srv   *httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	pages map[string]page
}

func newSite(t *testing.T, pages map[string]page) *site {
	t.Helper()
	s := &site{hits: map[string]int{}, pages: pages}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	p, ok := s.pages[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if p.redirect != "" {
		http.Redirect(w, r, p.redirect, http.StatusFound)
		return
	}
	if p.contentType != "" {
		w.Header().Set("Content-Type", p.contentType)
	}
	if p.status != 0 {
		w.WriteHeader(p.status)
	}
	_, _ = io.WriteString(w, strings.ReplaceAll(p.body, "{{host}}", "http://"+r.Host))
}

func (s *site) url(path string) string { return s.srv.URL + path }

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// hostDir is the folder the fixture host is mirrored into.
func (s *site) hostDir(root string) string {
	u, _ := url.Parse(s.srv.URL)
	return filepath.Join(root, strings.ReplaceAll(u.Host, ":", "_"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, strategy string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Mirror.ProjectFolder = t.TempDir()
	cfg.Mirror.Strategy = strategy
	cfg.Mirror.JoinTimeout = config.DurationFrom(5 * time.Second)
	cfg.Worker.Concurrency = 2
	cfg.Worker.QueueSize = 2
	return cfg
}

func testSession(t *testing.T) *fetcher.Session {
	t.Helper()
	session, err := fetcher.NewSession(fetcher.Options{Timeout: 5 * time.Second, Logger: discardLogger()})
	require.NoError(t, err)
	return session
}

func newTestMirror(t *testing.T, cfg config.Config, opts ...Option) *Mirror {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	m, err := New(cfg, testSession(t), discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

var strategies = []string{config.StrategySync, config.StrategyThreaded, config.StrategyPool}

// stubSession serves canned responses without a network.
type stubSession struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(rawURL string) (*types.Response, error)
}

func (s *stubSession) Fetch(_ context.Context, rawURL string) (*types.Response, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[rawURL]++
	s.mu.Unlock()
	return s.fn(rawURL)
}

func stubResponse(rawURL string, status int, contentType, body string) *types.Response {
	u, _ := url.Parse(rawURL)
	return &types.Response{
		URL:        u,
		FinalURL:   u,
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
