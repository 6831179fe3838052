package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSession(opts)
	require.NoError(t, err)
	return s
}

func TestFetchRecordsRedirectHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("final"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := newTestSession(t, Options{}).Fetch(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, srv.URL+"/a", resp.URL.String())
	assert.Equal(t, srv.URL+"/c", resp.FinalURL.String())
	require.Len(t, resp.History, 2)
	assert.Equal(t, srv.URL+"/a", resp.History[0].String())
	assert.Equal(t, srv.URL+"/b", resp.History[1].String())
	assert.Equal(t, "text/plain", resp.ContentType())
	assert.Equal(t, "utf-8", resp.Charset())

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "final", string(body))
}

func TestFetchDecodesContentEncoding(t *testing.T) {
	payload := []byte("body { color: red }")
	var gz, br bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	require.NoError(t, gw.Close())
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		switch r.URL.Path {
		case "/gzip.css":
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gz.Bytes())
		case "/br.css":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(br.Bytes())
		}
	}))
	defer srv.Close()

	session := newTestSession(t, Options{})
	for _, path := range []string{"/gzip.css", "/br.css"} {
		resp, err := session.Fetch(context.Background(), srv.URL+path)
		require.NoError(t, err)
		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Close())
		assert.Equal(t, payload, got, path)
		assert.Empty(t, resp.Header.Get("Content-Encoding"))
	}
}

type denyAll struct{}

func (denyAll) Allowed(context.Context, *url.URL) bool { return false }

func TestFetchDisallowedIsDistinguishable(t *testing.T) {
	session := newTestSession(t, Options{})
	session.UsePermission(denyAll{})

	_, err := session.Fetch(context.Background(), "http://example.invalid/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDisallowed))
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newTestSession(t, Options{Timeout: time.Second}).Fetch(context.Background(), base+"/gone")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDisallowed))
}

func TestResponseReason(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	resp, err := newTestSession(t, Options{}).Fetch(context.Background(), srv.URL+"/missing.png")
	require.NoError(t, err)
	defer resp.Close()
	assert.False(t, resp.OK())
	assert.Equal(t, "Not Found", resp.Reason())
}
