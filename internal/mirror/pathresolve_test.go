package mirror

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathLayout(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		name string
		url  string
		ct   string
		want string
	}{
		{"directory url", "http://ex.com/", "text/html", "ex.com/index.html"},
		{"empty path", "http://ex.com", "text/html", "ex.com/index.html"},
		{"nested directory", "http://ex.com/docs/", "text/html; charset=utf-8", "ex.com/docs/index.html"},
		{"plain file", "http://ex.com/a.html", "text/html", "ex.com/a.html"},
		{"extension from type", "http://ex.com/img/logo", "image/png", "ex.com/img/logo_" + shortHash("logo") + ".png"},
		{"markup behind script extension", "http://ex.com/page.php", "text/html", "ex.com/page.php_" + shortHash("page.php") + ".html"},
		{"literal index file", "http://ex.com/docs/index.html", "text/html", "ex.com/docs/index_" + shortHash("index.html") + ".html"},
		{"non default port", "http://ex.com:8080/x.css", "text/css", "ex.com_8080/x.css"},
		{"default port folded", "https://EX.com:443/x.css", "text/css", "ex.com/x.css"},
		{"unknown type keeps name", "http://ex.com/blob", "", "ex.com/blob"},
		{"fragment ignored", "http://ex.com/a.html#top", "text/html", "ex.com/a.html"},
		{"empty segments skipped", "http://ex.com//a//b.png", "image/png", "ex.com/a/b.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolvePath(tc.url, tc.ct, root)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tc.want)), got)
		})
	}
}

func TestResolvePathIsDeterministic(t *testing.T) {
	root := t.TempDir()
	first, err := ResolvePath("http://ex.com/a/b c.png?size=2", "image/png", root)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ResolvePath("http://ex.com/a/b c.png?size=2", "image/png", root)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolvePathSchemesShareLocation(t *testing.T) {
	root := t.TempDir()
	plain, err := ResolvePath("http://ex.com/s.css", "text/css", root)
	require.NoError(t, err)
	secure, err := ResolvePath("https://ex.com/s.css", "text/css", root)
	require.NoError(t, err)
	assert.Equal(t, plain, secure)
}

func TestResolvePathAvoidsCollisions(t *testing.T) {
	root := t.TempDir()
	urls := []string{
		"http://ex.com/a.css",
		"http://ex.com/a.css?v=1",
		"http://ex.com/a.css?v=2",
		"http://ex.com/a:b.css",
		"http://ex.com/a_b.css",
		"http://ex.com/a%3Fb.css",
		"http://ex.com/" + strings.Repeat("x", 300) + ".css",
		"http://ex.com/" + strings.Repeat("x", 301) + ".css",
	}
	seen := map[string]string{}
	for _, u := range urls {
		p, err := ResolvePath(u, "text/css", root)
		require.NoError(t, err)
		if prior, ok := seen[p]; ok {
			t.Fatalf("%s and %s share %s", prior, u, p)
		}
		seen[p] = u
		assert.True(t, strings.HasSuffix(p, ".css"), p)
		for _, seg := range strings.Split(p, string(filepath.Separator)) {
			assert.LessOrEqual(t, len(seg), maxSegmentBytes+1+hashLen+len(".css"))
		}
	}
}

func TestResolvePathKeepsInferredNamesApart(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		url string
		ct  string
	}{
		{"http://ex.com/pic", "image/png"},
		{"http://ex.com/pic.png", "image/png"},
		{"http://ex.com/pic?x=1", "image/png"},
		{"http://ex.com/pic.png?x=1", "image/png"},
		{"http://ex.com/a", "text/html"},
		{"http://ex.com/a.html", "text/html"},
		{"http://ex.com/a.php", "text/html"},
		{"http://ex.com/a.php.html", "text/html"},
		{"http://ex.com/dir/", "text/html"},
		{"http://ex.com/dir/index", "text/html"},
		{"http://ex.com/dir/index.html", "text/html"},
		{"http://ex.com/dir/index.HTML", "text/html"},
	}
	seen := map[string]string{}
	for _, tc := range cases {
		p, err := ResolvePath(tc.url, tc.ct, root)
		require.NoError(t, err)
		if prior, ok := seen[p]; ok {
			t.Fatalf("%s and %s share %s", prior, tc.url, p)
		}
		seen[p] = tc.url
	}

	dir, err := ResolvePath("http://ex.com/dir/", "text/html", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "ex.com", "dir", "index.html"), dir)
}

func TestResolvePathNeutralisesDotSegments(t *testing.T) {
	root := t.TempDir()
	p, err := ResolvePath("http://ex.com/a/%2E%2E/%2E%2E/etc/passwd", "", root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, filepath.Join(root, "ex.com")+string(filepath.Separator)), p)
}

func TestResolvePathErrors(t *testing.T) {
	_, err := ResolvePath("http://ex.com/a", "", "")
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = ResolvePath("/relative/only", "", t.TempDir())
	assert.Error(t, err)
}
