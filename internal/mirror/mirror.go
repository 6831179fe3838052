// Package mirror saves websites to disk for offline browsing. It resolves
// every reference of a page to a local path, fetches each logical resource
// at most once, and rewrites the saved documents to use the local copies.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"webmirror/internal/config"
	"webmirror/internal/storage"
)

// Mirror is one configured mirror job.
type Mirror struct {
	cfg    config.MirrorConfig
	root   string
	runID  string
	index  *Index
	sched  *Scheduler
	logger *slog.Logger

	mu    sync.RWMutex
	hosts map[string]struct{}
}

// Option customises New.
type Option func(*options)

type options struct {
	recorder storage.Recorder
	now      func() time.Time
}

// WithRecorder records one capture per retrieved resource.
func WithRecorder(r storage.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock overrides the time source used for watermarks and captures.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a mirror job from configuration. The session performs all
// network access.
func New(cfg config.Config, session Session, logger *slog.Logger, opts ...Option) (*Mirror, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	root := cfg.Mirror.ProjectFolder
	if cfg.Mirror.ProjectName != "" {
		root = filepath.Join(root, cfg.Mirror.ProjectName)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project folder: %w", err)
	}

	m := &Mirror{
		cfg:    cfg.Mirror,
		root:   root,
		runID:  uuid.NewString(),
		index:  NewIndex(cfg.Index.MaxEntries),
		logger: logger,
		hosts:  map[string]struct{}{},
	}

	sched, err := NewScheduler(session, registryFor(cfg.Mirror), m.index, storage.NewFileWriter(cfg.Mirror.Overwrite), Options{
		Strategy:       cfg.Mirror.Strategy,
		Workers:        cfg.Worker.Concurrency,
		QueueSize:      cfg.Worker.QueueSize,
		MaxBodyBytes:   cfg.Mirror.MaxBodyBytes,
		InlineMaxBytes: cfg.Mirror.InlineMaxBytes,
		Scope:          m.inScope,
		Recorder:       o.recorder,
		RunID:          m.runID,
		Logger:         logger.With("run_id", m.runID),
		Now:            o.now,
	})
	if err != nil {
		return nil, err
	}
	m.sched = sched
	return m, nil
}

func registryFor(cfg config.MirrorConfig) *Registry {
	r := PageRegistry()
	if cfg.Mode == config.ModeSite {
		r = SiteRegistry()
	}
	if cfg.StripScripts {
		r = WithoutScripts(r)
	}
	if len(cfg.InlineTags) > 0 {
		r = WithInline(r, cfg.InlineTags...)
	}
	return r
}

// Save mirrors rawURL as a page and returns the path of the saved
// document. The URL's host and port join the set crawled as markup.
func (m *Mirror) Save(ctx context.Context, rawURL string) (string, error) {
	c, err := NewContext(rawURL, m.root)
	if err != nil {
		return "", err
	}
	if u, err := url.Parse(c.SourceURL); err == nil {
		m.mu.Lock()
		m.hosts[hostKey(u)] = struct{}{}
		m.mu.Unlock()
	}

	start := time.Now()
	m.logger.Info("mirroring", "url", c.SourceURL, "root", m.root, "strategy", m.cfg.Strategy)
	path, err := m.sched.SaveRoot(ctx, NewMarkup(m.sched, c))
	if err != nil {
		return path, err
	}
	stats := m.sched.Stats()
	m.logger.Info("mirror finished",
		"url", c.SourceURL,
		"path", path,
		"fetched", stats.Fetched,
		"written", stats.Written,
		"conflicts", stats.Conflicts,
		"failed", stats.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return path, nil
}

// SavePage mirrors the configured URL.
func (m *Mirror) SavePage(ctx context.Context) (string, error) {
	if m.cfg.URL == "" {
		return "", fmt.Errorf("%w: no url configured", ErrConfiguration)
	}
	return m.Save(ctx, m.cfg.URL)
}

func (m *Mirror) inScope(u *url.URL) bool {
	if m.cfg.FollowExternal {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hosts[hostKey(u)]
	return ok
}

// hostKey identifies an origin host; explicit default ports are dropped.
func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(strings.ToLower(u.Scheme)) {
		host += ":" + port
	}
	return host
}

// Stats returns the scheduler counters.
func (m *Mirror) Stats() Stats { return m.sched.Stats() }

// Conflicts lists destinations that already existed and were kept.
func (m *Mirror) Conflicts() []string { return m.sched.Conflicts() }

// Root is the absolute directory the mirror writes into.
func (m *Mirror) Root() string { return m.root }

// RunID identifies this job in recorded captures.
func (m *Mirror) RunID() string { return m.runID }

// Close waits up to the configured join timeout for in-flight workers.
func (m *Mirror) Close() error {
	return m.sched.Close(m.cfg.JoinTimeout.Duration)
}
