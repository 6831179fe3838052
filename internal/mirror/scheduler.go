package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"webmirror/internal/config"
	"webmirror/internal/storage"
	"webmirror/pkg/types"
)

// Session is the networking collaborator. Implementations apply politeness
// and robots rules and report denials as errors.
type Session interface {
	Fetch(ctx context.Context, rawURL string) (*types.Response, error)
}

// Writer stores a resource body at a destination path.
type Writer interface {
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
}

// Options tunes a Scheduler.
type Options struct {
	// Strategy is one of config.StrategySync, StrategyThreaded, StrategyPool.
	Strategy  string
	Workers   int
	QueueSize int
	// MaxBodyBytes bounds the bodies buffered for rewriting; larger ones
	// are saved unmodified. Zero means unbounded.
	MaxBodyBytes int64
	// InlineMaxBytes bounds the bodies DataURI inlines.
	InlineMaxBytes int64
	// Scope reports whether a host may be crawled as markup. Nil allows all.
	Scope    func(*url.URL) bool
	Recorder storage.Recorder
	RunID    string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Stats counts scheduler outcomes.
type Stats struct {
	Fetched   int64
	Written   int64
	Inlined   int64
	Skipped   int64
	Conflicts int64
	Failed    int64
	Hits      int64
}

type counters struct {
	fetched, written, inlined, skipped, conflicts, failed, hits atomic.Int64
}

// Scheduler dispatches resources to handlers and guarantees each logical
// URL is fetched at most once.
type Scheduler struct {
	session  Session
	registry *Registry
	index    *Index
	writer   Writer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	pool *WorkerPool
	wg   sync.WaitGroup
	live atomic.Int64

	mu     sync.RWMutex
	closed bool

	stats       counters
	conflictsMu sync.Mutex
	conflicts   []string
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewScheduler wires a scheduler. The registry is read-only afterwards.
func NewScheduler(session Session, registry *Registry, index *Index, writer Writer, opts Options) (*Scheduler, error) {
	if session == nil || registry == nil || index == nil || writer == nil {
		return nil, errors.New("scheduler requires session, registry, index and writer")
	}
	if opts.Strategy == "" {
		opts.Strategy = config.StrategySync
	}
	s := &Scheduler{
		session:  session,
		registry: registry,
		index:    index,
		writer:   writer,
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	switch opts.Strategy {
	case config.StrategySync, config.StrategyThreaded:
	case config.StrategyPool:
		pool, err := NewWorkerPool(context.Background(), opts.Workers, opts.QueueSize)
		if err != nil {
			return nil, err
		}
		s.pool = pool
	default:
		return nil, fmt.Errorf("unsupported strategy %q", opts.Strategy)
	}
	return s, nil
}

// GetHandler builds the resource registered for tag. Crawling variants
// aimed at an out-of-scope host become links to the live site.
func (s *Scheduler) GetHandler(tag string, c Context) (Resource, error) {
	f, ok := s.registry.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredTag, tag)
	}
	return s.build(f, c), nil
}

func (s *Scheduler) build(f Factory, c Context) Resource {
	r := f(s, c)
	switch r.Kind() {
	case KindMarkup, KindGenericOnly:
		if !s.inScope(c.SourceURL) {
			return NewInertAbsolute(s, c)
		}
	}
	return r
}

func (s *Scheduler) inScope(rawURL string) bool {
	if s.opts.Scope == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return s.opts.Scope(u)
}

// Handle schedules r and returns a channel that is closed once r can be
// resolved. Already indexed URLs are bound to the existing destination
// without any network traffic.
func (s *Scheduler) Handle(ctx context.Context, r Resource) <-chan struct{} {
	b := r.core()
	if b == nil {
		return closedChan
	}
	if s.isClosed() {
		b.entry = abandon(newEntry(), ErrClosed)
		return closedChan
	}
	entry, owned := s.index.Claim(b.ctx.SourceURL)
	b.entry = entry
	if !owned {
		s.stats.hits.Add(1)
		return entry.Ready()
	}

	work := func() {
		_ = s.process(ctx, r, entry)
	}
	switch s.opts.Strategy {
	case config.StrategyThreaded:
		if !s.track() {
			abandon(entry, ErrClosed)
			break
		}
		go func() {
			defer s.untrack()
			work()
		}()
	case config.StrategyPool:
		if !s.track() {
			abandon(entry, ErrClosed)
			break
		}
		job := func(context.Context) {
			defer s.untrack()
			work()
		}
		if !s.pool.TrySubmit(job) {
			job(ctx)
		}
	default:
		work()
	}
	return entry.Done()
}

// Await blocks until every channel is closed or ctx ends. In pool mode the
// caller runs queued jobs while it waits.
func (s *Scheduler) Await(ctx context.Context, waits ...<-chan struct{}) error {
	for _, w := range waits {
		if s.pool != nil {
			if err := s.pool.Help(ctx, w); err != nil {
				return err
			}
			continue
		}
		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SaveRoot processes r on the calling goroutine and returns its
// destination. Unlike children, failures of r are returned.
func (s *Scheduler) SaveRoot(ctx context.Context, r Resource) (string, error) {
	b := r.core()
	if b == nil {
		return "", fmt.Errorf("save %s: %w", r.Context().SourceURL, ErrSkipped)
	}
	if s.isClosed() {
		return "", ErrClosed
	}
	source := b.ctx.SourceURL
	entry, owned := s.index.Claim(source)
	b.entry = entry
	if !owned {
		if err := s.Await(ctx, entry.Done()); err != nil {
			return "", err
		}
		path, _, err := entry.Destination()
		return path, err
	}

	err := s.process(ctx, r, entry)
	if err == nil {
		// An alias root settles once the resource it converged on has.
		if err = s.Await(ctx, entry.Done()); err == nil {
			_, _, err = entry.Destination()
		}
	}
	path, _, _ := entry.Destination()
	if err != nil && !errors.Is(err, ErrWriteConflict) {
		return path, fmt.Errorf("save %s: %w", source, err)
	}
	if b.resp != nil && !b.resp.OK() {
		return path, fmt.Errorf("save %s: server answered %d %s", source, b.resp.StatusCode, b.resp.Reason())
	}
	return path, nil
}

// process runs the fetch, publish, retrieve sequence for an owned entry.
// The destination is published before Retrieve so references back to this
// resource resolve while its children are still being mirrored.
func (s *Scheduler) process(ctx context.Context, r Resource, entry *Entry) error {
	forwarded := false
	defer func() {
		if !forwarded {
			entry.finish()
		}
	}()
	b := r.core()
	requested := b.ctx.SourceURL

	if err := r.Fetch(ctx); err != nil {
		entry.publish("", "", err)
		s.stats.failed.Add(1)
		s.logger.Warn("fetch failed", "url", requested, "error", err)
		return err
	}
	defer b.resp.Close()
	s.stats.fetched.Add(1)

	if owner := s.bindAliases(b, entry); owner != nil {
		s.logger.Debug("alias of indexed resource", "url", requested, "final_url", b.ctx.SourceURL)
		s.forward(ctx, entry, owner)
		forwarded = true
		return nil
	}

	if err := r.prepare(ctx); err != nil {
		entry.publish("", "", err)
		s.stats.failed.Add(1)
		s.logger.Warn("prepare failed", "url", requested, "error", err)
		return err
	}
	var path string
	target := b.target
	if target == "" {
		p, err := b.Destination()
		if err != nil {
			entry.publish("", "", err)
			s.stats.failed.Add(1)
			s.logger.Warn("destination unresolved", "url", requested, "error", err)
			return err
		}
		path = p
	}
	entry.publish(path, target, nil)

	_, err := r.Retrieve(ctx)
	switch {
	case err == nil && target != "":
		s.stats.inlined.Add(1)
	case err == nil:
		s.stats.written.Add(1)
		s.logger.Debug("saved", "url", b.ctx.SourceURL, "path", path, "status", b.resp.StatusCode)
	case errors.Is(err, ErrSkipped):
		s.stats.skipped.Add(1)
		s.logger.Debug("skipped", "url", b.ctx.SourceURL, "kind", r.Kind())
	case errors.Is(err, ErrWriteConflict):
		s.stats.conflicts.Add(1)
		s.noteConflict(path)
		s.logger.Info("kept existing file", "url", b.ctx.SourceURL, "path", path)
	default:
		s.stats.failed.Add(1)
		s.logger.Warn("retrieve failed", "url", b.ctx.SourceURL, "error", err)
	}

	if err == nil || errors.Is(err, ErrWriteConflict) {
		s.record(ctx, r, requested, path)
	}
	if errors.Is(err, ErrSkipped) {
		return nil
	}
	return err
}

// bindAliases records the final URL and every redirect hop against entry.
// When the final URL already belongs to another entry, that entry is
// returned and this one must converge on it.
func (s *Scheduler) bindAliases(b *base, entry *Entry) *Entry {
	if owner := s.index.Bind(b.ctx.SourceURL, entry); owner != entry {
		for _, hop := range b.resp.History {
			s.index.Bind(hop.String(), owner)
		}
		return owner
	}
	for _, hop := range b.resp.History {
		s.index.Bind(hop.String(), entry)
	}
	return nil
}

// forward settles entry with the owner's destination once the owner has
// published it. The wait runs on its own goroutine: a worker blocked here
// could otherwise pick up queued work that waits on entry itself.
func (s *Scheduler) forward(ctx context.Context, entry, owner *Entry) {
	tracked := s.track()
	go func() {
		if tracked {
			defer s.untrack()
		}
		defer entry.finish()
		select {
		case <-owner.Ready():
			entry.publish(owner.Destination())
		case <-ctx.Done():
			entry.publish("", "", ctx.Err())
		}
	}()
}

func (s *Scheduler) record(ctx context.Context, r Resource, requested, path string) {
	if s.opts.Recorder == nil {
		return
	}
	b := r.core()
	capture := types.Capture{
		RunID:       s.opts.RunID,
		URL:         requested,
		FinalURL:    b.ctx.SourceURL,
		Path:        path,
		StatusCode:  b.resp.StatusCode,
		ContentType: b.ctx.ContentType,
		Kind:        r.Kind().String(),
		CapturedAt:  s.now().UTC(),
	}
	if capture.Path == "" {
		capture.Path = b.target
	}
	if err := s.opts.Recorder.Record(ctx, capture); err != nil {
		s.logger.Error("record capture failed", "url", requested, "error", err)
	}
}

func (s *Scheduler) noteConflict(path string) {
	s.conflictsMu.Lock()
	s.conflicts = append(s.conflicts, path)
	s.conflictsMu.Unlock()
}

// Conflicts lists the destinations that already existed and were kept.
func (s *Scheduler) Conflicts() []string {
	s.conflictsMu.Lock()
	defer s.conflictsMu.Unlock()
	out := append([]string(nil), s.conflicts...)
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Fetched:   s.stats.fetched.Load(),
		Written:   s.stats.written.Load(),
		Inlined:   s.stats.inlined.Load(),
		Skipped:   s.stats.skipped.Load(),
		Conflicts: s.stats.conflicts.Load(),
		Failed:    s.stats.failed.Load(),
		Hits:      s.stats.hits.Load(),
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// track registers a worker unless the scheduler is closed.
func (s *Scheduler) track() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.live.Add(1)
	return true
}

func (s *Scheduler) untrack() {
	s.live.Add(-1)
	s.wg.Done()
}

// abandon settles e with err so nobody waits on it.
func abandon(e *Entry, err error) *Entry {
	e.publish("", "", err)
	e.finish()
	return e
}

// Close stops accepting work and waits up to timeout for running workers.
// A non-positive timeout waits without bound. Workers still running after
// the timeout are left to finish on their own.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		if s.pool != nil {
			s.pool.Close()
		}
		return nil
	case <-expired:
		if s.pool != nil {
			go s.pool.Close()
		}
		return fmt.Errorf("scheduler: %d workers still running after %s", s.live.Load(), timeout)
	}
}
