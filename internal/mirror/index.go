package mirror

import (
	"container/list"
	"net/url"
	"strings"
	"sync"
)

// Entry is the shared destination record for one logical resource and all
// of its aliases. It is pending until its owner publishes a destination and
// settled once the owner has finished retrieving.
type Entry struct {
	publishOnce sync.Once
	finishOnce  sync.Once
	ready       chan struct{}
	done        chan struct{}

	path   string
	target string
	err    error
}

func newEntry() *Entry {
	return &Entry{ready: make(chan struct{}), done: make(chan struct{})}
}

// Ready is closed once the destination is known.
func (e *Entry) Ready() <-chan struct{} { return e.ready }

// Done is closed once the owner has finished with the resource.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Destination returns the published file path, or target for resources
// substituted by value (data URIs, live links), or the error that
// prevented either.
func (e *Entry) Destination() (path, target string, err error) {
	select {
	case <-e.ready:
		return e.path, e.target, e.err
	default:
		return "", "", ErrResolution
	}
}

func (e *Entry) publish(path, target string, err error) {
	e.publishOnce.Do(func() {
		e.path, e.target, e.err = path, target, err
		close(e.ready)
	})
}

func (e *Entry) finish() {
	e.publish("", "", ErrResolution)
	e.finishOnce.Do(func() { close(e.done) })
}

func (e *Entry) settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

type indexItem struct {
	key   string
	entry *Entry
}

// Index maps every alias URL seen by a scheduler to its Entry. The most
// recently touched key sits at the front.
type Index struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxEntries int
}

// NewIndex creates an index. A positive maxEntries bounds the number of
// keys; only settled entries are ever evicted.
func NewIndex(maxEntries int) *Index {
	return &Index{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Claim returns the entry for rawURL, creating it when the URL is unseen.
// The boolean is true only for the caller that created the entry, which
// then owns fetching and publishing it.
func (x *Index) Claim(rawURL string) (*Entry, bool) {
	key := canonicalKey(rawURL)
	x.mu.Lock()
	defer x.mu.Unlock()
	if el, ok := x.items[key]; ok {
		x.order.MoveToFront(el)
		return el.Value.(*indexItem).entry, false
	}
	e := newEntry()
	x.insertLocked(key, e)
	return e, true
}

// Lookup returns the entry bound to rawURL, if any.
func (x *Index) Lookup(rawURL string) (*Entry, bool) {
	key := canonicalKey(rawURL)
	x.mu.Lock()
	defer x.mu.Unlock()
	el, ok := x.items[key]
	if !ok {
		return nil, false
	}
	x.order.MoveToFront(el)
	return el.Value.(*indexItem).entry, true
}

// Bind records rawURL as an alias of e and returns the entry that owns the
// alias afterwards: e itself, or the entry the alias was already bound to.
func (x *Index) Bind(rawURL string, e *Entry) *Entry {
	key := canonicalKey(rawURL)
	x.mu.Lock()
	defer x.mu.Unlock()
	if el, ok := x.items[key]; ok {
		x.order.MoveToFront(el)
		return el.Value.(*indexItem).entry
	}
	x.insertLocked(key, e)
	return e
}

// Len reports the number of keys, aliases included.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.items)
}

func (x *Index) insertLocked(key string, e *Entry) {
	x.items[key] = x.order.PushFront(&indexItem{key: key, entry: e})
	if x.maxEntries > 0 && len(x.items) > x.maxEntries {
		x.evictLocked()
	}
}

func (x *Index) evictLocked() {
	for el := x.order.Back(); el != nil && len(x.items) > x.maxEntries; {
		prev := el.Prev()
		item := el.Value.(*indexItem)
		if item.entry.settled() {
			x.order.Remove(el)
			delete(x.items, item.key)
		}
		el = prev
	}
}

// canonicalKey folds the parts of a URL that do not change the resource:
// scheme, host case, default ports and the fragment. http and https
// spellings of one location share a key, matching their shared path.
func canonicalKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := "//" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}
