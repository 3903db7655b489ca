// Package cache holds decoded bitmaps in a capacity-bounded store with
// per-key load tracking. Concurrent requests for one key share a single decode.
package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

var (
	// ErrDecodeFailure marks a bitmap that could not be produced.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrClosed is returned to requests made against, or pending during, Close.
	ErrClosed = errors.New("cache closed")
)

// LoadState tracks a key through idle -> loading -> loaded|error.
type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
	Error
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Key addresses a bitmap: a content reference, plus a 1-based page for documents.
type Key struct {
	Ref      string
	Page     int
	Document bool
}

// ImageKey addresses a whole image.
func ImageKey(ref string) Key { return Key{Ref: ref} }

// PageKey addresses one page of a document.
func PageKey(ref string, page int) Key { return Key{Ref: ref, Page: page, Document: true} }

func (k Key) String() string {
	if k.Document {
		return fmt.Sprintf("%s#%d", k.Ref, k.Page)
	}
	return k.Ref
}

// LoadFunc produces the bitmap for key. It runs on its own goroutine.
type LoadFunc func(ctx context.Context, key Key) (image.Image, error)

// LoadError records why a key ended in the Error state.
type LoadError struct {
	Key Key
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Key, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Cache is a FIFO-bounded key→bitmap store. Eviction follows insertion order,
// not recency of access.
type Cache struct {
	capacity int
	load     LoadFunc
	onEvict  func(Key, image.Image)
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	mu       sync.Mutex
	entries  map[Key]image.Image
	order    []Key // insertion order of resident keys
	failures map[Key]error
	inflight map[Key]*Pending
	closed   bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithOnEvict registers a hook run, outside the cache lock, for every entry
// dropped by eviction or Close.
func WithOnEvict(fn func(Key, image.Image)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithContext sets the parent context handed to loaders.
func WithContext(ctx context.Context) Option {
	return func(c *Cache) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// New creates a cache holding at most capacity bitmaps (minimum 1).
func New(capacity int, load LoadFunc, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{
		capacity: capacity,
		load:     load,
		logger:   slog.Default(),
		ctx:      context.Background(),
		entries:  map[Key]image.Image{},
		failures: map[Key]error{},
		inflight: map[Key]*Pending{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(c.ctx)
	c.logger = c.logger.With("component", "cache")
	return c
}

// Capacity returns the maximum number of resident entries.
func (c *Cache) Capacity() int { return c.capacity }

// Request starts loading key unless it is already loading or loaded, and
// returns a handle observing the outcome. It never blocks on the decode.
func (c *Cache) Request(key Key) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return resolved(key, nil, ErrClosed)
	}
	if img, ok := c.entries[key]; ok {
		return resolved(key, img, nil)
	}
	if p, ok := c.inflight[key]; ok {
		return p
	}

	// error 状态只能通过显式的再次 Request 重试
	delete(c.failures, key)
	p := newPending(key)
	c.inflight[key] = p
	c.loads.Add(1)
	go c.run(key, p)
	return p
}

// Preload requests every key and returns the handles in the same order.
func (c *Cache) Preload(keys ...Key) []*Pending {
	out := make([]*Pending, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.Request(k))
	}
	return out
}

func (c *Cache) run(key Key, p *Pending) {
	defer c.loads.Done()
	img, err := c.safeLoad(key)
	if err == nil && img == nil {
		err = fmt.Errorf("%w: loader returned no bitmap", ErrDecodeFailure)
	}

	var evicted []evictedEntry
	c.mu.Lock()
	delete(c.inflight, key)
	switch {
	case c.closed:
		img, err = nil, ErrClosed
	case err != nil:
		err = &LoadError{Key: key, Err: err}
		c.failures[key] = err
	default:
		evicted = c.insertLocked(key, img)
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.logger.Debug("evicted", "key", e.key.String())
		if c.onEvict != nil {
			c.onEvict(e.key, e.img)
		}
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("load failed", "key", key.String(), "error", err)
	}
	p.resolve(img, err)
}

func (c *Cache) safeLoad(key Key) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: panic: %v", ErrDecodeFailure, r)
		}
	}()
	return c.load(c.ctx, key)
}

type evictedEntry struct {
	key Key
	img image.Image
}

func (c *Cache) insertLocked(key Key, img image.Image) []evictedEntry {
	var out []evictedEntry
	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		out = append(out, evictedEntry{key: oldest, img: c.entries[oldest]})
		delete(c.entries, oldest)
	}
	c.entries[key] = img
	c.order = append(c.order, key)
	return out
}

// Get returns the resident bitmap for key.
func (c *Cache) Get(key Key) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.entries[key]
	return img, ok
}

// State reports the load state of key. Evicted keys report Idle.
func (c *Cache) State(key Key) LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.entries[key] != nil:
		return Loaded
	case c.inflight[key] != nil:
		return Loading
	case c.failures[key] != nil:
		return Error
	default:
		return Idle
	}
}

// Err returns the failure recorded for key, if it is in the Error state.
func (c *Cache) Err(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[key]
}

// Len returns the number of resident bitmaps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns resident keys, oldest insertion first.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Key(nil), c.order...)
}

// Close drops every entry, cancels loader contexts, fails pending requests
// with ErrClosed and returns once every running loader has returned. It must
// not be called from a loader. Calling it more than once is a no-op.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var dropped []evictedEntry
	for _, k := range c.order {
		dropped = append(dropped, evictedEntry{key: k, img: c.entries[k]})
	}
	c.entries = map[Key]image.Image{}
	c.order = nil
	c.failures = map[Key]error{}
	c.mu.Unlock()

	c.cancel()
	c.loads.Wait()
	for _, e := range dropped {
		if c.onEvict != nil {
			c.onEvict(e.key, e.img)
		}
	}
	c.logger.Debug("closed", "released", len(dropped))
}
