// Package docraster adapts an external document rasterizer. Opened document
// handles are cached per reference, apart from the page bitmaps they produce.
package docraster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ByLCY/telescroll/assets"
)

var (
	// ErrInvalidPageNumber is returned for pages outside [1, page count].
	ErrInvalidPageNumber = errors.New("invalid page number")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rasterizer closed")
)

// BaseDPI is the resolution of one document unit per output pixel.
const BaseDPI = 72.0

// DefaultOversample renders pages at twice their nominal size.
const DefaultOversample = 2.0

// Engine opens encoded documents. It is the foreign rasterization capability.
type Engine interface {
	Open(data []byte) (Document, error)
}

// Document is an opened document handle.
type Document interface {
	NumPages() int
	// RenderPage rasterizes the 0-based page index at dpi.
	RenderPage(index int, dpi float64) (image.Image, error)
	Close() error
}

// Adapter rasterizes document pages on demand.
type Adapter struct {
	engine     Engine
	resolver   assets.Resolver
	oversample float64
	logger     *slog.Logger

	opening singleflight.Group

	mu     sync.Mutex
	docs   map[string]*handle
	closed bool
}

// handle is a cached document and the number of calls using it.
type handle struct {
	ref     string
	doc     Document
	users   int
	closing bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithOversample sets the fixed oversampling scale applied to every page.
func WithOversample(scale float64) Option {
	return func(a *Adapter) {
		if scale > 0 {
			a.oversample = scale
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter fetching document bytes through resolver.
func New(engine Engine, resolver assets.Resolver, opts ...Option) *Adapter {
	a := &Adapter{
		engine:     engine,
		resolver:   resolver,
		oversample: DefaultOversample,
		logger:     slog.Default(),
		docs:       map[string]*handle{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "docraster")
	return a
}

// DPI returns the rasterization resolution.
func (a *Adapter) DPI() float64 { return BaseDPI * a.oversample }

// Rasterize renders the 1-based pageNumber of the document at ref.
func (a *Adapter) Rasterize(ctx context.Context, ref string, pageNumber int) (image.Image, error) {
	h, err := a.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer a.release(h)

	n := h.doc.NumPages()
	if pageNumber < 1 || pageNumber > n {
		return nil, fmt.Errorf("%w: page %d of %s (document has %d pages)", ErrInvalidPageNumber, pageNumber, ref, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := h.doc.RenderPage(pageNumber-1, a.DPI())
	if err != nil {
		return nil, fmt.Errorf("render page %d of %s: %w", pageNumber, ref, err)
	}
	return img, nil
}

// PageCount opens ref if needed and returns its page count.
func (a *Adapter) PageCount(ctx context.Context, ref string) (int, error) {
	h, err := a.acquire(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer a.release(h)
	return h.doc.NumPages(), nil
}

// acquire returns the handle for ref with its user count raised, opening the
// document on first use. Callers must release it.
func (a *Adapter) acquire(ctx context.Context, ref string) (*handle, error) {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrClosed
		}
		if h, ok := a.docs[ref]; ok {
			h.users++
			a.mu.Unlock()
			return h, nil
		}
		a.mu.Unlock()

		if err := a.open(ctx, ref); err != nil {
			return nil, err
		}
	}
}

func (a *Adapter) release(h *handle) {
	a.mu.Lock()
	h.users--
	last := h.closing && h.users == 0
	a.mu.Unlock()
	if last {
		_ = a.closeHandle(h)
	}
}

func (a *Adapter) open(ctx context.Context, ref string) error {
	// 同一文档的并发打开合并为一次
	_, err, _ := a.opening.Do(ref, func() (any, error) {
		a.mu.Lock()
		if _, ok := a.docs[ref]; ok {
			a.mu.Unlock()
			return nil, nil
		}
		a.mu.Unlock()

		data, err := a.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve document %s: %w", ref, err)
		}
		doc, err := a.engine.Open(data)
		if err != nil {
			return nil, fmt.Errorf("open document %s: %w", ref, err)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			_ = doc.Close()
			return nil, ErrClosed
		}
		a.docs[ref] = &handle{ref: ref, doc: doc}
		a.logger.Debug("document opened", "ref", ref, "pages", doc.NumPages())
		return nil, nil
	})
	return err
}

// retireLocked drops h from the cache. It reports whether h has no users left and
// must be closed by the caller; otherwise the last release closes it.
func (a *Adapter) retireLocked(h *handle) bool {
	delete(a.docs, h.ref)
	h.closing = true
	return h.users == 0
}

func (a *Adapter) closeHandle(h *handle) error {
	if err := h.doc.Close(); err != nil {
		a.logger.Warn("close document failed", "ref", h.ref, "error", err)
		return fmt.Errorf("close %s: %w", h.ref, err)
	}
	return nil
}

// Forget drops the cached handle for ref. A handle still rendering is closed
// when its last page finishes.
func (a *Adapter) Forget(ref string) error {
	a.mu.Lock()
	h, ok := a.docs[ref]
	idle := ok && a.retireLocked(h)
	a.mu.Unlock()
	if !idle {
		return nil
	}
	return a.closeHandle(h)
}

// OpenDocuments returns the number of cached handles.
func (a *Adapter) OpenDocuments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs)
}

// Close releases every document handle and rejects further requests. Handles
// in use are closed by their last user. It is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	var idle []*handle
	for _, h := range a.docs {
		if a.retireLocked(h) {
			idle = append(idle, h)
		}
	}
	a.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if err := a.closeHandle(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
