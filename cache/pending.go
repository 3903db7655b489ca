package cache

import (
	"context"
	"image"
)

// Pending is the shared outcome of one decode. Every requester of a key that
// is in flight receives the same *Pending.
type Pending struct {
	key  Key
	done chan struct{}
	img  image.Image
	err  error
}

func newPending(key Key) *Pending {
	return &Pending{key: key, done: make(chan struct{})}
}

func resolved(key Key, img image.Image, err error) *Pending {
	p := newPending(key)
	p.resolve(img, err)
	return p
}

func (p *Pending) resolve(img image.Image, err error) {
	p.img, p.err = img, err
	close(p.done)
}

// Key returns the key being loaded.
func (p *Pending) Key() Key { return p.key }

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Poll returns the outcome without blocking; done is false while still loading.
func (p *Pending) Poll() (img image.Image, done bool, err error) {
	select {
	case <-p.done:
		return p.img, true, p.err
	default:
		return nil, false, nil
	}
}

// Wait blocks until the outcome is known or ctx ends.
func (p *Pending) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-p.done:
		return p.img, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
