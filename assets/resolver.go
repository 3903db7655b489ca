// Package assets resolves opaque content references to raw bytes and decodes
// image payloads. Resolvers are the boundary to whatever stores the project's media.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no resolver knows a reference.
var ErrNotFound = errors.New("asset not found")

// Resolver maps a content reference to raw bytes.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref string) ([]byte, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }

// FileResolver reads references as file paths. Relative paths require BaseDir.
type FileResolver struct {
	BaseDir string
}

func (r FileResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(ref, "file:")
	if r.BaseDir == "" && !filepath.IsAbs(path) {
		return nil, fmt.Errorf("relative asset path %q needs a base directory", ref)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", ref, err)
	}
	return data, nil
}

// BuiltinResolver serves in-memory blobs addressed as "built-in:<name>".
type BuiltinResolver map[string][]byte

func (r BuiltinResolver) Resolve(_ context.Context, ref string) ([]byte, error) {
	name := strings.TrimPrefix(strings.TrimPrefix(ref, "built-in:"), "builtin:")
	blob, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: built-in:%s", ErrNotFound, name)
	}
	return blob, nil
}

// Chain dispatches by reference prefix ("redis:", "built-in:", ...). References
// without a registered prefix go to Fallback.
type Chain struct {
	Prefixes map[string]Resolver
	Fallback Resolver
}

// NewChain builds a Chain whose fallback is a FileResolver rooted at baseDir.
func NewChain(baseDir string) *Chain {
	return &Chain{
		Prefixes: map[string]Resolver{},
		Fallback: FileResolver{BaseDir: baseDir},
	}
}

// Register routes references starting with prefix to r.
func (c *Chain) Register(prefix string, r Resolver) *Chain {
	c.Prefixes[prefix] = r
	return c
}

// Resolve dispatches ref to the resolver of its longest matching prefix.
func (c *Chain) Resolve(ctx context.Context, ref string) ([]byte, error) {
	var (
		best  string
		match Resolver
	)
	for prefix, r := range c.Prefixes {
		if strings.HasPrefix(ref, prefix) && (match == nil || len(prefix) > len(best)) {
			best, match = prefix, r
		}
	}
	if match != nil {
		return match.Resolve(ctx, ref)
	}
	if c.Fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return c.Fallback.Resolve(ctx, ref)
}
