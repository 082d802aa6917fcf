package compose

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Registered decoders for sticker and frame artwork.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// maxImageBytes bounds a downloaded camera image.
const maxImageBytes = 64 << 20

// Resolver turns an image reference into pixels.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (image.Image, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref string) (image.Image, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref string) (image.Image, error) {
	return f(ctx, ref)
}

// DirResolver loads artwork (PNG, JPEG, WebP) from a directory. References
// are paths relative to Root and may not leave it.
type DirResolver struct {
	Root string
}

func (d DirResolver) Resolve(_ context.Context, ref string) (image.Image, error) {
	rel := filepath.FromSlash(ref)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("asset %q escapes the assets directory", ref)
	}
	f, err := os.Open(filepath.Join(d.Root, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", ref, err)
	}
	debug.Trace("Asset %s decoded (%s, %v)", ref, format, img.Bounds())
	return img, nil
}

// HTTPResolver downloads images, typically the camera service photo URLs.
type HTTPResolver struct {
	Client *http.Client
}

func (h HTTPResolver) Resolve(ctx context.Context, ref string) (image.Image, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", ref, resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return img, nil
}

// Mux dispatches references by URL scheme ("http", "mock", ...).
// References without a registered scheme go to the fallback.
type Mux struct {
	schemes  map[string]Resolver
	fallback Resolver
}

// NewMux creates a mux sending unmatched references to fallback.
func NewMux(fallback Resolver) *Mux {
	return &Mux{schemes: make(map[string]Resolver), fallback: fallback}
}

// Handle registers r for references starting with scheme "://".
func (m *Mux) Handle(scheme string, r Resolver) {
	m.schemes[scheme] = r
}

func (m *Mux) Resolve(ctx context.Context, ref string) (image.Image, error) {
	if scheme, _, ok := strings.Cut(ref, "://"); ok {
		if r, ok := m.schemes[scheme]; ok {
			return r.Resolve(ctx, ref)
		}
		return nil, fmt.Errorf("no resolver for scheme %q", scheme)
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no resolver for %q", ref)
	}
	return m.fallback.Resolve(ctx, ref)
}

// Cache memoizes decoded images. Cached images are shared and must not be
// modified by callers.
type Cache struct {
	next Resolver

	mu      sync.Mutex
	entries map[string]image.Image
}

// NewCache wraps next with an unbounded cache. Artwork sets are small.
func NewCache(next Resolver) *Cache {
	return &Cache{next: next, entries: make(map[string]image.Image)}
}

func (c *Cache) Resolve(ctx context.Context, ref string) (image.Image, error) {
	c.mu.Lock()
	img, ok := c.entries[ref]
	c.mu.Unlock()
	if ok {
		return img, nil
	}
	img, err := c.next.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[ref] = img
	c.mu.Unlock()
	return img, nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
