package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/df-mc/terrastream/engine/world"
	"github.com/segmentio/fasthash/fnv1a"
)

// TextureSize is the edge length of coarse-tier approximation images.
const TextureSize = 32

// ErrAssetMissing is wrapped by deriver implementations when no full
// resolution asset exists for a kind. It is not a failure: the cache falls
// back to a flat colour and logs once per kind.
var ErrAssetMissing = errors.New("render: no asset for block kind")

// Deriver produces the 32x32 approximation image of a block kind from its
// authoritative full-resolution asset.
type Deriver func(kind world.Kind) (image.Image, error)

// CacheConfig holds the options for a TextureCache.
type CacheConfig struct {
	// Log is the logger missing assets are reported to, once per kind. If
	// nil, Log is set to slog.Default().
	Log *slog.Logger
	// Derive produces approximation images on cache miss. If nil, every kind
	// falls back to its flat base colour.
	Derive Deriver
}

// Texture is one resident coarse-tier resource, reference-counted by the
// chunks currently rendering it.
type Texture struct {
	Kind world.Kind
	// Flat is true when the image is a flat-colour fallback rather than a
	// derivation from the full-resolution asset.
	Flat bool
	Img  *image.RGBA
}

type cacheEntry struct {
	tex  *Texture
	refs int
}

// TextureCache holds the coarse-tier approximation images. Reads are shared
// by many chunks; population is single-writer per key: a miss triggers at
// most one derivation in flight per kind, and later misses for the same kind
// await that result instead of duplicating the work.
type TextureCache struct {
	conf CacheConfig

	mu       sync.Mutex
	entries  map[uint64]*cacheEntry
	inflight map[uint64]chan struct{}
	missing  map[world.Kind]struct{}

	hits, misses, derivations uint64
}

// NewTextureCache creates a TextureCache with the config passed.
func NewTextureCache(conf CacheConfig) *TextureCache {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &TextureCache{
		conf:     conf,
		entries:  make(map[uint64]*cacheEntry),
		inflight: make(map[uint64]chan struct{}),
		missing:  make(map[world.Kind]struct{}),
	}
}

// cacheKey hashes a kind into the cache key space.
func cacheKey(kind world.Kind) uint64 {
	return fnv1a.HashUint64(uint64(kind))
}

// Acquire returns the approximation texture for the kind, deriving it on
// first use, and increments its reference count. The returned texture is
// never nil: a missing asset degrades to a flat colour seamlessly.
func (c *TextureCache) Acquire(kind world.Kind) *Texture {
	key := cacheKey(kind)
	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.refs++
			c.hits++
			c.mu.Unlock()
			return e.tex
		}
		if wait, ok := c.inflight[key]; ok {
			// Another chunk is deriving this kind; await its result.
			c.mu.Unlock()
			<-wait
			continue
		}
		done := make(chan struct{})
		c.inflight[key] = done
		c.misses++
		c.mu.Unlock()

		tex := c.derive(kind)

		c.mu.Lock()
		c.entries[key] = &cacheEntry{tex: tex, refs: 1}
		c.derivations++
		delete(c.inflight, key)
		close(done)
		c.mu.Unlock()
		return tex
	}
}

// Release decrements the reference count taken by Acquire. Unreferenced
// entries stay resident until ClearCoarseCache reclaims them.
func (c *TextureCache) Release(kind world.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(kind)]; ok && e.refs > 0 {
		e.refs--
	}
}

// derive builds the texture for a kind, falling back to a flat colour when
// no asset exists. The fallback is logged once per kind to avoid log spam.
func (c *TextureCache) derive(kind world.Kind) *Texture {
	if c.conf.Derive != nil {
		img, err := c.conf.Derive(kind)
		if err == nil {
			return &Texture{Kind: kind, Img: toRGBA(img)}
		}
		c.mu.Lock()
		_, logged := c.missing[kind]
		c.missing[kind] = struct{}{}
		c.mu.Unlock()
		if !logged {
			c.conf.Log.Warn("coarse texture missing, using flat colour", "kind", kind.String(), "error", err)
		}
	}
	return &Texture{Kind: kind, Flat: true, Img: flatImage(kind.BaseColour())}
}

// CacheStats is the telemetry surface of the cache.
type CacheStats struct {
	Entries     int    `json:"entries"`
	Referenced  int    `json:"referenced"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Derivations uint64 `json:"derivations"`
}

// Stats returns a snapshot of the cache counters.
func (c *TextureCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		Derivations: c.derivations,
	}
	for _, e := range c.entries {
		if e.refs > 0 {
			st.Referenced++
		}
	}
	return st
}

// Clear drops all entries that are no longer referenced by any chunk.
// Referenced entries stay resident. It returns the number of entries
// reclaimed.
func (c *TextureCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if e.refs == 0 {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// flatImage builds a TextureSize flat-colour image.
func flatImage(col world.RGB) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, TextureSize, TextureSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = col.R
		img.Pix[i+1] = col.G
		img.Pix[i+2] = col.B
		img.Pix[i+3] = 0xff
	}
	return img
}

// toRGBA converts and downsamples an arbitrary image to the TextureSize
// approximation by nearest sampling.
func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, TextureSize, TextureSize))
	for y := 0; y < TextureSize; y++ {
		for x := 0; x < TextureSize; x++ {
			sx := b.Min.X + x*b.Dx()/TextureSize
			sy := b.Min.Y + y*b.Dy()/TextureSize
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// DirDeriver returns a Deriver that reads PNG assets named after the block
// kind (for example stone.png) from the directory passed.
func DirDeriver(dir string) Deriver {
	return func(kind world.Kind) (image.Image, error) {
		path := filepath.Join(dir, kind.String()+".png")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssetMissing, path)
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode asset %v: %w", path, err)
		}
		return img, nil
	}
}
