package render

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/df-mc/terrastream/engine/world"
)

// TestAcquireFlatFallback verifies a cache without an asset source returns a
// flat-colour texture matching the kind's base colour.
func TestAcquireFlatFallback(t *testing.T) {
	t.Parallel()

	c := NewTextureCache(CacheConfig{})
	tex := c.Acquire(world.KindStone)
	if tex == nil || tex.Img == nil {
		t.Fatalf("acquire returned no texture")
	}
	if !tex.Flat {
		t.Fatalf("texture without asset source not marked flat")
	}
	col := world.KindStone.BaseColour()
	pix := tex.Img.RGBAAt(TextureSize/2, TextureSize/2)
	if pix.R != col.R || pix.G != col.G || pix.B != col.B {
		t.Fatalf("flat texture colour = %v, want %v", pix, col)
	}
}

// TestAcquireDerived verifies a successful derivation produces a TextureSize
// image that is not flagged as a fallback.
func TestAcquireDerived(t *testing.T) {
	t.Parallel()

	c := NewTextureCache(CacheConfig{Derive: func(kind world.Kind) (image.Image, error) {
		// A source larger than the target exercises the downsample path.
		return image.NewRGBA(image.Rect(0, 0, 128, 128)), nil
	}})
	tex := c.Acquire(world.KindGrass)
	if tex.Flat {
		t.Fatalf("derived texture flagged flat")
	}
	if b := tex.Img.Bounds(); b.Dx() != TextureSize || b.Dy() != TextureSize {
		t.Fatalf("derived texture is %dx%d, want %dx%d", b.Dx(), b.Dy(), TextureSize, TextureSize)
	}
}

// TestAcquireSingleFlight hammers one kind from many goroutines while the
// deriver is gated: exactly one derivation must run and every caller gets the
// same texture.
func TestAcquireSingleFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	var derivations atomic.Int64
	c := NewTextureCache(CacheConfig{Derive: func(kind world.Kind) (image.Image, error) {
		<-gate
		derivations.Add(1)
		return image.NewRGBA(image.Rect(0, 0, TextureSize, TextureSize)), nil
	}})

	const n = 16
	var wg sync.WaitGroup
	textures := make([]*Texture, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			textures[i] = c.Acquire(world.KindSand)
		}(i)
	}
	close(gate)
	wg.Wait()

	if got := derivations.Load(); got != 1 {
		t.Fatalf("deriver ran %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if textures[i] != textures[0] {
			t.Fatalf("caller %d received a different texture instance", i)
		}
	}
	if st := c.Stats(); st.Entries != 1 || st.Derivations != 1 {
		t.Fatalf("cache stats after single flight: %+v", st)
	}
}

// TestClearRespectsReferences verifies Clear only reclaims entries whose
// reference count dropped to zero.
func TestClearRespectsReferences(t *testing.T) {
	t.Parallel()

	c := NewTextureCache(CacheConfig{})
	c.Acquire(world.KindStone)
	c.Acquire(world.KindGrass)
	c.Release(world.KindGrass)

	if n := c.Clear(); n != 1 {
		t.Fatalf("clear reclaimed %d entries, want 1", n)
	}
	if st := c.Stats(); st.Entries != 1 || st.Referenced != 1 {
		t.Fatalf("cache after clear: %+v", st)
	}

	c.Release(world.KindStone)
	if n := c.Clear(); n != 1 {
		t.Fatalf("clear after release reclaimed %d entries, want 1", n)
	}
}

// TestCacheHitCounting verifies repeated acquires of a resident kind count as
// hits, not derivations.
func TestCacheHitCounting(t *testing.T) {
	t.Parallel()

	c := NewTextureCache(CacheConfig{})
	c.Acquire(world.KindWater)
	c.Acquire(world.KindWater)
	c.Acquire(world.KindWater)

	st := c.Stats()
	if st.Derivations != 1 {
		t.Fatalf("derivations = %d, want 1", st.Derivations)
	}
	if st.Hits != 2 {
		t.Fatalf("hits = %d, want 2", st.Hits)
	}
}

// TestDirDeriver reads a PNG asset from disk and falls back cleanly for kinds
// without one.
func TestDirDeriver(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	f, err := os.Create(filepath.Join(dir, world.KindStone.String()+".png"))
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode asset: %v", err)
	}
	_ = f.Close()

	c := NewTextureCache(CacheConfig{Derive: DirDeriver(dir)})
	if tex := c.Acquire(world.KindStone); tex.Flat {
		t.Fatalf("kind with an asset fell back to flat colour")
	}
	if tex := c.Acquire(world.KindGrass); !tex.Flat {
		t.Fatalf("kind without an asset did not fall back to flat colour")
	}
}

// TestBuildBatches groups coarse surfaces into per-kind instanced batches
// with exact counts.
func TestBuildBatches(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	var surf Surface
	for x := 0; x < world.ChunkSizeX; x++ {
		for z := 0; z < world.ChunkSizeZ; z++ {
			if (x+z)%2 == 0 {
				surf[x][z] = world.Block{Kind: world.KindGrass}
			} else {
				surf[x][z] = world.Block{Kind: world.KindSand}
			}
		}
	}
	// One air hole must not be counted.
	surf[0][1] = world.Block{}

	batches := r.BuildBatches([]Surface{surf, surf})
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	counts := map[world.Kind]int{}
	for _, b := range batches {
		if b.Texture == nil {
			t.Fatalf("batch %v carries no texture", b.Kind)
		}
		counts[b.Kind] = b.Count
	}
	if counts[world.KindGrass] != 2*128 {
		t.Fatalf("grass count = %d, want 256", counts[world.KindGrass])
	}
	if counts[world.KindSand] != 2*(128-1) {
		t.Fatalf("sand count = %d, want 254", counts[world.KindSand])
	}
	if st := r.Stats(); st.InstancedBatches != 2 {
		t.Fatalf("instanced batch stat = %d, want 2", st.InstancedBatches)
	}

	r.ReleaseBatches(batches)
	if n := r.Cache().Clear(); n != 2 {
		t.Fatalf("clear after release reclaimed %d textures, want %d", n, 2)
	}
}
