// Package render implements the two-tier level-of-detail renderer state:
// chunks within the render distance carry full interactive geometry, chunks
// out to the visual distance are drawn as cheap instanced approximations,
// and everything beyond is unloaded. The package owns the tier state machine
// and the coarse-tier resource cache; GPU submission itself lives with the
// client.
package render

import (
	"log/slog"
	"sync"

	"github.com/df-mc/terrastream/engine/world"
)

// Config holds the options for a Renderer.
type Config struct {
	// Log is the logger the renderer reports missing assets to. If nil, Log
	// is set to slog.Default().
	Log *slog.Logger
	// RenderDistance is the Chebyshev radius, in chunks, of the full tier.
	// If zero it defaults to 4.
	RenderDistance int32
	// VisualDistance is the radius of the coarse tier. It is clamped to at
	// least RenderDistance; if zero it defaults to 12.
	VisualDistance int32
	// Hysteresis is the number of consecutive updates a chunk must remain
	// outside the render distance before it is demoted from Full to Coarse,
	// avoiding tier thrash at the boundary. Zero demotes immediately.
	Hysteresis int
	// Cache supplies coarse-tier textures. If nil, a cache with no asset
	// source (flat colours only) is created.
	Cache *TextureCache
}

// TierChange is one promotion or demotion computed by Update, to be applied
// to the chunk store by the caller.
type TierChange struct {
	Pos  world.ChunkPos
	Tier world.Tier
}

// Stats is the read-only telemetry surface of the renderer.
type Stats struct {
	ChunksFull       int `json:"chunksFull"`
	ChunksCoarse     int `json:"chunksCoarse"`
	InstancedBatches int `json:"instancedBatches"`
	Culled           int `json:"culled"`
}

// Renderer assigns render tiers to Ready chunks based on viewer distance.
// All methods are safe for concurrent use.
type Renderer struct {
	conf Config

	mu           sync.Mutex
	tiers        map[world.ChunkPos]world.Tier
	demoteStreak map[world.ChunkPos]int
	batches      int
	culled       int
}

// New creates a Renderer with the config passed.
func New(conf Config) *Renderer {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.RenderDistance <= 0 {
		conf.RenderDistance = 4
	}
	if conf.VisualDistance <= 0 {
		conf.VisualDistance = 12
	}
	if conf.VisualDistance < conf.RenderDistance {
		conf.VisualDistance = conf.RenderDistance
	}
	if conf.Cache == nil {
		conf.Cache = NewTextureCache(CacheConfig{Log: conf.Log})
	}
	return &Renderer{
		conf:         conf,
		tiers:        make(map[world.ChunkPos]world.Tier),
		demoteStreak: make(map[world.ChunkPos]int),
	}
}

// Cache returns the coarse-tier texture cache.
func (r *Renderer) Cache() *TextureCache {
	return r.conf.Cache
}

// SetRenderDistance updates the full-tier radius. Takes effect on the next
// Update.
func (r *Renderer) SetRenderDistance(n int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		n = 1
	}
	r.conf.RenderDistance = n
	if r.conf.VisualDistance < n {
		r.conf.VisualDistance = n
	}
}

// SetVisualDistance updates the coarse-tier radius. Takes effect on the next
// Update.
func (r *Renderer) SetVisualDistance(n int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < r.conf.RenderDistance {
		n = r.conf.RenderDistance
	}
	r.conf.VisualDistance = n
}

// Distances returns the current render and visual distances.
func (r *Renderer) Distances() (render, visual int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conf.RenderDistance, r.conf.VisualDistance
}

// chebyshev returns the Chebyshev (square-radius) distance between two chunk
// positions, matching how interest radii are measured.
func chebyshev(a, b world.ChunkPos) int32 {
	dx, dz := a[0]-b[0], a[1]-b[1]
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}

// Update recomputes the tier of every Ready chunk for the viewer chunk
// position passed and returns the changes since the previous update. Chunks
// promote to Full immediately; demotion from Full honours the configured
// hysteresis. Ready chunks beyond the visual distance count as culled.
func (r *Renderer) Update(viewer world.ChunkPos, ready []world.ChunkPos) []TierChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []TierChange
	seen := make(map[world.ChunkPos]struct{}, len(ready))
	culled := 0

	for _, pos := range ready {
		seen[pos] = struct{}{}
		prev := r.tiers[pos]
		d := chebyshev(pos, viewer)

		var next world.Tier
		switch {
		case d <= r.conf.RenderDistance:
			next = world.TierFull
		case d <= r.conf.VisualDistance:
			next = world.TierCoarse
		default:
			next = world.TierUnloaded
			culled++
		}

		if prev == world.TierFull && next == world.TierCoarse && r.conf.Hysteresis > 0 {
			// Keep the chunk on the full tier until it stayed outside the
			// render distance long enough; re-promotion is likely near the
			// boundary.
			r.demoteStreak[pos]++
			if r.demoteStreak[pos] <= r.conf.Hysteresis {
				continue
			}
		}
		delete(r.demoteStreak, pos)

		if next != prev {
			r.tiers[pos] = next
			changes = append(changes, TierChange{Pos: pos, Tier: next})
		}
	}

	// Chunks that disappeared from the ready set were evicted.
	for pos := range r.tiers {
		if _, ok := seen[pos]; !ok {
			delete(r.tiers, pos)
			delete(r.demoteStreak, pos)
		}
	}
	r.culled = culled
	return changes
}

// Tier returns the tier currently assigned to the chunk at pos.
func (r *Renderer) Tier(pos world.ChunkPos) world.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tiers[pos]
}

// Stats returns a snapshot of the renderer telemetry.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{InstancedBatches: r.batches, Culled: r.culled}
	for _, tier := range r.tiers {
		switch tier {
		case world.TierFull:
			st.ChunksFull++
		case world.TierCoarse:
			st.ChunksCoarse++
		}
	}
	return st
}
