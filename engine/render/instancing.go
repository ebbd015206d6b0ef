package render

import (
	"github.com/brentp/intintmap"
	"github.com/df-mc/terrastream/engine/world"
)

// Batch is one instanced draw submission: every visible coarse-tier surface
// block of a kind, across all coarse chunks, drawn in a single call with the
// kind's approximation texture.
type Batch struct {
	Kind    world.Kind
	Count   int
	Texture *Texture
}

// Surface is the top-of-column block grid of one coarse chunk, as returned
// by the chunk store.
type Surface = [world.ChunkSizeX][world.ChunkSizeZ]world.Block

// BuildBatches groups the surface blocks of all coarse chunks by kind into
// instanced batches and acquires a cache texture per batch. Counting runs
// through a dense int-to-int map to keep the per-frame hot path free of
// allocation and boxing. The caller owns the acquired texture references and
// releases them with ReleaseBatches.
func (r *Renderer) BuildBatches(surfaces []Surface) []Batch {
	counts := intintmap.New(int(world.KindCount()), 0.6)
	for _, surf := range surfaces {
		for x := 0; x < world.ChunkSizeX; x++ {
			for z := 0; z < world.ChunkSizeZ; z++ {
				b := surf[x][z]
				if b.Air() {
					continue
				}
				n, _ := counts.Get(int64(b.Kind))
				counts.Put(int64(b.Kind), n+1)
			}
		}
	}

	var batches []Batch
	for kind := world.Kind(1); kind < world.KindCount(); kind++ {
		n, ok := counts.Get(int64(kind))
		if !ok || n == 0 {
			continue
		}
		batches = append(batches, Batch{
			Kind:    kind,
			Count:   int(n),
			Texture: r.conf.Cache.Acquire(kind),
		})
	}

	r.mu.Lock()
	r.batches = len(batches)
	r.mu.Unlock()
	return batches
}

// ReleaseBatches releases the texture references held by batches returned
// from BuildBatches.
func (r *Renderer) ReleaseBatches(batches []Batch) {
	for _, b := range batches {
		r.conf.Cache.Release(b.Kind)
	}
}
