// Package generator produces deterministic chunk terrain. Generate is a pure
// function of (seed, chunk position): it keeps no mutable state, so any
// number of chunks may generate concurrently and regeneration after eviction
// reproduces identical terrain.
package generator

import (
	"encoding/binary"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/terrastream/engine/world"
)

const (
	waterLevel = 40
	// dirtDepth is the fixed depth band of filler material below the surface
	// block; everything below it down to bedrock is stone.
	dirtDepth = 3
)

// Generator holds the seeded noise fields terrain is derived from. It is
// safe for concurrent use by any number of workers.
type Generator struct {
	seed   int64
	log    *slog.Logger
	height *perlin
	detail *perlin
	temp   *perlin
	moist  *perlin
}

// New creates a Generator for the seed passed.
func New(seed int64, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		seed:   seed,
		log:    log,
		height: newPerlin(seed),
		detail: newPerlin(seed + 100),
		temp:   newPerlin(seed + 1),
		moist:  newPerlin(seed + 2),
	}
}

// Seed returns the world seed the generator was built from.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Generate produces the terrain of the chunk at pos. Generation never fails
// for a valid position: an internal fault degrades to a flat default biome
// instead of aborting, because a missing chunk breaks the visual continuity
// of its neighbours.
func (g *Generator) Generate(pos world.ChunkPos) (data *world.ChunkData) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("generate chunk: recovered fault, using flat terrain",
				"chunkX", pos[0], "chunkZ", pos[1], "error", r)
			data = g.Flat(pos)
		}
	}()

	data = world.NewChunkData()

	var heights [world.ChunkSizeX][world.ChunkSizeZ]int16
	var biomes [world.ChunkSizeX][world.ChunkSizeZ]Biome
	for x := 0; x < world.ChunkSizeX; x++ {
		for z := 0; z < world.ChunkSizeZ; z++ {
			wx := float64(int(pos[0])*world.ChunkSizeX + x)
			wz := float64(int(pos[1])*world.ChunkSizeZ + z)

			base := g.height.fbm(wx/256, wz/256, 4, 0.5, 2)
			rough := g.detail.fbm(wx/32, wz/32, 3, 0.5, 2)
			temperature := g.temp.fbm(wx/512, wz/512, 2, 0.5, 2)
			moisture := g.moist.fbm(wx/512, wz/512, 2, 0.5, 2)

			b := classifyBiome(base, temperature, moisture)
			lo, hi := b.elevation()
			span := float64(hi - lo)
			surface := int16(float64(lo) + (base+1)/2*span + rough*4)
			if surface < 1 {
				surface = 1
			}
			if surface >= world.ChunkSizeY {
				surface = world.ChunkSizeY - 1
			}
			heights[x][z] = surface
			biomes[x][z] = b

			g.fillColumn(data, uint8(x), uint8(z), surface, b)
		}
	}

	g.placeOreVeins(data, pos)
	g.placeTrees(data, pos, heights, biomes)
	return data
}

// fillColumn writes the fixed depth bands of a single column: bedrock at the
// floor, stone, a filler band, the surface block, then water up to sea level.
func (g *Generator) fillColumn(data *world.ChunkData, x, z uint8, surface int16, b Biome) {
	data.SetBlock(x, 0, z, world.Block{Kind: world.KindBedrock})
	for y := int16(1); y < surface-dirtDepth; y++ {
		data.SetBlock(x, y, z, world.Block{Kind: world.KindStone})
	}
	for y := max16(1, surface-dirtDepth); y < surface; y++ {
		data.SetBlock(x, y, z, world.Block{Kind: b.fillerKind()})
	}
	data.SetBlock(x, surface, z, world.Block{Kind: b.surfaceKind()})
	for y := surface + 1; y <= waterLevel; y++ {
		data.SetBlock(x, y, z, world.Block{Kind: world.KindWater})
	}
}

// Flat returns the degraded default terrain used when generation faults: a
// flat plains slab. It is also the fallback pipeline run when a generation
// job crashed and was retried.
func (g *Generator) Flat(world.ChunkPos) *world.ChunkData {
	data := world.NewChunkData()
	const surface = 44
	for x := uint8(0); x < world.ChunkSizeX; x++ {
		for z := uint8(0); z < world.ChunkSizeZ; z++ {
			g.fillColumn(data, x, z, surface, BiomePlains)
		}
	}
	return data
}

// featureHash hashes the world seed together with a world coordinate and a
// salt. All discrete feature placement (trees, ore veins) draws from these
// hashes so that regeneration after eviction reproduces identical features.
func (g *Generator) featureHash(salt uint64, wx, wy, wz int) uint64 {
	var buf [40]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(g.seed))
	binary.LittleEndian.PutUint64(buf[8:], salt)
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(wx)))
	binary.LittleEndian.PutUint64(buf[24:], uint64(int64(wy)))
	binary.LittleEndian.PutUint64(buf[32:], uint64(int64(wz)))
	return xxhash.Sum64(buf[:])
}

const (
	saltTree uint64 = 0x7472_6565 // "tree"
	saltOre  uint64 = 0x6f72_6573 // "ores"
)

// placeTrees anchors trees on grass columns. Anchors stay two columns away
// from the chunk border so a canopy never crosses into a neighbouring chunk,
// keeping Generate pure per chunk.
func (g *Generator) placeTrees(data *world.ChunkData, pos world.ChunkPos, heights [world.ChunkSizeX][world.ChunkSizeZ]int16, biomes [world.ChunkSizeX][world.ChunkSizeZ]Biome) {
	for x := 2; x < world.ChunkSizeX-2; x++ {
		for z := 2; z < world.ChunkSizeZ-2; z++ {
			b := biomes[x][z]
			density := b.treeDensity()
			if density == 0 {
				continue
			}
			wx := int(pos[0])*world.ChunkSizeX + x
			wz := int(pos[1])*world.ChunkSizeZ + z
			h := g.featureHash(saltTree, wx, 0, wz)
			if h%1024 >= density {
				continue
			}
			surface := heights[x][z]
			if data.Block(uint8(x), surface, uint8(z)).Kind != world.KindGrass {
				continue
			}
			growTreeAt(data, uint8(x), surface+1, uint8(z), 4+int16(h>>10%3))
		}
	}
}

func growTreeAt(data *world.ChunkData, x uint8, base int16, z uint8, trunk int16) {
	for y := base; y < base+trunk; y++ {
		data.SetBlock(x, y, z, world.Block{Kind: world.KindWood})
	}
	top := base + trunk
	for dx := -2; dx <= 2; dx++ {
		for dz := -2; dz <= 2; dz++ {
			for dy := int16(-2); dy <= 0; dy++ {
				if dx == 0 && dz == 0 && dy < 0 {
					continue
				}
				if abs(dx)+abs(dz) > 3 {
					continue
				}
				lx, lz := int(x)+dx, int(z)+dz
				if lx < 0 || lx >= world.ChunkSizeX || lz < 0 || lz >= world.ChunkSizeZ {
					continue
				}
				if data.Block(uint8(lx), top+dy, uint8(lz)).Air() {
					data.SetBlock(uint8(lx), top+dy, uint8(lz), world.Block{Kind: world.KindLeaves})
				}
			}
		}
	}
}

// oreVeins lists the vein kinds scattered per chunk with their attempt
// counts, vein sizes and upper height bounds.
var oreVeins = []struct {
	kind     world.Kind
	attempts int
	size     int
	maxY     int
}{
	{world.KindCoalOre, 12, 8, 100},
	{world.KindIronOre, 6, 5, 56},
}

// placeOreVeins scatters small ore veins through stone, seeded purely from
// the chunk position.
func (g *Generator) placeOreVeins(data *world.ChunkData, pos world.ChunkPos) {
	for i, vein := range oreVeins {
		for n := 0; n < vein.attempts; n++ {
			h := g.featureHash(saltOre+uint64(i), int(pos[0]), n, int(pos[1]))
			x := uint8(h % world.ChunkSizeX)
			z := uint8(h >> 8 % world.ChunkSizeZ)
			y := int16(h >> 16 % uint64(vein.maxY))
			// A second hash stream walks the vein cells.
			for c := 0; c < vein.size; c++ {
				step := g.featureHash(saltOre+uint64(i), int(h), c, n)
				cx := int(x) + int(step%3) - 1
				cy := y + int16(step>>2%3) - 1
				cz := int(z) + int(step>>4%3) - 1
				if cx < 0 || cx >= world.ChunkSizeX || cz < 0 || cz >= world.ChunkSizeZ {
					continue
				}
				if data.Block(uint8(cx), cy, uint8(cz)).Kind == world.KindStone {
					data.SetBlock(uint8(cx), cy, uint8(cz), world.Block{Kind: vein.kind})
				}
			}
		}
	}
}

func max16(a, b int16) int16 {
	if a > b {
		return a
	}
	return b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
