package world

// Chunk dimensions. A chunk is a fixed 16x128x16 cuboid, the unit of
// generation, storage and streaming.
const (
	ChunkSizeX = 16
	ChunkSizeY = 128
	ChunkSizeZ = 16
)

// State is the generation state of a chunk. A chunk moves through the states
// strictly in the order Requested -> Generating -> Ready -> Evicted. The
// Store is the sole arbiter of these transitions.
type State uint8

const (
	StateRequested State = iota
	StateGenerating
	StateReady
	StateEvicted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateGenerating:
		return "generating"
	case StateReady:
		return "ready"
	case StateEvicted:
		return "evicted"
	}
	return "invalid"
}

// Tier is the level of detail a chunk is rendered at.
type Tier uint8

const (
	TierUnloaded Tier = iota
	TierCoarse
	TierFull
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierCoarse:
		return "coarse"
	case TierFull:
		return "full"
	}
	return "unloaded"
}

// ChunkData is the raw block grid of a chunk. It carries no lifecycle state
// and may be produced and filled concurrently by generator workers before
// being handed to the Store.
type ChunkData struct {
	blocks [ChunkSizeX * ChunkSizeY * ChunkSizeZ]Block
}

// NewChunkData returns empty chunk data filled with air.
func NewChunkData() *ChunkData {
	return &ChunkData{}
}

func blockIndex(x uint8, y int16, z uint8) int {
	return int(y)<<8 | int(z)<<4 | int(x)
}

// Block returns the block at a position local to the chunk. Positions outside
// of the vertical range return air.
func (d *ChunkData) Block(x uint8, y int16, z uint8) Block {
	if y < 0 || y >= ChunkSizeY {
		return Block{}
	}
	return d.blocks[blockIndex(x&0xf, y, z&0xf)]
}

// SetBlock sets the block at a position local to the chunk. Positions outside
// of the vertical range are ignored.
func (d *ChunkData) SetBlock(x uint8, y int16, z uint8, b Block) {
	if y < 0 || y >= ChunkSizeY {
		return
	}
	d.blocks[blockIndex(x&0xf, y, z&0xf)] = b
}

// HighestBlock returns the Y value of the highest non-air block in the column
// at x and z, or 0 if the column is empty.
func (d *ChunkData) HighestBlock(x, z uint8) int16 {
	for y := int16(ChunkSizeY - 1); y >= 0; y-- {
		if !d.blocks[blockIndex(x&0xf, y, z&0xf)].Air() {
			return y
		}
	}
	return 0
}

// Surface returns the highest non-air block of every column in the chunk.
// The coarse render tier draws these 256 blocks as instanced batches instead
// of meshing the full grid.
func (d *ChunkData) Surface() [ChunkSizeX][ChunkSizeZ]Block {
	var surf [ChunkSizeX][ChunkSizeZ]Block
	for x := uint8(0); x < ChunkSizeX; x++ {
		for z := uint8(0); z < ChunkSizeZ; z++ {
			surf[x][z] = d.Block(x, d.HighestBlock(x, z), z)
		}
	}
	return surf
}

// Equal reports if two chunk data grids hold exactly the same blocks. It is
// used by determinism and idempotence tests.
func (d *ChunkData) Equal(other *ChunkData) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.blocks == other.blocks
}

// ApplyOverlay replays ledger modifications over the grid in record order, so
// that the latest record for a position wins. Every cell written is marked
// player-placed, protecting it from terrain-only regeneration passes.
// Replaying the same overlay repeatedly is idempotent.
func (d *ChunkData) ApplyOverlay(overlay []Modification) {
	for _, m := range overlay {
		d.SetBlock(m.X, int16(m.Y), m.Z, Block{
			Kind:         m.Kind,
			Colour:       m.Colour,
			CustomColour: m.CustomColour,
			PlayerPlaced: true,
		})
	}
}

// Chunk is a loaded chunk owned by the Store. All fields are guarded by the
// Store's transaction queue; a Chunk must never be retained or mutated
// outside of it.
type Chunk struct {
	pos   ChunkPos
	data  *ChunkData
	state State
	tier  Tier
	dirty bool
}

// Pos returns the chunk's position.
func (c *Chunk) Pos() ChunkPos {
	return c.pos
}

// State returns the chunk's generation state.
func (c *Chunk) State() State {
	return c.state
}

// Tier returns the render tier the chunk is currently assigned.
func (c *Chunk) Tier() Tier {
	return c.tier
}
