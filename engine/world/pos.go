package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ChunkPos holds the position of a chunk. The type is essentially identical
// to a Pos, but the X and Z values here refer to the position of the chunk
// in the horizontal plane rather than the position of a block.
type ChunkPos [2]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// String implements fmt.Stringer.
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// DistanceSq returns the squared distance in chunks between p and other. The
// squared form is used for priority keys and radius checks so no square root
// is ever taken.
func (p ChunkPos) DistanceSq(other ChunkPos) int64 {
	dx, dz := int64(p[0]-other[0]), int64(p[1]-other[1])
	return dx*dx + dz*dz
}

// Pos holds the position of a block. The position is the absolute position of
// the block and is not relative to a chunk.
type Pos [3]int

// X returns the X coordinate of the block position.
func (p Pos) X() int {
	return p[0]
}

// Y returns the Y coordinate of the block position.
func (p Pos) Y() int {
	return p[1]
}

// Z returns the Z coordinate of the block position.
func (p Pos) Z() int {
	return p[2]
}

// OutOfBounds reports if the Y coordinate of the position falls outside of
// the world's vertical range.
func (p Pos) OutOfBounds() bool {
	return p[1] < 0 || p[1] >= ChunkSizeY
}

// ChunkPosFromVec3 returns the position of the chunk that a viewer at vec is
// located in.
func ChunkPosFromVec3(vec mgl64.Vec3) ChunkPos {
	return ChunkPos{
		int32(math.Floor(vec[0])) >> 4,
		int32(math.Floor(vec[2])) >> 4,
	}
}

// ChunkPosFromBlockPos returns the position of the chunk that the block at
// pos is located in.
func ChunkPosFromBlockPos(pos Pos) ChunkPos {
	return ChunkPos{int32(pos[0] >> 4), int32(pos[2] >> 4)}
}

// blockPosInChunk converts a block position to a position local to the chunk
// that holds it.
func blockPosInChunk(pos Pos) (x uint8, y int16, z uint8) {
	return uint8(pos[0] & 0xf), int16(pos[1]), uint8(pos[2] & 0xf)
}

// InterestSet returns the set of chunk positions within radius chunks of the
// centre position, using the square (Chebyshev) radius that viewers observe.
func InterestSet(centre ChunkPos, radius int32) map[ChunkPos]struct{} {
	set := make(map[ChunkPos]struct{}, (radius*2+1)*(radius*2+1))
	for x := -radius; x <= radius; x++ {
		for z := -radius; z <= radius; z++ {
			set[ChunkPos{centre[0] + x, centre[1] + z}] = struct{}{}
		}
	}
	return set
}
