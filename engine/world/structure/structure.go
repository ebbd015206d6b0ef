// Package structure computes block edits for structures such as buildings.
// Placement is a pure computation: it emits edits for the caller to route
// through the ledger and the chunk store, and never mutates chunk state
// itself, preserving the store's single-writer discipline.
package structure

import (
	"errors"
	"fmt"

	"github.com/df-mc/terrastream/engine/world"
)

var (
	// ErrInvalidInterior is returned when a requested interior dimension is
	// not positive.
	ErrInvalidInterior = errors.New("structure: interior dimensions must be positive")
	// ErrInvalidThickness is returned when the wall thickness is not positive.
	ErrInvalidThickness = errors.New("structure: wall thickness must be positive")
)

// Request describes a structure to place: a hollow building with a floor, a
// roof and walls of the material passed, anchored at a world position.
type Request struct {
	// Anchor is the centre of the footprint; its Y is the floor level.
	Anchor world.Pos
	// InteriorWidth, InteriorLength and InteriorHeight are the inner clear
	// dimensions along X, Z and Y.
	InteriorWidth, InteriorLength, InteriorHeight int
	// WallThickness is the wall thickness per side. The exterior footprint is
	// the interior dimension plus twice this value on each horizontal axis.
	// If zero, it defaults to 1.
	WallThickness int
	// Material is the block kind used for floor, walls and roof.
	Material world.Kind
	// Colour optionally overrides the material's base colour.
	Colour       world.RGB
	CustomColour bool
}

// Edit is one block write emitted by Place, in world coordinates.
type Edit struct {
	Pos          world.Pos
	Kind         world.Kind
	Colour       world.RGB
	CustomColour bool
}

// Bounds returns the inclusive offset range, relative to the anchor, covered
// by a total span of cells: min = -floor(total/2), max = min + total - 1.
// The range holds exactly total cells for both even and odd spans; naive
// symmetric half-extents under-count even totals by one.
func Bounds(total int) (min, max int) {
	min = -(total / 2)
	return min, min + total - 1
}

// Interior reports if the offset is strictly inside the walls on one axis,
// given the exterior bounds and the wall thickness. A cell is interior iff it
// is strictly greater than the outermost wall coordinate on the low side and
// strictly less than it on the high side; wall coordinates themselves are
// never interior.
func Interior(offset, min, max, thickness int) bool {
	return offset > min+(thickness-1) && offset < max-(thickness-1)
}

// Footprint returns the exterior span of the request on the X and Z axes.
func (req Request) Footprint() (spanX, spanZ int) {
	t := req.WallThickness
	if t <= 0 {
		t = 1
	}
	return req.InteriorWidth + 2*t, req.InteriorLength + 2*t
}

// Place computes the edits for the request. Interior cells are cleared to
// air; every other cell of the footprint becomes floor, wall or roof
// material. Exactly one edit is emitted per affected cell.
func Place(req Request) ([]Edit, error) {
	if req.InteriorWidth <= 0 || req.InteriorLength <= 0 || req.InteriorHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrInvalidInterior,
			req.InteriorWidth, req.InteriorLength, req.InteriorHeight)
	}
	t := req.WallThickness
	if t == 0 {
		t = 1
	}
	if t < 0 {
		return nil, ErrInvalidThickness
	}
	if !req.Material.Valid() || req.Material == world.KindAir {
		return nil, fmt.Errorf("%w: %v", world.ErrUnknownKind, req.Material)
	}

	spanX, spanZ := req.InteriorWidth+2*t, req.InteriorLength+2*t
	minX, maxX := Bounds(spanX)
	minZ, maxZ := Bounds(spanZ)

	material := Edit{Kind: req.Material, Colour: req.Colour, CustomColour: req.CustomColour}
	air := Edit{Kind: world.KindAir}

	// Floor at the anchor level, interiorHeight layers above it, then the
	// roof layer.
	edits := make([]Edit, 0, spanX*spanZ*(req.InteriorHeight+2))
	for dy := 0; dy <= req.InteriorHeight+1; dy++ {
		for dx := minX; dx <= maxX; dx++ {
			for dz := minZ; dz <= maxZ; dz++ {
				pos := world.Pos{req.Anchor[0] + dx, req.Anchor[1] + dy, req.Anchor[2] + dz}
				if pos.OutOfBounds() {
					continue
				}
				e := material
				if dy > 0 && dy <= req.InteriorHeight && Interior(dx, minX, maxX, t) && Interior(dz, minZ, maxZ, t) {
					e = air
				}
				e.Pos = pos
				edits = append(edits, e)
			}
		}
	}
	return edits, nil
}
