package world

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a block kind outside of the closed set of
// registered kinds reaches a boundary API such as Store.ApplyEdit.
var ErrUnknownKind = errors.New("unknown block kind")

// Kind identifies the material of a block. The set of kinds is closed:
// values outside of the range [KindAir, maxKind) are rejected at the engine
// boundary instead of being carried inward.
type Kind uint8

const (
	KindAir Kind = iota
	KindBedrock
	KindStone
	KindDirt
	KindGrass
	KindSand
	KindSnow
	KindWater
	KindWood
	KindLeaves
	KindCoalOre
	KindIronOre
	KindBrick
	KindPlanks

	maxKind
)

// kindNames is indexed by Kind and doubles as the set of names accepted by
// KindByName.
var kindNames = [maxKind]string{
	KindAir:     "air",
	KindBedrock: "bedrock",
	KindStone:   "stone",
	KindDirt:    "dirt",
	KindGrass:   "grass",
	KindSand:    "sand",
	KindSnow:    "snow",
	KindWater:   "water",
	KindWood:    "wood",
	KindLeaves:  "leaves",
	KindCoalOre: "coal_ore",
	KindIronOre: "iron_ore",
	KindBrick:   "brick",
	KindPlanks:  "planks",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
	return kindNames[k]
}

// Valid reports if k is one of the registered block kinds.
func (k Kind) Valid() bool {
	return k < maxKind
}

// KindCount returns the number of registered block kinds. Kind values in
// [0, KindCount) are valid.
func KindCount() Kind {
	return maxKind
}

// KindByName looks up a Kind by its name. The second return value is false if
// no kind with that name is registered.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindAir, false
}

// RGB is a colour triplet used both for per-block colour overrides and for
// the flat-colour fallback of the coarse render tier.
type RGB struct {
	R, G, B uint8
}

// baseColours holds the authoritative flat colour per kind, used by the
// coarse tier when no texture asset exists.
var baseColours = [maxKind]RGB{
	KindAir:     {},
	KindBedrock: {40, 40, 40},
	KindStone:   {128, 128, 128},
	KindDirt:    {134, 96, 67},
	KindGrass:   {95, 159, 53},
	KindSand:    {219, 207, 163},
	KindSnow:    {240, 240, 245},
	KindWater:   {52, 95, 218},
	KindWood:    {104, 78, 47},
	KindLeaves:  {60, 120, 35},
	KindCoalOre: {70, 70, 70},
	KindIronOre: {175, 142, 119},
	KindBrick:   {150, 84, 70},
	KindPlanks:  {157, 128, 79},
}

// BaseColour returns the flat colour associated with the kind. The colour of
// KindAir is black and never drawn.
func (k Kind) BaseColour() RGB {
	if !k.Valid() {
		return RGB{}
	}
	return baseColours[k]
}

// Block is the value stored per cell of a chunk's grid. The zero value is an
// air block.
type Block struct {
	Kind Kind
	// Colour overrides the kind's base colour when CustomColour is set.
	Colour       RGB
	CustomColour bool
	// PlayerPlaced marks blocks written through the modification ledger.
	// Player-placed blocks are exempt from regeneration overwrites.
	PlayerPlaced bool
}

// Air reports if the block is an air block.
func (b Block) Air() bool {
	return b.Kind == KindAir
}

// DisplayColour returns the colour the block should be drawn with on the
// coarse tier: the custom colour if one is set, the kind's base colour
// otherwise.
func (b Block) DisplayColour() RGB {
	if b.CustomColour {
		return b.Colour
	}
	return b.Kind.BaseColour()
}
