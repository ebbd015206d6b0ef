package generator

import "github.com/df-mc/terrastream/engine/world"

// Biome classifies a column's surface by temperature and moisture and decides
// its ground cover and elevation band.
type Biome uint8

const (
	BiomeOcean Biome = iota
	BiomePlains
	BiomeForest
	BiomeDesert
	BiomeMountains
	BiomeSnowyPlains
)

// String implements fmt.Stringer.
func (b Biome) String() string {
	switch b {
	case BiomeOcean:
		return "ocean"
	case BiomePlains:
		return "plains"
	case BiomeForest:
		return "forest"
	case BiomeDesert:
		return "desert"
	case BiomeMountains:
		return "mountains"
	case BiomeSnowyPlains:
		return "snowy_plains"
	}
	return "invalid"
}

// classifyBiome picks a biome from normalised height, temperature and
// moisture samples, each in [-1, 1].
func classifyBiome(height, temperature, moisture float64) Biome {
	switch {
	case height < -0.35:
		return BiomeOcean
	case height > 0.55:
		return BiomeMountains
	case temperature < -0.45:
		return BiomeSnowyPlains
	case temperature > 0.45 && moisture < 0:
		return BiomeDesert
	case moisture > 0.15:
		return BiomeForest
	default:
		return BiomePlains
	}
}

// surfaceKind is the material of the topmost terrain block of the biome.
func (b Biome) surfaceKind() world.Kind {
	switch b {
	case BiomeOcean:
		return world.KindSand
	case BiomeDesert:
		return world.KindSand
	case BiomeSnowyPlains:
		return world.KindSnow
	case BiomeMountains:
		return world.KindStone
	default:
		return world.KindGrass
	}
}

// fillerKind is the material of the fixed-depth band directly below the
// surface block.
func (b Biome) fillerKind() world.Kind {
	switch b {
	case BiomeDesert, BiomeOcean:
		return world.KindSand
	case BiomeMountains:
		return world.KindStone
	default:
		return world.KindDirt
	}
}

// treeDensity is the per-column probability, in 1/1024 units, of a tree
// anchoring on the biome's surface.
func (b Biome) treeDensity() uint64 {
	switch b {
	case BiomeForest:
		return 48
	case BiomePlains:
		return 4
	case BiomeSnowyPlains:
		return 2
	default:
		return 0
	}
}

// elevation returns the minimum and maximum surface height of the biome. The
// smoothed height map is scaled into this band.
func (b Biome) elevation() (min, max int) {
	switch b {
	case BiomeOcean:
		return 26, waterLevel - 2
	case BiomeMountains:
		return 62, 108
	case BiomeDesert:
		return 44, 58
	default:
		return 44, 68
	}
}
