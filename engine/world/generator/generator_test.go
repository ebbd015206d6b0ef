package generator

import (
	"testing"

	"github.com/df-mc/terrastream/engine/world"
)

// TestGenerateDeterministic ensures that generation is a pure function of
// seed and position: the same generator, and a second generator built from
// the same seed, must produce identical grids for the same position.
func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	g := New(42, nil)
	positions := []world.ChunkPos{{0, 0}, {1, 0}, {-3, 7}, {100, -250}}
	for _, pos := range positions {
		first := g.Generate(pos)
		second := g.Generate(pos)
		if !first.Equal(second) {
			t.Fatalf("chunk %v: two generations with the same generator differ", pos)
		}
		other := New(42, nil).Generate(pos)
		if !first.Equal(other) {
			t.Fatalf("chunk %v: generation differs between generator instances", pos)
		}
	}
}

// TestGenerateSeedsDiffer ensures different seeds actually change terrain.
func TestGenerateSeedsDiffer(t *testing.T) {
	t.Parallel()

	a := New(1, nil).Generate(world.ChunkPos{0, 0})
	b := New(2, nil).Generate(world.ChunkPos{0, 0})
	if a.Equal(b) {
		t.Fatalf("seeds 1 and 2 generated identical chunks")
	}
}

// TestGenerateStructuralInvariants checks the fixed depth bands: bedrock at
// the floor of every column and a non-air surface in every column.
func TestGenerateStructuralInvariants(t *testing.T) {
	t.Parallel()

	g := New(7, nil)
	for _, pos := range []world.ChunkPos{{0, 0}, {-5, 3}, {64, 64}} {
		data := g.Generate(pos)
		for x := uint8(0); x < world.ChunkSizeX; x++ {
			for z := uint8(0); z < world.ChunkSizeZ; z++ {
				if got := data.Block(x, 0, z).Kind; got != world.KindBedrock {
					t.Fatalf("chunk %v column (%d, %d): floor is %v, not bedrock", pos, x, z, got)
				}
				if data.HighestBlock(x, z) == 0 {
					t.Fatalf("chunk %v column (%d, %d): empty column", pos, x, z)
				}
			}
		}
	}
}

// TestGenerateConcurrent generates the same position from many goroutines
// simultaneously and verifies all results agree, as generation jobs run in
// parallel in production.
func TestGenerateConcurrent(t *testing.T) {
	t.Parallel()

	g := New(99, nil)
	want := g.Generate(world.ChunkPos{3, -3})

	const n = 8
	results := make(chan *world.ChunkData, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- g.Generate(world.ChunkPos{3, -3})
		}()
	}
	for i := 0; i < n; i++ {
		if got := <-results; !got.Equal(want) {
			t.Fatalf("concurrent generation %d produced a different grid", i)
		}
	}
}

// TestFlatFallback verifies the degraded default terrain is itself a valid
// chunk: flat, fully columned and deterministic.
func TestFlatFallback(t *testing.T) {
	t.Parallel()

	g := New(0, nil)
	data := g.Flat(world.ChunkPos{12, 12})
	if !data.Equal(g.Flat(world.ChunkPos{0, 0})) {
		t.Fatalf("flat fallback depends on position")
	}
	h := data.HighestBlock(0, 0)
	for x := uint8(0); x < world.ChunkSizeX; x++ {
		for z := uint8(0); z < world.ChunkSizeZ; z++ {
			if data.HighestBlock(x, z) != h {
				t.Fatalf("flat fallback is not flat at (%d, %d)", x, z)
			}
			if got := data.Block(x, h, z).Kind; got != world.KindGrass {
				t.Fatalf("flat fallback surface at (%d, %d) is %v, not grass", x, z, got)
			}
		}
	}
}

// TestBiomeClassification pins the classifier's behaviour at its band
// boundaries.
func TestBiomeClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		height, temperature, moisture float64
		want                          Biome
	}{
		{-0.8, 0, 0, BiomeOcean},
		{0.9, 0, 0, BiomeMountains},
		{0, -0.9, 0, BiomeSnowyPlains},
		{0, 0.8, -0.5, BiomeDesert},
		{0, 0, 0.5, BiomeForest},
		{0, 0, 0, BiomePlains},
	}
	for _, c := range cases {
		if got := classifyBiome(c.height, c.temperature, c.moisture); got != c.want {
			t.Fatalf("classifyBiome(%v, %v, %v) = %v, want %v",
				c.height, c.temperature, c.moisture, got, c.want)
		}
	}
}
