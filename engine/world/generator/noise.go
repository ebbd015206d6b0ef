package generator

import (
	"math"
	"math/rand/v2"
)

// perlin is classic permutation-table gradient noise. The table is derived
// purely from the seed, so two instances built from the same seed produce
// identical values for all inputs.
type perlin struct {
	perm [512]int
}

func newPerlin(seed int64) *perlin {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	p := &perlin{}
	base := r.Perm(256)
	for i := 0; i < 256; i++ {
		p.perm[i] = base[i]
		p.perm[i+256] = base[i]
	}
	return p
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func grad(hash int, x, y float64) float64 {
	switch hash & 3 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	default:
		return -x - y
	}
}

// Noise2D returns gradient noise in the range [-1, 1].
func (p *perlin) Noise2D(x, y float64) float64 {
	xi, yi := int(math.Floor(x))&255, int(math.Floor(y))&255
	xf, yf := x-math.Floor(x), y-math.Floor(y)
	u, v := fade(xf), fade(yf)

	aa := p.perm[p.perm[xi]+yi]
	ab := p.perm[p.perm[xi]+yi+1]
	ba := p.perm[p.perm[xi+1]+yi]
	bb := p.perm[p.perm[xi+1]+yi+1]

	return lerp(v,
		lerp(u, grad(aa, xf, yf), grad(ba, xf-1, yf)),
		lerp(u, grad(ab, xf, yf-1), grad(bb, xf-1, yf-1)),
	)
}

// fbm sums octaves of noise with the persistence and lacunarity passed,
// normalised back into [-1, 1].
func (p *perlin) fbm(x, y float64, octaves int, persistence, lacunarity float64) float64 {
	var sum, amp, norm float64
	amp = 1
	freq := 1.0
	for i := 0; i < octaves; i++ {
		sum += p.Noise2D(x*freq, y*freq) * amp
		norm += amp
		amp *= persistence
		freq *= lacunarity
	}
	return sum / norm
}
