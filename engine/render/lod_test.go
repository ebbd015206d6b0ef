package render

import (
	"testing"

	"github.com/df-mc/terrastream/engine/world"
)

// square returns all chunk positions within the Chebyshev radius r of centre.
func square(centre world.ChunkPos, r int32) []world.ChunkPos {
	var out []world.ChunkPos
	for x := centre[0] - r; x <= centre[0]+r; x++ {
		for z := centre[1] - r; z <= centre[1]+r; z++ {
			out = append(out, world.ChunkPos{x, z})
		}
	}
	return out
}

// TestUpdateTierAssignment checks the distance bands with render distance 1
// and visual distance 3: chunks within 1 are Full, within 3 Coarse, beyond
// culled.
func TestUpdateTierAssignment(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 1, VisualDistance: 3})
	viewer := world.ChunkPos{0, 0}
	ready := square(viewer, 4)
	r.Update(viewer, ready)

	for _, pos := range ready {
		d := chebyshev(pos, viewer)
		got := r.Tier(pos)
		var want world.Tier
		switch {
		case d <= 1:
			want = world.TierFull
		case d <= 3:
			want = world.TierCoarse
		default:
			want = world.TierUnloaded
		}
		if got != want {
			t.Fatalf("chunk %v at distance %d: tier %v, want %v", pos, d, got, want)
		}
	}

	st := r.Stats()
	if st.ChunksFull != 9 {
		t.Fatalf("full chunks = %d, want 9", st.ChunksFull)
	}
	if st.ChunksCoarse != 49-9 {
		t.Fatalf("coarse chunks = %d, want 40", st.ChunksCoarse)
	}
	if st.Culled != 81-49 {
		t.Fatalf("culled chunks = %d, want 32", st.Culled)
	}
}

// TestUpdateViewerMove verifies moving the viewer one chunk produces exactly
// the boundary promotions and demotions, nothing else.
func TestUpdateViewerMove(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 1, VisualDistance: 3})
	ready := square(world.ChunkPos{0, 0}, 5)
	r.Update(world.ChunkPos{0, 0}, ready)

	changes := r.Update(world.ChunkPos{1, 0}, ready)
	for _, c := range changes {
		oldD := chebyshev(c.Pos, world.ChunkPos{0, 0})
		newD := chebyshev(c.Pos, world.ChunkPos{1, 0})
		if oldD == newD {
			t.Fatalf("chunk %v changed tier without changing distance band", c.Pos)
		}
		switch c.Tier {
		case world.TierFull:
			if newD > 1 {
				t.Fatalf("chunk %v promoted to full at distance %d", c.Pos, newD)
			}
		case world.TierCoarse:
			if newD <= 1 || newD > 3 {
				t.Fatalf("chunk %v set coarse at distance %d", c.Pos, newD)
			}
		case world.TierUnloaded:
			if newD <= 3 {
				t.Fatalf("chunk %v unloaded at distance %d", c.Pos, newD)
			}
		}
	}
	// The x = -1 column left the full band and the x = 2 column entered it.
	for z := int32(-1); z <= 1; z++ {
		if got := r.Tier(world.ChunkPos{2, z}); got != world.TierFull {
			t.Fatalf("chunk {2, %d}: tier %v, want full after move", z, got)
		}
		if got := r.Tier(world.ChunkPos{-1, z}); got != world.TierCoarse {
			t.Fatalf("chunk {-1, %d}: tier %v, want coarse after move", z, got)
		}
	}
}

// TestUpdateNoChangesWhenStatic verifies a second update with the same viewer
// produces no changes.
func TestUpdateNoChangesWhenStatic(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 2, VisualDistance: 4})
	ready := square(world.ChunkPos{0, 0}, 5)
	r.Update(world.ChunkPos{0, 0}, ready)
	if changes := r.Update(world.ChunkPos{0, 0}, ready); len(changes) != 0 {
		t.Fatalf("static viewer produced %d tier changes", len(changes))
	}
}

// TestDemoteHysteresis verifies a Full chunk outside the render distance
// survives the configured number of updates before demoting, and that
// re-entering the full band resets the streak.
func TestDemoteHysteresis(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 1, VisualDistance: 5, Hysteresis: 2})
	pos := world.ChunkPos{0, 0}
	ready := []world.ChunkPos{pos}

	r.Update(world.ChunkPos{0, 0}, ready)
	if got := r.Tier(pos); got != world.TierFull {
		t.Fatalf("initial tier %v, want full", got)
	}

	// Two updates inside the coarse band: held on the full tier.
	for i := 0; i < 2; i++ {
		if changes := r.Update(world.ChunkPos{3, 0}, ready); len(changes) != 0 {
			t.Fatalf("update %d: demoted before hysteresis expired", i+1)
		}
	}
	// Third update demotes.
	changes := r.Update(world.ChunkPos{3, 0}, ready)
	if len(changes) != 1 || changes[0].Tier != world.TierCoarse {
		t.Fatalf("expected a single demotion, got %v", changes)
	}

	// Promotion is immediate and clears the streak.
	changes = r.Update(world.ChunkPos{0, 0}, ready)
	if len(changes) != 1 || changes[0].Tier != world.TierFull {
		t.Fatalf("expected immediate promotion, got %v", changes)
	}
	if changes = r.Update(world.ChunkPos{3, 0}, ready); len(changes) != 0 {
		t.Fatalf("streak not reset after re-promotion")
	}
}

// TestUpdatePrunesEvicted verifies chunks missing from the ready set lose
// their tier state.
func TestUpdatePrunesEvicted(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 2, VisualDistance: 4})
	pos := world.ChunkPos{1, 1}
	r.Update(world.ChunkPos{0, 0}, []world.ChunkPos{pos})
	if got := r.Tier(pos); got != world.TierFull {
		t.Fatalf("tier %v, want full", got)
	}
	r.Update(world.ChunkPos{0, 0}, nil)
	if got := r.Tier(pos); got != world.TierUnloaded {
		t.Fatalf("evicted chunk kept tier %v", got)
	}
	if st := r.Stats(); st.ChunksFull != 0 || st.ChunksCoarse != 0 {
		t.Fatalf("stats still count evicted chunks: %+v", st)
	}
}

// TestDistanceClamping verifies the visual distance can never undercut the
// render distance.
func TestDistanceClamping(t *testing.T) {
	t.Parallel()

	r := New(Config{RenderDistance: 6, VisualDistance: 2})
	if render, visual := r.Distances(); visual < render {
		t.Fatalf("visual distance %d below render distance %d", visual, render)
	}
	r.SetVisualDistance(1)
	if render, visual := r.Distances(); visual < render {
		t.Fatalf("SetVisualDistance allowed %d below render distance %d", visual, render)
	}
	r.SetRenderDistance(10)
	if render, visual := r.Distances(); visual < render {
		t.Fatalf("SetRenderDistance left visual %d below render %d", visual, render)
	}
}
