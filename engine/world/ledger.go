package world

// Modification is a single player-caused block edit local to a chunk. The
// ledger stores modifications append-only per chunk; replaying all records
// over freshly generated terrain reproduces the exact prior visible state.
type Modification struct {
	X, Z uint8
	Y    uint8
	Kind Kind
	// Colour is applied as a custom colour override when CustomColour is set.
	Colour       RGB
	CustomColour bool
	// Timestamp is the wall-clock time the edit was recorded, in Unix
	// nanoseconds. It is kept for operator inspection; replay order is the
	// append order per chunk, which stays deterministic even when several
	// edits land within one clock tick.
	Timestamp int64
}

// Ledger is the durable overlay of player-caused block edits, keyed by
// chunk. It is implemented by the ledger package; a nil Ledger in the Store
// configuration is replaced by NopLedger.
type Ledger interface {
	// Record appends a modification to the chunk's overlay and marks the
	// chunk dirty for the next flush cycle.
	Record(pos ChunkPos, m Modification)
	// OverlayFor returns the full overlay for the chunk in replay order,
	// loading persisted records if the chunk is not resident. A chunk with no
	// overlay returns a nil slice and no error.
	OverlayFor(pos ChunkPos) ([]Modification, error)
	// FlushChunk synchronously persists the chunk's overlay if it is dirty.
	FlushChunk(pos ChunkPos) error
	// Release drops the in-memory overlay of a chunk after it was evicted.
	// Releasing a dirty chunk keeps its records in memory until a flush
	// succeeds.
	Release(pos ChunkPos)
}

// NopLedger implements Ledger, recording nothing. It is the default when no
// durable storage is configured: the world is purely generated and forgets
// edits on eviction.
type NopLedger struct{}

func (NopLedger) Record(ChunkPos, Modification)               {}
func (NopLedger) OverlayFor(ChunkPos) ([]Modification, error) { return nil, nil }
func (NopLedger) FlushChunk(ChunkPos) error                   { return nil }
func (NopLedger) Release(ChunkPos)                            {}
