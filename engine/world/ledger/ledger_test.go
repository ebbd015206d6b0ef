package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/df-mc/terrastream/engine/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mod(x, y, z uint8, kind world.Kind, ts int64) world.Modification {
	return world.Modification{X: x, Y: y, Z: z, Kind: kind, Timestamp: ts}
}

// failingProvider fails stores until unlocked and can fail a fixed number of
// loads, to exercise the retry paths.
type failingProvider struct {
	mu        sync.Mutex
	failing   bool
	failLoads int
	stored    map[world.ChunkPos][]world.Modification
}

func newFailingProvider(failing bool) *failingProvider {
	return &failingProvider{failing: failing, stored: map[world.ChunkPos][]world.Modification{}}
}

func (p *failingProvider) setFailing(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = v
}

func (p *failingProvider) failNextLoads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failLoads = n
}

func (p *failingProvider) Load(pos world.ChunkPos) ([]world.Modification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failLoads > 0 {
		p.failLoads--
		return nil, errors.New("read fault")
	}
	return p.stored[pos], nil
}

func (p *failingProvider) Store(pos world.ChunkPos, records []world.Modification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("disk unplugged")
	}
	p.stored[pos] = records
	return nil
}

func (p *failingProvider) Close() error { return nil }

// TestRecordOverlayOrder verifies records replay in append order so the
// latest edit to a position wins.
func TestRecordOverlayOrder(t *testing.T) {
	t.Parallel()

	l := New(Config{FlushInterval: -1})
	pos := world.ChunkPos{1, 2}
	l.Record(pos, mod(3, 10, 3, world.KindStone, 1))
	l.Record(pos, mod(3, 10, 3, world.KindBrick, 2))
	l.Record(pos, mod(4, 10, 3, world.KindPlanks, 3))

	overlay, err := l.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 3)

	data := world.NewChunkData()
	data.ApplyOverlay(overlay)
	got := data.Block(3, 10, 3)
	assert.Equal(t, world.KindBrick, got.Kind, "latest record must win")
	assert.True(t, got.PlayerPlaced, "overlay-applied cells must be player placed")
}

// TestMergeIdempotent verifies applying the same overlay twice equals
// applying it once.
func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	l := New(Config{FlushInterval: -1})
	pos := world.ChunkPos{0, 0}
	l.Record(pos, mod(1, 20, 1, world.KindBrick, 1))
	l.Record(pos, mod(2, 21, 2, world.KindWood, 2))
	overlay, err := l.OverlayFor(pos)
	require.NoError(t, err)

	once := world.NewChunkData()
	once.ApplyOverlay(overlay)
	twice := world.NewChunkData()
	twice.ApplyOverlay(overlay)
	twice.ApplyOverlay(overlay)
	require.True(t, once.Equal(twice), "overlay application must be idempotent")
}

// TestFlushRoundTripLevelDB flushes an overlay, releases the chunk and loads
// it back through a fresh ledger over the same database.
func TestFlushRoundTripLevelDB(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "ledger")
	prov, err := OpenLevelDB(dir)
	require.NoError(t, err)

	l := New(Config{Provider: prov, FlushInterval: -1})
	pos := world.ChunkPos{-4, 9}
	l.Record(pos, mod(5, 33, 6, world.KindBrick, 10))
	l.Record(pos, mod(5, 34, 6, world.KindBrick, 11))
	require.NoError(t, l.Close())

	prov2, err := OpenLevelDB(dir)
	require.NoError(t, err)
	l2 := New(Config{Provider: prov2, FlushInterval: -1})
	t.Cleanup(func() { _ = l2.Close() })

	overlay, err := l2.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 2)
	assert.Equal(t, uint8(33), overlay[0].Y)
	assert.Equal(t, world.KindBrick, overlay[1].Kind)
}

// TestFlushRoundTripSQLite exercises the alternative provider with the same
// payload contract.
func TestFlushRoundTripSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	prov, err := OpenSQLite(path)
	require.NoError(t, err)

	l := New(Config{Provider: prov, FlushInterval: -1})
	pos := world.ChunkPos{7, 7}
	l.Record(pos, mod(0, 64, 0, world.KindWood, 5))
	require.NoError(t, l.Close())

	prov2, err := OpenSQLite(path)
	require.NoError(t, err)
	l2 := New(Config{Provider: prov2, FlushInterval: -1})
	t.Cleanup(func() { _ = l2.Close() })

	overlay, err := l2.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 1)
	assert.Equal(t, world.KindWood, overlay[0].Kind)
}

// TestFlushFaultRetries verifies a failed write keeps the overlay dirty and
// in memory, and that the next flush cycle persists it.
func TestFlushFaultRetries(t *testing.T) {
	t.Parallel()

	prov := newFailingProvider(true)
	l := New(Config{Provider: prov, FlushInterval: -1})
	pos := world.ChunkPos{2, 2}
	l.Record(pos, mod(1, 1, 1, world.KindStone, 1))

	require.Error(t, l.Flush(), "flush against a failing store must error")
	assert.Equal(t, 1, l.DirtyCount(), "overlay must stay dirty after a failed flush")

	// The in-memory overlay remains the source of truth meanwhile.
	overlay, err := l.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 1)

	prov.setFailing(false)
	require.NoError(t, l.Flush())
	assert.Equal(t, 0, l.DirtyCount())
	assert.Len(t, prov.stored[pos], 1)
}

// TestReleaseKeepsDirty verifies Release never discards unflushed records.
func TestReleaseKeepsDirty(t *testing.T) {
	t.Parallel()

	prov := newFailingProvider(true)
	l := New(Config{Provider: prov, FlushInterval: -1})
	pos := world.ChunkPos{3, 3}
	l.Record(pos, mod(1, 1, 1, world.KindStone, 1))

	l.Release(pos)
	overlay, err := l.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 1, "dirty overlay must survive Release")

	prov.setFailing(false)
	require.NoError(t, l.Flush())
	l.Release(pos)
	assert.Equal(t, 0, l.DirtyCount())
}

// TestLoadFaultDoesNotDiscardHistory verifies that a transient read fault
// while the chunk's persisted records are first accessed can never lead to a
// flush overwriting them: the flush re-reads the history, merges it in front
// of the new appends and only then persists.
func TestLoadFaultDoesNotDiscardHistory(t *testing.T) {
	t.Parallel()

	prov := newFailingProvider(false)
	pos := world.ChunkPos{6, -6}

	l := New(Config{Provider: prov, FlushInterval: -1})
	l.Record(pos, mod(1, 10, 1, world.KindBrick, 1))
	require.NoError(t, l.Flush())

	// Fresh ledger over the same store, with the first read failing.
	prov.failNextLoads(1)
	l2 := New(Config{Provider: prov, FlushInterval: -1})
	l2.Record(pos, mod(2, 10, 2, world.KindWood, 2))

	require.NoError(t, l2.Flush())
	require.Len(t, prov.stored[pos], 2, "persisted history must survive a transient load fault")
	assert.Equal(t, world.KindBrick, prov.stored[pos][0].Kind)
	assert.Equal(t, world.KindWood, prov.stored[pos][1].Kind)

	overlay, err := l2.OverlayFor(pos)
	require.NoError(t, err)
	require.Len(t, overlay, 2)
}

// TestFlushBlockedWhileUnread verifies a flush fails, rather than overwrites,
// while the persisted records still cannot be read; the chunk stays dirty and
// a later cycle persists the merged overlay.
func TestFlushBlockedWhileUnread(t *testing.T) {
	t.Parallel()

	prov := newFailingProvider(false)
	pos := world.ChunkPos{8, 8}

	l := New(Config{Provider: prov, FlushInterval: -1})
	l.Record(pos, mod(3, 20, 3, world.KindStone, 1))
	require.NoError(t, l.Flush())

	prov.failNextLoads(2)
	l2 := New(Config{Provider: prov, FlushInterval: -1})
	l2.Record(pos, mod(4, 20, 4, world.KindPlanks, 2))

	// Both the initial read and the flush-time retry fail: the entry on disk
	// must be untouched and the chunk must stay dirty.
	require.Error(t, l2.Flush())
	require.Len(t, prov.stored[pos], 1, "flush overwrote an unread history")
	assert.Equal(t, 1, l2.DirtyCount())

	require.NoError(t, l2.Flush())
	require.Len(t, prov.stored[pos], 2)
	assert.Equal(t, 0, l2.DirtyCount())
}

// TestRunFlusherFinalFlush verifies the background task performs a final
// synchronous flush when its context is cancelled.
func TestRunFlusherFinalFlush(t *testing.T) {
	t.Parallel()

	prov := newFailingProvider(false)
	l := New(Config{Provider: prov, FlushInterval: time.Hour})
	pos := world.ChunkPos{5, 5}
	l.Record(pos, mod(2, 2, 2, world.KindBrick, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunFlusher(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Len(t, prov.stored[pos], 1, "final flush must persist dirty overlays")
}

// TestEncodeDecodeRejectsCorruption pins the durable format's validation.
func TestEncodeDecodeRejectsCorruption(t *testing.T) {
	t.Parallel()

	records := []world.Modification{mod(1, 2, 3, world.KindBrick, 42)}
	payload := encodeOverlay(records)

	decoded, err := decodeOverlay(payload)
	require.NoError(t, err)
	require.Equal(t, records, decoded)

	_, err = decodeOverlay(append([]byte{formatVersion + 1}, payload[1:]...))
	assert.Error(t, err, "unknown version must be rejected")

	_, err = decodeOverlay(payload[:len(payload)-3])
	assert.Error(t, err, "truncated frame must be rejected")
}

// TestEmptyOverlayMeansPureGeneration verifies absence of records loads as
// an empty overlay rather than an error.
func TestEmptyOverlayMeansPureGeneration(t *testing.T) {
	t.Parallel()

	prov, err := OpenLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	l := New(Config{Provider: prov, FlushInterval: -1})
	t.Cleanup(func() { _ = l.Close() })

	overlay, err := l.OverlayFor(world.ChunkPos{1000, 1000})
	require.NoError(t, err)
	assert.Empty(t, overlay)
}
