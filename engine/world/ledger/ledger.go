// Package ledger implements the durable overlay of player-caused block
// edits. Records are buffered per chunk, marked dirty on write and persisted
// by a flush task that runs both on a fixed interval and synchronously on
// demand, so tests and shutdown paths never depend on wall-clock timers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/df-mc/terrastream/engine/world"
)

// Config holds the options for a Ledger.
type Config struct {
	// Log is the logger write faults are reported to. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Provider is the durable store overlays are flushed to. If nil,
	// NopProvider is used and nothing survives a restart.
	Provider Provider
	// FlushInterval is the period of the background flush task started by
	// RunFlusher. If zero, it defaults to 5 seconds. Negative disables the
	// background task entirely; Flush may still be called synchronously.
	FlushInterval time.Duration
}

// Ledger buffers and persists chunk overlays. All methods are safe for
// concurrent use.
type Ledger struct {
	conf Config

	mu     sync.Mutex
	chunks map[world.ChunkPos]*overlay
}

// overlay is the in-memory overlay of one chunk. records always holds the
// full replay history (persisted records first, unflushed appends after), so
// a flush can overwrite the provider entry wholesale.
type overlay struct {
	records []world.Modification
	loaded  bool
	dirty   bool
}

// New creates a Ledger with the config passed.
func New(conf Config) *Ledger {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		conf.Provider = NopProvider{}
	}
	if conf.FlushInterval == 0 {
		conf.FlushInterval = time.Second * 5
	}
	return &Ledger{conf: conf, chunks: make(map[world.ChunkPos]*overlay)}
}

// ensure returns the chunk's overlay, loading persisted records on first
// access. A load fault leaves the overlay unloaded so the next access retries
// the read; appends still accumulate in memory meanwhile, so no new edit is
// lost while the persisted history stays unread.
func (l *Ledger) ensure(pos world.ChunkPos) (*overlay, error) {
	o, ok := l.chunks[pos]
	if !ok {
		o = &overlay{}
		l.chunks[pos] = o
	}
	if !o.loaded {
		records, err := l.conf.Provider.Load(pos)
		if err != nil {
			l.conf.Log.Error("ledger: load overlay", "chunkX", pos[0], "chunkZ", pos[1], "error", err)
			return o, fmt.Errorf("load overlay %v: %w", pos, err)
		}
		o.records = append(records, o.records...)
		o.loaded = true
	}
	return o, nil
}

// Record appends a modification to the chunk's overlay and marks the chunk
// dirty for the next flush cycle. A load fault does not reject the record:
// the append is kept in memory and the persisted history is read on a later
// access.
func (l *Ledger) Record(pos world.ChunkPos, m world.Modification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, _ := l.ensure(pos)
	o.records = append(o.records, m)
	o.dirty = true
}

// OverlayFor returns the full overlay of the chunk in replay order. The
// returned slice is a copy and safe to retain. An overlay whose persisted
// records cannot be read returns an error rather than a silently partial
// replay.
func (l *Ledger) OverlayFor(pos world.ChunkPos) ([]world.Modification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.ensure(pos)
	if err != nil {
		return nil, err
	}
	if len(o.records) == 0 {
		return nil, nil
	}
	out := make([]world.Modification, len(o.records))
	copy(out, o.records)
	return out, nil
}

// FlushChunk synchronously persists the chunk's overlay if it is dirty. On a
// write fault the overlay stays dirty and in memory, to be retried on the
// next flush cycle; the in-memory records remain the source of truth until a
// write succeeds. A chunk whose persisted history was never successfully read
// is not flushed: the store overwrites the provider entry wholesale, so
// writing before the old records were merged in would discard them. The load
// is retried here first and the chunk stays dirty if it fails again.
func (l *Ledger) FlushChunk(pos world.ChunkPos) error {
	l.mu.Lock()
	o, ok := l.chunks[pos]
	if !ok || !o.dirty {
		l.mu.Unlock()
		return nil
	}
	if !o.loaded {
		records, err := l.conf.Provider.Load(pos)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("load overlay %v before flush: %w", pos, err)
		}
		o.records = append(records, o.records...)
		o.loaded = true
	}
	records := make([]world.Modification, len(o.records))
	copy(records, o.records)
	l.mu.Unlock()

	if err := l.conf.Provider.Store(pos, records); err != nil {
		l.conf.Log.Error("ledger: flush overlay", "chunkX", pos[0], "chunkZ", pos[1], "error", err)
		return err
	}

	l.mu.Lock()
	// Records appended while the write was in flight keep the chunk dirty.
	if o.dirty && len(o.records) == len(records) {
		o.dirty = false
	}
	l.mu.Unlock()
	return nil
}

// Flush synchronously persists every dirty chunk. It is called by the
// background flush task, on chunk eviction and before shutdown to close the
// data-loss window.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	dirty := make([]world.ChunkPos, 0, len(l.chunks))
	for pos, o := range l.chunks {
		if o.dirty {
			dirty = append(dirty, pos)
		}
	}
	l.mu.Unlock()

	var errs []error
	for _, pos := range dirty {
		if err := l.FlushChunk(pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Release drops the in-memory overlay of a chunk, typically after eviction.
// A dirty overlay is kept so an earlier flush fault cannot discard edits.
func (l *Ledger) Release(pos world.ChunkPos) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.chunks[pos]; ok && !o.dirty {
		delete(l.chunks, pos)
	}
}

// DirtyCount returns the number of chunks with unflushed records.
func (l *Ledger) DirtyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.chunks {
		if o.dirty {
			n++
		}
	}
	return n
}

// RunFlusher runs the background flush task until the context is cancelled,
// flushing all dirty chunks every FlushInterval. A final synchronous flush
// runs on the way out. Faults are logged and retried on the next cycle.
func (l *Ledger) RunFlusher(ctx context.Context) {
	if l.conf.FlushInterval < 0 {
		return
	}
	t := time.NewTicker(l.conf.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := l.Flush(); err != nil {
				l.conf.Log.Warn("ledger: periodic flush incomplete, will retry", "error", err)
			}
		case <-ctx.Done():
			if err := l.Flush(); err != nil {
				l.conf.Log.Error("ledger: final flush incomplete", "error", err)
			}
			return
		}
	}
}

// Close flushes all dirty chunks and closes the provider.
func (l *Ledger) Close() error {
	flushErr := l.Flush()
	return errors.Join(flushErr, l.conf.Provider.Close())
}
