package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/df-mc/terrastream/engine/world/jobs"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrChunkEvicted is delivered to chunk waiters whose coordinate left the
// interest set before generation resolved.
var ErrChunkEvicted = errors.New("chunk evicted before it became ready")

// Generator produces deterministic chunk terrain. Implementations must be
// pure functions of (seed, position) and safe for concurrent use; the
// generator package provides the production implementation.
type Generator interface {
	// Generate returns the terrain of the chunk at pos. It must not fail for
	// any valid position.
	Generate(pos ChunkPos) *ChunkData
	// Flat returns the degraded default terrain used after a generation
	// fault.
	Flat(pos ChunkPos) *ChunkData
}

// LandmarkSource supplies generation-time structure modifications for a
// chunk, such as buildings placed by world generation. Implementations must
// be deterministic per position. May be nil.
type LandmarkSource interface {
	LandmarksFor(pos ChunkPos) []Modification
}

// StoreConfig holds the options for creating a Store.
type StoreConfig struct {
	// Log is the logger the store reports faults to. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Seed is the world seed, recorded in generation job requests.
	Seed int64
	// Generator produces chunk terrain. Required.
	Generator Generator
	// Ledger is the modification overlay store. If nil, NopLedger is used.
	Ledger Ledger
	// Pool runs generation jobs. Required.
	Pool *jobs.Pool
	// Landmarks optionally supplies generation-time structures.
	Landmarks LandmarkSource
}

// Store owns the authoritative set of loaded chunks. All chunk-state
// mutation happens on a single owner goroutine fed by a transaction queue;
// generation runs on the worker pool and results are published back through
// the queue, so no chunk is ever mutated concurrently.
type Store struct {
	conf StoreConfig

	queue        chan transaction
	queueClosing chan struct{}
	queueing     sync.WaitGroup

	// All fields below are guarded by the owner goroutine.
	chunks       map[ChunkPos]*Chunk
	inflight     map[ChunkPos]*jobs.Handle
	pendingEvict map[ChunkPos]struct{}
	refs         map[ChunkPos]int
	desired      map[ChunkPos]struct{}
	waiters      map[ChunkPos][]chan ChunkResult
	subs         []chan Event
	viewer       ChunkPos
}

// transaction is a unit of work run on the Store's owner goroutine.
type transaction func()

// ChunkResult is delivered to RequestChunk waiters once the chunk resolves.
type ChunkResult struct {
	Pos ChunkPos
	Err error
}

// generationRequest is the job message dispatched to the worker pool for one
// chunk.
type generationRequest struct {
	Seed      int64
	Pos       ChunkPos
	Landmarks []Modification
}

// generationResponse is the job result published back to the owner
// goroutine.
type generationResponse struct {
	Data *ChunkData
}

// NewStore creates a Store and starts its owner goroutine.
func NewStore(conf StoreConfig) *Store {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Generator == nil {
		panic("world: store requires a generator")
	}
	if conf.Pool == nil {
		panic("world: store requires a worker pool")
	}
	if conf.Ledger == nil {
		conf.Ledger = NopLedger{}
	}
	s := &Store{
		conf:         conf,
		queue:        make(chan transaction, 256),
		queueClosing: make(chan struct{}),
		chunks:       make(map[ChunkPos]*Chunk),
		inflight:     make(map[ChunkPos]*jobs.Handle),
		pendingEvict: make(map[ChunkPos]struct{}),
		refs:         make(map[ChunkPos]int),
		desired:      make(map[ChunkPos]struct{}),
		waiters:      make(map[ChunkPos][]chan ChunkResult),
	}
	s.queueing.Add(1)
	go s.handleTransactions()
	return s
}

// handleTransactions continuously reads transactions from the queue and runs
// them.
func (s *Store) handleTransactions() {
	defer s.queueing.Done()
	for {
		select {
		case tx := <-s.queue:
			tx()
		case <-s.queueClosing:
			return
		}
	}
}

// exec enqueues f on the owner goroutine and returns a channel closed once
// it ran. If the store is closing, the channel is closed without running f.
func (s *Store) exec(f func()) <-chan struct{} {
	done := make(chan struct{})
	select {
	case s.queue <- func() { f(); close(done) }:
	case <-s.queueClosing:
		close(done)
	}
	return done
}

// SetViewer updates the viewer position used to prioritise generation jobs.
func (s *Store) SetViewer(pos mgl64.Vec3) {
	c := ChunkPosFromVec3(pos)
	<-s.exec(func() { s.viewer = c })
}

// Ensure reconciles the desired coordinate set against the loaded set:
// missing coordinates are requested for generation, loaded coordinates no
// longer desired (and not held by RequestChunk references) are evicted. The
// call returns once the reconciliation transaction ran; generation itself
// completes asynchronously.
func (s *Store) Ensure(desired map[ChunkPos]struct{}) {
	want := make(map[ChunkPos]struct{}, len(desired))
	for pos := range desired {
		want[pos] = struct{}{}
	}
	<-s.exec(func() {
		s.desired = want
		for pos := range want {
			if _, ok := s.chunks[pos]; !ok {
				s.requestChunk(pos, nil)
			}
			// Desired again before a deferred eviction resolved. The job was
			// already cancelled, so the publish path discards its result and
			// re-requests the coordinate if it is still desired.
			delete(s.pendingEvict, pos)
		}
		for pos := range s.chunks {
			if _, ok := want[pos]; !ok && s.refs[pos] == 0 {
				s.evict(pos)
			}
		}
	})
}

// RequestChunk requests the chunk at (cx, cz) to be loaded and returns a
// channel that receives the outcome once the chunk is Ready or evicted. The
// chunk is pinned until a matching ReleaseChunk call.
func (s *Store) RequestChunk(cx, cz int32) <-chan ChunkResult {
	pos := ChunkPos{cx, cz}
	ch := make(chan ChunkResult, 1)
	<-s.exec(func() {
		s.refs[pos]++
		s.requestChunk(pos, ch)
	})
	return ch
}

// ReleaseChunk releases a pin taken by RequestChunk. Once unpinned and
// outside the desired set, the chunk is evicted.
func (s *Store) ReleaseChunk(cx, cz int32) {
	pos := ChunkPos{cx, cz}
	<-s.exec(func() {
		if s.refs[pos] > 1 {
			s.refs[pos]--
			return
		}
		delete(s.refs, pos)
		if _, ok := s.desired[pos]; !ok {
			if _, loaded := s.chunks[pos]; loaded {
				s.evict(pos)
			}
		}
	})
}

// requestChunk loads or begins generating the chunk at pos. Must run on the
// owner goroutine. If waiter is non-nil it is notified when the chunk
// resolves; a chunk that is already Ready resolves immediately.
func (s *Store) requestChunk(pos ChunkPos, waiter chan ChunkResult) {
	if c, ok := s.chunks[pos]; ok {
		if waiter != nil {
			if c.state == StateReady {
				waiter <- ChunkResult{Pos: pos}
			} else {
				s.waiters[pos] = append(s.waiters[pos], waiter)
			}
		}
		return
	}

	c := &Chunk{pos: pos, state: StateRequested, tier: TierUnloaded}
	s.chunks[pos] = c
	if waiter != nil {
		s.waiters[pos] = append(s.waiters[pos], waiter)
	}
	s.emit(Event{Pos: pos, Old: StateRequested, New: StateRequested})

	req := generationRequest{Seed: s.conf.Seed, Pos: pos}
	if s.conf.Landmarks != nil {
		req.Landmarks = s.conf.Landmarks.LandmarksFor(pos)
	}

	handle := s.conf.Pool.Submit(jobs.Job{
		Priority: pos.DistanceSq(s.viewer),
		Run:      s.generationFn(req, false),
		Fallback: s.generationFn(req, true),
	})
	s.inflight[pos] = handle
	c.state = StateGenerating
	s.emit(Event{Pos: pos, Old: StateRequested, New: StateGenerating})

	go s.watch(pos, handle)
}

// generationFn builds the worker-side pipeline for a request: generate (or
// degrade to flat terrain on the retry path), apply generation-time
// landmarks, then merge the ledger overlay.
func (s *Store) generationFn(req generationRequest, degraded bool) jobs.Fn {
	return func(ctx context.Context) (any, error) {
		var data *ChunkData
		if degraded {
			data = s.conf.Generator.Flat(req.Pos)
		} else {
			data = s.conf.Generator.Generate(req.Pos)
		}
		for _, m := range req.Landmarks {
			data.SetBlock(m.X, int16(m.Y), m.Z, Block{
				Kind: m.Kind, Colour: m.Colour, CustomColour: m.CustomColour,
			})
		}
		overlay, err := s.conf.Ledger.OverlayFor(req.Pos)
		if err != nil {
			return nil, fmt.Errorf("overlay for %v: %w", req.Pos, err)
		}
		data.ApplyOverlay(overlay)
		return &generationResponse{Data: data}, nil
	}
}

// watch waits for a generation job to resolve and publishes the outcome back
// to the owner goroutine.
func (s *Store) watch(pos ChunkPos, handle *jobs.Handle) {
	res := <-handle.Done()
	<-s.exec(func() { s.publish(pos, handle, res) })
}

// publish applies the result of a generation job. A result whose coordinate
// was evicted (or superseded) in the meantime is discarded without mutating
// the store, so a stale job can never resurrect an evicted chunk. Must run
// on the owner goroutine.
func (s *Store) publish(pos ChunkPos, handle *jobs.Handle, res jobs.Result) {
	if s.inflight[pos] != handle {
		return
	}
	delete(s.inflight, pos)
	c, ok := s.chunks[pos]
	if !ok {
		return
	}

	_, deferred := s.pendingEvict[pos]
	if res.Cancelled || deferred {
		delete(s.pendingEvict, pos)
		s.dropChunk(c, ErrChunkEvicted)
		if _, want := s.desired[pos]; want {
			// The coordinate became desired again while the cancelled job
			// was resolving; start a fresh request.
			s.requestChunk(pos, nil)
		}
		return
	}

	if res.Err != nil {
		// Generation degraded twice over; fall back to flat terrain on the
		// spot so the coordinate still resolves. The overlay is merged so
		// player edits stay visible even on degraded terrain.
		s.conf.Log.Error("publish chunk: generation failed, using flat terrain",
			"chunkX", pos[0], "chunkZ", pos[1], "error", res.Err)
		data := s.conf.Generator.Flat(pos)
		if overlay, err := s.conf.Ledger.OverlayFor(pos); err != nil {
			s.conf.Log.Error("publish chunk: overlay unavailable for degraded terrain",
				"chunkX", pos[0], "chunkZ", pos[1], "error", err)
		} else {
			data.ApplyOverlay(overlay)
		}
		c.data = data
	} else {
		c.data = res.Value.(*generationResponse).Data
	}
	if res.Retried {
		s.conf.Log.Warn("publish chunk: generated through degraded path",
			"chunkX", pos[0], "chunkZ", pos[1])
	}

	old := c.state
	c.state = StateReady
	c.dirty = false
	s.emit(Event{Pos: pos, Old: old, New: StateReady, Tier: c.tier})
	s.notifyWaiters(pos, nil)
}

// evict removes the chunk at pos. Ready chunks have their dirty overlay
// flushed first so no unflushed edit is lost on unload; chunks still
// generating defer eviction until the in-flight job resolves, then discard
// immediately. Must run on the owner goroutine.
func (s *Store) evict(pos ChunkPos) {
	c, ok := s.chunks[pos]
	if !ok {
		return
	}
	switch c.state {
	case StateRequested, StateGenerating:
		if handle, ok := s.inflight[pos]; ok {
			s.pendingEvict[pos] = struct{}{}
			s.conf.Pool.Cancel(handle)
			return
		}
		s.dropChunk(c, ErrChunkEvicted)
	case StateReady:
		if c.dirty {
			if err := s.conf.Ledger.FlushChunk(pos); err != nil {
				// The overlay stays dirty inside the ledger and will be
				// retried by the next flush cycle; eviction proceeds.
				s.conf.Log.Error("evict chunk: flush overlay",
					"chunkX", pos[0], "chunkZ", pos[1], "error", err)
			}
		}
		s.dropChunk(c, ErrChunkEvicted)
	}
}

// dropChunk releases a chunk object and notifies its waiters. Must run on
// the owner goroutine.
func (s *Store) dropChunk(c *Chunk, waiterErr error) {
	pos := c.pos
	old := c.state
	c.state = StateEvicted
	c.data = nil
	delete(s.chunks, pos)
	delete(s.refs, pos)
	s.conf.Ledger.Release(pos)
	s.emit(Event{Pos: pos, Old: old, New: StateEvicted})
	s.notifyWaiters(pos, waiterErr)
}

// notifyWaiters resolves all RequestChunk waiters for pos. Must run on the
// owner goroutine.
func (s *Store) notifyWaiters(pos ChunkPos, err error) {
	for _, ch := range s.waiters[pos] {
		ch <- ChunkResult{Pos: pos, Err: err}
	}
	delete(s.waiters, pos)
}

// ApplyEdit applies a player edit at a world position: the modification is
// recorded in the ledger for durability and, if the chunk is loaded and
// Ready, written to its grid for immediate visual effect. Unknown block
// kinds are rejected at this boundary.
func (s *Store) ApplyEdit(pos Pos, kind Kind, colour RGB, customColour bool) error {
	if !kind.Valid() {
		return fmt.Errorf("apply edit at %v: %w: %d", pos, ErrUnknownKind, uint8(kind))
	}
	if pos.OutOfBounds() {
		return fmt.Errorf("apply edit at %v: position out of bounds", pos)
	}
	chunkPos := ChunkPosFromBlockPos(pos)
	x, y, z := blockPosInChunk(pos)
	s.conf.Ledger.Record(chunkPos, Modification{
		X: x, Y: uint8(y), Z: z,
		Kind:         kind,
		Colour:       colour,
		CustomColour: customColour,
		Timestamp:    time.Now().UnixNano(),
	})
	<-s.exec(func() {
		if c, ok := s.chunks[chunkPos]; ok && c.state == StateReady {
			c.data.SetBlock(x, y, z, Block{
				Kind: kind, Colour: colour, CustomColour: customColour, PlayerPlaced: true,
			})
			c.dirty = true
		}
	})
	return nil
}

// Block returns the block at a world position. The second return value is
// false if the chunk holding the position is not loaded and Ready.
func (s *Store) Block(pos Pos) (Block, bool) {
	var (
		b  Block
		ok bool
	)
	<-s.exec(func() {
		if c, loaded := s.chunks[ChunkPosFromBlockPos(pos)]; loaded && c.state == StateReady {
			x, y, z := blockPosInChunk(pos)
			b, ok = c.data.Block(x, y, z), true
		}
	})
	return b, ok
}

// State returns the generation state of the chunk at pos. The second return
// value is false if no chunk object exists for the coordinate.
func (s *Store) State(pos ChunkPos) (State, bool) {
	var (
		state State
		ok    bool
	)
	<-s.exec(func() {
		if c, loaded := s.chunks[pos]; loaded {
			state, ok = c.state, true
		}
	})
	return state, ok
}

// SetTier assigns the render tier of a Ready chunk. It is driven by the LOD
// renderer; assigning a tier to an unloaded coordinate is a no-op.
func (s *Store) SetTier(pos ChunkPos, tier Tier) {
	<-s.exec(func() {
		c, ok := s.chunks[pos]
		if !ok || c.state != StateReady || c.tier == tier {
			return
		}
		c.tier = tier
		s.emit(Event{Pos: pos, Old: StateReady, New: StateReady, Tier: tier})
	})
}

// Ready returns the positions of all Ready chunks.
func (s *Store) Ready() []ChunkPos {
	var out []ChunkPos
	<-s.exec(func() {
		out = make([]ChunkPos, 0, len(s.chunks))
		for pos, c := range s.chunks {
			if c.state == StateReady {
				out = append(out, pos)
			}
		}
	})
	return out
}

// Surface returns the surface blocks of a Ready chunk for the coarse render
// tier. The second return value is false if the chunk is not Ready.
func (s *Store) Surface(pos ChunkPos) ([ChunkSizeX][ChunkSizeZ]Block, bool) {
	var (
		surf [ChunkSizeX][ChunkSizeZ]Block
		ok   bool
	)
	<-s.exec(func() {
		if c, loaded := s.chunks[pos]; loaded && c.state == StateReady {
			surf, ok = c.data.Surface(), true
		}
	})
	return surf, ok
}

// StoreStats is a snapshot of the store's chunk population.
type StoreStats struct {
	Loaded     int `json:"loaded"`
	Ready      int `json:"ready"`
	Generating int `json:"generating"`
	InFlight   int `json:"inFlight"`
}

// Stats returns a snapshot of the store's chunk population.
func (s *Store) Stats() StoreStats {
	var st StoreStats
	<-s.exec(func() {
		st.Loaded = len(s.chunks)
		st.InFlight = len(s.inflight)
		for _, c := range s.chunks {
			switch c.state {
			case StateReady:
				st.Ready++
			case StateGenerating, StateRequested:
				st.Generating++
			}
		}
	})
	return st
}

// Close evicts all chunks, waits for in-flight jobs to resolve and stops the
// owner goroutine. The worker pool must still be running when Close is
// called; it is not closed by the store.
func (s *Store) Close() error {
	<-s.exec(func() {
		s.desired = map[ChunkPos]struct{}{}
		for pos := range s.refs {
			delete(s.refs, pos)
		}
		for pos := range s.chunks {
			s.evict(pos)
		}
	})
	// Deferred evictions resolve through watch goroutines publishing back to
	// the queue; wait for the in-flight set to drain.
	for {
		n := 0
		<-s.exec(func() { n = len(s.inflight) + len(s.chunks) })
		if n == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(s.queueClosing)
	s.queueing.Wait()
	return nil
}
