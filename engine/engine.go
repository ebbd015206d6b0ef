// Package engine wires the terrain streaming core together: the chunk store,
// the generation worker pool, the modification ledger and the LOD renderer.
// The engine is the single entry point clients use; all components receive
// their collaborators explicitly and no package-level state exists.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/df-mc/terrastream/engine/render"
	"github.com/df-mc/terrastream/engine/telemetry"
	"github.com/df-mc/terrastream/engine/world"
	"github.com/df-mc/terrastream/engine/world/generator"
	"github.com/df-mc/terrastream/engine/world/jobs"
	"github.com/df-mc/terrastream/engine/world/ledger"
	"github.com/df-mc/terrastream/engine/world/structure"
	"github.com/go-gl/mathgl/mgl64"
)

// Engine is a running terrain streaming engine. Use Config.New to create
// one.
type Engine struct {
	conf Config
	log  *slog.Logger

	gen      *generator.Generator
	pool     *jobs.Pool
	ledger   *ledger.Ledger
	store    *world.Store
	renderer *render.Renderer

	tele     *telemetry.Server
	teleHTTP *http.Server

	tasksCancel context.CancelFunc
	tasks       sync.WaitGroup

	mu     sync.Mutex
	viewer mgl64.Vec3

	o sync.Once
}

// New creates an Engine using the fields of conf and starts its background
// tasks.
func (conf Config) New() *Engine {
	conf = conf.fillDefaults()
	log := conf.Log

	led := ledger.New(ledger.Config{
		Log:           log,
		Provider:      conf.LedgerProvider,
		FlushInterval: conf.FlushInterval,
	})
	pool := jobs.New(jobs.Config{Log: log, Workers: conf.GeneratorWorkers})
	gen := generator.New(conf.Seed, log)
	store := world.NewStore(world.StoreConfig{
		Log:       log,
		Seed:      conf.Seed,
		Generator: gen,
		Ledger:    led,
		Pool:      pool,
		Landmarks: conf.Landmarks,
	})
	renderer := render.New(render.Config{
		Log:            log,
		RenderDistance: conf.RenderDistance,
		VisualDistance: conf.VisualDistance,
		Hysteresis:     conf.DemoteHysteresis,
		Cache: render.NewTextureCache(render.CacheConfig{
			Log:    log,
			Derive: conf.deriver(),
		}),
	})

	e := &Engine{
		conf:     conf,
		log:      log,
		gen:      gen,
		pool:     pool,
		ledger:   led,
		store:    store,
		renderer: renderer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.tasksCancel = cancel
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		led.RunFlusher(ctx)
	}()

	if conf.TelemetryAddr != "" {
		e.startTelemetry(ctx, conf.TelemetryAddr)
	}
	return e
}

// Store returns the engine's chunk store.
func (e *Engine) Store() *world.Store {
	return e.store
}

// Renderer returns the engine's LOD renderer.
func (e *Engine) Renderer() *render.Renderer {
	return e.renderer
}

// Ledger returns the engine's modification ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// MoveViewer updates the viewer position: the interest set is recomputed and
// reconciled against the loaded chunk set, and render tiers are refreshed.
// The call does not block on chunk generation.
func (e *Engine) MoveViewer(pos mgl64.Vec3) {
	e.mu.Lock()
	e.viewer = pos
	e.mu.Unlock()

	e.store.SetViewer(pos)
	centre := world.ChunkPosFromVec3(pos)
	_, visual := e.renderer.Distances()
	e.store.Ensure(world.InterestSet(centre, visual))
	e.refreshTiers(centre)
}

// RefreshTiers recomputes render tiers for the current viewer position.
// Called by clients after chunks become Ready to pick up promotions without
// moving the viewer.
func (e *Engine) RefreshTiers() {
	e.mu.Lock()
	viewer := e.viewer
	e.mu.Unlock()
	e.refreshTiers(world.ChunkPosFromVec3(viewer))
}

func (e *Engine) refreshTiers(centre world.ChunkPos) {
	for _, change := range e.renderer.Update(centre, e.store.Ready()) {
		e.store.SetTier(change.Pos, change.Tier)
	}
}

// RequestChunk requests the chunk at (cx, cz) and returns a channel
// receiving the outcome once it is Ready or evicted.
func (e *Engine) RequestChunk(cx, cz int32) <-chan world.ChunkResult {
	return e.store.RequestChunk(cx, cz)
}

// ReleaseChunk releases a pin taken by RequestChunk.
func (e *Engine) ReleaseChunk(cx, cz int32) {
	e.store.ReleaseChunk(cx, cz)
}

// ApplyEdit applies a player edit at a world position, making it visible
// immediately and recording it durably in the modification ledger.
func (e *Engine) ApplyEdit(x, y, z int, kind world.Kind, colour world.RGB, customColour bool) error {
	return e.store.ApplyEdit(world.Pos{x, y, z}, kind, colour, customColour)
}

// PlaceStructure places a player-directed structure: the placement is
// computed by the structure package and every resulting edit is routed
// through the edit pipeline, so the structure persists like any other player
// modification.
func (e *Engine) PlaceStructure(req structure.Request) error {
	edits, err := structure.Place(req)
	if err != nil {
		return err
	}
	var errs []error
	for _, edit := range edits {
		if err := e.store.ApplyEdit(edit.Pos, edit.Kind, edit.Colour, edit.CustomColour); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetRenderDistance adjusts the full-detail radius at runtime.
func (e *Engine) SetRenderDistance(n int32) {
	e.renderer.SetRenderDistance(n)
	e.RefreshTiers()
}

// SetVisualDistance adjusts the coarse radius, which is also the interest
// radius, and reconciles the loaded set.
func (e *Engine) SetVisualDistance(n int32) {
	e.renderer.SetVisualDistance(n)
	e.mu.Lock()
	viewer := e.viewer
	e.mu.Unlock()
	e.MoveViewer(viewer)
}

// ClearCoarseCache reclaims all unreferenced coarse textures and returns the
// number of entries dropped.
func (e *Engine) ClearCoarseCache() int {
	return e.renderer.Cache().Clear()
}

// Stats aggregates the telemetry of all engine components.
type Stats struct {
	Store  world.StoreStats  `json:"store"`
	Render render.Stats      `json:"render"`
	Pool   jobs.Stats        `json:"pool"`
	Cache  render.CacheStats `json:"cache"`
	// DirtyChunks is the number of chunks with unflushed ledger records.
	DirtyChunks int `json:"dirtyChunks"`
}

// Stats returns a snapshot of the engine telemetry.
func (e *Engine) Stats() Stats {
	return Stats{
		Store:       e.store.Stats(),
		Render:      e.renderer.Stats(),
		Pool:        e.pool.Stats(),
		Cache:       e.renderer.Cache().Stats(),
		DirtyChunks: e.ledger.DirtyCount(),
	}
}

// startTelemetry starts the websocket endpoint and the broadcast tasks that
// feed it chunk events and periodic stats.
func (e *Engine) startTelemetry(ctx context.Context, addr string) {
	e.tele = telemetry.New(telemetry.Config{Log: e.log})
	mux := http.NewServeMux()
	mux.Handle("/telemetry", e.tele)
	e.teleHTTP = &http.Server{Addr: addr, Handler: mux}

	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		if err := e.teleHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("telemetry: listen", "addr", addr, "error", err)
		}
	}()

	events := e.store.Subscribe(256)
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case ev := <-events:
				e.tele.Broadcast(map[string]any{
					"type":   "chunk",
					"chunkX": ev.Pos[0],
					"chunkZ": ev.Pos[1],
					"state":  ev.New.String(),
					"tier":   ev.Tier.String(),
				})
			case <-t.C:
				e.tele.Broadcast(map[string]any{"type": "stats", "stats": e.Stats()})
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Flush synchronously persists all dirty ledger overlays. Exposed for
// deterministic tests and for clients that want a durability point without
// waiting for the background flush.
func (e *Engine) Flush() error {
	return e.ledger.Flush()
}

// Close shuts the engine down: all chunks are evicted (flushing their dirty
// overlays), in-flight generation resolves, background tasks stop and the
// ledger performs a final flush before its provider closes. Close blocks
// until everything is released and may be called only once; subsequent calls
// are no-ops.
func (e *Engine) Close() error {
	var err error
	e.o.Do(func() {
		var errs []error
		if e.teleHTTP != nil {
			errs = append(errs, e.teleHTTP.Close())
		}
		errs = append(errs, e.store.Close())
		e.pool.Close()
		e.tasksCancel()
		e.tasks.Wait()
		if e.tele != nil {
			errs = append(errs, e.tele.Close())
		}
		errs = append(errs, e.ledger.Close())
		err = errors.Join(errs...)
	})
	return err
}
