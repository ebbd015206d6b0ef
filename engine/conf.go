package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/df-mc/terrastream/engine/render"
	"github.com/df-mc/terrastream/engine/world"
	"github.com/df-mc/terrastream/engine/world/ledger"
)

// Config contains options for starting a terrain streaming engine.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Seed is the world seed all terrain is derived from. A value of 0 is
	// valid and results in a fixed world layout.
	Seed int64
	// LedgerProvider is the durable store for player modifications. If nil,
	// edits are kept in memory only and lost on shutdown.
	LedgerProvider ledger.Provider
	// FlushInterval is the period of the background overlay flush. If zero,
	// it defaults to 5 seconds; negative disables the background flush, in
	// which case only synchronous flushes (eviction, shutdown) persist data.
	FlushInterval time.Duration
	// GeneratorWorkers bounds the number of chunks generating concurrently.
	// If zero or lower, the worker count defaults to 4.
	GeneratorWorkers int
	// RenderDistance is the radius, in chunks, rendered at full detail.
	RenderDistance int32
	// VisualDistance is the radius out to which coarse approximations are
	// rendered; it is also the interest radius chunks are kept loaded
	// within.
	VisualDistance int32
	// DemoteHysteresis is the number of consecutive viewer updates a chunk
	// must spend outside the render distance before demotion to the coarse
	// tier.
	DemoteHysteresis int
	// AssetFolder is the directory full-resolution block textures are read
	// from when deriving coarse approximations. If empty, coarse rendering
	// uses flat colours.
	AssetFolder string
	// Landmarks optionally supplies generation-time structures per chunk.
	Landmarks world.LandmarkSource
	// TelemetryAddr is the address the telemetry websocket endpoint listens
	// on. If empty, telemetry is disabled.
	TelemetryAddr string
}

// UserConfig is the user facing configuration of the engine, usually
// read from a config.toml file. UserConfig.Config should be called to
// obtain a usable Config.
type UserConfig struct {
	World struct {
		// Seed is the world seed terrain is derived from.
		Seed int64
		// SaveData controls if player modifications are persisted. If
		// false, the ledger folder is not opened and edits do not survive a
		// restart.
		SaveData bool
		// Folder is the directory the modification ledger is stored in.
		Folder string
		// LedgerBackend selects the durable store used for the ledger:
		// "leveldb" (default) or "sqlite".
		LedgerBackend string
		// FlushIntervalSeconds is the period of the background overlay
		// flush. Zero uses the default of 5 seconds.
		FlushIntervalSeconds int
		// GeneratorWorkers controls the number of asynchronous workers
		// dedicated to generating chunks. Consider raising this when moving
		// through ungenerated terrain quickly.
		GeneratorWorkers int
	}
	Render struct {
		// RenderDistance is the radius, in chunks, rendered at full
		// interactive detail.
		RenderDistance int
		// VisualDistance is the radius out to which cheap coarse
		// approximations are rendered. Chunks beyond it are unloaded.
		VisualDistance int
		// DemoteHysteresis delays demotion from the full to the coarse tier
		// by this many viewer updates to avoid tier thrash at the boundary.
		DemoteHysteresis int
		// AssetFolder is the directory block textures are read from for the
		// coarse tier. Missing textures fall back to flat colours.
		AssetFolder string
	}
	Telemetry struct {
		// Enabled controls if the telemetry websocket endpoint is started.
		Enabled bool
		// Address is the address the endpoint listens on.
		Address string
	}
}

// Config converts a UserConfig to a Config, so that it may be used for
// creating an Engine. An error is returned if opening the ledger store
// failed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:              log,
		Seed:             uc.World.Seed,
		FlushInterval:    time.Duration(uc.World.FlushIntervalSeconds) * time.Second,
		GeneratorWorkers: uc.World.GeneratorWorkers,
		RenderDistance:   int32(uc.Render.RenderDistance),
		VisualDistance:   int32(uc.Render.VisualDistance),
		DemoteHysteresis: uc.Render.DemoteHysteresis,
		AssetFolder:      uc.Render.AssetFolder,
	}
	if uc.World.SaveData {
		var err error
		conf.LedgerProvider, err = openProvider(uc.World.LedgerBackend, uc.World.Folder)
		if err != nil {
			return conf, fmt.Errorf("create ledger provider: %w", err)
		}
	}
	if uc.Telemetry.Enabled {
		conf.TelemetryAddr = uc.Telemetry.Address
		if conf.TelemetryAddr == "" {
			conf.TelemetryAddr = "localhost:8081"
		}
	}
	return conf, nil
}

// openProvider opens the durable ledger store for the backend name passed.
func openProvider(backend, folder string) (ledger.Provider, error) {
	if folder == "" {
		folder = "world"
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "leveldb":
		return ledger.OpenLevelDB(filepath.Join(folder, "ledger"))
	case "sqlite":
		return ledger.OpenSQLite(filepath.Join(folder, "ledger.db"))
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.World.Seed = 0
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.LedgerBackend = "leveldb"
	c.World.FlushIntervalSeconds = 5
	c.World.GeneratorWorkers = 4
	c.Render.RenderDistance = 4
	c.Render.VisualDistance = 12
	c.Render.DemoteHysteresis = 2
	c.Telemetry.Enabled = false
	c.Telemetry.Address = "localhost:8081"
	return c
}

// fillDefaults applies the default values of optional Config fields.
func (conf Config) fillDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.GeneratorWorkers <= 0 {
		conf.GeneratorWorkers = 4
	}
	if conf.RenderDistance <= 0 {
		conf.RenderDistance = 4
	}
	if conf.VisualDistance <= 0 {
		conf.VisualDistance = 12
	}
	if conf.VisualDistance < conf.RenderDistance {
		conf.VisualDistance = conf.RenderDistance
	}
	return conf
}

// deriver returns the texture deriver for the configured asset folder, or
// nil when coarse rendering should use flat colours only.
func (conf Config) deriver() render.Deriver {
	if conf.AssetFolder == "" {
		return nil
	}
	if _, err := os.Stat(conf.AssetFolder); errors.Is(err, os.ErrNotExist) {
		conf.Log.Warn("asset folder does not exist, coarse tier uses flat colours", "folder", conf.AssetFolder)
		return nil
	}
	return render.DirDeriver(conf.AssetFolder)
}
