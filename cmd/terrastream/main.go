package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/df-mc/terrastream/engine"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pelletier/go-toml"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	uc, err := readConfig(log)
	if err != nil {
		log.Error("read config", "error", err)
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("create engine config", "error", err)
		os.Exit(1)
	}

	e := conf.New()
	log.Info("engine running", "seed", conf.Seed,
		"renderDistance", conf.RenderDistance, "visualDistance", conf.VisualDistance)

	e.MoveViewer(mgl64.Vec3{0, 64, 0})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.RefreshTiers()
			st := e.Stats()
			log.Debug("tick", "ready", st.Store.Ready, "full", st.Render.ChunksFull,
				"coarse", st.Render.ChunksCoarse, "dirty", st.DirtyChunks)
		case <-stop:
			log.Info("shutting down")
			if err := e.Close(); err != nil {
				log.Error("close engine", "error", err)
				os.Exit(1)
			}
			return
		}
	}
}

// readConfig reads the configuration from the config.toml file, or creates
// the file if it does not yet exist.
func readConfig(log *slog.Logger) (engine.UserConfig, error) {
	c := engine.DefaultConfig()
	if _, err := os.Stat("config.toml"); os.IsNotExist(err) {
		data, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %v", err)
		}
		if err := os.WriteFile("config.toml", data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %v", err)
		}
		return c, nil
	}
	data, err := os.ReadFile("config.toml")
	if err != nil {
		return c, fmt.Errorf("read config: %v", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %v", err)
	}
	return c, nil
}
