package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/Garsondee/Volley-Sense/internal/config"
	"github.com/Garsondee/Volley-Sense/internal/game"
	"github.com/Garsondee/Volley-Sense/internal/observer"
	"github.com/Garsondee/Volley-Sense/internal/persistence/eventlog"
	"github.com/Garsondee/Volley-Sense/internal/volley"
)

func main() {
	configPath := flag.String("config", "", "YAML settings file")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed")
	roster := flag.Int("roster", -1, "agents per team (default from settings)")
	observe := flag.String("observe", "", "serve a live WebSocket feed on this loopback address, e.g. 127.0.0.1:8090")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal(err)
		}
	}

	opts := []volley.SimOption{
		volley.WithSettings(cfg),
		volley.WithSeed(*seed),
		volley.WithSimLogger(logger),
	}
	if *roster >= 0 {
		opts = append(opts, volley.WithRosterSize(*roster))
	}
	if cfg.Statistics.LogDir != "" {
		sink := eventlog.NewSink(cfg.Statistics.LogDir, cfg.Statistics)
		defer sink.Close()
		opts = append(opts, volley.WithStatsSink(sink))
	}

	g, err := game.New(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	if *observe != "" {
		obs := observer.NewServer(g.Sim().RunID, logger)
		obs.Attach(g.Sim().SimLog)
		srv := &http.Server{Addr: *observe, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("observer stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	w, h := g.Size()
	ebiten.SetWindowTitle("Volley Sense")
	ebiten.SetWindowSize(w*3/4, h*3/4)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(g); err != nil {
		log.Print(err)
	}
}
