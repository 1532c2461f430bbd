// This command is only used for local testing: it renders one tile through
// the real Sentinel Hub pipeline and writes the PNG to disk, verifying
// credentials and layer definitions without running the server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/sentinel"
	"github.com/lankasat/sentinel-bridge/internal/tile"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Sentinel config.SentinelConfig

	// Defaults address a zoom-8 tile over central Sri Lanka.
	Layer string `env:"UTIL_LAYER, default=S2_TRUE_COLOR"`
	Z     int    `env:"UTIL_Z, default=8"`
	X     int    `env:"UTIL_X, default=185"`
	Y     int    `env:"UTIL_Y, default=122"`
	Date  string `env:"UTIL_DATE"`
	Out   string `env:"UTIL_OUT, default=tile.png"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	tokens, err := cache.NewMemory[string](1, 55*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating token store: %v\n", err)
		os.Exit(1)
	}

	tiles, err := cache.NewMemory[[]byte](1, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating tile store: %v\n", err)
		os.Exit(1)
	}

	registry := sentinel.NewRegistry()
	if cfg.Sentinel.LayerFile != "" {
		registry, err = sentinel.LoadRegistry(cfg.Sentinel.LayerFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading layer file: %v\n", err)
			os.Exit(1)
		}
	}

	fetcher := sentinel.NewFetcher(
		cfg.Sentinel, registry, tiles,
		sentinel.NewTokenSource(cfg.Sentinel, tokens),
	)

	date := tile.ClampDate(cfg.Date, time.Now().UTC())
	bbox := tile.ToBBox(cfg.Z, cfg.X, cfg.Y)

	result, err := fetcher.FetchTile(context.Background(), cfg.Layer, cfg.Z, cfg.X, cfg.Y, date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error fetching tile: %v\n", err)
		os.Exit(1)
	}
	if result == nil {
		fmt.Fprintf(os.Stderr, "no imagery available for %s %d/%d/%d on %s\n",
			cfg.Layer, cfg.Z, cfg.X, cfg.Y, date)
		os.Exit(1)
	}

	if err := os.WriteFile(cfg.Out, result.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing tile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s %d/%d/%d on %s\n", cfg.Layer, cfg.Z, cfg.X, cfg.Y, date)
	fmt.Printf("bbox: west=%.5f south=%.5f east=%.5f north=%.5f\n",
		bbox.West, bbox.South, bbox.East, bbox.North)
	fmt.Printf("wrote %d bytes to %s\n", len(result.Data), cfg.Out)
}
