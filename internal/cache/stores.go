package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/rs/zerolog/log"
)

// Store names, used in metrics and in the stats endpoint payload.
const (
	TokenStoreName = "token_cache"
	TileStoreName  = "tile_cache"
	APIStoreName   = "api_cache"
)

// Stores bundles the bridge's three caches: OAuth access tokens, rendered
// tile images, and upstream API responses. Each store is independently sized
// and instrumented so its hit rate can be observed separately.
type Stores struct {
	Tokens Cache[string]
	Tiles  Cache[[]byte]
	API    Cache[[]byte]
}

// NewStores builds the bridge's stores from configuration.
func NewStores(cfg config.CacheConfig) (*Stores, error) {
	tokens, err := NewMemory[string](cfg.TokenCapacity, secondsOf(cfg.TokenTTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("creating token store: %w", err)
	}

	tiles, err := NewMemory[[]byte](cfg.TileCapacity, secondsOf(cfg.TileTTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("creating tile store: %w", err)
	}

	api, err := NewMemory[[]byte](cfg.APICapacity, secondsOf(cfg.APITTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("creating api store: %w", err)
	}

	log.Info().
		Int("token_capacity", cfg.TokenCapacity).
		Int("tile_capacity", cfg.TileCapacity).
		Int("api_capacity", cfg.APICapacity).
		Msg("initializing in-memory stores")

	return &Stores{
		Tokens: NewInstrumented[string](tokens, "tokens"),
		Tiles:  NewInstrumented[[]byte](tiles, "tiles"),
		API:    NewInstrumented[[]byte](api, "api"),
	}, nil
}

// Admins returns the maintenance view of each store, keyed by the name that
// identifies it in the stats endpoint payload.
func (s *Stores) Admins() map[string]Admin {
	return map[string]Admin{
		TokenStoreName: s.Tokens,
		TileStoreName:  s.Tiles,
		APIStoreName:   s.API,
	}
}

// ClearAll empties every store.
func (s *Stores) ClearAll(ctx context.Context) {
	for _, store := range s.Admins() {
		store.Clear(ctx)
	}
}

// SweepExpired removes lapsed entries from every store, returning the total
// number removed. The background sweep loop calls this on an interval so
// idle entries do not linger until their key is next requested.
func (s *Stores) SweepExpired(ctx context.Context) int {
	removed := 0
	for _, store := range s.Admins() {
		removed += store.SweepExpired(ctx)
	}
	return removed
}

func secondsOf(n int) time.Duration {
	return time.Duration(n) * time.Second
}
