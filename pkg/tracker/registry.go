package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/codeready-toolchain/governor/pkg/config"
)

// Platform identifies a concrete tracker integration.
type Platform string

// Factory builds a platform's Adapter from the loaded configuration.
// Factories run once at startup; an error aborts boot.
type Factory func(cfg *config.Config, logger *slog.Logger) (Adapter, error)

// ErrUnknownPlatform is returned by Open when no linked package has
// registered the requested platform.
var ErrUnknownPlatform = errors.New("unknown tracker platform")

var (
	registryMu sync.Mutex
	registry   = make(map[Platform]Factory)
)

// Register makes a platform adapter available to Open. Platform packages
// call this from init(); a deployment selects its tracker by linking the
// package with a blank import and naming the platform in configuration.
func Register(p Platform, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("tracker: nil factory for platform " + string(p))
	}
	if _, dup := registry[p]; dup {
		panic("tracker: platform registered twice: " + string(p))
	}
	registry[p] = f
}

// Open builds the adapter for the named platform.
func Open(p Platform, cfg *config.Config, logger *slog.Logger) (Adapter, error) {
	registryMu.Lock()
	factory, ok := registry[p]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (linked platforms: %v)", ErrUnknownPlatform, p, Registered())
	}
	adapter, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open tracker platform %q: %w", p, err)
	}
	return adapter, nil
}

// Registered lists the platforms linked into this build, sorted.
func Registered() []Platform {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Platform, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
