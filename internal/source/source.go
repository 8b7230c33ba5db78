// Package source opens the packet sources feeding the capture loop.
//
// Engines register an Opener from init(); callers blank-import the engine
// packages they want linked in and call Open with the capture config.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
)

// Stats are the cumulative counters reported by the capture engine.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	IfDropped uint64 `json:"if_dropped"`
}

// Source yields raw frames. ReadPacket blocks until a frame arrives, ctx is
// done or the source is exhausted (io.EOF). A Source is read and closed by a
// single goroutine.
type Source interface {
	ReadPacket(ctx context.Context) (core.RawPacket, error)
	LinkType() core.LinkType
	Stats() (Stats, error)
	// Live reports whether packets come from a network device rather than a
	// capture file.
	Live() bool
	Close() error
}

// Opener creates a source from the capture config.
type Opener func(cfg config.CaptureConfig) (Source, error)

// FileEngine is the engine name used for capture files.
const FileEngine = "file"

var (
	mu      sync.RWMutex
	openers = make(map[string]Opener)
)

// Register makes an engine available under name.
func Register(name string, fn Opener) {
	mu.Lock()
	defer mu.Unlock()
	openers[name] = fn
}

// Engines lists the registered engine names.
func Engines() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open selects the capture file when one is configured, otherwise the live
// device through cfg.Engine.
func Open(cfg config.CaptureConfig) (Source, error) {
	engine := cfg.Engine
	switch {
	case cfg.File != "":
		engine = FileEngine
	case cfg.Device == "":
		return nil, core.ErrNoSource
	}

	mu.RLock()
	fn, ok := openers[engine]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture engine %q is not available on this build", core.ErrConfigInvalid, engine)
	}
	return fn(cfg)
}
