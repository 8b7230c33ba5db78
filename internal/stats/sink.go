package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/tcpgeek/internal/core"
)

// Sink persists or forwards drained statistics records.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []core.StatRecord) error
	Close() error
}

// Router mounts HTTP handlers on the engine's HTTP server.
type Router interface {
	Handle(path string, h http.Handler)
}

// Env is the shared environment handed to sink factories.
type Env struct {
	InstanceID string
	Subnets    core.Subnets
	Router     Router // nil when the HTTP server is disabled
}

// Factory builds a sink from its option map.
type Factory func(opts map[string]any, env Env) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a sink type available by name. Sink packages call it from
// init.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = f
}

// Types returns the registered sink type names, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for typ := range registry {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// New builds a sink of a registered type.
func New(typ string, opts map[string]any, env Env) (Sink, error) {
	registryMu.RLock()
	f, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrSinkNotFound, typ)
	}
	s, err := f(opts, env)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", typ, err)
	}
	return s, nil
}

// DecodeOptions decodes a sink option map into out. Strings are accepted for
// numbers, booleans and durations.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// WriteObserver is notified of every sink write.
type WriteObserver func(sink string, records int, err error)

// Fanout writes every batch to all of its sinks.
type Fanout struct {
	sinks    []Sink
	observer WriteObserver
}

// NewFanout creates a fanout over sinks. observer may be nil.
func NewFanout(sinks []Sink, observer WriteObserver) *Fanout {
	return &Fanout{sinks: sinks, observer: observer}
}

// Sinks returns the fanout members.
func (f *Fanout) Sinks() []Sink {
	return f.sinks
}

// Write hands records to every sink. A failing sink does not stop the others;
// the returned error joins every failure.
func (f *Fanout) Write(ctx context.Context, records []core.StatRecord) error {
	if len(records) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		start := time.Now()
		err := s.Write(ctx, records)
		if f.observer != nil {
			f.observer(s.Name(), len(records), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
			continue
		}
		slog.Debug("statistics written", "sink", s.Name(), "records", len(records), "took", time.Since(start))
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
