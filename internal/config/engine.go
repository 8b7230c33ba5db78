package config

import (
	"fmt"
	"time"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/session"
)

func (e *EngineConfig) validate() error {
	if e.Granularity < time.Second || e.Granularity%time.Second != 0 {
		return fmt.Errorf("%w: engine.granularity must be a whole number of seconds", core.ErrConfigInvalid)
	}
	if e.IdleTimeout < time.Second {
		return fmt.Errorf("%w: engine.idle_timeout must be at least 1s", core.ErrConfigInvalid)
	}
	if e.DedupWindow < 1 {
		return fmt.Errorf("%w: engine.dedup_window must be at least 1", core.ErrConfigInvalid)
	}
	if e.DedupTimeout < 0 {
		return fmt.Errorf("%w: engine.dedup_timeout must not be negative", core.ErrConfigInvalid)
	}
	if _, err := core.ParseSubnets(e.LocalSubnets); err != nil {
		return fmt.Errorf("engine.local_subnets: %w", err)
	}
	return nil
}

// SessionParams builds the immutable engine parameters. Invalid service port
// entries are skipped and returned as warnings.
func (e *EngineConfig) SessionParams() (*session.Params, []error) {
	ports, warnings := core.ParsePortSet(e.ServicePorts)
	return &session.Params{
		MaxSessions:  e.MaxSessions,
		DedupWindow:  e.DedupWindow,
		DedupTimeout: e.DedupTimeout,
		IdleTimeout:  e.IdleTimeout,
		Granularity:  e.Granularity,
		ServicePorts: ports,
	}, warnings
}

// Subnets parses the local subnet list.
func (e *EngineConfig) Subnets() (core.Subnets, error) {
	return core.ParseSubnets(e.LocalSubnets)
}
