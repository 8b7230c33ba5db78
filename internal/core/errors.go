// Package core defines sentinel errors.
package core

import "errors"

var (
	// Configuration errors
	ErrConfigInvalid = errors.New("tcpgeek: invalid configuration")
	ErrInvalidPort   = errors.New("tcpgeek: invalid service port")
	ErrInvalidSubnet = errors.New("tcpgeek: invalid local subnet")

	// Capture errors
	ErrSourceClosed   = errors.New("tcpgeek: capture source closed")
	ErrNoSource       = errors.New("tcpgeek: no capture source configured")
	ErrCaptureDropped = errors.New("tcpgeek: packets dropped by the capture layer")

	// Engine errors
	ErrPipelineStopped = errors.New("tcpgeek: pipeline stopped")
	ErrMemoryLimit     = errors.New("tcpgeek: memory limit exceeded")

	// Statistics errors
	ErrSinkNotFound = errors.New("tcpgeek: statistics sink not found")
	ErrSinkClosed   = errors.New("tcpgeek: statistics sink closed")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("tcpgeek: daemon not running")
)
