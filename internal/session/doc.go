// Package session reconstructs TCP and UDP conversations from decoded
// packets.
//
// A Table maps role-resolved flow keys to sessions. Each session classifies
// the packets of its flow, keeps per-direction counters, and for TCP tracks
// sequence gaps, RTT and the request/think/response timing of operations.
// Sessions hand core.StatRecord values to a Recorder every aggregation
// interval and when they are evicted.
package session
