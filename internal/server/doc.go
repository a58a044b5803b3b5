// Package server implements the parameter server: the network-facing
// service that owns the canonical parameter set for the duration of a
// training run and integrates worker deltas into it.
//
// # Overview
//
// The server wraps a params.Store and an update.Rule behind two wire
// operations. Workers pull the current parameters, train locally, and
// push back deltas; every mutation funnels through the store's single
// exclusive lock.
//
//	┌─────────────────────────────────────────┐
//	│            Parameter server             │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    GET  /parameters - current blob      │
//	│    POST /update     - apply one delta   │
//	│    GET  /health     - liveness probe    │
//	│    GET  /stats      - counters (JSON)   │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    params.Store - locked parameter set  │
//	│    update.Rule  - delta integration     │
//	│    counters     - atomic request stats  │
//	└─────────────────────────────────────────┘
//
// # Request handling
//
// Each request runs on its own goroutine (net/http's model); concurrency
// is bounded only by the store's lock, which is held for O(parameter set
// size) per operation. A fetch of a server that has no parameters yet
// returns an empty body. A submitted delta is decoded, validated, and
// applied atomically: malformed payloads answer 400, shape conflicts
// answer 409, and in both cases the store is left exactly as it was.
// Request failures are logged and answered; they never take down the
// serving process.
//
// # Lifecycle
//
// Start binds the listener synchronously, so a port already in use fails
// immediately with an error instead of hanging or silently doing nothing.
// Passing ":0" picks an ephemeral port; Addr reports the bound address.
// Stop drains in-flight requests via the usual graceful shutdown. Start
// on a started server and Stop on a stopped one are caller errors.
package server
