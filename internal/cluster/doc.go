// Package cluster provides the HTTP plumbing shared by workers and the
// coordinator for talking to a parameter server.
//
// # Overview
//
// Workers coordinate exclusively through round-trips to the parameter
// server; they share no memory with each other or with the coordinator.
// This package is the client side of that exchange:
//
//	┌──────────┐   FetchParameters    ┌──────────────────┐
//	│  Worker  │ ───────────────────▶ │                  │
//	│ (per     │   GET /parameters    │ Parameter server │
//	│  part.)  │ ◀─────────────────── │  (internal/      │
//	│          │   SubmitDelta        │   server)        │
//	│          │ ───────────────────▶ │                  │
//	└──────────┘   POST /update       └──────────────────┘
//
// Parameter sets and deltas travel as opaque binary blobs (see
// internal/tensor for the wire format). An empty fetch body is the wire
// convention for "no parameters yet".
//
// # Failure semantics
//
// Calls are synchronous: a worker blocks on each round-trip until the
// response arrives or the client timeout fires. Transport failures wrap
// ErrUnreachable; HTTP-level rejections carry the status code instead.
// Callers use errors.Is(err, ErrUnreachable) to separate a dead server
// from a rejected request. There is no automatic retry on either.
package cluster
