// Package dbounded collects bounded in-process resource helpers: a capacity
// limited cache, request rate limiters and a resource pool with idle expiry,
// plus the plumbing used to run them as a service.
//
// This module contains the following packages:
//
// BOUNDED STRUCTURES:
//
//   - lru: Generic least-recently-used cache with a fixed capacity, eviction
//     callbacks, and a mutex-guarded Synced variant
//   - limiter: Fixed-window and token-bucket rate limiters, a keyed multi-window
//     limiter bounded by an LRU of callers, and chi-compatible HTTP middleware
//   - pool: Concurrent pool of reusable resources with FIFO reuse, overflow
//     disposal, a periodic idle-expiry sweep, and Prometheus metrics
//
// SERVICE PLUMBING:
//
//   - natspool: Pool of NATS connections with msgpack publishing
//   - taskrunner: Runs batches of tasks concurrently on pooled resources
//   - server: Ops HTTP server built on chi with health, pool stats,
//     Prometheus metrics, pprof, CORS and Brotli/Gzip compression
//   - jwt: HS256 token signing and validation used to key callers
//   - env: Environment, _FILE and /run/secrets configuration lookup
//   - utils: JSON durations with day segments
//
// The boundsd command wires these together into a rate limited NATS publisher.
package dbounded
