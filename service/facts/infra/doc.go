// Package infra contains the concrete implementations (infrastructure) for
// the contracts defined in the domain package.
//
// Store backends: Redis (production, shared across replicas), memory (tests
// and explicit single-instance use), bbolt (single instance with
// persistence). On top of the store contract: the cache layer, the
// sliding-window limiters and the cooldown tracker. Also here: the upstream
// API client, the model client, the outcome stats stores (Redis, memory,
// OpenTelemetry, fan-out) and the in-flight slot pool.
package infra
