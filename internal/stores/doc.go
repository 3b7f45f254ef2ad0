// Package stores holds Redis-backed record stores that are pure storage
// concerns: no policy, no rate limiting, no orchestration. Those live in
// the engine.
package stores
