// Package rate provides the Redis-backed rate limiting primitives that
// gate authentication attempts.
//
// # Window semantics
//
// FixedWindow: INCR + EXPIRE on first hit, keyed by
// fixed_window_limit:{identifier}:{floor(now/window)}. A burst of up to
// 2x the limit can straddle a window seam; that approximation is
// accepted, not a bug.
//
// SlidingWindow: per-identifier sorted set of attempt timestamps,
// trimmed on each check. Falls back to an in-process bounded list per
// key when Redis is unreachable.
//
// Both limiters fail open: availability is prioritized over strict
// enforcement when the store is down.
package rate
