// Package authcore is the token-lifecycle and quota-enforcement core of
// an authentication layer: issuance, verification, revocation, and
// rotation of bearer credentials, combined with atomic rate-limiting and
// counter primitives on Redis.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], the collaborator interfaces ([IdentityStore],
// [SubscriptionStore], [NotificationSender]), and re-usable leaf packages
// (token, tokenstore, quota, counter, password, middleware, metrics).
// Rate limiting and IP blocking are internal; they gate the engine's
// flows and are not part of the API.
//
// # Architecture boundaries
//
// Relational persistence, HTTP routing, and mail delivery are external
// collaborators injected through the Builder. The engine holds no
// in-process cache of credential or quota state: every check is a fresh
// Redis round-trip, trading latency for always-consistent reads. The
// only shared mutable resource is the Redis connection pool, acquired
// per operation.
//
// # Atomicity
//
// Every multi-step mutation (refresh rotation, quota check-and-consume,
// counter merge, window increment) executes as a single Lua script, so
// no partial application is observable to a concurrent caller.
package authcore
