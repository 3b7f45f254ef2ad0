// Package middleware exposes net/http adapters over the authcore Engine.
//
// [Guard] reads the Authorization header, validates the access token
// end to end (signature plus revocation), and injects the claims into
// the request context. [EnforceQuota] charges the caller's daily quota
// before the handler runs, keyed by the authenticated identity or by
// the X-Device-ID header for anonymous traffic.
//
// This package translates HTTP semantics into Engine calls and nothing
// more; every decision is the Engine's.
package middleware
