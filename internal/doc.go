// Package internal groups helpers that are intentionally private to
// authcore.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed and sliding window limiters
//   - ipblock — the source-address block list behind login throttling
//   - stores — verification code storage
//
// None of these export types that appear in the public authcore API;
// callers interact with them through the Engine.
package internal
