// Package token implements the signed, self-describing credential codec.
//
// Credentials are HS256-signed JWTs whose payload carries the identity,
// email, millisecond expiry, kind (access or refresh), and a unique id.
// Decoding is fail-closed: any malformed, mis-signed, mistyped, or
// non-positive-identity credential decodes to nothing.
//
// The codec is deliberately stateless. Whether a decoded credential is
// still live (not revoked, not rotated away) is decided by the token
// store, which tracks hashes of issued credentials.
package token
