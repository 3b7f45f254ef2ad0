// Package password implements password hashing and verification with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Stored hashes verify with the parameters embedded in the string, so cost
// upgrades are transparent: [Hasher.NeedsRehash] reports whether a stored hash
// was produced with weaker parameters than the current ones, letting the
// caller re-hash on the next successful login.
//
// This package owns hashing and verification only. It never stores passwords
// and never logs plaintext or parameters.
package password
