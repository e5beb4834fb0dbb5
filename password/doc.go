// Package password implements versioned password hashing and verification.
//
// # Versions
//
// Every stored hash records the name of the [Version] that produced it. A
// version is an immutable parameter set (key derivation function, iteration
// or time cost, key length, salt length). Built-in presets are registered in
// every [Registry]:
//
//	V1  PBKDF2-HMAC-SHA1    10 000 iterations   32-byte key  16-byte salt
//	V2  PBKDF2-HMAC-SHA256  210 000 iterations  32-byte key  16-byte salt
//	V3  PBKDF2-HMAC-SHA512  210 000 iterations  64-byte key  32-byte salt
//	A1  Argon2id            t=3 m=64MiB p=2     32-byte key  16-byte salt
//
// A [Hasher] pins exactly one current version. Verifying a hash produced by
// any other version reports [VerifiedAndRehashRequired] on a match so the
// caller can re-hash with the current version.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password age, reuse and
// status rules are enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other accounts package.
//   - Log plaintext passwords, salts or hashes.
package password
