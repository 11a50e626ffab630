// Package password implements the default credential hasher: argon2id with
// PHC-formatted digests ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
//
// The root package consumes it through the authcore.PasswordHasher interface,
// so applications can substitute bcrypt/scrypt or a remote KMS-backed hasher
// without touching the engine. Length and complexity policy is enforced by
// the engine's endpoints, not here; the hasher accepts any non-empty input.
//
// # What this package must NOT do
//
//   - Persist anything or perform I/O beyond crypto/rand.
//   - Import authcore or any sibling package.
package password
