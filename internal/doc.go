// Package internal holds credential-material helpers shared by the root
// package and plugins: random token/OTP generation and secret hashing.
//
// # What this package must NOT do
//
//   - Perform I/O beyond crypto/rand.
//   - Import authcore or any sibling package.
package internal
