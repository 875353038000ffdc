// Package crypto exposes the primitives the sealroom services are built from.
//
// # Contents
//
//   - Identity derivation: one 32-byte seed yields an X25519 HPKE key pair
//     and an Ed25519 signing key pair (DeriveKeys, NewHandle, NewSeed)
//   - Fingerprints: full SHA-256 hex of the public key bytes (Fingerprint)
//     and a base58 safety code for out-of-band comparison (DisplayCode)
//   - HPKE single-shot seal/open to an X25519 recipient (SealTo, OpenFrom)
//   - XChaCha20-Poly1305 with a random nonce prefixed to the ciphertext
//     (Seal, Open)
//   - HKDF-SHA256 expansion with labels (Expand, Extract)
//   - Ed25519 signing and verification (SignEd25519, VerifyEd25519)
//
// # Notes
//
// Fixed-size keys use the array types from internal/domain. Callers own the
// lifetime of returned secrets and should wipe them with memzero.Zero once
// they are no longer needed.
package crypto
