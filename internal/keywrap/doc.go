// Package keywrap seals small secrets under a passphrase or a raw key.
//
// # Format
//
// Every blob starts with a one-byte format tag that fixes the layout of the
// rest of the blob:
//
//	0x01  Argon2id + XChaCha20-Poly1305
//	      tag | time u32 | memory KiB u32 | threads u8 | salt 16 | nonce 24 | ct
//	0x02  PBKDF2-HMAC-SHA256 + ChaCha20-Poly1305
//	      tag | iterations u32 | salt 16 | nonce 12 | ct
//	0x03  raw 256-bit key + XChaCha20-Poly1305
//	      tag | nonce 24 | ct
//
// Integers are big-endian. Everything before the nonce is authenticated as
// associated data. Unknown tags, truncated headers and out-of-range KDF
// parameters are rejected before any key derivation runs.
package keywrap
