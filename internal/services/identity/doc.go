// Package identity creates device identities and wraps, unwraps and re-wraps
// their private seed under a passphrase.
//
// Each identity is derived from a single 32-byte seed. The seed is wrapped
// with internal/keywrap and stored through the vault; it can also be exported
// as a 24-word BIP-39 recovery phrase and restored from one. Key derivation
// runs on a bounded pool so concurrent unlocks cannot exhaust memory, and
// unlock attempts are throttled per fingerprint.
package identity
