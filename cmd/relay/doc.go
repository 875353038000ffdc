// Package main runs the sealroom relay: an in-memory store-and-forward
// server for device keys, key packages and sequenced channel messages.
//
// Usage
//
//	relay --addr :8080 --log-level info --log-format text
//
// The routes are documented in internal/relay. State lives in memory and is
// lost on exit. The relay only ever holds ciphertext and public keys.
package main
