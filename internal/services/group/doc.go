// Package group runs the epoch state machine of encrypted groups.
//
// A group advances from epoch N to N+1 through a signed commit. The commit
// secret is sealed to every member that remains, new members receive a
// welcome carrying the epoch secret, and application messages are encrypted
// under a per-sender key of the current epoch. State is persisted after every
// transition with a checksum; a corrupted record is rebuilt from the
// handshake log when one is configured.
//
// Messages that arrive ahead of the local epoch are buffered and released in
// order once the commits they depend on have been applied.
package group
