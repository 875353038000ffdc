// Package commands defines the sealroom CLI.
//
// Commands
//
//   - init           Create a device identity
//   - fingerprint    Print the device fingerprint, or a safety code with a peer
//   - devices        List identities in the vault
//   - passwd         Change the passphrase
//   - recovery       Print the recovery phrase, or restore from one
//   - biometric      Enable or disable biometric unlock
//   - publish        Publish the device and a key package to the relay
//   - send, recv     Envelope-encrypted rooms
//   - group          Group conversations: create, add, remove, send, sync, members
//
// Passphrases are never taken as flags. They are read from
// SEALROOM_PASSPHRASE, or line by line from stdin.
package commands
