// Package unlock chooses between passphrase and biometric unlock for a
// device and caches the resulting key handle in the vault.
package unlock
