// Package envelope seals one message to many devices.
//
// A random session key encrypts the body and attachments once. Each recipient
// receives an HPKE key packet carrying that session key, and the author signs
// the envelope together with a digest of the ciphertext. Decryption locates
// the packet for the local device, opens the body and reports whether the
// signature verified; a bad signature is a result, not an error.
package envelope
