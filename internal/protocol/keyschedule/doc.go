// Package keyschedule derives the per-epoch secrets of a group.
//
// Each commit contributes a fresh commit secret. It is combined with the
// previous epoch's init secret and the group context to produce the epoch
// secret, from which the encryption key, the sender-data secret, the next
// init secret and the confirmation key are expanded under distinct labels.
//
// Functions here are pure and hold no state; callers serialise access to the
// group state they feed in.
package keyschedule
