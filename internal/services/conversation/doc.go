// Package conversation sends and receives messages over a Delivery
// collaborator, choosing per conversation between envelope encryption and
// the group engine.
//
// Send: seal with the conversation's provider, wrap the result in a
// domain.Payload and post it with a fresh idempotency key.
//
// Receive: fetch everything after the stored cursor, open each payload with
// the provider named by its mode, and advance the cursor only past messages
// that were handled. A transient failure stops the batch and leaves the rest
// for the next call.
package conversation
