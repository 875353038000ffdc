// Package relay implements the store-and-forward service devices exchange
// ciphertext through, and the HTTP client that talks to it.
//
// The relay never sees plaintext or private keys. It holds:
//   - device public keys, checked against their fingerprint;
//   - signed key packages, handed out once each;
//   - per-channel message logs with server-assigned, monotonic sequence
//     numbers and idempotency keys;
//   - an index of group handshakes, used to rebuild corrupted group state.
//
// HTTP API
//
//	PUT  /v1/devices/{fpr}                  publish a device public key
//	GET  /v1/devices/{fpr}                  look one up
//	POST /v1/keypackages/{fpr}              publish a key package
//	POST /v1/keypackages/{fpr}/claim        take one key package
//	POST /v1/channels/{id}/messages         append; Idempotency-Key required
//	GET  /v1/channels/{id}/messages?after=N everything after sequence N
//	GET  /v1/channels/{id}/handshakes       group handshakes for group {id}
//	GET  /metrics                           Prometheus metrics
//
// A repeated idempotency key yields 409 with the original sequence number.
// Errors are JSON objects with an "error" field. All state is in memory.
package relay
