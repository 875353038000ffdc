package relay

import "sealroom/internal/domain"

type deviceBody struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	PublicKey   domain.PublicKey   `json:"public_key"`
}

type postBody struct {
	Epoch uint64 `json:"epoch"`
	Blob  []byte `json:"blob"`
}

type seqBody struct {
	Seq uint64 `json:"seq"`
}

type errorBody struct {
	Error string `json:"error"`
}

// IdempotencyHeader carries the client's idempotency key on posts.
const IdempotencyHeader = "Idempotency-Key"
