package types

import "time"

// Delivered is one blob returned by the delivery collaborator.
type Delivered struct {
	Channel        string    `json:"channel"`
	Seq            uint64    `json:"seq"`
	Epoch          uint64    `json:"epoch"`
	IdempotencyKey string    `json:"idempotency_key"`
	Blob           []byte    `json:"blob"`
	ReceivedAt     time.Time `json:"received_at"`
}

// ConversationMode selects the crypto provider of a conversation.
type ConversationMode string

const (
	ModeEnvelope ConversationMode = "envelope"
	ModeGroup    ConversationMode = "group"
)

// Payload is the wire form of a conversation message. Mode says which of
// Sealed or Group is set. Attachments carries the encrypted attachments of
// a group message; sealed messages hold their own.
type Payload struct {
	Mode        ConversationMode      `json:"mode"`
	Sealed      *SealedMessage        `json:"sealed,omitempty"`
	Group       *MLSMessage           `json:"group,omitempty"`
	Attachments []EncryptedAttachment `json:"attachments,omitempty"`
}
