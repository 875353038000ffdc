package types

import "time"

// EnvelopeVersion is the only envelope version this build produces and accepts.
const EnvelopeVersion = 1

// AlgorithmSuite names the primitives an envelope was sealed with.
type AlgorithmSuite struct {
	AEAD string `json:"aead"`
	Hash string `json:"hash"`
	KEM  string `json:"kem"`
}

// KeyPacket is one recipient's encrypted copy of a message session key.
type KeyPacket struct {
	Fingerprint        Fingerprint `json:"fpr"`
	EncryptedKeyPacket []byte      `json:"encryptedKeyPacket"`
}

// AttachmentKey describes one encrypted attachment. WrappedFileKey is the
// attachment's file key sealed under the message key.
type AttachmentKey struct {
	Name           string `json:"name"`
	WrappedFileKey []byte `json:"wrappedFileKey"`
	MIME           string `json:"mime"`
	Size           int64  `json:"size"`
	SHA256         string `json:"sha256"`
}

// MessageEnvelope is the signed metadata that accompanies a message
// ciphertext. It is immutable once created.
type MessageEnvelope struct {
	Version           int             `json:"v"`
	RoomID            RoomID          `json:"roomId"`
	AuthorFingerprint Fingerprint     `json:"authorFingerprint"`
	Recipients        []KeyPacket     `json:"recipients"`
	SignerFingerprint Fingerprint     `json:"signerFingerprint"`
	Algorithm         AlgorithmSuite  `json:"algo"`
	CreatedAt         time.Time       `json:"createdAt"`
	HasAttachments    bool            `json:"hasAttachments"`
	AttachmentKeys    []AttachmentKey `json:"attachmentKeys,omitempty"`
	Signature         []byte          `json:"signature,omitempty"`
}

// Packet returns the key packet addressed to fpr.
func (e MessageEnvelope) Packet(fpr Fingerprint) (KeyPacket, bool) {
	for _, p := range e.Recipients {
		if p.Fingerprint == fpr {
			return p, true
		}
	}
	return KeyPacket{}, false
}

// Recipient is a device a message is encrypted to.
type Recipient struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	PublicKey   PublicKey   `json:"public_key"`
}

// Attachment is plaintext attachment input.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// EncryptedAttachment is the sealed form of an attachment, handed to the
// attachment storage collaborator.
type EncryptedAttachment struct {
	Name       string `json:"name"`
	Ciphertext []byte `json:"ciphertext"`
}

// OpenedAttachment is an attachment record together with its unwrapped file key.
type OpenedAttachment struct {
	AttachmentKey
	FileKey []byte `json:"-"`
}

// SealedMessage is the output of envelope encryption.
type SealedMessage struct {
	Envelope    MessageEnvelope       `json:"envelope"`
	Ciphertext  []byte                `json:"ciphertext"`
	Attachments []EncryptedAttachment `json:"attachments,omitempty"`
}

// DecryptedMessage is the result of opening an envelope.
type DecryptedMessage struct {
	Plaintext         []byte
	Timestamp         time.Time
	Attachments       []OpenedAttachment
	Verified          bool
	SignerFingerprint Fingerprint
}
