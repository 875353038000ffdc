package types

import "time"

// GroupState is one device's view of a group at a single epoch.
type GroupState struct {
	GroupID            GroupID                   `json:"group_id"`
	Epoch              uint64                    `json:"epoch"`
	TreeHash           []byte                    `json:"tree_hash"`
	TranscriptHash     []byte                    `json:"transcript_hash"`
	MemberKeys         map[Fingerprint]PublicKey `json:"member_keys"`
	SelfIndex          uint32                    `json:"self_index"`
	SelfFingerprint    Fingerprint               `json:"self_fingerprint"`
	RatchetMaterial    []byte                    `json:"ratchet_material"`
	EpochEncryptionKey []byte                    `json:"epoch_encryption_key"`
	SenderDataSecret   []byte                    `json:"sender_data_secret"`
}

// KeyPackage is published by a device that wants to be added to a group.
type KeyPackage struct {
	DeviceFingerprint Fingerprint `json:"device_fingerprint"`
	PublicKey         PublicKey   `json:"public_key"`
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
	Signature         []byte      `json:"signature,omitempty"`
}

// MessageKind tags the two MLSMessage variants.
type MessageKind string

const (
	KindHandshake   MessageKind = "handshake"
	KindApplication MessageKind = "application"
)

// HandshakeType tags the handshake variants.
type HandshakeType string

const (
	HandshakeWelcome    HandshakeType = "welcome"
	HandshakeGroupInfo  HandshakeType = "group_info"
	HandshakeKeyPackage HandshakeType = "key_package"
	HandshakeProposal   HandshakeType = "proposal"
	HandshakeCommit     HandshakeType = "commit"
)

// MLSMessage is a group message. Exactly one of Handshake or Application is
// set, matching Kind.
type MLSMessage struct {
	GroupID     GroupID             `json:"group_id"`
	Epoch       uint64              `json:"epoch"`
	Sender      Fingerprint         `json:"sender"`
	Kind        MessageKind         `json:"kind"`
	Handshake   *Handshake          `json:"handshake,omitempty"`
	Application *ApplicationMessage `json:"application,omitempty"`
}

// Handshake carries exactly one body matching Type.
type Handshake struct {
	Type       HandshakeType `json:"type"`
	Welcome    *Welcome      `json:"welcome,omitempty"`
	GroupInfo  *GroupInfo    `json:"group_info,omitempty"`
	KeyPackage *KeyPackage   `json:"key_package,omitempty"`
	Proposal   *Proposal     `json:"proposal,omitempty"`
	Commit     *Commit       `json:"commit,omitempty"`
}

// ProposalType names a roster change.
type ProposalType string

const (
	ProposalAdd    ProposalType = "add"
	ProposalRemove ProposalType = "remove"
)

// Proposal is one roster change inside a commit.
type Proposal struct {
	Type       ProposalType `json:"type"`
	KeyPackage *KeyPackage  `json:"key_package,omitempty"`
	Removed    Fingerprint  `json:"removed,omitempty"`
}

// SealedSecret is a secret HPKE-sealed to one member.
type SealedSecret struct {
	Recipient  Fingerprint `json:"recipient"`
	Enc        []byte      `json:"enc"`
	Ciphertext []byte      `json:"ciphertext"`
}

// Commit moves a group to the epoch of its enclosing message.
type Commit struct {
	Proposals       []Proposal     `json:"proposals"`
	Secrets         []SealedSecret `json:"secrets"`
	TranscriptHash  []byte         `json:"transcript_hash"`
	ConfirmationTag []byte         `json:"confirmation_tag"`
	Signature       []byte         `json:"signature"`
}

// GroupInfo is the signed public context of a group at one epoch.
type GroupInfo struct {
	GroupID        GroupID                   `json:"group_id"`
	Epoch          uint64                    `json:"epoch"`
	TreeHash       []byte                    `json:"tree_hash"`
	TranscriptHash []byte                    `json:"transcript_hash"`
	MemberKeys     map[Fingerprint]PublicKey `json:"member_keys"`
	Signer         Fingerprint               `json:"signer"`
	Signature      []byte                    `json:"signature"`
}

// Welcome bootstraps one new member into a group.
type Welcome struct {
	Recipient Fingerprint  `json:"recipient"`
	Secret    SealedSecret `json:"secret"`
	GroupInfo GroupInfo    `json:"group_info"`
}

// ApplicationMessage is an encrypted group chat message.
type ApplicationMessage struct {
	Nonce             []byte `json:"nonce"`
	Ciphertext        []byte `json:"ciphertext"`
	AuthenticatedData []byte `json:"authenticated_data,omitempty"`
	Signature         []byte `json:"signature"`
}

// DecryptedGroupMessage is the result of opening an application message.
type DecryptedGroupMessage struct {
	GroupID     GroupID
	Epoch       uint64
	Sender      Fingerprint
	Plaintext   []byte
	Timestamp   time.Time
	Attachments []OpenedAttachment
	Verified    bool
}
