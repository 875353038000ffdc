package domain

import (
	interfaces "sealroom/internal/domain/interfaces"
	types "sealroom/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	DeviceID              = types.DeviceID
	Fingerprint           = types.Fingerprint
	RoomID                = types.RoomID
	GroupID               = types.GroupID
	ConversationID        = types.ConversationID
	ConversationMode      = types.ConversationMode
	X25519Public          = types.X25519Public
	X25519Private         = types.X25519Private
	Ed25519Public         = types.Ed25519Public
	Ed25519Private        = types.Ed25519Private
	Seed                  = types.Seed
	PublicKey             = types.PublicKey
	Identity              = types.Identity
	UnlockedKeyHandle     = types.UnlockedKeyHandle
	AlgorithmSuite        = types.AlgorithmSuite
	KeyPacket             = types.KeyPacket
	AttachmentKey         = types.AttachmentKey
	MessageEnvelope       = types.MessageEnvelope
	Recipient             = types.Recipient
	Attachment            = types.Attachment
	EncryptedAttachment   = types.EncryptedAttachment
	OpenedAttachment      = types.OpenedAttachment
	SealedMessage         = types.SealedMessage
	DecryptedMessage      = types.DecryptedMessage
	GroupState            = types.GroupState
	KeyPackage            = types.KeyPackage
	MessageKind           = types.MessageKind
	HandshakeType         = types.HandshakeType
	MLSMessage            = types.MLSMessage
	Handshake             = types.Handshake
	ProposalType          = types.ProposalType
	Proposal              = types.Proposal
	SealedSecret          = types.SealedSecret
	Commit                = types.Commit
	GroupInfo             = types.GroupInfo
	Welcome               = types.Welcome
	ApplicationMessage    = types.ApplicationMessage
	DecryptedGroupMessage = types.DecryptedGroupMessage
	Delivered             = types.Delivered
	Payload               = types.Payload
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	DeviceStore     = interfaces.DeviceStore
	SettingStore    = interfaces.SettingStore
	KeyCache        = interfaces.KeyCache
	KeyVault        = interfaces.KeyVault
	Delivery        = interfaces.Delivery
	Directory       = interfaces.Directory
	HandshakeLog    = interfaces.HandshakeLog
	Biometric       = interfaces.Biometric
	IdentityService = interfaces.IdentityService
	EnvelopeCodec   = interfaces.EnvelopeCodec
	GroupMessenger  = interfaces.GroupMessenger
)

// Re-exported constants.
const (
	PublicKeySize   = types.PublicKeySize
	EnvelopeVersion = types.EnvelopeVersion

	KindHandshake   = types.KindHandshake
	KindApplication = types.KindApplication

	HandshakeWelcome    = types.HandshakeWelcome
	HandshakeGroupInfo  = types.HandshakeGroupInfo
	HandshakeKeyPackage = types.HandshakeKeyPackage
	HandshakeProposal   = types.HandshakeProposal
	HandshakeCommit     = types.HandshakeCommit

	ProposalAdd    = types.ProposalAdd
	ProposalRemove = types.ProposalRemove

	ModeEnvelope = types.ModeEnvelope
	ModeGroup    = types.ModeGroup
)

// ParsePublicKey decodes encryption || signing key bytes.
func ParsePublicKey(b []byte) (PublicKey, error) { return types.ParsePublicKey(b) }
