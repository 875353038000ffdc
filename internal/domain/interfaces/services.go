package interfaces

import (
	"context"

	domaintypes "sealroom/internal/domain/types"
)

// IdentityService creates device identities and wraps or unwraps their
// private material.
type IdentityService interface {
	GenerateIdentity(ctx context.Context, name, email, passphrase string) (domaintypes.Identity, error)
	UnlockPrivateKey(ctx context.Context, wrapped []byte, passphrase string) (*domaintypes.UnlockedKeyHandle, error)
	LockPrivateKey(ctx context.Context, h *domaintypes.UnlockedKeyHandle, passphrase string) ([]byte, error)
	UnlockWrapped(ctx context.Context, fpr domaintypes.Fingerprint, wrapped []byte, passphrase string) (*domaintypes.UnlockedKeyHandle, error)
	Unlock(ctx context.Context, fpr domaintypes.Fingerprint, passphrase string) (*domaintypes.UnlockedKeyHandle, error)
	ChangePassphrase(ctx context.Context, fpr domaintypes.Fingerprint, oldPassphrase, newPassphrase string) error
}

// EnvelopeCodec seals a message to many devices and opens it for one.
type EnvelopeCodec interface {
	EncryptToMany(
		ctx context.Context,
		roomID domaintypes.RoomID,
		plaintext []byte,
		recipients []domaintypes.Recipient,
		signer *domaintypes.UnlockedKeyHandle,
		attachments []domaintypes.Attachment,
	) (domaintypes.SealedMessage, error)
	DecryptFromMany(
		ctx context.Context,
		env domaintypes.MessageEnvelope,
		ciphertext []byte,
		me *domaintypes.UnlockedKeyHandle,
	) (domaintypes.DecryptedMessage, error)
}

// GroupMessenger is the part of the group engine conversations use.
type GroupMessenger interface {
	EncryptApplicationMessage(
		ctx context.Context,
		groupID domaintypes.GroupID,
		plaintext []byte,
		signer *domaintypes.UnlockedKeyHandle,
		attachments []domaintypes.Attachment,
	) (domaintypes.MLSMessage, []domaintypes.EncryptedAttachment, error)
	DecryptApplicationMessage(
		ctx context.Context,
		msg domaintypes.MLSMessage,
		me *domaintypes.UnlockedKeyHandle,
	) (domaintypes.DecryptedGroupMessage, error)
}
