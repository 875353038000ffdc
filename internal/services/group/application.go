package group

import (
	"context"
	"encoding/json"
	"errors"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/protocol/keyschedule"
	"sealroom/internal/protocol/payload"
	"sealroom/internal/util/memzero"
)

type applicationAAD struct {
	GroupID           domain.GroupID     `json:"group_id"`
	Epoch             uint64             `json:"epoch"`
	Sender            domain.Fingerprint `json:"sender"`
	AuthenticatedData []byte             `json:"authenticated_data,omitempty"`
}

func appAAD(msg domain.MLSMessage, ad []byte) ([]byte, error) {
	return json.Marshal(applicationAAD{GroupID: msg.GroupID, Epoch: msg.Epoch, Sender: msg.Sender, AuthenticatedData: ad})
}

// EncryptApplicationMessage encrypts plaintext for the current epoch of groupID.
func (e *Engine) EncryptApplicationMessage(
	ctx context.Context,
	groupID domain.GroupID,
	plaintext []byte,
	signer *domain.UnlockedKeyHandle,
	attachments []domain.Attachment,
) (domain.MLSMessage, []domain.EncryptedAttachment, error) {
	return e.EncryptApplicationMessageWithData(ctx, groupID, plaintext, nil, signer, attachments)
}

// EncryptApplicationMessageWithData is EncryptApplicationMessage with
// unencrypted authenticated data carried alongside the ciphertext.
func (e *Engine) EncryptApplicationMessageWithData(
	ctx context.Context,
	groupID domain.GroupID,
	plaintext, authenticatedData []byte,
	signer *domain.UnlockedKeyHandle,
	attachments []domain.Attachment,
) (domain.MLSMessage, []domain.EncryptedAttachment, error) {
	if signer == nil {
		return domain.MLSMessage{}, nil, domain.Invalid("handle", "required")
	}
	if err := payload.ValidateAttachments(attachments); err != nil {
		return domain.MLSMessage{}, nil, err
	}
	unlock := e.locks.lock(groupID)
	defer unlock()
	st, err := e.loadOwned(ctx, groupID, signer)
	if err != nil {
		return domain.MLSMessage{}, nil, err
	}

	key, err := keyschedule.SenderKey(st.EpochEncryptionKey, st.SenderDataSecret, signer.Fingerprint)
	if err != nil {
		return domain.MLSMessage{}, nil, err
	}
	defer memzero.Zero(key)

	attKeys, attCTs, err := payload.SealAttachments(key, attachments)
	if err != nil {
		return domain.MLSMessage{}, nil, &domain.CryptoError{Op: "encrypt", Message: "seal attachments", Err: err}
	}
	msg := domain.MLSMessage{
		GroupID: groupID,
		Epoch:   st.Epoch,
		Sender:  signer.Fingerprint,
		Kind:    domain.KindApplication,
	}
	aad, err := appAAD(msg, authenticatedData)
	if err != nil {
		return domain.MLSMessage{}, nil, err
	}
	blob, err := payload.Seal(key, payload.Body{Text: plaintext, Timestamp: e.now().UTC(), Attachments: attKeys}, aad)
	if err != nil {
		return domain.MLSMessage{}, nil, &domain.CryptoError{Op: "encrypt", Message: "seal body", Err: err}
	}
	msg.Application = &domain.ApplicationMessage{
		Nonce:             blob[:crypto.NonceSize],
		Ciphertext:        blob[crypto.NonceSize:],
		AuthenticatedData: authenticatedData,
	}
	sb, err := signingBytes(msg)
	if err != nil {
		return domain.MLSMessage{}, nil, err
	}
	msg.Application.Signature = crypto.SignEd25519(signer.Signing, sb)
	return msg, attCTs, nil
}

// DecryptApplicationMessage opens msg at the local epoch. An unknown group or
// a later epoch returns ErrFutureEpoch, an earlier epoch ErrStaleEpoch.
func (e *Engine) DecryptApplicationMessage(ctx context.Context, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) (domain.DecryptedGroupMessage, error) {
	if me == nil {
		return domain.DecryptedGroupMessage{}, domain.Invalid("handle", "required")
	}
	if msg.Kind != domain.KindApplication || msg.Application == nil {
		return domain.DecryptedGroupMessage{}, domain.Invalid("message", "not an application message")
	}
	unlock := e.locks.lock(msg.GroupID)
	defer unlock()
	st, err := e.loadOwned(ctx, msg.GroupID, me)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DecryptedGroupMessage{}, futureEpoch(0, msg.Epoch)
	}
	if err != nil {
		return domain.DecryptedGroupMessage{}, err
	}
	return openApplication(st, msg)
}

func openApplication(st domain.GroupState, msg domain.MLSMessage) (domain.DecryptedGroupMessage, error) {
	switch {
	case msg.Epoch > st.Epoch:
		return domain.DecryptedGroupMessage{}, futureEpoch(st.Epoch, msg.Epoch)
	case msg.Epoch < st.Epoch:
		return domain.DecryptedGroupMessage{}, staleEpoch(st.Epoch, msg.Epoch)
	}
	app := msg.Application

	key, err := keyschedule.SenderKey(st.EpochEncryptionKey, st.SenderDataSecret, msg.Sender)
	if err != nil {
		return domain.DecryptedGroupMessage{}, err
	}
	defer memzero.Zero(key)
	aad, err := appAAD(msg, app.AuthenticatedData)
	if err != nil {
		return domain.DecryptedGroupMessage{}, err
	}
	blob := make([]byte, 0, len(app.Nonce)+len(app.Ciphertext))
	blob = append(append(blob, app.Nonce...), app.Ciphertext...)
	body, err := payload.Open(key, blob, aad)
	if err != nil {
		return domain.DecryptedGroupMessage{}, &domain.CryptoError{Op: "decrypt", Message: "group message failed authentication", Err: err}
	}
	opened, err := payload.UnwrapAttachmentKeys(key, body.Attachments)
	if err != nil {
		return domain.DecryptedGroupMessage{}, err
	}

	verified := false
	if pub, ok := st.MemberKeys[msg.Sender]; ok {
		if sb, err := signingBytes(msg); err == nil {
			verified = crypto.VerifyEd25519(pub.Signing, sb, app.Signature)
		}
	}
	return domain.DecryptedGroupMessage{
		GroupID:     msg.GroupID,
		Epoch:       msg.Epoch,
		Sender:      msg.Sender,
		Plaintext:   body.Text,
		Timestamp:   body.Timestamp,
		Attachments: opened,
		Verified:    verified,
	}, nil
}

// OpenAttachment decrypts an attachment of a group message.
func (e *Engine) OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error) {
	return payload.OpenAttachment(att, ciphertext)
}

// Compile-time assertion that Engine implements domain.GroupMessenger.
var _ domain.GroupMessenger = (*Engine)(nil)
