package keyschedule

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/util/memzero"
)

// SecretSize is the length of every secret in the schedule.
const SecretSize = 32

const (
	labelEpoch        = "sealroom epoch"
	labelEncryption   = "sealroom epoch encryption"
	labelSenderData   = "sealroom sender data"
	labelInit         = "sealroom init"
	labelConfirmation = "sealroom confirm"
	labelSender       = "app|"
)

// Epoch holds the secrets expanded from one epoch secret.
type Epoch struct {
	EncryptionKey    []byte
	SenderDataSecret []byte
	InitSecret       []byte
	ConfirmationKey  []byte
}

// Wipe zeroes every secret.
func (e *Epoch) Wipe() {
	memzero.Zero(e.EncryptionKey)
	memzero.Zero(e.SenderDataSecret)
	memzero.Zero(e.InitSecret)
	memzero.Zero(e.ConfirmationKey)
}

// GroupContext binds an epoch secret to the group's public state.
func GroupContext(groupID domain.GroupID, epoch uint64, treeHash, transcriptHash []byte) []byte {
	out := make([]byte, 0, 4+len(groupID)+8+2*(4+sha256.Size))
	out = appendField(out, []byte(groupID))
	out = binary.BigEndian.AppendUint64(out, epoch)
	out = appendField(out, treeHash)
	out = appendField(out, transcriptHash)
	return out
}

func appendField(out, b []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
	return append(out, b...)
}

// EpochSecret combines the previous init secret with a commit secret.
func EpochSecret(initSecret, commitSecret, groupContext []byte) ([]byte, error) {
	prk := crypto.Extract(commitSecret, initSecret)
	defer memzero.Zero(prk)
	info := append([]byte(labelEpoch), groupContext...)
	return crypto.ExpandPRK(prk, info, SecretSize)
}

// Derive expands an epoch secret.
func Derive(epochSecret []byte) (Epoch, error) {
	var e Epoch
	var err error
	if e.EncryptionKey, err = crypto.Expand(epochSecret, nil, labelEncryption, SecretSize); err != nil {
		return Epoch{}, err
	}
	if e.SenderDataSecret, err = crypto.Expand(epochSecret, nil, labelSenderData, SecretSize); err != nil {
		return Epoch{}, err
	}
	if e.InitSecret, err = crypto.Expand(epochSecret, nil, labelInit, SecretSize); err != nil {
		return Epoch{}, err
	}
	if e.ConfirmationKey, err = crypto.Expand(epochSecret, nil, labelConfirmation, SecretSize); err != nil {
		return Epoch{}, err
	}
	return e, nil
}

// SenderKey is the application key of one sender within an epoch.
func SenderKey(encryptionKey, senderDataSecret []byte, sender domain.Fingerprint) ([]byte, error) {
	return crypto.Expand(encryptionKey, senderDataSecret, labelSender+string(sender), crypto.KeySize)
}

// ConfirmationTag authenticates the transcript under the epoch's
// confirmation key.
func ConfirmationTag(confirmationKey, transcriptHash []byte) []byte {
	m := hmac.New(sha256.New, confirmationKey)
	m.Write(transcriptHash)
	return m.Sum(nil)
}

// VerifyConfirmation checks tag in constant time.
func VerifyConfirmation(confirmationKey, transcriptHash, tag []byte) bool {
	return hmac.Equal(ConfirmationTag(confirmationKey, transcriptHash), tag)
}

// TreeHash commits to the roster. Members are hashed in fingerprint order.
func TreeHash(members map[domain.Fingerprint]domain.PublicKey) []byte {
	h := sha256.New()
	for _, fpr := range SortedMembers(members) {
		pub := members[fpr]
		h.Write([]byte(fpr))
		h.Write(pub.Bytes())
	}
	return h.Sum(nil)
}

// TranscriptHash chains commit content onto the previous transcript.
func TranscriptHash(prev, content []byte) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write(content)
	return h.Sum(nil)
}

// InitialTranscript is the transcript hash of epoch 0.
func InitialTranscript() []byte { return make([]byte, sha256.Size) }

// InitialInitSecret is the init secret that epoch 0 is derived from.
func InitialInitSecret() []byte { return make([]byte, SecretSize) }

// SortedMembers returns the roster's fingerprints in ascending order.
func SortedMembers(members map[domain.Fingerprint]domain.PublicKey) []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, len(members))
	for fpr := range members {
		out = append(out, fpr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IndexOf returns fpr's position in SortedMembers, or -1.
func IndexOf(members map[domain.Fingerprint]domain.PublicKey, fpr domain.Fingerprint) int {
	for i, m := range SortedMembers(members) {
		if m == fpr {
			return i
		}
	}
	return -1
}
