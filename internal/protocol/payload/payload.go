// Package payload seals the plaintext body and attachments of a message under
// a symmetric message key. Envelope and group messages share it.
package payload

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/util/memzero"
)

// Body is the JSON document encrypted as a message's ciphertext.
type Body struct {
	Text        []byte                 `json:"text"`
	Timestamp   time.Time              `json:"timestamp"`
	Attachments []domain.AttachmentKey `json:"attachments,omitempty"`
}

// Seal encrypts body under key with aad.
func Seal(key []byte, body Body, aad []byte) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	defer memzero.Zero(raw)
	return crypto.Seal(key, raw, aad)
}

// Open reverses Seal.
func Open(key, ciphertext, aad []byte) (Body, error) {
	raw, err := crypto.Open(key, ciphertext, aad)
	if err != nil {
		return Body{}, err
	}
	defer memzero.Zero(raw)
	var b Body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Body{}, fmt.Errorf("decode body: %w", err)
	}
	return b, nil
}

func contentAAD(name string) []byte { return []byte("attachment|" + name) }
func wrapAAD(name string) []byte    { return []byte("file|" + name) }

// SealAttachments encrypts each attachment under a fresh file key and wraps
// that key under messageKey.
func SealAttachments(messageKey []byte, atts []domain.Attachment) ([]domain.AttachmentKey, []domain.EncryptedAttachment, error) {
	if len(atts) == 0 {
		return nil, nil, nil
	}
	keys := make([]domain.AttachmentKey, 0, len(atts))
	sealed := make([]domain.EncryptedAttachment, 0, len(atts))
	for _, a := range atts {
		fileKey, err := crypto.RandomBytes(crypto.KeySize)
		if err != nil {
			return nil, nil, err
		}
		ct, err := crypto.Seal(fileKey, a.Data, contentAAD(a.Name))
		if err != nil {
			memzero.Zero(fileKey)
			return nil, nil, err
		}
		wrapped, err := crypto.Seal(messageKey, fileKey, wrapAAD(a.Name))
		memzero.Zero(fileKey)
		if err != nil {
			return nil, nil, err
		}
		sum := sha256.Sum256(a.Data)
		keys = append(keys, domain.AttachmentKey{
			Name:           a.Name,
			WrappedFileKey: wrapped,
			MIME:           a.MIME,
			Size:           int64(len(a.Data)),
			SHA256:         hex.EncodeToString(sum[:]),
		})
		sealed = append(sealed, domain.EncryptedAttachment{Name: a.Name, Ciphertext: ct})
	}
	return keys, sealed, nil
}

// UnwrapAttachmentKeys recovers the file key of every record.
func UnwrapAttachmentKeys(messageKey []byte, keys []domain.AttachmentKey) ([]domain.OpenedAttachment, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]domain.OpenedAttachment, 0, len(keys))
	for _, k := range keys {
		fileKey, err := crypto.Open(messageKey, k.WrappedFileKey, wrapAAD(k.Name))
		if err != nil {
			return nil, &domain.CryptoError{Op: "unwrap attachment key", Message: "attachment " + k.Name + " failed authentication", Err: err}
		}
		out = append(out, domain.OpenedAttachment{AttachmentKey: k, FileKey: fileKey})
	}
	return out, nil
}

// OpenAttachment decrypts attachment bytes and checks them against the record.
func OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error) {
	if len(att.FileKey) != crypto.KeySize {
		return nil, domain.Invalid("attachment", "file key missing")
	}
	data, err := crypto.Open(att.FileKey, ciphertext, contentAAD(att.Name))
	if err != nil {
		return nil, &domain.CryptoError{Op: "open attachment", Message: "attachment " + att.Name + " failed authentication", Err: err}
	}
	if int64(len(data)) != att.Size {
		return nil, &domain.CryptoError{Op: "open attachment", Message: "attachment " + att.Name + " size mismatch"}
	}
	sum := sha256.Sum256(data)
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(att.SHA256)) != 1 {
		return nil, &domain.CryptoError{Op: "open attachment", Message: "attachment " + att.Name + " digest mismatch"}
	}
	return data, nil
}

// SameRecords reports whether a and b describe the same attachments.
func SameRecords(a, b []domain.AttachmentKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Name != y.Name || x.MIME != y.MIME || x.Size != y.Size || x.SHA256 != y.SHA256 ||
			subtle.ConstantTimeCompare(x.WrappedFileKey, y.WrappedFileKey) != 1 {
			return false
		}
	}
	return true
}

// ValidateAttachments rejects unnamed or duplicate attachments.
func ValidateAttachments(atts []domain.Attachment) error {
	seen := make(map[string]struct{}, len(atts))
	for _, a := range atts {
		if a.Name == "" {
			return domain.Invalid("attachments", "attachment name must not be empty")
		}
		if _, dup := seen[a.Name]; dup {
			return domain.Invalid("attachments", fmt.Sprintf("duplicate attachment %q", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}
