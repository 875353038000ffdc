package group

import (
	"encoding/json"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
)

// DefaultKeyPackageTTL is how long a published key package stays valid.
const DefaultKeyPackageTTL = 7 * 24 * time.Hour

// NewKeyPackage returns a self-signed key package for h.
func NewKeyPackage(h *domain.UnlockedKeyHandle, ttl time.Duration, now time.Time) (domain.KeyPackage, error) {
	if h == nil {
		return domain.KeyPackage{}, domain.Invalid("handle", "required")
	}
	if ttl <= 0 {
		ttl = DefaultKeyPackageTTL
	}
	kp := domain.KeyPackage{
		DeviceFingerprint: h.Fingerprint,
		PublicKey:         h.Public,
		CreatedAt:         now.UTC(),
		ExpiresAt:         now.UTC().Add(ttl),
	}
	msg, err := keyPackageBytes(kp)
	if err != nil {
		return domain.KeyPackage{}, err
	}
	kp.Signature = crypto.SignEd25519(h.Signing, msg)
	return kp, nil
}

// VerifyKeyPackage checks signature, binding and, when now is non-zero,
// expiry.
func VerifyKeyPackage(kp domain.KeyPackage, now time.Time) error {
	if kp.PublicKey.IsZero() {
		return domain.Invalid("key package", "empty public key")
	}
	if crypto.Fingerprint(kp.PublicKey) != kp.DeviceFingerprint {
		return domain.Invalid("key package", "fingerprint does not match key material")
	}
	msg, err := keyPackageBytes(kp)
	if err != nil {
		return err
	}
	if !crypto.VerifyEd25519(kp.PublicKey.Signing, msg, kp.Signature) {
		return domain.Invalid("key package", "bad signature for "+kp.DeviceFingerprint.Short())
	}
	if !now.IsZero() && !now.Before(kp.ExpiresAt) {
		return domain.Invalid("key package", kp.DeviceFingerprint.Short()+" expired")
	}
	return nil
}

func keyPackageBytes(kp domain.KeyPackage) ([]byte, error) {
	kp.Signature = nil
	return json.Marshal(kp)
}
