package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/util/memzero"
)

// RecoveryPhrase encodes the handle's seed as a 24-word BIP-39 mnemonic.
func RecoveryPhrase(h *domain.UnlockedKeyHandle) (string, error) {
	if h == nil {
		return "", domain.Invalid("handle", "required")
	}
	return bip39.NewMnemonic(h.Seed[:])
}

// RestoreIdentity rebuilds an identity from its recovery phrase and wraps it
// under passphrase. If the device is already stored its record is re-wrapped
// in place.
func (s *Service) RestoreIdentity(ctx context.Context, mnemonic, name, email, passphrase string) (domain.Identity, error) {
	mnemonic = strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return domain.Identity{}, domain.Invalid("mnemonic", "invalid recovery phrase")
	}
	if err := s.checkPassphrase(passphrase); err != nil {
		return domain.Identity{}, err
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return domain.Identity{}, domain.Invalid("mnemonic", "invalid recovery phrase")
	}
	defer memzero.Zero(entropy)
	if len(entropy) != len(domain.Seed{}) {
		return domain.Identity{}, domain.Invalid("mnemonic", "recovery phrase must be 24 words")
	}
	var seed domain.Seed
	copy(seed[:], entropy)
	defer memzero.Zero(seed[:])

	pub, _, _, err := crypto.DeriveKeys(seed)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("derive keys: %w", err)
	}
	existing, err := s.vault.GetDeviceByFingerprint(ctx, crypto.Fingerprint(pub))
	switch {
	case err == nil:
		wrapped, err := s.wrap(ctx, seed[:], passphrase)
		if err != nil {
			return domain.Identity{}, err
		}
		existing.WrappedPrivateKey = wrapped
		existing.BiometricWrappedKey = nil
		if err := s.vault.StoreDevice(ctx, existing); err != nil {
			return domain.Identity{}, fmt.Errorf("store device: %w", err)
		}
		return existing, nil
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.Identity{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Identity{}, domain.Invalid("name", "must not be empty")
	}
	return s.storeNew(ctx, seed, name, strings.TrimSpace(email), passphrase)
}
