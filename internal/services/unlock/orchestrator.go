package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sealroom/internal/domain"
	"sealroom/internal/keywrap"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/util/memzero"
)

const biometricPrefix = "biometric/"

func flagKey(fpr domain.Fingerprint) string { return biometricPrefix + fpr.String() }

// Orchestrator unlocks devices through an IdentityService, optionally behind
// a biometric layer.
type Orchestrator struct {
	vault    domain.KeyVault
	identity domain.IdentityService
	bio      domain.Biometric
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBiometric sets the platform biometric. Without one every biometric
// request falls back to the passphrase.
func WithBiometric(b domain.Biometric) Option { return func(o *Orchestrator) { o.bio = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New returns an orchestrator over vault and identity.
func New(vault domain.KeyVault, identity domain.IdentityService, opts ...Option) *Orchestrator {
	o := &Orchestrator{vault: vault, identity: identity, log: logging.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Unlock unlocks fpr. When useBiometric is set and biometric unlock is
// enabled for the device the biometric layer is tried first; a denied or
// unavailable biometric falls back to passphrase when one is given.
func (o *Orchestrator) Unlock(ctx context.Context, fpr domain.Fingerprint, passphrase string, useBiometric bool) (*domain.UnlockedKeyHandle, error) {
	if !useBiometric {
		return o.identity.Unlock(ctx, fpr, passphrase)
	}
	enabled, err := o.BiometricEnabled(ctx, fpr)
	if err != nil {
		return nil, err
	}
	if !enabled {
		if passphrase == "" {
			return nil, &domain.CapabilityError{Capability: "biometric", Message: "not enabled for this device"}
		}
		return o.identity.Unlock(ctx, fpr, passphrase)
	}

	h, err := o.unlockBiometric(ctx, fpr, passphrase)
	o.metrics.ObserveUnlock("biometric", err)
	switch {
	case err == nil:
		o.vault.StoreUnlockedKey(h)
		o.log.Debug("unlocked with biometric", "fingerprint", fpr.String())
		return h, nil
	case errors.Is(err, domain.ErrBiometricDenied), errors.Is(err, domain.ErrBiometricUnavailable):
		if passphrase == "" {
			return nil, &domain.CapabilityError{Capability: "biometric", Message: "no passphrase to fall back to", Err: err}
		}
		o.log.Info("biometric failed, using passphrase", "fingerprint", fpr.String(), "err", err)
		return o.identity.Unlock(ctx, fpr, passphrase)
	default:
		return nil, err
	}
}

func (o *Orchestrator) unlockBiometric(ctx context.Context, fpr domain.Fingerprint, passphrase string) (*domain.UnlockedKeyHandle, error) {
	if o.bio == nil || !o.bio.Available(ctx) {
		return nil, domain.ErrBiometricUnavailable
	}
	dev, err := o.vault.GetDeviceByFingerprint(ctx, fpr)
	if err != nil {
		return nil, err
	}
	key, err := o.bio.WrappingKey(ctx, fpr)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key[:])

	if len(dev.BiometricWrappedKey) == 0 {
		return o.enroll(ctx, dev, key[:], passphrase)
	}

	inner, err := keywrap.UnwrapWithKey(key[:], dev.BiometricWrappedKey)
	if err != nil {
		return nil, domain.ErrInvalidPassphrase()
	}
	if passphrase == "" {
		return nil, domain.Invalid("passphrase", "required for the inner layer")
	}
	h, err := o.identity.UnlockWrapped(ctx, fpr, inner, passphrase)
	if err != nil {
		return nil, err
	}
	if h.Fingerprint != dev.Fingerprint {
		h.Wipe()
		return nil, &domain.CorruptionError{Kind: "device", ID: dev.ID.String(), Message: "biometric copy does not match public key"}
	}
	return h, nil
}

// enroll unlocks with the passphrase and stores the biometric copy of the
// passphrase-wrapped key.
func (o *Orchestrator) enroll(ctx context.Context, dev domain.Identity, key []byte, passphrase string) (*domain.UnlockedKeyHandle, error) {
	if passphrase == "" {
		return nil, domain.Invalid("passphrase", "required to enroll biometric unlock")
	}
	h, err := o.identity.Unlock(ctx, dev.Fingerprint, passphrase)
	if err != nil {
		return nil, err
	}
	blob, err := keywrap.WrapWithKey(key, dev.WrappedPrivateKey)
	if err != nil {
		return nil, &domain.CryptoError{Op: "enroll biometric", Message: "wrap failed", Err: err}
	}
	dev.BiometricWrappedKey = blob
	if err := o.vault.StoreDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("store device: %w", err)
	}
	o.log.Info("biometric copy stored", "fingerprint", dev.Fingerprint.String())
	return h, nil
}

// BiometricEnabled reports whether the biometric flag is set for fpr.
func (o *Orchestrator) BiometricEnabled(ctx context.Context, fpr domain.Fingerprint) (bool, error) {
	_, err := o.vault.GetSetting(ctx, flagKey(fpr))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// EnableBiometric sets the biometric flag for an existing device. The
// biometric copy is created on the next biometric unlock.
func (o *Orchestrator) EnableBiometric(ctx context.Context, fpr domain.Fingerprint) error {
	if _, err := o.vault.GetDeviceByFingerprint(ctx, fpr); err != nil {
		return err
	}
	if o.bio == nil || !o.bio.Available(ctx) {
		return &domain.CapabilityError{Capability: "biometric", Message: "no biometric on this platform", Err: domain.ErrBiometricUnavailable}
	}
	return o.vault.StoreSetting(ctx, flagKey(fpr), []byte("1"))
}

// DisableBiometric clears the flag and drops the biometric copy.
func (o *Orchestrator) DisableBiometric(ctx context.Context, fpr domain.Fingerprint) error {
	dev, err := o.vault.GetDeviceByFingerprint(ctx, fpr)
	if err != nil {
		return err
	}
	if err := o.vault.DeleteSetting(ctx, flagKey(fpr)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if dev.BiometricWrappedKey == nil {
		return nil
	}
	dev.BiometricWrappedKey = nil
	return o.vault.StoreDevice(ctx, dev)
}
