package app

import (
	"context"
	"fmt"

	"sealroom/internal/domain"
)

// Device returns the local device identity. With several devices in the
// vault fpr selects one; it may be a prefix of the fingerprint.
func (w *Wire) Device(ctx context.Context, fpr string) (domain.Identity, error) {
	devices, err := w.Vault.ListDevices(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	var match []domain.Identity
	for _, d := range devices {
		if fpr == "" || len(fpr) <= len(d.Fingerprint) && string(d.Fingerprint[:len(fpr)]) == fpr {
			match = append(match, d)
		}
	}
	switch len(match) {
	case 0:
		if fpr == "" {
			return domain.Identity{}, &domain.NotFoundError{Kind: "device", Message: "no identity yet; run sealroom init"}
		}
		return domain.Identity{}, domain.NotFound("device", fpr)
	case 1:
		return match[0], nil
	default:
		return domain.Identity{}, domain.Invalid("device", fmt.Sprintf("%d devices match; pass --device", len(match)))
	}
}

// UnlockDevice selects a device and unlocks it through the orchestrator.
func (w *Wire) UnlockDevice(ctx context.Context, fpr, passphrase string, biometric bool) (domain.Identity, *domain.UnlockedKeyHandle, error) {
	dev, err := w.Device(ctx, fpr)
	if err != nil {
		return domain.Identity{}, nil, err
	}
	if h, ok := w.Vault.GetUnlockedKey(dev.Fingerprint); ok {
		return dev, h, nil
	}
	h, err := w.Unlock.Unlock(ctx, dev.Fingerprint, passphrase, biometric)
	if err != nil {
		return domain.Identity{}, nil, err
	}
	return dev, h, nil
}
