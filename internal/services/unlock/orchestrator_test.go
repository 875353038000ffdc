package unlock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sealroom/internal/domain"
	"sealroom/internal/services/identity"
	"sealroom/internal/services/unlock"
	"sealroom/internal/testutil"
	"sealroom/internal/util/ratelimit"
)

type fakeBiometric struct {
	available bool
	err       error
	key       [32]byte
	calls     int
}

func (b *fakeBiometric) Available(context.Context) bool { return b.available }

func (b *fakeBiometric) WrappingKey(context.Context, domain.Fingerprint) ([32]byte, error) {
	b.calls++
	if b.err != nil {
		return [32]byte{}, b.err
	}
	return b.key, nil
}

const pass = "orchestrated-passphrase"

func setup(t *testing.T, bio *fakeBiometric) (*unlock.Orchestrator, domain.KeyVault, domain.Identity) {
	t.Helper()
	v := testutil.Vault(t)
	svc := identity.New(v, identity.WithKDFParams(testutil.FastKDF()))
	id, err := svc.GenerateIdentity(context.Background(), "ivan", "", pass)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	var opts []unlock.Option
	if bio != nil {
		opts = append(opts, unlock.WithBiometric(bio))
	}
	return unlock.New(v, svc, opts...), v, id
}

func TestPassphraseUnlock(t *testing.T) {
	ctx := context.Background()
	o, v, id := setup(t, nil)

	h, err := o.Unlock(ctx, id.Fingerprint, pass, false)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if h.Fingerprint != id.Fingerprint {
		t.Fatal("wrong handle")
	}
	if _, ok := v.GetUnlockedKey(id.Fingerprint); !ok {
		t.Fatal("handle not cached")
	}
	if _, err := o.Unlock(ctx, id.Fingerprint, "not-the-passphrase", false); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("wrong passphrase: %v", err)
	}
}

func TestBiometricEnrollAndUnlock(t *testing.T) {
	ctx := context.Background()
	bio := &fakeBiometric{available: true, key: [32]byte{1, 2, 3}}
	o, v, id := setup(t, bio)

	if err := o.EnableBiometric(ctx, id.Fingerprint); err != nil {
		t.Fatalf("EnableBiometric: %v", err)
	}
	// first biometric unlock enrolls
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	dev, err := v.GetDeviceByFingerprint(ctx, id.Fingerprint)
	if err != nil {
		t.Fatalf("GetDeviceByFingerprint: %v", err)
	}
	if len(dev.BiometricWrappedKey) == 0 {
		t.Fatal("biometric copy not stored")
	}

	v.LockAllKeys()
	h, err := o.Unlock(ctx, id.Fingerprint, pass, true)
	if err != nil {
		t.Fatalf("biometric unlock: %v", err)
	}
	if h.Fingerprint != id.Fingerprint || bio.calls != 2 {
		t.Fatalf("fingerprint match %v, biometric calls %d", h.Fingerprint == id.Fingerprint, bio.calls)
	}
	if _, ok := v.GetUnlockedKey(id.Fingerprint); !ok {
		t.Fatal("handle not cached")
	}

	// a different platform key cannot open the outer layer
	bio.key = [32]byte{9}
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("wrong biometric key: %v", err)
	}
	bio.key = [32]byte{1, 2, 3}
	if _, err := o.Unlock(ctx, id.Fingerprint, "not-the-passphrase", true); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("wrong inner passphrase: %v", err)
	}
}

func TestBiometricFallback(t *testing.T) {
	ctx := context.Background()
	bio := &fakeBiometric{available: true}
	o, _, id := setup(t, bio)
	if err := o.EnableBiometric(ctx, id.Fingerprint); err != nil {
		t.Fatalf("EnableBiometric: %v", err)
	}

	bio.err = domain.ErrBiometricDenied
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); err != nil {
		t.Fatalf("fallback to passphrase: %v", err)
	}
	_, err := o.Unlock(ctx, id.Fingerprint, "", true)
	if !errors.Is(err, domain.ErrCapability) || !errors.Is(err, domain.ErrBiometricDenied) {
		t.Fatalf("denied without passphrase: %v", err)
	}

	bio.err = nil
	bio.available = false
	if _, err := o.Unlock(ctx, id.Fingerprint, "", true); !errors.Is(err, domain.ErrBiometricUnavailable) {
		t.Fatalf("unavailable without passphrase: %v", err)
	}
}

func TestEnableDisable(t *testing.T) {
	ctx := context.Background()
	o, v, id := setup(t, nil)
	if err := o.EnableBiometric(ctx, id.Fingerprint); !errors.Is(err, domain.ErrCapability) {
		t.Fatalf("enable without biometric: %v", err)
	}
	if _, err := o.Unlock(ctx, id.Fingerprint, "", true); !errors.Is(err, domain.ErrCapability) {
		t.Fatalf("biometric not enabled: %v", err)
	}

	bio := &fakeBiometric{available: true, key: [32]byte{7}}
	o = unlock.New(v, identity.New(v, identity.WithKDFParams(testutil.FastKDF())), unlock.WithBiometric(bio))
	if err := o.EnableBiometric(ctx, id.Fingerprint); err != nil {
		t.Fatalf("EnableBiometric: %v", err)
	}
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := o.DisableBiometric(ctx, id.Fingerprint); err != nil {
		t.Fatalf("DisableBiometric: %v", err)
	}
	if on, err := o.BiometricEnabled(ctx, id.Fingerprint); err != nil || on {
		t.Fatalf("BiometricEnabled = %v, %v", on, err)
	}
	dev, _ := v.GetDeviceByFingerprint(ctx, id.Fingerprint)
	if dev.BiometricWrappedKey != nil {
		t.Fatal("biometric copy kept after disable")
	}
}

func TestBiometricInnerLayerIsThrottled(t *testing.T) {
	ctx := context.Background()
	v := testutil.Vault(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := identity.New(v,
		identity.WithKDFParams(testutil.FastKDF()),
		identity.WithUnlockLimiter(ratelimit.PerMinute(1, 2)),
		identity.WithClock(func() time.Time { return now }),
	)
	id, err := svc.GenerateIdentity(ctx, "ivan", "", pass)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	bio := &fakeBiometric{available: true, key: [32]byte{4}}
	o := unlock.New(v, svc, unlock.WithBiometric(bio))
	if err := o.EnableBiometric(ctx, id.Fingerprint); err != nil {
		t.Fatalf("EnableBiometric: %v", err)
	}
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := o.Unlock(ctx, id.Fingerprint, "not-the-passphrase", true); !errors.Is(err, domain.ErrCrypto) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("third biometric attempt: %v", err)
	}
	// the passphrase path shares the same budget
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, false); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("passphrase after biometric attempts: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := o.Unlock(ctx, id.Fingerprint, pass, true); err != nil {
		t.Fatalf("after refill: %v", err)
	}
}
