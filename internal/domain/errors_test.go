package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"sealroom/internal/domain"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{domain.Invalid("passphrase", "too short"), domain.ErrValidation},
		{domain.ErrInvalidPassphrase(), domain.ErrCrypto},
		{domain.NotFound("device", "abc"), domain.ErrNotFound},
		{&domain.CorruptionError{Kind: "group", ID: "g", Message: "checksum mismatch"}, domain.ErrCorruption},
		{&domain.CapabilityError{Capability: "biometric", Message: "denied", Err: domain.ErrBiometricDenied}, domain.ErrCapability},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("outer: %w", c.err)
		if !errors.Is(wrapped, c.sentinel) {
			t.Fatalf("%T does not match %v", c.err, c.sentinel)
		}
	}
}

func TestCapabilityErrorUnwraps(t *testing.T) {
	err := &domain.CapabilityError{Capability: "biometric", Message: "denied", Err: domain.ErrBiometricDenied}
	if !errors.Is(err, domain.ErrBiometricDenied) {
		t.Fatal("expected cause to be reachable")
	}
}

func TestInvalidPassphraseMessage(t *testing.T) {
	if got := domain.ErrInvalidPassphrase().Error(); got != "invalid passphrase" {
		t.Fatalf("message = %q", got)
	}
}

func TestUnlockedKeyHandleNeverSerializes(t *testing.T) {
	h := &domain.UnlockedKeyHandle{Fingerprint: "0123456789abcdef0123"}
	h.Seed[0] = 0x42

	if _, err := json.Marshal(h); err == nil {
		t.Fatal("expected marshal to fail")
	}
	if got := fmt.Sprintf("%v %+v %#v", h, h, h); got != "UnlockedKeyHandle(0123456789abcdef) UnlockedKeyHandle(0123456789abcdef) UnlockedKeyHandle(0123456789abcdef)" {
		t.Fatalf("formatted handle = %q", got)
	}

	h.Wipe()
	if h.Seed != (domain.Seed{}) {
		t.Fatal("seed not wiped")
	}
}

func TestPublicKeyTextRoundTrip(t *testing.T) {
	var pub domain.PublicKey
	pub.Encryption[0] = 1
	pub.Signing[31] = 2

	raw, err := json.Marshal(map[domain.Fingerprint]domain.PublicKey{"a": pub})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[domain.Fingerprint]domain.PublicKey
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["a"] != pub {
		t.Fatal("public key changed across JSON")
	}
}
