package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"sealroom/internal/domain"
	"sealroom/internal/util/memzero"
)

const (
	labelEncryptionKey = "sealroom identity encryption key"
	labelSigningKey    = "sealroom identity signing key"
)

// NewSeed returns a fresh random identity seed.
func NewSeed() (domain.Seed, error) {
	var s domain.Seed
	if _, err := rand.Read(s[:]); err != nil {
		return s, err
	}
	return s, nil
}

// DeriveKeys expands seed into the identity's encryption and signing key pairs.
func DeriveKeys(seed domain.Seed) (pub domain.PublicKey, encPriv domain.X25519Private, sigPriv domain.Ed25519Private, err error) {
	encIKM, err := Expand(seed[:], nil, labelEncryptionKey, 32)
	if err != nil {
		return pub, encPriv, sigPriv, err
	}
	defer memzero.Zero(encIKM)

	pk, sk := kemScheme.DeriveKeyPair(encIKM)
	pkb, err := pk.MarshalBinary()
	if err != nil {
		return pub, encPriv, sigPriv, fmt.Errorf("marshal encryption key: %w", err)
	}
	skb, err := sk.MarshalBinary()
	if err != nil {
		return pub, encPriv, sigPriv, fmt.Errorf("marshal encryption key: %w", err)
	}
	defer memzero.Zero(skb)
	if len(pkb) != 32 || len(skb) != 32 {
		return pub, encPriv, sigPriv, fmt.Errorf("unexpected encryption key size")
	}
	copy(pub.Encryption[:], pkb)
	copy(encPriv[:], skb)

	sigSeed, err := Expand(seed[:], nil, labelSigningKey, ed25519.SeedSize)
	if err != nil {
		return pub, encPriv, sigPriv, err
	}
	defer memzero.Zero(sigSeed)
	edPriv := ed25519.NewKeyFromSeed(sigSeed)
	copy(sigPriv[:], edPriv)
	copy(pub.Signing[:], edPriv.Public().(ed25519.PublicKey))
	memzero.Zero(edPriv)

	return pub, encPriv, sigPriv, nil
}

// NewHandle derives a complete unlocked key handle from seed.
func NewHandle(seed domain.Seed) (*domain.UnlockedKeyHandle, error) {
	pub, encPriv, sigPriv, err := DeriveKeys(seed)
	if err != nil {
		return nil, err
	}
	return &domain.UnlockedKeyHandle{
		Fingerprint: Fingerprint(pub),
		Public:      pub,
		Seed:        seed,
		Encryption:  encPriv,
		Signing:     sigPriv,
	}, nil
}
