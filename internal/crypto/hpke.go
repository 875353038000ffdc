package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"

	"sealroom/internal/domain"
)

// HPKE suite names recorded in envelopes.
const (
	KEMName  = "DHKEM(X25519, HKDF-SHA256)"
	AEADName = "XChaCha20-Poly1305"
	HashName = "SHA-256"
)

var (
	kemID     = hpke.KEM_X25519_HKDF_SHA256
	kemScheme = kemID.Scheme()
	suite     = hpke.NewSuite(kemID, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)
)

// SealTo encrypts pt to the recipient's X25519 key in HPKE base mode.
func SealTo(pub domain.X25519Public, info, aad, pt []byte) (enc, ct []byte, err error) {
	pk, err := kemScheme.UnmarshalBinaryPublicKey(pub[:])
	if err != nil {
		return nil, nil, fmt.Errorf("hpke recipient key: %w", err)
	}
	sender, err := suite.NewSender(pk, info)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke setup: %w", err)
	}
	ct, err = sealer.Seal(pt, aad)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke seal: %w", err)
	}
	return enc, ct, nil
}

// OpenFrom decrypts an HPKE ciphertext addressed to priv.
func OpenFrom(priv domain.X25519Private, info, aad, enc, ct []byte) ([]byte, error) {
	sk, err := kemScheme.UnmarshalBinaryPrivateKey(priv[:])
	if err != nil {
		return nil, fmt.Errorf("hpke private key: %w", err)
	}
	receiver, err := suite.NewReceiver(sk, info)
	if err != nil {
		return nil, fmt.Errorf("hpke receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("hpke setup: %w", err)
	}
	pt, err := opener.Open(ct, aad)
	if err != nil {
		return nil, fmt.Errorf("hpke open: %w", err)
	}
	return pt, nil
}

// EncapsulatedKeySize is the length of enc for the suite in use.
func EncapsulatedKeySize() int { return kemScheme.CiphertextSize() }
