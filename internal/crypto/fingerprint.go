package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"sealroom/internal/domain"
)

// Fingerprint returns the hex SHA-256 of the public key bytes.
func Fingerprint(pub domain.PublicKey) domain.Fingerprint {
	sum := sha256.Sum256(pub.Bytes())
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// DisplayCode returns a short code two users can read to each other to
// confirm they hold the same pair of keys. The code is symmetric in a and b.
func DisplayCode(a, b domain.PublicKey) string {
	x, y := a.Bytes(), b.Bytes()
	if string(x) > string(y) {
		x, y = y, x
	}
	h, _ := blake2b.New256([]byte("sealroom display code"))
	h.Write(x)
	h.Write(y)
	enc := base58.Encode(h.Sum(nil))
	if len(enc) > 30 {
		enc = enc[:30]
	}
	var groups []string
	for i := 0; i < len(enc); i += 5 {
		end := min(i+5, len(enc))
		groups = append(groups, enc[i:end])
	}
	return strings.Join(groups, " ")
}
