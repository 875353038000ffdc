package payload_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/protocol/payload"
)

func key(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return k
}

func TestBodyRoundTrip(t *testing.T) {
	k := key(t)
	body := payload.Body{Text: []byte("hello"), Timestamp: time.Unix(1_700_000_000, 0).UTC()}
	ct, err := payload.Seal(k, body, []byte("header"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := payload.Open(k, ct, []byte("header"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got.Text, body.Text) || !got.Timestamp.Equal(body.Timestamp) {
		t.Fatalf("got %+v", got)
	}
	if _, err := payload.Open(k, ct, []byte("other header")); err == nil {
		t.Fatal("expected failure with different aad")
	}
}

func TestAttachments(t *testing.T) {
	k := key(t)
	atts := []domain.Attachment{
		{Name: "a.txt", MIME: "text/plain", Data: []byte("first")},
		{Name: "b.bin", MIME: "application/octet-stream", Data: bytes.Repeat([]byte{9}, 4096)},
	}
	recs, sealed, err := payload.SealAttachments(k, atts)
	if err != nil {
		t.Fatalf("SealAttachments: %v", err)
	}
	if len(recs) != 2 || len(sealed) != 2 {
		t.Fatalf("got %d records, %d ciphertexts", len(recs), len(sealed))
	}
	opened, err := payload.UnwrapAttachmentKeys(k, recs)
	if err != nil {
		t.Fatalf("UnwrapAttachmentKeys: %v", err)
	}
	for i, o := range opened {
		data, err := payload.OpenAttachment(o, sealed[i].Ciphertext)
		if err != nil {
			t.Fatalf("OpenAttachment %s: %v", o.Name, err)
		}
		if !bytes.Equal(data, atts[i].Data) {
			t.Fatalf("attachment %s mismatch", o.Name)
		}
	}

	// ciphertext for a.txt presented as b.bin fails authentication
	if _, err := payload.OpenAttachment(opened[1], sealed[0].Ciphertext); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("swapped attachment: %v", err)
	}

	bad := opened[0]
	bad.SHA256 = "00"
	if _, err := payload.OpenAttachment(bad, sealed[0].Ciphertext); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("digest mismatch: %v", err)
	}

	if _, err := payload.UnwrapAttachmentKeys(key(t), recs); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("wrong message key: %v", err)
	}
	if !payload.SameRecords(recs, recs) || payload.SameRecords(recs, recs[:1]) {
		t.Fatal("SameRecords")
	}
}

func TestValidateAttachments(t *testing.T) {
	if err := payload.ValidateAttachments([]domain.Attachment{{Name: ""}}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty name: %v", err)
	}
	if err := payload.ValidateAttachments([]domain.Attachment{{Name: "x"}, {Name: "x"}}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("duplicate: %v", err)
	}
	if err := payload.ValidateAttachments(nil); err != nil {
		t.Fatalf("nil: %v", err)
	}
}
