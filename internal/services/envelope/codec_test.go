package envelope_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"sealroom/internal/domain"
	"sealroom/internal/services/envelope"
	"sealroom/internal/testutil"
)

type directory struct {
	keys map[domain.Fingerprint]domain.PublicKey
}

func (d *directory) PublishDevice(_ context.Context, fpr domain.Fingerprint, pub domain.PublicKey) error {
	d.keys[fpr] = pub
	return nil
}

func (d *directory) LookupDevice(_ context.Context, fpr domain.Fingerprint) (domain.PublicKey, error) {
	pub, ok := d.keys[fpr]
	if !ok {
		return domain.PublicKey{}, domain.NotFound("device", fpr.Short())
	}
	return pub, nil
}

func (d *directory) PublishKeyPackage(context.Context, domain.KeyPackage) error { return nil }

func (d *directory) ClaimKeyPackage(_ context.Context, fpr domain.Fingerprint) (domain.KeyPackage, error) {
	return domain.KeyPackage{}, domain.NotFound("key package", fpr.Short())
}

func newDirectory(handles ...*domain.UnlockedKeyHandle) *directory {
	d := &directory{keys: make(map[domain.Fingerprint]domain.PublicKey)}
	for _, h := range handles {
		d.keys[h.Fingerprint] = h.Public
	}
	return d
}

func TestEncryptToManyEachRecipientDecrypts(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := testutil.Handle(t), testutil.Handle(t), testutil.Handle(t)
	codec := envelope.New(envelope.WithDirectory(newDirectory(alice, bob, carol)))

	recipients := []domain.Recipient{testutil.Recipient(alice), testutil.Recipient(bob), testutil.Recipient(carol)}
	sealed, err := codec.EncryptToMany(ctx, "room-1", []byte("hello group"), recipients, alice, nil)
	if err != nil {
		t.Fatalf("EncryptToMany: %v", err)
	}
	if got := len(sealed.Envelope.Recipients); got != 3 {
		t.Fatalf("key packets = %d, want 3", got)
	}
	if sealed.Envelope.HasAttachments {
		t.Fatal("HasAttachments set without attachments")
	}

	for _, me := range []*domain.UnlockedKeyHandle{alice, bob, carol} {
		msg, err := codec.DecryptFromMany(ctx, sealed.Envelope, sealed.Ciphertext, me)
		if err != nil {
			t.Fatalf("DecryptFromMany(%s): %v", me.Fingerprint.Short(), err)
		}
		if string(msg.Plaintext) != "hello group" {
			t.Fatalf("plaintext = %q", msg.Plaintext)
		}
		if !msg.Verified {
			t.Fatalf("%s: signature not verified", me.Fingerprint.Short())
		}
		if msg.SignerFingerprint != alice.Fingerprint {
			t.Fatal("wrong signer fingerprint")
		}
		if !msg.Timestamp.Equal(sealed.Envelope.CreatedAt) {
			t.Fatal("timestamp does not match envelope")
		}
	}

	outsider := testutil.Handle(t)
	_, err = codec.DecryptFromMany(ctx, sealed.Envelope, sealed.Ciphertext, outsider)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider: got %v, want ErrNotFound", err)
	}
	if err.Error() != "message not encrypted for this device" {
		t.Fatalf("outsider message = %q", err.Error())
	}
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()
	alice, bob := testutil.Handle(t), testutil.Handle(t)
	codec := envelope.New()

	atts := []domain.Attachment{{Name: "photo.jpg", MIME: "image/jpeg", Data: bytes.Repeat([]byte{0xAB}, 10_000)}}
	sealed, err := codec.EncryptToMany(ctx, "room", []byte("see photo"), []domain.Recipient{testutil.Recipient(bob)}, alice, atts)
	if err != nil {
		t.Fatalf("EncryptToMany: %v", err)
	}
	if !sealed.Envelope.HasAttachments || len(sealed.Attachments) != 1 {
		t.Fatal("attachment not recorded")
	}

	msg, err := codec.DecryptFromMany(ctx, sealed.Envelope, sealed.Ciphertext, bob)
	if err != nil {
		t.Fatalf("DecryptFromMany: %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Size != 10_000 {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	data, err := codec.OpenAttachment(msg.Attachments[0], sealed.Attachments[0].Ciphertext)
	if err != nil {
		t.Fatalf("OpenAttachment: %v", err)
	}
	if !bytes.Equal(data, atts[0].Data) {
		t.Fatal("attachment bytes differ")
	}

	tampered := bytes.Clone(sealed.Attachments[0].Ciphertext)
	tampered[len(tampered)-1] ^= 1
	if _, err := codec.OpenAttachment(msg.Attachments[0], tampered); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("tampered attachment: %v", err)
	}

	// bob has no directory entry for alice, so the signature cannot be checked
	if msg.Verified {
		t.Fatal("signer without a directory entry must not verify")
	}
}

func TestAttachmentFanOut(t *testing.T) {
	ctx := context.Background()
	alice := testutil.Handle(t)
	devices := []*domain.UnlockedKeyHandle{testutil.Handle(t), testutil.Handle(t), testutil.Handle(t)}
	codec := envelope.New(envelope.WithDirectory(newDirectory(append(devices, alice)...)))

	var recipients []domain.Recipient
	for _, d := range devices {
		recipients = append(recipients, testutil.Recipient(d))
	}
	file := []byte("0123456789")
	sealed, err := codec.EncryptToMany(ctx, "room", []byte("hello"), recipients, alice,
		[]domain.Attachment{{Name: "a.txt", MIME: "text/plain", Data: file}})
	if err != nil {
		t.Fatalf("EncryptToMany: %v", err)
	}
	if len(sealed.Envelope.Recipients) != 3 || len(sealed.Envelope.AttachmentKeys) != 1 {
		t.Fatalf("recipients %d, attachment keys %d", len(sealed.Envelope.Recipients), len(sealed.Envelope.AttachmentKeys))
	}

	sum := sha256.Sum256(file)
	for _, d := range devices {
		msg, err := codec.DecryptFromMany(ctx, sealed.Envelope, sealed.Ciphertext, d)
		if err != nil {
			t.Fatalf("DecryptFromMany: %v", err)
		}
		if string(msg.Plaintext) != "hello" {
			t.Fatalf("plaintext = %q", msg.Plaintext)
		}
		if len(msg.Attachments) != 1 || msg.Attachments[0].SHA256 != hex.EncodeToString(sum[:]) {
			t.Fatalf("attachments = %+v", msg.Attachments)
		}
		data, err := codec.OpenAttachment(msg.Attachments[0], sealed.Attachments[0].Ciphertext)
		if err != nil || !bytes.Equal(data, file) {
			t.Fatalf("OpenAttachment = %q, %v", data, err)
		}
	}
}

func TestTamperedSignatureIsUnverified(t *testing.T) {
	ctx := context.Background()
	alice, bob := testutil.Handle(t), testutil.Handle(t)
	codec := envelope.New(envelope.WithDirectory(newDirectory(alice, bob)))

	sealed, err := codec.EncryptToMany(ctx, "room", []byte("hi"), []domain.Recipient{testutil.Recipient(bob)}, alice, nil)
	if err != nil {
		t.Fatalf("EncryptToMany: %v", err)
	}
	env := sealed.Envelope
	env.Signature = bytes.Clone(env.Signature)
	env.Signature[0] ^= 0xFF

	msg, err := codec.DecryptFromMany(ctx, env, sealed.Ciphertext, bob)
	if err != nil {
		t.Fatalf("DecryptFromMany: %v", err)
	}
	if msg.Verified {
		t.Fatal("tampered signature verified")
	}
	if string(msg.Plaintext) != "hi" {
		t.Fatal("plaintext should still be returned")
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	ctx := context.Background()
	alice, bob := testutil.Handle(t), testutil.Handle(t)
	codec := envelope.New()

	sealed, err := codec.EncryptToMany(ctx, "room", []byte("hi"), []domain.Recipient{testutil.Recipient(bob)}, alice, nil)
	if err != nil {
		t.Fatalf("EncryptToMany: %v", err)
	}

	ct := bytes.Clone(sealed.Ciphertext)
	ct[len(ct)-1] ^= 1
	if _, err := codec.DecryptFromMany(ctx, sealed.Envelope, ct, bob); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("tampered ciphertext: got %v, want ErrCrypto", err)
	}

	env := sealed.Envelope
	env.RoomID = "other-room"
	if _, err := codec.DecryptFromMany(ctx, env, sealed.Ciphertext, bob); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("moved to another room: got %v, want ErrCrypto", err)
	}
}

func TestEncryptValidation(t *testing.T) {
	ctx := context.Background()
	alice, bob := testutil.Handle(t), testutil.Handle(t)
	codec := envelope.New()
	rb := testutil.Recipient(bob)

	cases := []struct {
		name       string
		recipients []domain.Recipient
		signer     *domain.UnlockedKeyHandle
		atts       []domain.Attachment
	}{
		{"no recipients", nil, alice, nil},
		{"duplicate recipient", []domain.Recipient{rb, rb}, alice, nil},
		{"empty key", []domain.Recipient{{Fingerprint: bob.Fingerprint}}, alice, nil},
		{"nil signer", []domain.Recipient{rb}, nil, nil},
		{"unnamed attachment", []domain.Recipient{rb}, alice, []domain.Attachment{{Data: []byte("x")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.EncryptToMany(ctx, "room", []byte("x"), tc.recipients, tc.signer, tc.atts)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("got %v, want ErrValidation", err)
			}
		})
	}
}
