package group_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sealroom/internal/domain"
	"sealroom/internal/services/group"
	"sealroom/internal/testutil"
)

type member struct {
	h     *domain.UnlockedKeyHandle
	e     *group.Engine
	vault domain.KeyVault
}

func newMember(t *testing.T, opts ...group.Option) member {
	t.Helper()
	v := testutil.Vault(t)
	return member{h: testutil.Handle(t), e: group.New(v, opts...), vault: v}
}

func keyPackage(t *testing.T, m member) domain.KeyPackage {
	t.Helper()
	kp, err := group.NewKeyPackage(m.h, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("NewKeyPackage: %v", err)
	}
	return kp
}

// handshakeLog records handshakes in order.
type handshakeLog struct {
	mu   sync.Mutex
	msgs []domain.MLSMessage
}

func (l *handshakeLog) add(msgs ...domain.MLSMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msgs...)
}

func (l *handshakeLog) Handshakes(_ context.Context, id domain.GroupID) ([]domain.MLSMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.MLSMessage
	for _, m := range l.msgs {
		if m.GroupID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func welcomeOf(t *testing.T, msg domain.MLSMessage) domain.Welcome {
	t.Helper()
	if msg.Handshake == nil || msg.Handshake.Welcome == nil {
		t.Fatal("not a welcome")
	}
	return *msg.Handshake.Welcome
}

// threeMembers builds a group where alice added bob and carol at epoch 1.
func threeMembers(t *testing.T) (alice, bob, carol member) {
	t.Helper()
	ctx := context.Background()
	alice, bob, carol = newMember(t), newMember(t), newMember(t)

	st, _, err := alice.e.CreateGroup(ctx, "g1", alice.h)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if st.Epoch != 0 || len(st.MemberKeys) != 1 {
		t.Fatalf("new group: epoch %d, %d members", st.Epoch, len(st.MemberKeys))
	}

	out, err := alice.e.AddMembersToGroup(ctx, "g1", []domain.KeyPackage{keyPackage(t, bob), keyPackage(t, carol)}, alice.h)
	if err != nil {
		t.Fatalf("AddMembersToGroup: %v", err)
	}
	if out.State.Epoch != 1 || len(out.Welcomes) != 2 {
		t.Fatalf("after add: epoch %d, %d welcomes", out.State.Epoch, len(out.Welcomes))
	}
	for i, m := range []member{bob, carol} {
		st, err := m.e.ProcessWelcome(ctx, welcomeOf(t, out.Welcomes[i]), m.h)
		if err != nil {
			t.Fatalf("ProcessWelcome: %v", err)
		}
		if st.Epoch != 1 || !bytes.Equal(st.TreeHash, out.State.TreeHash) || !bytes.Equal(st.EpochEncryptionKey, out.State.EpochEncryptionKey) {
			t.Fatal("joiner state differs from the committer's")
		}
	}
	return alice, bob, carol
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := threeMembers(t)

	msg, _, err := alice.e.EncryptApplicationMessage(ctx, "g1", []byte("hello group"), alice.h, nil)
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}
	for _, m := range []member{alice, bob, carol} {
		dm, err := m.e.DecryptApplicationMessage(ctx, msg, m.h)
		if err != nil {
			t.Fatalf("DecryptApplicationMessage: %v", err)
		}
		if string(dm.Plaintext) != "hello group" || !dm.Verified || dm.Sender != alice.h.Fingerprint || dm.Epoch != 1 {
			t.Fatalf("decrypted = %+v", dm)
		}
	}

	reply, _, err := bob.e.EncryptApplicationMessage(ctx, "g1", []byte("hi alice"), bob.h, nil)
	if err != nil {
		t.Fatalf("bob encrypt: %v", err)
	}
	if dm, err := alice.e.DecryptApplicationMessage(ctx, reply, alice.h); err != nil || string(dm.Plaintext) != "hi alice" {
		t.Fatalf("alice decrypt reply: %v", err)
	}

	// remove carol
	rm, err := alice.e.RemoveMembersFromGroup(ctx, "g1", []domain.Fingerprint{carol.h.Fingerprint}, alice.h)
	if err != nil {
		t.Fatalf("RemoveMembersFromGroup: %v", err)
	}
	if rm.State.Epoch != 2 || len(rm.State.MemberKeys) != 2 {
		t.Fatalf("after remove: epoch %d, %d members", rm.State.Epoch, len(rm.State.MemberKeys))
	}
	for _, s := range rm.Commit.Handshake.Commit.Secrets {
		if s.Recipient == carol.h.Fingerprint {
			t.Fatal("commit secret sealed to the removed member")
		}
	}

	res, err := bob.e.ProcessCommit(ctx, rm.Commit, bob.h)
	if err != nil || res.Removed || res.State.Epoch != 2 {
		t.Fatalf("bob ProcessCommit: %+v, %v", res, err)
	}
	res, err = carol.e.ProcessCommit(ctx, rm.Commit, carol.h)
	if err != nil || !res.Removed {
		t.Fatalf("carol ProcessCommit: %+v, %v", res, err)
	}
	if _, err := carol.e.LoadGroupState(ctx, "g1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("carol still has state: %v", err)
	}

	secret, _, err := alice.e.EncryptApplicationMessage(ctx, "g1", []byte("carol is gone"), alice.h, nil)
	if err != nil {
		t.Fatalf("encrypt at epoch 2: %v", err)
	}
	if dm, err := bob.e.DecryptApplicationMessage(ctx, secret, bob.h); err != nil || string(dm.Plaintext) != "carol is gone" {
		t.Fatalf("bob at epoch 2: %v", err)
	}
	if _, err := carol.e.DecryptApplicationMessage(ctx, secret, carol.h); err == nil {
		t.Fatal("removed member decrypted a later message")
	}

	// epochs only move forward
	if _, err := bob.e.ProcessCommit(ctx, rm.Commit, bob.h); !errors.Is(err, group.ErrStaleEpoch) {
		t.Fatalf("replayed commit: got %v, want ErrStaleEpoch", err)
	}
	if _, err := bob.e.DecryptApplicationMessage(ctx, msg, bob.h); !errors.Is(err, group.ErrStaleEpoch) {
		t.Fatalf("epoch 1 message at epoch 2: got %v, want ErrStaleEpoch", err)
	}
	ahead := rm.Commit
	ahead.Epoch = 5
	if _, err := bob.e.ProcessCommit(ctx, ahead, bob.h); !errors.Is(err, group.ErrFutureEpoch) {
		t.Fatalf("commit from the future: got %v, want ErrFutureEpoch", err)
	}
}

func TestAddMembersValidation(t *testing.T) {
	ctx := context.Background()
	alice, bob, _ := threeMembers(t)
	dave := newMember(t)

	expired, err := group.NewKeyPackage(dave.h, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewKeyPackage: %v", err)
	}
	forged := keyPackage(t, dave)
	forged.Signature = bytes.Clone(forged.Signature)
	forged.Signature[0] ^= 1
	mismatched := keyPackage(t, dave)
	mismatched.DeviceFingerprint = bob.h.Fingerprint

	cases := map[string][]domain.KeyPackage{
		"already a member": {keyPackage(t, bob)},
		"expired":          {expired},
		"bad signature":    {forged},
		"wrong binding":    {mismatched},
		"duplicate":        {keyPackage(t, dave), keyPackage(t, dave)},
		"empty":            nil,
	}
	for name, kps := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := alice.e.AddMembersToGroup(ctx, "g1", kps, alice.h); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("got %v, want ErrValidation", err)
			}
		})
	}

	if _, err := alice.e.RemoveMembersFromGroup(ctx, "g1", []domain.Fingerprint{alice.h.Fingerprint}, alice.h); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("remove self: %v", err)
	}
	if _, err := alice.e.RemoveMembersFromGroup(ctx, "g1", []domain.Fingerprint{dave.h.Fingerprint}, alice.h); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("remove non-member: %v", err)
	}
	if _, _, err := alice.e.CreateGroup(ctx, "g1", alice.h); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("create existing group: %v", err)
	}

	st, err := alice.e.LoadGroupState(ctx, "g1")
	if err != nil || st.Epoch != 1 {
		t.Fatalf("failed calls must not advance the epoch: %d, %v", st.Epoch, err)
	}
}

func TestApplicationMessageTampering(t *testing.T) {
	ctx := context.Background()
	alice, bob, _ := threeMembers(t)

	atts := []domain.Attachment{{Name: "notes.txt", MIME: "text/plain", Data: []byte("attached")}}
	msg, cts, err := alice.e.EncryptApplicationMessage(ctx, "g1", []byte("with file"), alice.h, atts)
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}
	dm, err := bob.e.DecryptApplicationMessage(ctx, msg, bob.h)
	if err != nil {
		t.Fatalf("DecryptApplicationMessage: %v", err)
	}
	if len(dm.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(dm.Attachments))
	}
	data, err := bob.e.OpenAttachment(dm.Attachments[0], cts[0].Ciphertext)
	if err != nil || string(data) != "attached" {
		t.Fatalf("OpenAttachment: %q, %v", data, err)
	}

	badSig := msg
	app := *msg.Application
	app.Signature = bytes.Clone(app.Signature)
	app.Signature[0] ^= 1
	badSig.Application = &app
	if dm, err := bob.e.DecryptApplicationMessage(ctx, badSig, bob.h); err != nil || dm.Verified {
		t.Fatalf("bad signature: verified=%v err=%v", dm.Verified, err)
	}

	badCT := msg
	app2 := *msg.Application
	app2.Ciphertext = bytes.Clone(app2.Ciphertext)
	app2.Ciphertext[0] ^= 1
	badCT.Application = &app2
	if _, err := bob.e.DecryptApplicationMessage(ctx, badCT, bob.h); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("bad ciphertext: got %v, want ErrCrypto", err)
	}

	spoofed := msg
	spoofed.Sender = bob.h.Fingerprint
	if _, err := bob.e.DecryptApplicationMessage(ctx, spoofed, bob.h); !errors.Is(err, domain.ErrCrypto) {
		t.Fatalf("spoofed sender: got %v, want ErrCrypto", err)
	}
}

func TestConcurrentSendersShareEpoch(t *testing.T) {
	ctx := context.Background()
	alice, bob, _ := threeMembers(t)

	var wg sync.WaitGroup
	msgs := make([]domain.MLSMessage, 16)
	errs := make([]error, len(msgs))
	for i := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs[i], _, errs[i] = alice.e.EncryptApplicationMessage(ctx, "g1", []byte{byte(i)}, alice.h, nil)
		}()
	}
	wg.Wait()
	for i, m := range msgs {
		if errs[i] != nil {
			t.Fatalf("encrypt %d: %v", i, errs[i])
		}
		dm, err := bob.e.DecryptApplicationMessage(ctx, m, bob.h)
		if err != nil || !bytes.Equal(dm.Plaintext, []byte{byte(i)}) {
			t.Fatalf("decrypt %d: %v", i, err)
		}
	}
}
