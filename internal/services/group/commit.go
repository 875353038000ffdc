package group

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/protocol/keyschedule"
	"sealroom/internal/util/memzero"
)

const (
	commitSecretInfo = "sealroom commit secret v1"
	welcomeInfo      = "sealroom welcome v1"
)

func sealAAD(id domain.GroupID, epoch uint64, recipient domain.Fingerprint) []byte {
	return []byte(string(id) + "|" + strconv.FormatUint(epoch, 10) + "|" + string(recipient))
}

// commitContent is the part of a commit folded into the transcript.
type commitContent struct {
	GroupID   domain.GroupID     `json:"group_id"`
	Epoch     uint64             `json:"epoch"`
	Sender    domain.Fingerprint `json:"sender"`
	Proposals []domain.Proposal  `json:"proposals"`
}

func contentBytes(id domain.GroupID, epoch uint64, sender domain.Fingerprint, proposals []domain.Proposal) ([]byte, error) {
	return json.Marshal(commitContent{GroupID: id, Epoch: epoch, Sender: sender, Proposals: proposals})
}

// signingBytes is msg without its signature.
func signingBytes(msg domain.MLSMessage) ([]byte, error) {
	c := msg
	if msg.Handshake != nil && msg.Handshake.Commit != nil {
		hs := *msg.Handshake
		cm := *hs.Commit
		cm.Signature = nil
		hs.Commit = &cm
		c.Handshake = &hs
	}
	if msg.Application != nil {
		am := *msg.Application
		am.Signature = nil
		c.Application = &am
	}
	return json.Marshal(c)
}

func groupInfoBytes(gi domain.GroupInfo) ([]byte, error) {
	gi.Signature = nil
	return json.Marshal(gi)
}

// applyProposals returns the roster after proposals. It never mutates members.
func applyProposals(members map[domain.Fingerprint]domain.PublicKey, proposals []domain.Proposal) (map[domain.Fingerprint]domain.PublicKey, error) {
	if len(proposals) == 0 {
		return nil, domain.Invalid("proposals", "commit changes nothing")
	}
	out := maps.Clone(members)
	touched := make(map[domain.Fingerprint]struct{}, len(proposals))
	for _, p := range proposals {
		switch p.Type {
		case domain.ProposalAdd:
			if p.KeyPackage == nil {
				return nil, domain.Invalid("proposals", "add without key package")
			}
			if err := VerifyKeyPackage(*p.KeyPackage, time.Time{}); err != nil {
				return nil, err
			}
			fpr := p.KeyPackage.DeviceFingerprint
			if _, dup := touched[fpr]; dup {
				return nil, domain.Invalid("proposals", fpr.Short()+" appears twice")
			}
			if _, ok := out[fpr]; ok {
				return nil, domain.Invalid("proposals", fpr.Short()+" is already a member")
			}
			touched[fpr] = struct{}{}
			out[fpr] = p.KeyPackage.PublicKey
		case domain.ProposalRemove:
			if _, dup := touched[p.Removed]; dup {
				return nil, domain.Invalid("proposals", p.Removed.Short()+" appears twice")
			}
			if _, ok := out[p.Removed]; !ok {
				return nil, domain.Invalid("proposals", p.Removed.Short()+" is not a member")
			}
			touched[p.Removed] = struct{}{}
			delete(out, p.Removed)
		default:
			return nil, domain.Invalid("proposals", fmt.Sprintf("unknown proposal type %q", p.Type))
		}
	}
	if len(out) == 0 {
		return nil, domain.Invalid("proposals", "commit would leave the group empty")
	}
	return out, nil
}

func stateFromEpoch(
	id domain.GroupID,
	epoch uint64,
	members map[domain.Fingerprint]domain.PublicKey,
	treeHash, transcript []byte,
	ep keyschedule.Epoch,
	self domain.Fingerprint,
) domain.GroupState {
	memzero.Zero(ep.ConfirmationKey)
	return domain.GroupState{
		GroupID:            id,
		Epoch:              epoch,
		TreeHash:           treeHash,
		TranscriptHash:     transcript,
		MemberKeys:         members,
		SelfIndex:          uint32(keyschedule.IndexOf(members, self)),
		SelfFingerprint:    self,
		RatchetMaterial:    ep.InitSecret,
		EpochEncryptionKey: ep.EncryptionKey,
		SenderDataSecret:   ep.SenderDataSecret,
	}
}

// built is the sender's side of a commit.
type built struct {
	state       domain.GroupState
	commit      domain.MLSMessage
	epochSecret []byte
}

// buildCommit moves st to the next epoch under proposals, sealing a fresh
// commit secret to every member that stays.
func buildCommit(st domain.GroupState, signer *domain.UnlockedKeyHandle, proposals []domain.Proposal) (built, error) {
	members, err := applyProposals(st.MemberKeys, proposals)
	if err != nil {
		return built{}, err
	}
	epoch := st.Epoch + 1
	treeHash := keyschedule.TreeHash(members)
	content, err := contentBytes(st.GroupID, epoch, signer.Fingerprint, proposals)
	if err != nil {
		return built{}, err
	}
	transcript := keyschedule.TranscriptHash(st.TranscriptHash, content)

	commitSecret, err := crypto.RandomBytes(keyschedule.SecretSize)
	if err != nil {
		return built{}, err
	}
	defer memzero.Zero(commitSecret)
	epochSecret, err := keyschedule.EpochSecret(st.RatchetMaterial, commitSecret,
		keyschedule.GroupContext(st.GroupID, epoch, treeHash, transcript))
	if err != nil {
		return built{}, err
	}
	ep, err := keyschedule.Derive(epochSecret)
	if err != nil {
		return built{}, err
	}
	tag := keyschedule.ConfirmationTag(ep.ConfirmationKey, transcript)

	var secrets []domain.SealedSecret
	for _, fpr := range keyschedule.SortedMembers(members) {
		if _, existing := st.MemberKeys[fpr]; !existing {
			continue
		}
		enc, ct, err := crypto.SealTo(members[fpr].Encryption, []byte(commitSecretInfo), sealAAD(st.GroupID, epoch, fpr), commitSecret)
		if err != nil {
			return built{}, &domain.CryptoError{Op: "commit", Message: "seal commit secret for " + fpr.Short(), Err: err}
		}
		secrets = append(secrets, domain.SealedSecret{Recipient: fpr, Enc: enc, Ciphertext: ct})
	}

	msg := domain.MLSMessage{
		GroupID: st.GroupID,
		Epoch:   epoch,
		Sender:  signer.Fingerprint,
		Kind:    domain.KindHandshake,
		Handshake: &domain.Handshake{
			Type: domain.HandshakeCommit,
			Commit: &domain.Commit{
				Proposals:       proposals,
				Secrets:         secrets,
				TranscriptHash:  transcript,
				ConfirmationTag: tag,
			},
		},
	}
	sb, err := signingBytes(msg)
	if err != nil {
		return built{}, err
	}
	msg.Handshake.Commit.Signature = crypto.SignEd25519(signer.Signing, sb)

	return built{
		state:       stateFromEpoch(st.GroupID, epoch, members, treeHash, transcript, ep, signer.Fingerprint),
		commit:      msg,
		epochSecret: epochSecret,
	}, nil
}

// applyCommit is the receiver's side of buildCommit. removed reports that me
// is no longer a member; the returned state is then meaningless.
func applyCommit(st domain.GroupState, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) (domain.GroupState, bool, error) {
	if msg.Handshake == nil || msg.Handshake.Commit == nil {
		return domain.GroupState{}, false, domain.Invalid("message", "not a commit")
	}
	if msg.GroupID != st.GroupID {
		return domain.GroupState{}, false, domain.Invalid("message", "commit for another group")
	}
	switch {
	case msg.Epoch <= st.Epoch:
		return domain.GroupState{}, false, staleEpoch(st.Epoch, msg.Epoch)
	case msg.Epoch > st.Epoch+1:
		return domain.GroupState{}, false, futureEpoch(st.Epoch, msg.Epoch)
	}
	commit := msg.Handshake.Commit

	senderPub, ok := st.MemberKeys[msg.Sender]
	if !ok {
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "sender is not a member"}
	}
	sb, err := signingBytes(msg)
	if err != nil {
		return domain.GroupState{}, false, err
	}
	if !crypto.VerifyEd25519(senderPub.Signing, sb, commit.Signature) {
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "bad commit signature"}
	}

	members, err := applyProposals(st.MemberKeys, commit.Proposals)
	if err != nil {
		return domain.GroupState{}, false, err
	}
	if _, still := members[me.Fingerprint]; !still {
		return domain.GroupState{}, true, nil
	}

	treeHash := keyschedule.TreeHash(members)
	content, err := contentBytes(st.GroupID, msg.Epoch, msg.Sender, commit.Proposals)
	if err != nil {
		return domain.GroupState{}, false, err
	}
	transcript := keyschedule.TranscriptHash(st.TranscriptHash, content)
	if !bytes.Equal(transcript, commit.TranscriptHash) {
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "transcript hash mismatch"}
	}

	var mine *domain.SealedSecret
	for i := range commit.Secrets {
		if commit.Secrets[i].Recipient == me.Fingerprint {
			mine = &commit.Secrets[i]
			break
		}
	}
	if mine == nil {
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "no commit secret for this device"}
	}
	commitSecret, err := crypto.OpenFrom(me.Encryption, []byte(commitSecretInfo), sealAAD(st.GroupID, msg.Epoch, me.Fingerprint), mine.Enc, mine.Ciphertext)
	if err != nil {
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "commit secret failed authentication", Err: err}
	}
	defer memzero.Zero(commitSecret)

	epochSecret, err := keyschedule.EpochSecret(st.RatchetMaterial, commitSecret,
		keyschedule.GroupContext(st.GroupID, msg.Epoch, treeHash, transcript))
	if err != nil {
		return domain.GroupState{}, false, err
	}
	defer memzero.Zero(epochSecret)
	ep, err := keyschedule.Derive(epochSecret)
	if err != nil {
		return domain.GroupState{}, false, err
	}
	if !keyschedule.VerifyConfirmation(ep.ConfirmationKey, transcript, commit.ConfirmationTag) {
		ep.Wipe()
		return domain.GroupState{}, false, &domain.CryptoError{Op: "process commit", Message: "confirmation tag mismatch"}
	}
	return stateFromEpoch(st.GroupID, msg.Epoch, members, treeHash, transcript, ep, me.Fingerprint), false, nil
}

// buildWelcome seals epochSecret to one recipient alongside signed group info.
func buildWelcome(st domain.GroupState, epochSecret []byte, signer *domain.UnlockedKeyHandle, recipient domain.Fingerprint, pub domain.PublicKey) (domain.MLSMessage, error) {
	gi := domain.GroupInfo{
		GroupID:        st.GroupID,
		Epoch:          st.Epoch,
		TreeHash:       st.TreeHash,
		TranscriptHash: st.TranscriptHash,
		MemberKeys:     maps.Clone(st.MemberKeys),
		Signer:         signer.Fingerprint,
	}
	gb, err := groupInfoBytes(gi)
	if err != nil {
		return domain.MLSMessage{}, err
	}
	gi.Signature = crypto.SignEd25519(signer.Signing, gb)

	enc, ct, err := crypto.SealTo(pub.Encryption, []byte(welcomeInfo), sealAAD(st.GroupID, st.Epoch, recipient), epochSecret)
	if err != nil {
		return domain.MLSMessage{}, &domain.CryptoError{Op: "welcome", Message: "seal epoch secret for " + recipient.Short(), Err: err}
	}
	return domain.MLSMessage{
		GroupID: st.GroupID,
		Epoch:   st.Epoch,
		Sender:  signer.Fingerprint,
		Kind:    domain.KindHandshake,
		Handshake: &domain.Handshake{
			Type: domain.HandshakeWelcome,
			Welcome: &domain.Welcome{
				Recipient: recipient,
				Secret:    domain.SealedSecret{Recipient: recipient, Enc: enc, Ciphertext: ct},
				GroupInfo: gi,
			},
		},
	}, nil
}

// applyWelcome derives a fresh state from a welcome addressed to me.
func applyWelcome(w domain.Welcome, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if w.Recipient != me.Fingerprint || w.Secret.Recipient != me.Fingerprint {
		return domain.GroupState{}, domain.Invalid("welcome", "addressed to another device")
	}
	gi := w.GroupInfo
	signerPub, ok := gi.MemberKeys[gi.Signer]
	if !ok {
		return domain.GroupState{}, &domain.CryptoError{Op: "process welcome", Message: "signer is not a member"}
	}
	gb, err := groupInfoBytes(gi)
	if err != nil {
		return domain.GroupState{}, err
	}
	if !crypto.VerifyEd25519(signerPub.Signing, gb, gi.Signature) {
		return domain.GroupState{}, &domain.CryptoError{Op: "process welcome", Message: "bad group info signature"}
	}
	if !bytes.Equal(keyschedule.TreeHash(gi.MemberKeys), gi.TreeHash) {
		return domain.GroupState{}, &domain.CryptoError{Op: "process welcome", Message: "tree hash mismatch"}
	}
	if pub, ok := gi.MemberKeys[me.Fingerprint]; !ok || pub != me.Public {
		return domain.GroupState{}, &domain.CryptoError{Op: "process welcome", Message: "roster does not contain this device"}
	}

	epochSecret, err := crypto.OpenFrom(me.Encryption, []byte(welcomeInfo), sealAAD(gi.GroupID, gi.Epoch, me.Fingerprint), w.Secret.Enc, w.Secret.Ciphertext)
	if err != nil {
		return domain.GroupState{}, &domain.CryptoError{Op: "process welcome", Message: "epoch secret failed authentication", Err: err}
	}
	defer memzero.Zero(epochSecret)
	ep, err := keyschedule.Derive(epochSecret)
	if err != nil {
		return domain.GroupState{}, err
	}
	return stateFromEpoch(gi.GroupID, gi.Epoch, maps.Clone(gi.MemberKeys), gi.TreeHash, gi.TranscriptHash, ep, me.Fingerprint), nil
}
