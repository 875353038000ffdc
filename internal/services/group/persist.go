package group

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"sealroom/internal/domain"
)

const settingPrefix = "group/"

func settingKey(id domain.GroupID) string { return settingPrefix + string(id) }

// record is the persisted form of a group state.
type record struct {
	State     json.RawMessage `json:"state"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SerializeGroupState encodes st deterministically.
func SerializeGroupState(st domain.GroupState) ([]byte, error) {
	return json.Marshal(st)
}

// DeserializeGroupState reverses SerializeGroupState.
func DeserializeGroupState(b []byte) (domain.GroupState, error) {
	var st domain.GroupState
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.GroupState{}, err
	}
	return st, nil
}

// ComputeChecksum returns hex SHA-256 of b, or HMAC-SHA256 when key is set.
func ComputeChecksum(key, b []byte) string {
	if len(key) > 0 {
		m := hmac.New(sha256.New, key)
		m.Write(b)
		return hex.EncodeToString(m.Sum(nil))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PersistGroupState stores st with its checksum.
func (e *Engine) PersistGroupState(ctx context.Context, st domain.GroupState) error {
	raw, err := SerializeGroupState(st)
	if err != nil {
		return fmt.Errorf("serialize group state: %w", err)
	}
	rec, err := json.Marshal(record{
		State:     raw,
		Checksum:  ComputeChecksum(e.checksumKey, raw),
		UpdatedAt: e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode group record: %w", err)
	}
	return e.settings.StoreSetting(ctx, settingKey(st.GroupID), rec)
}

// LoadGroupState returns the persisted state of id. A record whose checksum
// does not match yields a CorruptionError.
func (e *Engine) LoadGroupState(ctx context.Context, id domain.GroupID) (domain.GroupState, error) {
	b, err := e.settings.GetSetting(ctx, settingKey(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.GroupState{}, domain.NotFound("group", string(id))
		}
		return domain.GroupState{}, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		e.metrics.ObserveCorruption()
		return domain.GroupState{}, &domain.CorruptionError{Kind: "group", ID: string(id), Message: "unreadable record"}
	}
	want := ComputeChecksum(e.checksumKey, rec.State)
	if !hmac.Equal([]byte(want), []byte(rec.Checksum)) {
		e.metrics.ObserveCorruption()
		return domain.GroupState{}, &domain.CorruptionError{Kind: "group", ID: string(id), Message: "checksum mismatch"}
	}
	st, err := DeserializeGroupState(rec.State)
	if err != nil {
		e.metrics.ObserveCorruption()
		return domain.GroupState{}, &domain.CorruptionError{Kind: "group", ID: string(id), Message: "unreadable state"}
	}
	return st, nil
}

// DeleteGroupState forgets id.
func (e *Engine) DeleteGroupState(ctx context.Context, id domain.GroupID) error {
	return e.settings.DeleteSetting(ctx, settingKey(id))
}

// loadOwned loads the state held by me, rebuilding it from the handshake log
// when the stored record is corrupt. Callers hold the group lock.
func (e *Engine) loadOwned(ctx context.Context, id domain.GroupID, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	st, err := e.LoadGroupState(ctx, id)
	if errors.Is(err, domain.ErrCorruption) && e.handshakes != nil && me != nil {
		e.log.Warn("group state corrupted, rebuilding", "group", string(id), "err", err)
		return e.rebuildLocked(ctx, id, me)
	}
	if err != nil {
		return domain.GroupState{}, err
	}
	if me != nil && st.SelfFingerprint != me.Fingerprint {
		return domain.GroupState{}, domain.NotFound("group", string(id))
	}
	return st, nil
}

// RebuildGroupState replays the handshake log: the latest welcome addressed
// to me, then every commit after it.
func (e *Engine) RebuildGroupState(ctx context.Context, id domain.GroupID, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if me == nil {
		return domain.GroupState{}, domain.Invalid("handle", "required")
	}
	unlock := e.locks.lock(id)
	defer unlock()
	return e.rebuildLocked(ctx, id, me)
}

func (e *Engine) rebuildLocked(ctx context.Context, id domain.GroupID, me *domain.UnlockedKeyHandle) (st domain.GroupState, err error) {
	defer func() { e.metrics.ObserveRebuild(err) }()
	if e.handshakes == nil {
		return domain.GroupState{}, &domain.CapabilityError{Capability: "handshake log", Message: "not configured"}
	}
	msgs, err := e.handshakes.Handshakes(ctx, id)
	if err != nil {
		return domain.GroupState{}, fmt.Errorf("fetch handshakes: %w", err)
	}

	var start *domain.Welcome
	var commits []domain.MLSMessage
	for _, m := range msgs {
		if m.Kind != domain.KindHandshake || m.Handshake == nil || m.GroupID != id {
			continue
		}
		switch m.Handshake.Type {
		case domain.HandshakeWelcome:
			w := m.Handshake.Welcome
			if w != nil && w.Recipient == me.Fingerprint && (start == nil || w.GroupInfo.Epoch > start.GroupInfo.Epoch) {
				start = w
			}
		case domain.HandshakeCommit:
			commits = append(commits, m)
		}
	}
	if start == nil {
		return domain.GroupState{}, &domain.NotFoundError{Kind: "welcome", ID: string(id), Message: "no welcome for this device in the handshake log"}
	}
	st, err = applyWelcome(*start, me)
	if err != nil {
		return domain.GroupState{}, err
	}

	sort.SliceStable(commits, func(i, j int) bool { return commits[i].Epoch < commits[j].Epoch })
	for _, c := range commits {
		if c.Epoch != st.Epoch+1 {
			continue
		}
		next, removed, err := applyCommit(st, c, me)
		if err != nil {
			e.log.Warn("skipping commit during rebuild", "group", string(id), "epoch", c.Epoch, "err", err)
			continue
		}
		if removed {
			if err := e.DeleteGroupState(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return domain.GroupState{}, err
			}
			return domain.GroupState{}, &domain.NotFoundError{Kind: "group", ID: string(id), Message: "this device was removed from the group"}
		}
		st = next
	}

	if err := e.PersistGroupState(ctx, st); err != nil {
		return domain.GroupState{}, err
	}
	e.metrics.ObserveTransition("rebuild")
	e.log.Info("group state rebuilt", "group", string(id), "epoch", st.Epoch)
	return st, nil
}
