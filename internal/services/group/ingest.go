package group

import (
	"context"
	"errors"

	"sealroom/internal/domain"
)

// Outcome says what happened to one ingested message.
type Outcome string

const (
	OutcomeDecrypted Outcome = "decrypted"
	OutcomeCommitted Outcome = "committed"
	OutcomeJoined    Outcome = "joined"
	OutcomeRemoved   Outcome = "removed"
	OutcomeBuffered  Outcome = "buffered"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one processed message. Err is set for failed results:
// messages released from the buffer, and application messages from an epoch
// this device has already left.
type Result struct {
	Outcome Outcome
	GroupID domain.GroupID
	Epoch   uint64
	Sender  domain.Fingerprint
	Message *domain.DecryptedGroupMessage
	State   *domain.GroupState
	Err     error
}

// permanent reports whether retrying msg can never succeed. Other errors,
// such as a failed write, leave the message eligible for redelivery.
func permanent(err error) bool {
	return errors.Is(err, ErrStaleEpoch) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrCrypto) ||
		errors.Is(err, domain.ErrNotFound)
}

func validateMessage(msg domain.MLSMessage) error {
	if msg.GroupID == "" {
		return domain.Invalid("message", "group id missing")
	}
	switch msg.Kind {
	case domain.KindApplication:
		if msg.Application == nil {
			return domain.Invalid("message", "application body missing")
		}
	case domain.KindHandshake:
		if msg.Handshake == nil {
			return domain.Invalid("message", "handshake body missing")
		}
		if msg.Handshake.Type == domain.HandshakeWelcome {
			if msg.Handshake.Welcome == nil || msg.Handshake.Welcome.GroupInfo.GroupID != msg.GroupID {
				return domain.Invalid("message", "malformed welcome")
			}
		}
		if msg.Handshake.Type == domain.HandshakeCommit && msg.Handshake.Commit == nil {
			return domain.Invalid("message", "commit body missing")
		}
	default:
		return domain.Invalid("message", "unknown kind")
	}
	return nil
}

// Ingest routes msg by kind. Duplicates are dropped, messages ahead of the
// local epoch are buffered, and a message that advances the epoch releases
// whatever the buffer holds for the group. The first result always describes
// msg itself.
func (e *Engine) Ingest(ctx context.Context, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) ([]Result, error) {
	if me == nil {
		return nil, domain.Invalid("handle", "required")
	}
	if err := validateMessage(msg); err != nil {
		return nil, err
	}
	id, err := MessageID(msg)
	if err != nil {
		return nil, err
	}
	base := Result{GroupID: msg.GroupID, Epoch: msg.Epoch, Sender: msg.Sender}
	if e.seen.has(id) {
		base.Outcome = OutcomeDuplicate
		out := []Result{base}
		// a redelivery retries buffered messages left by a failed release
		if e.BufferedCount(msg.GroupID) > 0 {
			more, err := e.ProcessBufferedMessages(ctx, msg.GroupID, me)
			return append(out, more...), err
		}
		return out, nil
	}

	res, err := e.process(ctx, msg, me)
	if errors.Is(err, ErrFutureEpoch) {
		if e.beforeBuffer != nil {
			e.beforeBuffer()
		}
		e.bufMu.Lock()
		added := e.bufferLocked(bufferedMessage{id: id, msg: msg})
		e.bufMu.Unlock()
		base.Outcome = OutcomeBuffered
		if !added {
			base.Outcome = OutcomeDuplicate
		}
		out := []Result{base}
		// the epoch may have moved between processing and buffering
		if added && e.releasable(ctx, msg, me) {
			more, err := e.ProcessBufferedMessages(ctx, msg.GroupID, me)
			return append(out, more...), err
		}
		return out, nil
	}
	if errors.Is(err, ErrStaleEpoch) {
		e.seen.add(id)
		base.Outcome = OutcomeFailed
		base.Err = err
		e.log.Debug("stale group message", "group", string(msg.GroupID), "epoch", msg.Epoch, "sender", msg.Sender.String())
		return []Result{base}, nil
	}
	if err != nil {
		if permanent(err) {
			e.seen.add(id)
		}
		return nil, err
	}
	e.seen.add(id)

	out := []Result{res}
	if res.Outcome == OutcomeRemoved {
		e.dropBuffer(msg.GroupID)
	}
	if res.Outcome == OutcomeCommitted || res.Outcome == OutcomeJoined {
		more, err := e.ProcessBufferedMessages(ctx, msg.GroupID, me)
		out = append(out, more...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// releasable reports whether the local epoch now admits msg. It reads the
// state under the group lock so a concurrent commit is either fully applied
// or not yet started.
func (e *Engine) releasable(ctx context.Context, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) bool {
	unlock := e.locks.lock(msg.GroupID)
	st, err := e.loadOwned(ctx, msg.GroupID, me)
	unlock()
	if err != nil {
		return false
	}
	if msg.Kind == domain.KindApplication {
		return msg.Epoch <= st.Epoch
	}
	return msg.Epoch <= st.Epoch+1
}

// ProcessBufferedMessages releases buffered messages of groupID whose epoch
// is at most one past the local epoch, repeating while commits advance it.
// Messages still ahead are buffered again. Per-message failures are reported
// in the results.
func (e *Engine) ProcessBufferedMessages(ctx context.Context, groupID domain.GroupID, me *domain.UnlockedKeyHandle) ([]Result, error) {
	if me == nil {
		return nil, domain.Invalid("handle", "required")
	}
	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		unlock := e.locks.lock(groupID)
		st, err := e.loadOwned(ctx, groupID, me)
		unlock()
		if errors.Is(err, domain.ErrNotFound) {
			return results, nil
		}
		if err != nil {
			return results, err
		}

		ready := e.takeReady(groupID, st.Epoch+1)
		if len(ready) == 0 {
			return results, nil
		}
		advanced := false
		for i, m := range ready {
			if e.seen.has(m.id) {
				continue
			}
			res, err := e.process(ctx, m.msg, me)
			if errors.Is(err, ErrFutureEpoch) {
				e.rebuffer(m)
				continue
			}
			if err != nil && !permanent(err) {
				for _, rest := range ready[i:] {
					e.rebuffer(rest)
				}
				return results, err
			}
			e.seen.add(m.id)
			if err != nil {
				res = Result{Outcome: OutcomeFailed, GroupID: m.msg.GroupID, Epoch: m.msg.Epoch, Sender: m.msg.Sender, Err: err}
				e.log.Warn("buffered message failed", "group", string(groupID), "epoch", m.msg.Epoch, "sender", m.msg.Sender.String(), "err", err)
			}
			results = append(results, res)
			switch res.Outcome {
			case OutcomeCommitted, OutcomeJoined:
				advanced = true
			case OutcomeRemoved:
				e.dropBuffer(groupID)
				return results, nil
			}
		}
		if !advanced {
			return results, nil
		}
	}
}

func (e *Engine) dropBuffer(groupID domain.GroupID) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if b, ok := e.buffers[groupID]; ok {
		e.metrics.AddBuffered(-len(b.entries))
		delete(e.buffers, groupID)
	}
}

// process handles one message without buffering or deduplication.
func (e *Engine) process(ctx context.Context, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) (Result, error) {
	res := Result{GroupID: msg.GroupID, Epoch: msg.Epoch, Sender: msg.Sender}

	if msg.Kind == domain.KindApplication {
		dm, err := e.DecryptApplicationMessage(ctx, msg, me)
		if err != nil {
			return res, err
		}
		res.Outcome = OutcomeDecrypted
		res.Message = &dm
		return res, nil
	}

	switch msg.Handshake.Type {
	case domain.HandshakeWelcome:
		if msg.Handshake.Welcome.Recipient != me.Fingerprint {
			res.Outcome = OutcomeIgnored
			return res, nil
		}
		st, err := e.ProcessWelcome(ctx, *msg.Handshake.Welcome, me)
		if errors.Is(err, ErrStaleEpoch) {
			res.Outcome = OutcomeIgnored
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Outcome = OutcomeJoined
		res.State = &st
		return res, nil

	case domain.HandshakeCommit:
		cr, err := e.ProcessCommit(ctx, msg, me)
		if errors.Is(err, ErrStaleEpoch) {
			// already applied, our own echoed back, or the commit that added us
			res.Outcome = OutcomeIgnored
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if cr.Removed {
			res.Outcome = OutcomeRemoved
			return res, nil
		}
		res.Outcome = OutcomeCommitted
		res.State = &cr.State
		return res, nil
	}

	res.Outcome = OutcomeIgnored
	return res, nil
}
