package group

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/protocol/keyschedule"
	"sealroom/internal/util/memzero"
)

// Buffer defaults.
const (
	DefaultMaxBuffered = 256
	DefaultMaxAge      = 10 * time.Minute
	defaultSeenSize    = 4096
)

// Engine is the group key engine. It is safe for concurrent use; mutating
// calls on the same group are serialised.
type Engine struct {
	settings    domain.SettingStore
	handshakes  domain.HandshakeLog
	log         *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	checksumKey []byte
	maxBuffered int
	maxAge      time.Duration

	locks keyedMutex

	bufMu   sync.Mutex
	buffers map[domain.GroupID]*buffer
	seen    *seenSet

	// beforeBuffer runs between a future-epoch result and buffering.
	beforeBuffer func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithHandshakeLog enables rebuilding corrupted state.
func WithHandshakeLog(l domain.HandshakeLog) Option { return func(e *Engine) { e.handshakes = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithChecksumKey switches state checksums to HMAC-SHA256 under key.
func WithChecksumKey(key []byte) Option { return func(e *Engine) { e.checksumKey = key } }

// WithBufferLimits bounds each group's buffer. Non-positive values keep the
// defaults.
func WithBufferLimits(maxMessages int, maxAge time.Duration) Option {
	return func(e *Engine) {
		if maxMessages > 0 {
			e.maxBuffered = maxMessages
		}
		if maxAge > 0 {
			e.maxAge = maxAge
		}
	}
}

// New returns an engine persisting state in settings.
func New(settings domain.SettingStore, opts ...Option) *Engine {
	e := &Engine{
		settings:    settings,
		log:         logging.Discard(),
		now:         time.Now,
		maxBuffered: DefaultMaxBuffered,
		maxAge:      DefaultMaxAge,
		buffers:     make(map[domain.GroupID]*buffer),
		seen:        newSeenSet(defaultSeenSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CommitOutput is what a local roster change produces: the new state, the
// commit for existing members and one welcome per added device.
type CommitOutput struct {
	State    domain.GroupState
	Commit   domain.MLSMessage
	Welcomes []domain.MLSMessage
}

// CommitResult is the outcome of applying a received commit.
type CommitResult struct {
	State   domain.GroupState
	Removed bool
}

// CreateGroup starts groupID at epoch 0 with creator as the only member. The
// returned welcome is addressed to the creator so the group can be rebuilt
// from the handshake log.
func (e *Engine) CreateGroup(ctx context.Context, groupID domain.GroupID, creator *domain.UnlockedKeyHandle) (domain.GroupState, domain.MLSMessage, error) {
	if groupID == "" {
		return domain.GroupState{}, domain.MLSMessage{}, domain.Invalid("group", "id must not be empty")
	}
	if creator == nil {
		return domain.GroupState{}, domain.MLSMessage{}, domain.Invalid("handle", "required")
	}
	unlock := e.locks.lock(groupID)
	defer unlock()

	_, err := e.LoadGroupState(ctx, groupID)
	switch {
	case err == nil:
		return domain.GroupState{}, domain.MLSMessage{}, domain.Invalid("group", "already exists")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCorruption):
	default:
		return domain.GroupState{}, domain.MLSMessage{}, err
	}

	members := map[domain.Fingerprint]domain.PublicKey{creator.Fingerprint: creator.Public}
	treeHash := keyschedule.TreeHash(members)
	transcript := keyschedule.InitialTranscript()
	commitSecret, err := crypto.RandomBytes(keyschedule.SecretSize)
	if err != nil {
		return domain.GroupState{}, domain.MLSMessage{}, err
	}
	defer memzero.Zero(commitSecret)
	epochSecret, err := keyschedule.EpochSecret(keyschedule.InitialInitSecret(), commitSecret,
		keyschedule.GroupContext(groupID, 0, treeHash, transcript))
	if err != nil {
		return domain.GroupState{}, domain.MLSMessage{}, err
	}
	defer memzero.Zero(epochSecret)
	ep, err := keyschedule.Derive(epochSecret)
	if err != nil {
		return domain.GroupState{}, domain.MLSMessage{}, err
	}
	st := stateFromEpoch(groupID, 0, members, treeHash, transcript, ep, creator.Fingerprint)

	welcome, err := buildWelcome(st, epochSecret, creator, creator.Fingerprint, creator.Public)
	if err != nil {
		return domain.GroupState{}, domain.MLSMessage{}, err
	}
	if err := e.PersistGroupState(ctx, st); err != nil {
		return domain.GroupState{}, domain.MLSMessage{}, err
	}
	e.metrics.ObserveTransition("create")
	e.log.Info("group created", "group", string(groupID), "fingerprint", creator.Fingerprint.String())
	return st, welcome, nil
}

// AddMembersToGroup commits the addition of every key package and returns a
// welcome for each new member.
func (e *Engine) AddMembersToGroup(ctx context.Context, groupID domain.GroupID, keyPackages []domain.KeyPackage, signer *domain.UnlockedKeyHandle) (CommitOutput, error) {
	if signer == nil {
		return CommitOutput{}, domain.Invalid("handle", "required")
	}
	if len(keyPackages) == 0 {
		return CommitOutput{}, domain.Invalid("key packages", "at least one is required")
	}
	now := e.now()
	seen := make(map[domain.Fingerprint]struct{}, len(keyPackages))
	proposals := make([]domain.Proposal, 0, len(keyPackages))
	for i := range keyPackages {
		kp := keyPackages[i]
		if err := VerifyKeyPackage(kp, now); err != nil {
			return CommitOutput{}, err
		}
		if _, dup := seen[kp.DeviceFingerprint]; dup {
			return CommitOutput{}, domain.Invalid("key packages", kp.DeviceFingerprint.Short()+" appears twice")
		}
		seen[kp.DeviceFingerprint] = struct{}{}
		proposals = append(proposals, domain.Proposal{Type: domain.ProposalAdd, KeyPackage: &kp})
	}

	unlock := e.locks.lock(groupID)
	defer unlock()
	st, err := e.loadOwned(ctx, groupID, signer)
	if err != nil {
		return CommitOutput{}, err
	}
	b, err := buildCommit(st, signer, proposals)
	if err != nil {
		return CommitOutput{}, err
	}
	defer memzero.Zero(b.epochSecret)

	welcomes := make([]domain.MLSMessage, 0, len(keyPackages))
	for _, kp := range keyPackages {
		w, err := buildWelcome(b.state, b.epochSecret, signer, kp.DeviceFingerprint, kp.PublicKey)
		if err != nil {
			return CommitOutput{}, err
		}
		welcomes = append(welcomes, w)
	}
	if err := e.PersistGroupState(ctx, b.state); err != nil {
		return CommitOutput{}, err
	}
	e.metrics.ObserveTransition("add")
	e.log.Info("members added", "group", string(groupID), "epoch", b.state.Epoch, "added", len(keyPackages))
	return CommitOutput{State: b.state, Commit: b.commit, Welcomes: welcomes}, nil
}

// RemoveMembersFromGroup commits the removal of fingerprints. The new commit
// secret is sealed only to remaining members.
func (e *Engine) RemoveMembersFromGroup(ctx context.Context, groupID domain.GroupID, fingerprints []domain.Fingerprint, signer *domain.UnlockedKeyHandle) (CommitOutput, error) {
	if signer == nil {
		return CommitOutput{}, domain.Invalid("handle", "required")
	}
	if len(fingerprints) == 0 {
		return CommitOutput{}, domain.Invalid("members", "at least one is required")
	}
	proposals := make([]domain.Proposal, 0, len(fingerprints))
	for _, fpr := range fingerprints {
		if fpr == signer.Fingerprint {
			return CommitOutput{}, domain.Invalid("members", "cannot remove yourself")
		}
		proposals = append(proposals, domain.Proposal{Type: domain.ProposalRemove, Removed: fpr})
	}

	unlock := e.locks.lock(groupID)
	defer unlock()
	st, err := e.loadOwned(ctx, groupID, signer)
	if err != nil {
		return CommitOutput{}, err
	}
	b, err := buildCommit(st, signer, proposals)
	if err != nil {
		return CommitOutput{}, err
	}
	memzero.Zero(b.epochSecret)
	if err := e.PersistGroupState(ctx, b.state); err != nil {
		return CommitOutput{}, err
	}
	e.metrics.ObserveTransition("remove")
	e.log.Info("members removed", "group", string(groupID), "epoch", b.state.Epoch, "removed", len(fingerprints))
	return CommitOutput{State: b.state, Commit: b.commit}, nil
}

// ProcessCommit applies a commit from another member. A commit for an unknown
// group or a later epoch returns ErrFutureEpoch.
func (e *Engine) ProcessCommit(ctx context.Context, msg domain.MLSMessage, me *domain.UnlockedKeyHandle) (CommitResult, error) {
	if me == nil {
		return CommitResult{}, domain.Invalid("handle", "required")
	}
	unlock := e.locks.lock(msg.GroupID)
	defer unlock()

	st, err := e.loadOwned(ctx, msg.GroupID, me)
	if errors.Is(err, domain.ErrNotFound) {
		return CommitResult{}, futureEpoch(0, msg.Epoch)
	}
	if err != nil {
		return CommitResult{}, err
	}
	next, removed, err := applyCommit(st, msg, me)
	if err != nil {
		return CommitResult{}, err
	}
	if removed {
		if err := e.DeleteGroupState(ctx, msg.GroupID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return CommitResult{}, err
		}
		e.metrics.ObserveTransition("removed")
		e.log.Info("removed from group", "group", string(msg.GroupID), "epoch", msg.Epoch, "sender", msg.Sender.String())
		return CommitResult{State: st, Removed: true}, nil
	}
	if err := e.PersistGroupState(ctx, next); err != nil {
		return CommitResult{}, err
	}
	e.metrics.ObserveTransition("commit")
	e.log.Debug("commit applied", "group", string(msg.GroupID), "epoch", next.Epoch, "sender", msg.Sender.String())
	return CommitResult{State: next}, nil
}

// ProcessWelcome joins the group described by w. A local state at the same or
// a later epoch makes the welcome stale.
func (e *Engine) ProcessWelcome(ctx context.Context, w domain.Welcome, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if me == nil {
		return domain.GroupState{}, domain.Invalid("handle", "required")
	}
	id := w.GroupInfo.GroupID
	unlock := e.locks.lock(id)
	defer unlock()

	existing, err := e.LoadGroupState(ctx, id)
	if err == nil && existing.SelfFingerprint == me.Fingerprint && existing.Epoch >= w.GroupInfo.Epoch {
		return domain.GroupState{}, staleEpoch(existing.Epoch, w.GroupInfo.Epoch)
	}
	st, err := applyWelcome(w, me)
	if err != nil {
		return domain.GroupState{}, err
	}
	if err := e.PersistGroupState(ctx, st); err != nil {
		return domain.GroupState{}, err
	}
	e.metrics.ObserveTransition("join")
	e.log.Info("joined group", "group", string(id), "epoch", st.Epoch, "members", len(st.MemberKeys))
	return st, nil
}

// Members returns the roster of groupID as seen by me.
func (e *Engine) Members(ctx context.Context, groupID domain.GroupID, me *domain.UnlockedKeyHandle) ([]domain.Fingerprint, error) {
	unlock := e.locks.lock(groupID)
	defer unlock()
	st, err := e.loadOwned(ctx, groupID, me)
	if err != nil {
		return nil, err
	}
	return keyschedule.SortedMembers(st.MemberKeys), nil
}
