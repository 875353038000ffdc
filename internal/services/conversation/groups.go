package conversation

import (
	"context"
	"fmt"

	"sealroom/internal/domain"
	"sealroom/internal/services/group"
)

// Publish announces me and a fresh key package to the directory.
func (s *Service) Publish(ctx context.Context, me *domain.UnlockedKeyHandle) (domain.KeyPackage, error) {
	if s.dir == nil {
		return domain.KeyPackage{}, &domain.CapabilityError{Capability: "directory", Message: "not configured"}
	}
	if err := s.dir.PublishDevice(ctx, me.Fingerprint, me.Public); err != nil {
		return domain.KeyPackage{}, fmt.Errorf("publish device: %w", err)
	}
	kp, err := group.NewKeyPackage(me, group.DefaultKeyPackageTTL, s.now())
	if err != nil {
		return domain.KeyPackage{}, err
	}
	if err := s.dir.PublishKeyPackage(ctx, kp); err != nil {
		return domain.KeyPackage{}, fmt.Errorf("publish key package: %w", err)
	}
	return kp, nil
}

// CreateGroup starts a group conversation with me as its only member and
// posts the creator's welcome so the group can be rebuilt later.
func (s *Service) CreateGroup(ctx context.Context, id domain.ConversationID, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if s.groups == nil {
		return domain.GroupState{}, &domain.CapabilityError{Capability: "groups", Message: "not configured"}
	}
	st, welcome, err := s.groups.CreateGroup(ctx, domain.GroupID(id), me)
	if err != nil {
		return domain.GroupState{}, err
	}
	if err := s.SetMode(ctx, id, domain.ModeGroup); err != nil {
		return domain.GroupState{}, err
	}
	if err := s.postHandshakes(ctx, id, welcome); err != nil {
		return domain.GroupState{}, err
	}
	return st, nil
}

// AddMembers claims a key package for each fingerprint and commits their
// addition. The commit is posted before the welcomes.
func (s *Service) AddMembers(ctx context.Context, id domain.ConversationID, fprs []domain.Fingerprint, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if s.groups == nil || s.dir == nil {
		return domain.GroupState{}, &domain.CapabilityError{Capability: "groups", Message: "group engine and directory required"}
	}
	kps := make([]domain.KeyPackage, 0, len(fprs))
	for _, fpr := range fprs {
		kp, err := s.dir.ClaimKeyPackage(ctx, fpr)
		if err != nil {
			return domain.GroupState{}, fmt.Errorf("claim key package for %s: %w", fpr.Short(), err)
		}
		kps = append(kps, kp)
	}
	out, err := s.groups.AddMembersToGroup(ctx, domain.GroupID(id), kps, me)
	if err != nil {
		return domain.GroupState{}, err
	}
	msgs := append([]domain.MLSMessage{out.Commit}, out.Welcomes...)
	if err := s.postHandshakes(ctx, id, msgs...); err != nil {
		return domain.GroupState{}, err
	}
	return out.State, nil
}

// RemoveMembers commits the removal of fprs.
func (s *Service) RemoveMembers(ctx context.Context, id domain.ConversationID, fprs []domain.Fingerprint, me *domain.UnlockedKeyHandle) (domain.GroupState, error) {
	if s.groups == nil {
		return domain.GroupState{}, &domain.CapabilityError{Capability: "groups", Message: "not configured"}
	}
	out, err := s.groups.RemoveMembersFromGroup(ctx, domain.GroupID(id), fprs, me)
	if err != nil {
		return domain.GroupState{}, err
	}
	if err := s.postHandshakes(ctx, id, out.Commit); err != nil {
		return domain.GroupState{}, err
	}
	return out.State, nil
}

func (s *Service) postHandshakes(ctx context.Context, id domain.ConversationID, msgs ...domain.MLSMessage) error {
	for i := range msgs {
		pl := domain.Payload{Mode: domain.ModeGroup, Group: &msgs[i]}
		if _, err := s.post(ctx, id, msgs[i].Epoch, pl); err != nil {
			return err
		}
	}
	return nil
}
