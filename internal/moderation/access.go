package moderation

import (
	"context"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"go.uber.org/zap"
)

// Authorize lets userID run moderation commands in community. It reports whether the
// identity was newly added.
func (s *Service) Authorize(ctx context.Context, rawCommunityID, rawUserID string) (bool, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return false, newServiceError(opAuthorize, "invalid_community_id", err)
	}
	userID, err := parseExternalID(rawUserID)
	if err != nil {
		return false, newServiceError(opAuthorize, "invalid_user_id", err)
	}
	added, err := s.store.SetAdd(ctx, ledger.AuthorizedUsersKey(communityID), userID.String())
	if err != nil {
		return false, s.fail(opAuthorize, "set_add_failed", err, zap.String("community_id", communityID.String()))
	}
	if added {
		s.logger.Info("moderator authorized", zap.String("community_id", communityID.String()), zap.String("user_id", userID.String()))
	}
	return added, nil
}

// IsAuthorized reports whether userID may moderate community. Admins may moderate everywhere.
func (s *Service) IsAuthorized(ctx context.Context, rawCommunityID, rawUserID string) (bool, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return false, newServiceError(opIsAuthorized, "invalid_community_id", err)
	}
	userID, err := parseExternalID(rawUserID)
	if err != nil {
		return false, newServiceError(opIsAuthorized, "invalid_user_id", err)
	}
	if s.IsAdmin(userID.String()) {
		return true, nil
	}
	members, err := s.store.SetMembers(ctx, ledger.AuthorizedUsersKey(communityID))
	if err != nil {
		return false, s.fail(opIsAuthorized, "set_members_failed", err, zap.String("community_id", communityID.String()))
	}
	return ledger.NewAuthorizationSet(members...).Contains(userID.String()), nil
}

// IsAdmin reports whether userID is on the configured admin list.
func (s *Service) IsAdmin(userID string) bool {
	return s.admins.Contains(userID)
}

// AllowListAdd exempts userID from the age gate in every community.
func (s *Service) AllowListAdd(ctx context.Context, rawUserID string) (bool, error) {
	userID, err := parseExternalID(rawUserID)
	if err != nil {
		return false, newServiceError(opAllowListAdd, "invalid_user_id", err)
	}
	added, err := s.store.SetAdd(ctx, ledger.AllowListKey, userID.String())
	if err != nil {
		return false, s.fail(opAllowListAdd, "set_add_failed", err)
	}
	return added, nil
}

func (s *Service) IsAllowListed(ctx context.Context, rawUserID string) (bool, error) {
	userID, err := parseExternalID(rawUserID)
	if err != nil {
		return false, newServiceError(opIsAllowListed, "invalid_user_id", err)
	}
	members, err := s.store.SetMembers(ctx, ledger.AllowListKey)
	if err != nil {
		return false, s.fail(opIsAllowListed, "set_members_failed", err)
	}
	return ledger.NewAuthorizationSet(members...).Contains(userID.String()), nil
}
