package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"go.uber.org/zap"
)

// ScreeningResult tells a membership front end what to do about a newly joined member.
type ScreeningResult struct {
	CommunityID string       `json:"community_id"`
	MemberID    string       `json:"member_id"`
	CreatedAt   time.Time    `json:"created_at"`
	Decision    GateDecision `json:"decision"`
	OnLedger    bool         `json:"on_ledger"`
	Offenses    int          `json:"offenses"`
	// NotificationChannelID is empty when the community was never configured.
	NotificationChannelID string `json:"notification_channel_id,omitempty"`
	// Notices are the messages to post to the notification channel.
	Notices []string `json:"notices"`
}

// ScreenMember runs the age gate for a member who just joined community and checks
// the ledger for prior offenses.
func (s *Service) ScreenMember(ctx context.Context, rawCommunityID, rawMemberID string) (ScreeningResult, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return ScreeningResult{}, newServiceError(opScreenMember, "invalid_community_id", err)
	}
	memberID, err := parseExternalID(rawMemberID)
	if err != nil {
		return ScreeningResult{}, newServiceError(opScreenMember, "invalid_member_id", err)
	}
	createdAt, err := ParseSnowflake(memberID.String())
	if err != nil {
		return ScreeningResult{}, newServiceError(opScreenMember, "invalid_member_id", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	allowListed, err := s.IsAllowListed(ctx, memberID.String())
	if err != nil {
		return ScreeningResult{}, err
	}
	settings, configured, err := s.readSettings(ctx, opScreenMember, communityID)
	if err != nil {
		return ScreeningResult{}, err
	}

	decision := s.gate.Evaluate(createdAt, s.clock(), configured && settings.AutoKickNewAccounts, allowListed)
	gateDecisions.WithLabelValues(decision.Reason).Inc()

	result := ScreeningResult{
		CommunityID:           communityID.String(),
		MemberID:              memberID.String(),
		CreatedAt:             createdAt,
		Decision:              decision,
		NotificationChannelID: settings.NotificationChannelID,
		Notices:               []string{},
	}

	record, found, err := s.LookupUser(ctx, memberID.String())
	switch {
	case errors.Is(err, ledger.ErrMalformedInput):
		// An undecodable ledger entry must not block the gate decision.
		s.logger.Warn("screening without ledger entry", zap.String("member_id", memberID.String()), zap.Error(err))
	case err != nil:
		return ScreeningResult{}, err
	case found:
		result.OnLedger = true
		result.Offenses = len(record.Offenses)
		result.Notices = append(result.Notices,
			fmt.Sprintf("<@%s>/%s Just joined your server with %d offenses on record", memberID, memberID, result.Offenses))
	}
	if !decision.Pass {
		result.Notices = append(result.Notices,
			fmt.Sprintf("Potential alt detected, account was %d day(s) old", decision.AgeDays))
	}
	if !configured {
		result.Notices = []string{}
	}

	s.logger.Info("member screened",
		zap.String("community_id", communityID.String()),
		zap.String("member_id", memberID.String()),
		zap.Bool("pass", decision.Pass),
		zap.String("reason", decision.Reason),
		zap.Int64("age_days", decision.AgeDays),
		zap.Int("offenses", result.Offenses))
	s.events.Publish(Event{Type: EventMemberScreened, CommunityID: communityID.String(), Payload: result})
	return result, nil
}
