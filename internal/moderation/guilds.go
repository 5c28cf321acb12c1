package moderation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"go.uber.org/zap"
)

// CommunityConfig sets up or updates a community. A nil AutoKick keeps the stored
// value, or false for a new community.
type CommunityConfig struct {
	CommunityID           string
	NotificationChannelID string
	DisplayName           string
	AutoKick              *bool
}

func (s *Service) ConfigureCommunity(ctx context.Context, cfg CommunityConfig) (ledger.GuildSettings, error) {
	communityID, err := parseCommunityID(cfg.CommunityID)
	if err != nil {
		return ledger.GuildSettings{}, newServiceError(opConfigureCommunity, "invalid_community_id", err)
	}
	channelID := strings.TrimSpace(cfg.NotificationChannelID)
	if channelID == "" {
		return ledger.GuildSettings{}, newServiceError(opConfigureCommunity, "missing_channel", invalid("notification channel is required"))
	}

	settings, _, err := s.readSettings(ctx, opConfigureCommunity, communityID)
	if err != nil {
		return ledger.GuildSettings{}, err
	}
	settings.NotificationChannelID = channelID
	settings.CommunityDisplayName = strings.TrimSpace(cfg.DisplayName)
	if cfg.AutoKick != nil {
		settings.AutoKickNewAccounts = *cfg.AutoKick
	}
	if err := s.writeSettings(ctx, opConfigureCommunity, communityID, settings); err != nil {
		return ledger.GuildSettings{}, err
	}
	s.logger.Info("community configured",
		zap.String("community_id", communityID.String()),
		zap.String("channel_id", settings.NotificationChannelID),
		zap.Bool("auto_kick", settings.AutoKickNewAccounts))
	return settings, nil
}

// ToggleAutoKick flips the new-account removal switch of a configured community.
func (s *Service) ToggleAutoKick(ctx context.Context, rawCommunityID string) (ledger.GuildSettings, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return ledger.GuildSettings{}, newServiceError(opToggleAutoKick, "invalid_community_id", err)
	}
	settings, found, err := s.readSettings(ctx, opToggleAutoKick, communityID)
	if err != nil {
		return ledger.GuildSettings{}, err
	}
	if !found {
		return ledger.GuildSettings{}, newServiceError(opToggleAutoKick, "not_configured", ErrCommunityNotConfigured)
	}
	settings.AutoKickNewAccounts = !settings.AutoKickNewAccounts
	if err := s.writeSettings(ctx, opToggleAutoKick, communityID, settings); err != nil {
		return ledger.GuildSettings{}, err
	}
	return settings, nil
}

// CommunitySettings returns the stored settings and whether the community was ever configured.
func (s *Service) CommunitySettings(ctx context.Context, rawCommunityID string) (ledger.GuildSettings, bool, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return ledger.GuildSettings{}, false, newServiceError(opCommunitySettings, "invalid_community_id", err)
	}
	return s.readSettings(ctx, opCommunitySettings, communityID)
}

func (s *Service) readSettings(ctx context.Context, operation string, communityID ledger.CommunityID) (ledger.GuildSettings, bool, error) {
	document, found, err := s.store.Get(ctx, ledger.GuildSettingsKey(communityID))
	if err != nil {
		return ledger.GuildSettings{}, false, s.fail(operation, "settings_read_failed", err, zap.String("community_id", communityID.String()))
	}
	if !found {
		return ledger.GuildSettings{}, false, nil
	}
	settings, err := ledger.DecodeGuildSettings(document)
	if err != nil {
		return ledger.GuildSettings{}, false, s.fail(operation, "settings_decode_failed", err, zap.String("community_id", communityID.String()))
	}
	return settings, true, nil
}

func (s *Service) writeSettings(ctx context.Context, operation string, communityID ledger.CommunityID, settings ledger.GuildSettings) error {
	document, err := json.Marshal(settings)
	if err != nil {
		return s.fail(operation, "settings_encode_failed", err)
	}
	if err := s.store.SetWhole(ctx, ledger.GuildSettingsKey(communityID), document); err != nil {
		return s.fail(operation, "settings_write_failed", err, zap.String("community_id", communityID.String()))
	}
	return nil
}
